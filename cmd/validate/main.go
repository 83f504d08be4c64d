// Command validate checks a finished build's artifacts for internal
// consistency: the panel CSV must be balanced and sorted with disciplined
// nulls, and the municipalities GeoJSON must cover the panel's codes with
// closed rings.
//
// Usage:
//
//	go run ./cmd/validate \
//	  -panel data/out/panel.csv \
//	  -geometry data/out/municipalities.geojson \
//	  -municipalities 581
package main

import (
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
)

// panelColumns is the expected header of the panel CSV.
var panelColumns = []string{
	"nis_code", "municipality", "period", "cases",
	"cumulative_vaccinations", "vaccination_pct", "stringency_index", "population",
}

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	panelPath := flag.String("panel", "", "path to panel.csv")
	geometryPath := flag.String("geometry", "", "path to municipalities.geojson")
	muniCount := flag.Int("municipalities", 581, "expected municipality count")
	flag.Parse()

	if *panelPath == "" || *geometryPath == "" {
		flag.Usage()
		os.Exit(1)
	}

	if code := run(*panelPath, *geometryPath, *muniCount); code != 0 {
		os.Exit(code)
	}
}

func run(panelPath, geometryPath string, muniCount int) int {
	fmt.Println("=== Panel Artifact Validation ===")
	fmt.Println()

	rows, err := loadPanel(panelPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load panel CSV: %v\n", err)
		return 1
	}
	fc, err := loadGeometry(geometryPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load geometry: %v\n", err)
		return 1
	}

	phases := []*phase{
		validatePanelShape(rows, muniCount),
		validateNullDiscipline(rows),
		validateGeometry(fc, rows, muniCount),
	}

	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "PASS"
		if !p.passed() {
			status = "FAIL"
			allPassed = false
		}
		fmt.Printf("[%s] %s\n", status, p.name)
		for _, e := range p.errors {
			fmt.Printf("       - %s\n", e)
		}
	}
	if !allPassed {
		return 1
	}
	fmt.Println()
	fmt.Println("All validation phases passed.")
	return 0
}

// panelRow is one parsed CSV row with raw string fields.
type panelRow struct {
	nis, name, period                    string
	cases, vacc, pct, stringency, popRaw string
}

func loadPanel(path string) ([]panelRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("empty CSV")
	}
	if got := records[0]; !equalStrings(got, panelColumns) {
		return nil, fmt.Errorf("unexpected header %v", got)
	}

	rows := make([]panelRow, 0, len(records)-1)
	for _, rec := range records[1:] {
		if len(rec) != len(panelColumns) {
			return nil, fmt.Errorf("row with %d fields", len(rec))
		}
		rows = append(rows, panelRow{
			nis: rec[0], name: rec[1], period: rec[2], cases: rec[3],
			vacc: rec[4], pct: rec[5], stringency: rec[6], popRaw: rec[7],
		})
	}
	return rows, nil
}

func loadGeometry(path string) (*geojson.FeatureCollection, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var fc geojson.FeatureCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, err
	}
	return &fc, nil
}

// validatePanelShape checks balance: every municipality appears with the
// same period set, rows sorted by (nis, period start).
func validatePanelShape(rows []panelRow, muniCount int) *phase {
	p := &phase{name: "panel shape"}

	periodsPerCode := map[string][]string{}
	for _, r := range rows {
		periodsPerCode[r.nis] = append(periodsPerCode[r.nis], r.period)
	}
	if len(periodsPerCode) != muniCount {
		p.errorf("expected %d municipalities, found %d", muniCount, len(periodsPerCode))
	}

	var reference []string
	for _, r := range rows {
		reference = periodsPerCode[r.nis]
		break
	}
	for code, periods := range periodsPerCode {
		if len(periods) != len(reference) {
			p.errorf("municipality %s has %d periods, expected %d", code, len(periods), len(reference))
		}
	}

	// Both period label forms sort lexically in chronological order.
	sorted := sort.SliceIsSorted(rows, func(i, j int) bool {
		if rows[i].nis != rows[j].nis {
			return rows[i].nis < rows[j].nis
		}
		return rows[i].period < rows[j].period
	})
	if !sorted {
		p.errorf("rows are not sorted by (nis_code, period)")
	}
	return p
}

// validateNullDiscipline checks the per-variable fill rules that survive
// into the artifact: parsable numbers, cumulative vaccinations
// non-decreasing per municipality, and the derived percentage consistent
// with its inputs.
func validateNullDiscipline(rows []panelRow) *phase {
	p := &phase{name: "null discipline"}

	lastVacc := map[string]float64{}
	for _, r := range rows {
		for col, raw := range map[string]string{
			"cases": r.cases, "cumulative_vaccinations": r.vacc,
			"vaccination_pct": r.pct, "stringency_index": r.stringency,
		} {
			if raw == "" {
				continue
			}
			if _, err := strconv.ParseFloat(raw, 64); err != nil {
				p.errorf("%s/%s: %s %q is not numeric", r.nis, r.period, col, raw)
			}
		}

		if r.vacc != "" {
			v, _ := strconv.ParseFloat(r.vacc, 64)
			if prev, ok := lastVacc[r.nis]; ok && v < prev {
				p.errorf("%s/%s: cumulative vaccinations decreased %g -> %g", r.nis, r.period, prev, v)
			}
			lastVacc[r.nis] = v
		}

		switch {
		case r.pct != "" && (r.vacc == "" || r.popRaw == ""):
			p.errorf("%s/%s: vaccination_pct present without its inputs", r.nis, r.period)
		case r.pct != "" && r.vacc != "" && r.popRaw != "":
			v, _ := strconv.ParseFloat(r.vacc, 64)
			pop, _ := strconv.ParseFloat(r.popRaw, 64)
			pct, _ := strconv.ParseFloat(r.pct, 64)
			if pop > 0 {
				want := v / pop * 100
				if diff := pct - want; diff > 1e-6 || diff < -1e-6 {
					p.errorf("%s/%s: vaccination_pct %g, expected %g", r.nis, r.period, pct, want)
				}
			}
		}

		if r.stringency != "" {
			s, _ := strconv.ParseFloat(r.stringency, 64)
			if s < 0 || s > 100 {
				p.errorf("%s/%s: stringency_index %g outside [0,100]", r.nis, r.period, s)
			}
		}
	}
	return p
}

// validateGeometry checks that every panel municipality has a feature, that
// features are sorted by NIS code, and that every ring is closed.
func validateGeometry(fc *geojson.FeatureCollection, rows []panelRow, muniCount int) *phase {
	p := &phase{name: "geometry coverage"}

	if len(fc.Features) != muniCount {
		p.errorf("expected %d features, found %d", muniCount, len(fc.Features))
	}

	panelCodes := map[string]bool{}
	for _, r := range rows {
		panelCodes[r.nis] = true
	}

	var prev string
	for i, f := range fc.Features {
		code, _ := f.Properties["nis_code"].(string)
		if code == "" {
			p.errorf("feature %d has no nis_code property", i)
			continue
		}
		if code < prev {
			p.errorf("features not sorted at %s", code)
		}
		prev = code
		if !panelCodes[code] {
			p.errorf("feature %s has no panel rows", code)
		}

		mp, ok := f.Geometry.(*geom.MultiPolygon)
		if !ok {
			p.errorf("feature %s is %T, not MultiPolygon", code, f.Geometry)
			continue
		}
		for pi := 0; pi < mp.NumPolygons(); pi++ {
			poly := mp.Polygon(pi)
			for ri := 0; ri < poly.NumLinearRings(); ri++ {
				coords := poly.LinearRing(ri).Coords()
				if len(coords) < 4 {
					p.errorf("feature %s polygon %d ring %d has %d coords", code, pi, ri, len(coords))
					continue
				}
				if !coords[0].Equal(geom.XY, coords[len(coords)-1]) {
					p.errorf("feature %s polygon %d ring %d is not closed", code, pi, ri)
				}
			}
		}
	}
	return p
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
