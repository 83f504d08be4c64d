// Command geometry preprocesses the StatBel statistical-sector boundaries
// into per-municipality MultiPolygons: parse, group by NIS code, simplify,
// and write a municipalities GeoJSON.
//
// Usage:
//
//	go run ./cmd/geometry \
//	  -sectors data/statistical_sectors.geojson.zip \
//	  -out data/out/municipalities.geojson \
//	  -tolerance 0.0005
package main

import (
	"archive/zip"
	"bytes"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/epibel/covid-panel-etl/internal/export"
	"github.com/epibel/covid-panel-etl/internal/geometry"
)

func main() {
	sectors := flag.String("sectors", "", "path to the sector GeoJSON file or zip archive")
	out := flag.String("out", "municipalities.geojson", "output GeoJSON path")
	tolerance := flag.Float64("tolerance", 0.0005, "Douglas-Peucker tolerance in degrees, 0 disables")
	flag.Parse()

	if *sectors == "" {
		flag.Usage()
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	if err := run(*sectors, *out, *tolerance, logger); err != nil {
		logger.Error("geometry preprocessing failed", "error", err)
		os.Exit(1)
	}
}

func run(sectorsPath, outPath string, tolerance float64, logger *slog.Logger) error {
	data, err := readSectors(sectorsPath)
	if err != nil {
		return err
	}

	sectors, err := geometry.ParseSectors(data)
	if err != nil {
		return err
	}
	logger.Info("sectors parsed", "count", len(sectors))

	records, err := geometry.Aggregate(sectors)
	if err != nil {
		return err
	}
	records = geometry.Simplify(records, tolerance)
	logger.Info("municipalities aggregated", "count", len(records), "tolerance", tolerance)

	if dir := filepath.Dir(outPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}
	f, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", outPath, err)
	}
	defer f.Close()
	if err := export.WriteGeoJSON(f, records); err != nil {
		return err
	}
	logger.Info("municipalities written", "path", outPath)
	return nil
}

// readSectors loads the sector file, unwrapping a zip archive down to its
// first GeoJSON member.
func readSectors(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if !bytes.HasPrefix(data, []byte("PK")) {
		return data, nil
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	for _, f := range zr.File {
		name := strings.ToLower(f.Name)
		if !strings.HasSuffix(name, ".geojson") && !strings.HasSuffix(name, ".json") {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open archive member %s: %w", f.Name, err)
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}
	return nil, fmt.Errorf("%s has no GeoJSON member", path)
}
