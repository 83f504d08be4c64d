// Package doubledemean estimates interaction effects in fixed-effects panel
// models with the double-demeaning technique of Giesselmann & Schmidt-Catran
// (2022). The conventional within estimator interacts the raw variables,
// which confounds the within-unit interaction with unobserved effect
// heterogeneity; double demeaning interacts the within-unit deviations
// instead. Both models are estimated so they can be compared, and a Hausman
// test reports whether the difference is systematic.
package doubledemean

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Row is one panel observation. Controls must have the same length and order
// on every row.
type Row struct {
	Unit     string
	Y        float64
	X        float64
	Z        float64
	Controls []float64
}

// Options tune the estimation.
type Options struct {
	// CenterVariables subtracts the grand mean from every variable before
	// estimation. Coefficients are unaffected but the interaction becomes
	// interpretable at the sample means.
	CenterVariables bool

	// RunHausman adds the Hausman comparison of the two estimators.
	RunHausman bool

	// MinPeriods drops units observed in fewer periods. Double demeaning
	// needs more than two observations per unit; zero applies the default.
	MinPeriods int
}

const defaultMinPeriods = 3

// withinVarianceFloor is the within-unit variance below which a control is
// treated as time-invariant and excluded: fixed effects cannot identify it.
const withinVarianceFloor = 1e-10

// Coefficient is one estimated slope with its cluster-robust standard error.
type Coefficient struct {
	Name     string
	Estimate float64
	StdErr   float64
	TStat    float64
}

// Model holds one estimated fixed-effects specification.
type Model struct {
	Coefficients []Coefficient
	N            int
	Units        int

	cov *mat.SymDense
}

// Hausman is the comparison of the two estimators. When the variance
// difference is not positive definite the statistic falls back to a
// pseudo-inverse and PositiveDefinite is false.
type Hausman struct {
	Statistic        float64
	DF               int
	PValue           float64
	PositiveDefinite bool
}

// Result bundles both models and the optional test. ExcludedControls lists
// controls dropped for lacking within-unit variation.
type Result struct {
	Standard         Model
	DoubleDemeaned   Model
	Hausman          *Hausman
	ExcludedControls []string
}

// Estimate runs the standard and double-demeaned fixed-effects models.
// controlNames labels the Controls columns and must match their count.
func Estimate(rows []Row, controlNames []string, opts Options) (*Result, error) {
	if len(rows) == 0 {
		return nil, errors.New("doubledemean: no observations")
	}
	for i, r := range rows {
		if len(r.Controls) != len(controlNames) {
			return nil, fmt.Errorf("doubledemean: row %d has %d controls, want %d", i, len(r.Controls), len(controlNames))
		}
	}

	minPeriods := opts.MinPeriods
	if minPeriods <= 0 {
		minPeriods = defaultMinPeriods
	}
	rows = filterShortUnits(rows, minPeriods)
	if len(rows) == 0 {
		return nil, fmt.Errorf("doubledemean: no unit observed in %d or more periods", minPeriods)
	}

	d := newDataset(rows, controlNames)
	if opts.CenterVariables {
		d.centerGrandMeans()
	}
	d.demeanWithinUnits()

	kept, excluded := d.filterControls()

	std, err := d.fit(append([]string{"x", "z", "x:z"}, kept...))
	if err != nil {
		return nil, fmt.Errorf("doubledemean: standard model: %w", err)
	}
	dd, err := d.fit(append([]string{"x", "z", "dd(x:z)"}, kept...))
	if err != nil {
		return nil, fmt.Errorf("doubledemean: double-demeaned model: %w", err)
	}

	res := &Result{Standard: *std, DoubleDemeaned: *dd, ExcludedControls: excluded}
	if opts.RunHausman {
		res.Hausman = hausman(std, dd)
	}
	return res, nil
}

// dataset holds the design columns in estimation form.
type dataset struct {
	units        []string
	unitIndex    []int
	unitCount    int
	y, x, z      []float64
	controls     [][]float64
	controlNames []string

	// within-unit deviations and the two interaction forms
	dmX, dmZ []float64
	intStd   []float64
	intDD    []float64
}

func filterShortUnits(rows []Row, minPeriods int) []Row {
	counts := make(map[string]int)
	for _, r := range rows {
		counts[r.Unit]++
	}
	out := rows[:0:0]
	for _, r := range rows {
		if counts[r.Unit] >= minPeriods {
			out = append(out, r)
		}
	}
	return out
}

func newDataset(rows []Row, controlNames []string) *dataset {
	n := len(rows)
	d := &dataset{
		units:        make([]string, n),
		unitIndex:    make([]int, n),
		y:            make([]float64, n),
		x:            make([]float64, n),
		z:            make([]float64, n),
		controls:     make([][]float64, len(controlNames)),
		controlNames: controlNames,
	}
	for c := range d.controls {
		d.controls[c] = make([]float64, n)
	}

	index := make(map[string]int)
	for i, r := range rows {
		d.units[i] = r.Unit
		d.y[i] = r.Y
		d.x[i] = r.X
		d.z[i] = r.Z
		for c := range controlNames {
			d.controls[c][i] = r.Controls[c]
		}
		idx, ok := index[r.Unit]
		if !ok {
			idx = len(index)
			index[r.Unit] = idx
		}
		d.unitIndex[i] = idx
	}
	d.unitCount = len(index)
	return d
}

func (d *dataset) centerGrandMeans() {
	center := func(v []float64) {
		var sum float64
		for _, f := range v {
			sum += f
		}
		mean := sum / float64(len(v))
		for i := range v {
			v[i] -= mean
		}
	}
	center(d.y)
	center(d.x)
	center(d.z)
	for _, ctrl := range d.controls {
		center(ctrl)
	}
}

// demeanWithinUnits computes the within-unit deviations of x and z and both
// interaction forms: the conventional x*z and the double-demeaned dmX*dmZ.
func (d *dataset) demeanWithinUnits() {
	d.dmX = withinDeviation(d.x, d.unitIndex, d.unitCount)
	d.dmZ = withinDeviation(d.z, d.unitIndex, d.unitCount)
	d.intStd = make([]float64, len(d.x))
	d.intDD = make([]float64, len(d.x))
	for i := range d.x {
		d.intStd[i] = d.x[i] * d.z[i]
		d.intDD[i] = d.dmX[i] * d.dmZ[i]
	}
}

func withinDeviation(v []float64, unitIndex []int, unitCount int) []float64 {
	sums := make([]float64, unitCount)
	counts := make([]float64, unitCount)
	for i, f := range v {
		sums[unitIndex[i]] += f
		counts[unitIndex[i]]++
	}
	out := make([]float64, len(v))
	for i, f := range v {
		out[i] = f - sums[unitIndex[i]]/counts[unitIndex[i]]
	}
	return out
}

// filterControls drops controls without within-unit variation.
func (d *dataset) filterControls() (kept, excluded []string) {
	for c, name := range d.controlNames {
		dev := withinDeviation(d.controls[c], d.unitIndex, d.unitCount)
		var ss float64
		for _, f := range dev {
			ss += f * f
		}
		if ss/float64(len(dev)) < withinVarianceFloor {
			excluded = append(excluded, name)
			continue
		}
		kept = append(kept, name)
	}
	sort.Strings(excluded)
	return kept, excluded
}

func (d *dataset) column(name string) []float64 {
	switch name {
	case "x":
		return d.x
	case "z":
		return d.z
	case "x:z":
		return d.intStd
	case "dd(x:z)":
		return d.intDD
	}
	for c, ctrl := range d.controlNames {
		if ctrl == name {
			return d.controls[c]
		}
	}
	panic("doubledemean: unknown column " + name)
}

// fit runs the within estimator: the dependent and every regressor are
// demeaned within units, absorbing the entity effects, then the slopes come
// from OLS with entity-clustered standard errors.
func (d *dataset) fit(regressors []string) (*Model, error) {
	n := len(d.y)
	k := len(regressors)
	dof := n - k - d.unitCount
	if dof <= 0 {
		return nil, fmt.Errorf("%d observations cannot support %d regressors and %d entity effects", n, k, d.unitCount)
	}

	design := mat.NewDense(n, k, nil)
	for j, name := range regressors {
		design.SetCol(j, withinDeviation(d.column(name), d.unitIndex, d.unitCount))
	}
	response := mat.NewVecDense(n, withinDeviation(d.y, d.unitIndex, d.unitCount))

	var qr mat.QR
	qr.Factorize(design)
	var beta mat.Dense
	if err := qr.SolveTo(&beta, false, response); err != nil {
		return nil, fmt.Errorf("solve least squares: %w", err)
	}

	fitted := mat.NewVecDense(n, nil)
	fitted.MulVec(design, beta.ColView(0))
	resid := mat.NewVecDense(n, nil)
	resid.SubVec(response, fitted)

	cov, err := clusteredCovariance(design, resid, d.unitIndex, d.unitCount, dof)
	if err != nil {
		return nil, err
	}

	m := &Model{N: n, Units: d.unitCount, cov: cov}
	for j, name := range regressors {
		est := beta.At(j, 0)
		se := math.Sqrt(cov.At(j, j))
		t := math.Inf(1)
		if se > 0 {
			t = est / se
		}
		m.Coefficients = append(m.Coefficients, Coefficient{Name: name, Estimate: est, StdErr: se, TStat: t})
	}
	return m, nil
}

// clusteredCovariance computes the entity-clustered sandwich covariance with
// the small-sample correction G/(G-1) * (N-1)/dof.
func clusteredCovariance(design *mat.Dense, resid *mat.VecDense, unitIndex []int, unitCount, dof int) (*mat.SymDense, error) {
	n, k := design.Dims()

	var xtx mat.Dense
	xtx.Mul(design.T(), design)
	var bread mat.Dense
	if err := bread.Inverse(&xtx); err != nil {
		return nil, fmt.Errorf("design matrix is singular: %w", err)
	}

	// Meat: sum over clusters of (X_g' u_g)(X_g' u_g)'.
	scores := make([][]float64, unitCount)
	for g := range scores {
		scores[g] = make([]float64, k)
	}
	for i := 0; i < n; i++ {
		u := resid.AtVec(i)
		row := scores[unitIndex[i]]
		for j := 0; j < k; j++ {
			row[j] += design.At(i, j) * u
		}
	}
	meat := mat.NewDense(k, k, nil)
	for _, s := range scores {
		for a := 0; a < k; a++ {
			for b := 0; b < k; b++ {
				meat.Set(a, b, meat.At(a, b)+s[a]*s[b])
			}
		}
	}

	var sandwich mat.Dense
	sandwich.Product(&bread, meat, &bread)

	g := float64(unitCount)
	scale := 1.0
	if unitCount > 1 {
		scale = g / (g - 1) * float64(n-1) / float64(dof)
	}

	cov := mat.NewSymDense(k, nil)
	for a := 0; a < k; a++ {
		for b := a; b < k; b++ {
			cov.SetSym(a, b, scale*(sandwich.At(a, b)+sandwich.At(b, a))/2)
		}
	}
	return cov, nil
}

// hausman tests for a systematic difference between the estimators over
// their common coefficients, mapping the two interaction forms onto each
// other. The double-demeaned estimator is the consistent one under the
// alternative, so the difference is b_dd - b_std.
func hausman(std, dd *Model) *Hausman {
	k := len(std.Coefficients)
	diff := mat.NewVecDense(k, nil)
	for j := range std.Coefficients {
		diff.SetVec(j, dd.Coefficients[j].Estimate-std.Coefficients[j].Estimate)
	}

	vdiff := mat.NewSymDense(k, nil)
	for a := 0; a < k; a++ {
		for b := a; b < k; b++ {
			vdiff.SetSym(a, b, dd.cov.At(a, b)-std.cov.At(a, b))
		}
	}

	var eig mat.EigenSym
	posDef := false
	if eig.Factorize(vdiff, false) {
		posDef = true
		for _, v := range eig.Values(nil) {
			if v <= 1e-10 {
				posDef = false
				break
			}
		}
	}

	stat := quadraticForm(diff, vdiff, posDef)
	chi2 := distuv.ChiSquared{K: float64(k)}
	return &Hausman{
		Statistic:        stat,
		DF:               k,
		PValue:           chi2.Survival(stat),
		PositiveDefinite: posDef,
	}
}

// quadraticForm evaluates diff' V^{-1} diff, using a pseudo-inverse when V
// is not positive definite.
func quadraticForm(diff *mat.VecDense, v *mat.SymDense, posDef bool) float64 {
	k := diff.Len()

	if posDef {
		var chol mat.Cholesky
		if chol.Factorize(v) {
			var solved mat.VecDense
			if err := chol.SolveVecTo(&solved, diff); err == nil {
				return mat.Dot(diff, &solved)
			}
		}
	}

	var svd mat.SVD
	if !svd.Factorize(v, mat.SVDFull) {
		return math.NaN()
	}
	var u, rsv mat.Dense
	svd.UTo(&u)
	svd.VTo(&rsv)
	values := svd.Values(nil)

	var max float64
	for _, s := range values {
		if s > max {
			max = s
		}
	}
	rcond := 1e-10 * max

	pinv := mat.NewDense(k, k, nil)
	for a := 0; a < k; a++ {
		for b := 0; b < k; b++ {
			var sum float64
			for j, s := range values {
				if s > rcond {
					sum += rsv.At(a, j) / s * u.At(b, j)
				}
			}
			pinv.Set(a, b, sum)
		}
	}

	var tmp mat.VecDense
	tmp.MulVec(pinv, diff)
	stat := mat.Dot(diff, &tmp)
	if stat < 0 {
		return 0
	}
	return stat
}
