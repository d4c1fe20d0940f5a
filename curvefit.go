// Project: Estimation of Excess Mortality from Daily and Weekly Death Counts

package main

import (
	"fmt"
	"math"
	"runtime"
	"sync"
	"time"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// glsCondMax is the condition-number threshold beyond which the GLS normal
// equations are treated as rank deficient.
const glsCondMax = 1e12

// detectZ is the half-width multiplier of the pointwise band used for
// interval detection.
const detectZ = 2.0

// FitCurve fits the event-effect curve f(t) over [cfg.Start, cfg.End] by
// generalized least squares on the relative excess (observed-expected)/expected.
// The design matrix is a natural spline in time with cfg.KnotsPerYear knots
// per window year, an optional step column at cfg.EventDate, and optional
// weekday indicators. With ModelCorrelated the observation covariance uses
// the Toeplitz correlation structure of corrModel; corrModel may be nil for
// ModelIndependent.
func FitCurve(series *CountSeries, corrModel *CorrelationModel, cfg CurveConfig) (*CurveFit, error) {
	if series == nil || len(series.Records) == 0 {
		return nil, fmt.Errorf("%w: series not provided", ErrInvalidInput)
	}
	if !series.HasExpected() {
		return nil, fmt.Errorf("%w: series has no expected counts, run EstimateExpected first", ErrInvalidInput)
	}
	if cfg.WeekdayEffect && series.cadenceDays != 1 {
		return nil, fmt.Errorf("%w: weekday effect requires daily cadence, series is %d-day",
			ErrInvalidInput, series.cadenceDays)
	}
	if cfg.Discontinuity && cfg.EventDate.IsZero() {
		return nil, fmt.Errorf("%w: discontinuity requested without an event date", ErrInvalidInput)
	}
	if cfg.Model == ModelCorrelated && corrModel == nil {
		return nil, fmt.Errorf("%w: correlated model requested without a correlation model", ErrInvalidInput)
	}

	ind := series.windowIndices(cfg.Start, cfg.End)
	n := len(ind)
	if n == 0 {
		return nil, fmt.Errorf("%w: window [%s, %s] contains no series dates",
			ErrInvalidInput, cfg.Start.Format("2006-01-02"), cfg.End.Format("2006-01-02"))
	}

	dates := make([]time.Time, n)
	observed := make([]float64, n)
	expected := make([]float64, n)
	y := mat.NewVecDense(n, nil)
	for j, i := range ind {
		rec := series.Records[i]
		exp := series.Expected[i]
		if exp <= 0 {
			return nil, fmt.Errorf("%w: non-positive expected count at %s",
				ErrInvalidInput, rec.Date.Format("2006-01-02"))
		}
		dates[j] = rec.Date
		observed[j] = rec.Observed
		expected[j] = exp
		y.SetVec(j, (rec.Observed-exp)/exp)
	}

	X, err := curveDesign(series, ind, dates, cfg)
	if err != nil {
		return nil, err
	}
	_, p := X.Dims()
	if p >= n {
		return nil, fmt.Errorf("%w: design has %d columns for %d window dates", ErrUnidentifiable, p, n)
	}

	V, err := observationCovariance(series, ind, corrModel, cfg.Model)
	if err != nil {
		return nil, err
	}

	beta, covBeta, err := solveGLS(X, V, y)
	if err != nil {
		return nil, err
	}

	fitted := make([]float64, n)
	fv := mat.NewVecDense(n, nil)
	fv.MulVec(X, beta)
	for i := 0; i < n; i++ {
		fitted[i] = fv.AtVec(i)
	}

	cov := propagate(X, covBeta)

	fit := &CurveFit{
		Dates:       dates,
		Observed:    observed,
		Expected:    expected,
		X:           X,
		Beta:        beta,
		CovBeta:     covBeta,
		Fitted:      fitted,
		Cov:         cov,
		Dispersion:  series.Dispersion,
		cadenceDays: series.cadenceDays,
	}
	fit.Intervals = detectIntervals(dates, fitted, cov)
	return fit, nil
}

// curveDesign assembles the window design matrix: spline trend, optional
// step indicator, optional weekday indicators.
func curveDesign(series *CountSeries, ind []int, dates []time.Time, cfg CurveConfig) (*mat.Dense, error) {
	x := series.timeX(ind)
	lo, hi := minMax(x)
	years := hi - lo
	nKnots := int(math.Round(float64(cfg.KnotsPerYear) * years))

	trend, err := trendColumns(x, nKnots)
	if err != nil {
		return nil, err
	}

	var step *mat.Dense
	if cfg.Discontinuity {
		step = stepColumn(dates, cfg.EventDate)
	}
	var weekday *mat.Dense
	if cfg.WeekdayEffect {
		weekday = weekdayColumns(dates)
	}
	return hcat(trend, step, weekday), nil
}

// observationCovariance builds V for the window: diag(dispersion*expected)
// in independent mode, D^(1/2) R D^(1/2) in correlated mode.
func observationCovariance(series *CountSeries, ind []int, corrModel *CorrelationModel, model VarianceModel) (*mat.SymDense, error) {
	n := len(ind)
	sd := make([]float64, n)
	for j, i := range ind {
		sd[j] = math.Sqrt(series.Dispersion * series.Expected[i])
	}

	V := mat.NewSymDense(n, nil)
	if model == ModelIndependent {
		for i := 0; i < n; i++ {
			V.SetSym(i, i, sd[i]*sd[i])
		}
		return V, nil
	}

	R, err := corrModel.CorrelationMatrix(n)
	if err != nil {
		return nil, err
	}
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			V.SetSym(i, j, sd[i]*sd[j]*R.At(i, j))
		}
	}
	return V, nil
}

// solveGLS solves (X^T V^-1 X) beta = X^T V^-1 y and returns beta with its
// covariance (X^T V^-1 X)^-1. Near-singular systems fail rather than return
// a meaningless inverse.
func solveGLS(X *mat.Dense, V *mat.SymDense, y *mat.VecDense) (*mat.VecDense, *mat.SymDense, error) {
	n, p := X.Dims()

	var cholV mat.Cholesky
	if ok := cholV.Factorize(V); !ok {
		return nil, nil, fmt.Errorf("%w: observation covariance is not positive definite", ErrNumerical)
	}

	vinvX := mat.NewDense(n, p, nil)
	if err := cholV.SolveTo(vinvX, X); err != nil {
		return nil, nil, fmt.Errorf("%w: covariance solve failed: %v", ErrNumerical, err)
	}
	vinvY := mat.NewVecDense(n, nil)
	if err := cholV.SolveVecTo(vinvY, y); err != nil {
		return nil, nil, fmt.Errorf("%w: covariance solve failed: %v", ErrNumerical, err)
	}

	var xtvx mat.Dense
	xtvx.Mul(X.T(), vinvX)
	normal := mat.NewSymDense(p, nil)
	for i := 0; i < p; i++ {
		for j := i; j < p; j++ {
			normal.SetSym(i, j, 0.5*(xtvx.At(i, j)+xtvx.At(j, i)))
		}
	}

	rhs := mat.NewVecDense(p, nil)
	rhs.MulVec(X.T(), vinvY)

	var chol mat.Cholesky
	if ok := chol.Factorize(normal); !ok {
		return nil, nil, fmt.Errorf("%w: design matrix is rank deficient", ErrNumerical)
	}
	if c := chol.Cond(); c > glsCondMax {
		return nil, nil, fmt.Errorf("%w: normal equations ill-conditioned (cond %.3g)", ErrNumerical, c)
	}

	beta := mat.NewVecDense(p, nil)
	if err := chol.SolveVecTo(beta, rhs); err != nil {
		return nil, nil, fmt.Errorf("%w: GLS solve failed: %v", ErrNumerical, err)
	}
	covBeta := mat.NewSymDense(p, nil)
	if err := chol.InverseTo(covBeta); err != nil {
		return nil, nil, fmt.Errorf("%w: coefficient covariance inversion failed: %v", ErrNumerical, err)
	}
	return beta, covBeta, nil
}

// propagate computes the symmetric matrix X * S * X^T.
func propagate(X *mat.Dense, S *mat.SymDense) *mat.SymDense {
	var xs, full mat.Dense
	xs.Mul(X, S)
	full.Mul(&xs, X.T())

	n, _ := full.Dims()
	out := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			out.SetSym(i, j, 0.5*(full.At(i, j)+full.At(j, i)))
		}
	}
	return out
}

// detectIntervals returns the maximal contiguous date ranges whose pointwise
// band fitted +/- detectZ*sqrt(Cov_tt) excludes zero. Single qualifying
// dates become degenerate one-date intervals.
func detectIntervals(dates []time.Time, fitted []float64, cov *mat.SymDense) []DateInterval {
	var intervals []DateInterval
	open := -1
	for i := range dates {
		se := math.Sqrt(math.Max(cov.At(i, i), 0))
		qualifies := fitted[i]-detectZ*se > 0 || fitted[i]+detectZ*se < 0
		if qualifies && open < 0 {
			open = i
		}
		if !qualifies && open >= 0 {
			intervals = append(intervals, DateInterval{Start: dates[open], End: dates[i-1]})
			open = -1
		}
	}
	if open >= 0 {
		intervals = append(intervals, DateInterval{Start: dates[open], End: dates[len(dates)-1]})
	}
	return intervals
}

// WaldTest tests whether the whole fitted curve is zero: W = beta^T
// CovBeta^-1 beta compared against a chi-squared law with one degree of
// freedom per basis column.
func (f *CurveFit) WaldTest() (*WaldResult, error) {
	if f == nil || f.Beta == nil || f.CovBeta == nil {
		return nil, fmt.Errorf("%w: curve fit is incomplete", ErrInvalidInput)
	}

	p := f.Beta.Len()
	var chol mat.Cholesky
	if ok := chol.Factorize(f.CovBeta); !ok {
		return nil, fmt.Errorf("%w: coefficient covariance is not positive definite", ErrNumerical)
	}
	solved := mat.NewVecDense(p, nil)
	if err := chol.SolveVecTo(solved, f.Beta); err != nil {
		return nil, fmt.Errorf("%w: Wald solve failed: %v", ErrNumerical, err)
	}
	w := mat.Dot(f.Beta, solved)

	dist := distuv.ChiSquared{K: float64(p)}
	return &WaldResult{
		Statistic: w,
		DF:        p,
		PValue:    dist.Survival(w),
	}, nil
}

// FitCurves fits each named window independently through FitCurve. The
// windows share the series, correlation model, and remaining configuration,
// so the fits are independent pure computations and run on a worker pool.
func FitCurves(series *CountSeries, corrModel *CorrelationModel, windows map[string]DateInterval, cfg CurveConfig) (map[string]*CurveFit, error) {
	if len(windows) == 0 {
		return nil, fmt.Errorf("%w: no windows provided", ErrInvalidInput)
	}

	type job struct {
		name string
		win  DateInterval
	}
	type outcome struct {
		name string
		fit  *CurveFit
		err  error
	}

	numWorkers := runtime.NumCPU()
	if numWorkers > len(windows) {
		numWorkers = len(windows)
	}

	jobs := make(chan job)
	results := make(chan outcome, len(windows))

	var wg sync.WaitGroup
	wg.Add(numWorkers)
	for w := 0; w < numWorkers; w++ {
		go func() {
			defer wg.Done()
			for j := range jobs {
				c := cfg
				c.Start = j.win.Start
				c.End = j.win.End
				fit, err := FitCurve(series, corrModel, c)
				results <- outcome{name: j.name, fit: fit, err: err}
			}
		}()
	}

	go func() {
		for name, win := range windows {
			jobs <- job{name: name, win: win}
		}
		close(jobs)
	}()

	fits := make(map[string]*CurveFit, len(windows))
	var firstErr error
	for i := 0; i < len(windows); i++ {
		res := <-results
		if res.err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("window %q: %w", res.name, res.err)
			}
			continue
		}
		fits[res.name] = res.fit
	}
	wg.Wait()
	close(results)

	if firstErr != nil {
		return nil, firstErr
	}
	return fits, nil
}
