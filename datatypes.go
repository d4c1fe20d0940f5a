// Project: Estimation of Excess Mortality from Daily and Weekly Death Counts

package main

import (
	"errors"
	"time"

	"gonum.org/v1/gonum/mat"
)

// Error kinds for the whole pipeline. Every failure wraps exactly one of
// these so callers can tell bad data from a wrong object or a numerical
// breakdown with errors.Is.
var (
	// ErrInvalidInput marks malformed input: non-positive populations,
	// unsorted or duplicate dates, irregular spacing, bad ranges.
	ErrInvalidInput = errors.New("invalid input")
	// ErrUnidentifiable marks a model with more parameters than usable
	// observations.
	ErrUnidentifiable = errors.New("model not identifiable")
	// ErrNotCurveFit marks a FitResult passed to Cumulative that is not a
	// curve fit.
	ErrNotCurveFit = errors.New("not a curve fit")
	// ErrNumerical marks fatal numerical failures: singular or
	// ill-conditioned matrices, non-stationary AR estimates, diverging IRLS.
	ErrNumerical = errors.New("numerical failure")
)

// CountRecord is one day (or week) of observed event counts.
type CountRecord struct {
	Date       time.Time
	Observed   float64 // non-negative count
	Population float64 // must be > 0
}

// CountSeries is an ordered, regularly spaced sequence of count records.
// After EstimateExpected it also carries the fitted expected count per date
// and the overdispersion scalar. A CountSeries is never mutated: each
// pipeline stage returns a new value.
type CountSeries struct {
	Records []CountRecord
	// Expected counts aligned with Records; nil until EstimateExpected.
	Expected []float64
	// Dispersion scales the Poisson variance: Var(Y_t) = Dispersion * Expected_t.
	Dispersion float64

	// Spacing between consecutive dates, in days (1 = daily, 7 = weekly).
	cadenceDays int
}

// FitResult is the sum type consumed by Cumulative. Its only variants are
// *CountSeries (a baseline-only fit) and *CurveFit; Cumulative accepts only
// the latter.
type FitResult interface {
	fitResult()
}

func (s *CountSeries) fitResult() {}
func (f *CurveFit) fitResult() {}

// BaselineConfig configures EstimateExpected.
type BaselineConfig struct {
	// Dates receiving zero fitting weight. They still get a predicted
	// expected value so anomalous periods do not bias the baseline.
	ExcludeDates []time.Time
	// Day-of-week indicator columns. Daily cadence only.
	WeekdayEffect bool
	// Number of knots for the slow trend spline. 0 means constant trend,
	// 1 means linear.
	TrendKnots int
	// Number of annual sin/cos harmonic pairs for the seasonal term.
	SeasonalHarmonics int
}

// ARConfig configures FitAR.
type ARConfig struct {
	// Contiguous control range, assumed free of anomalous events and
	// disjoint from excluded periods. Both endpoints inclusive.
	ControlStart, ControlEnd time.Time
	// Largest AR order to consider. Defaults to 5 when zero.
	MaxOrder int
	// Choose the order minimizing AIC; otherwise MaxOrder is used directly.
	SelectByAIC bool
}

// CorrelationModel is a fitted stationary AR(p) model for the standardized
// residual process. Read-only after FitAR.
type CorrelationModel struct {
	Order   int
	Phi     []float64 // AR coefficients phi_1..phi_p
	SigmaSq float64   // innovation variance
	AIC     float64
}

// VarianceModel selects how the curve fitter treats observation noise.
type VarianceModel int

const (
	// ModelIndependent uses pure Poisson-with-overdispersion noise.
	ModelIndependent VarianceModel = iota
	// ModelCorrelated additionally applies the AR correlation structure.
	ModelCorrelated
)

// CurveConfig configures FitCurve.
type CurveConfig struct {
	Start, End    time.Time
	Model         VarianceModel
	WeekdayEffect bool
	// Spline knots per year of window length.
	KnotsPerYear int
	// Include a step column at EventDate.
	Discontinuity bool
	EventDate     time.Time
}

// DateInterval is an inclusive date range.
type DateInterval struct {
	Start, End time.Time
}

// CurveFit is the result of fitting an event-effect curve over a window.
// Fitted is the percentage excess f(t) = X*Beta; Cov is the pointwise
// covariance of Fitted across all window dates.
type CurveFit struct {
	Dates    []time.Time
	Observed []float64
	Expected []float64

	X       *mat.Dense    // design matrix, len(Dates) x basis dimension
	Beta    *mat.VecDense // fitted coefficients
	CovBeta *mat.SymDense // coefficient covariance
	Fitted  []float64     // X * Beta
	Cov     *mat.SymDense // X * CovBeta * X^T

	Dispersion float64
	// Maximal contiguous date ranges where Fitted +/- 2*sqrt(diag(Cov))
	// excludes zero.
	Intervals []DateInterval

	cadenceDays int
}

// CumulativeRow is one date of a cumulative excess summary.
type CumulativeRow struct {
	Date     time.Time
	Observed float64 // cumulative observed minus expected
	SD       float64 // sd of cumulative excess under the fitted covariance
	Fitted   float64 // cumulative predicted excess counts
	SE       float64 // standard error of Fitted
}

// CumulativeResult holds cumulative rows in ascending date order, one per
// date of the requested window.
type CumulativeResult struct {
	Rows []CumulativeRow
}

// WaldResult is the curve-level significance test of a fitted curve.
type WaldResult struct {
	Statistic float64
	DF        int
	PValue    float64
}
