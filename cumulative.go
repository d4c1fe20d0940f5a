// Project: Estimation of Excess Mortality from Daily and Weekly Death Counts

package main

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Cumulative converts the per-date percentage excess of a curve fit into
// cumulative excess counts over [start, end], with standard errors
// propagated through the triangular summation operator. Only the *CurveFit
// variant of FitResult is accepted; a baseline-only series fails with
// ErrNotCurveFit. A window with no overlap yields an empty result, not an
// error.
func Cumulative(result FitResult, start, end time.Time) (*CumulativeResult, error) {
	fit, ok := result.(*CurveFit)
	if !ok {
		return nil, fmt.Errorf("%w: got %T, want *CurveFit", ErrNotCurveFit, result)
	}
	if fit == nil || fit.X == nil || fit.Beta == nil || fit.CovBeta == nil || fit.Cov == nil {
		return nil, fmt.Errorf("%w: curve fit is incomplete", ErrInvalidInput)
	}
	if end.Before(start) {
		return nil, fmt.Errorf("%w: window end %s precedes start %s",
			ErrInvalidInput, end.Format("2006-01-02"), start.Format("2006-01-02"))
	}

	var ind []int
	for i, d := range fit.Dates {
		if !d.Before(start) && !d.After(end) {
			ind = append(ind, i)
		}
	}
	n := len(ind)
	if n == 0 {
		return &CumulativeResult{}, nil
	}

	// Summation operator: row i of A*f is sum_{j<=i} expected_j * f_j.
	A := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j <= i; j++ {
			A.Set(i, j, fit.Expected[ind[j]])
		}
	}

	fSub := mat.NewVecDense(n, nil)
	diffs := make([]float64, n)
	for k, i := range ind {
		fSub.SetVec(k, fit.Fitted[i])
		diffs[k] = fit.Observed[i] - fit.Expected[i]
	}

	fittedCum := mat.NewVecDense(n, nil)
	fittedCum.MulVec(A, fSub)

	observedCum := make([]float64, n)
	floats.CumSum(observedCum, diffs)

	// se: coefficient uncertainty through the design rows and the summation
	// operator, diag(A X S X^T A^T).
	_, p := fit.X.Dims()
	xSub := mat.NewDense(n, p, nil)
	for k, i := range ind {
		for j := 0; j < p; j++ {
			xSub.Set(k, j, fit.X.At(i, j))
		}
	}
	var B, BS mat.Dense
	B.Mul(A, xSub)
	BS.Mul(&B, fit.CovBeta)

	// sd: pointwise covariance restricted to the window, diag(A Cov A^T).
	covSub := mat.NewDense(n, n, nil)
	for a, i := range ind {
		for b, j := range ind {
			covSub.Set(a, b, fit.Cov.At(i, j))
		}
	}
	var AC mat.Dense
	AC.Mul(A, covSub)

	rows := make([]CumulativeRow, n)
	for i := 0; i < n; i++ {
		seVar := 0.0
		for j := 0; j < p; j++ {
			seVar += BS.At(i, j) * B.At(i, j)
		}
		sdVar := 0.0
		for j := 0; j < n; j++ {
			sdVar += AC.At(i, j) * A.At(i, j)
		}
		rows[i] = CumulativeRow{
			Date:     fit.Dates[ind[i]],
			Observed: observedCum[i],
			SD:       math.Sqrt(math.Max(sdVar, 0)),
			Fitted:   fittedCum.AtVec(i),
			SE:       math.Sqrt(math.Max(seVar, 0)),
		}
	}
	return &CumulativeResult{Rows: rows}, nil
}
