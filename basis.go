// Project: Estimation of Excess Mortality from Daily and Weekly Death Counts

package main

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"
)

// naturalSplineBasis evaluates a natural cubic spline basis at each x.
// The basis has one column per knot: a constant, a linear term, and
// len(knots)-2 curvature terms that are linear beyond the boundary knots.
// Requires at least 2 strictly increasing knots.
func naturalSplineBasis(xs, knots []float64) (*mat.Dense, error) {
	K := len(knots)
	if K < 2 {
		return nil, fmt.Errorf("%w: natural spline needs at least 2 knots, got %d", ErrInvalidInput, K)
	}
	for i := 1; i < K; i++ {
		if knots[i] <= knots[i-1] {
			return nil, fmt.Errorf("%w: spline knots must be strictly increasing", ErrInvalidInput)
		}
	}

	// d_k(x) = ((x-k_k)_+^3 - (x-k_K)_+^3) / (k_K - k_k)
	d := func(x float64, k int) float64 {
		num := cubePos(x-knots[k]) - cubePos(x-knots[K-1])
		return num / (knots[K-1] - knots[k])
	}

	B := mat.NewDense(len(xs), K, nil)
	for i, x := range xs {
		B.Set(i, 0, 1.0)
		B.Set(i, 1, x)
		for k := 0; k < K-2; k++ {
			B.Set(i, k+2, d(x, k)-d(x, K-2))
		}
	}
	return B, nil
}

func cubePos(v float64) float64 {
	if v <= 0 {
		return 0
	}
	return v * v * v
}

// equalKnots places n knots evenly over [lo, hi], endpoints included.
func equalKnots(lo, hi float64, n int) []float64 {
	knots := make([]float64, n)
	for i := range knots {
		knots[i] = lo + float64(i)*(hi-lo)/float64(n-1)
	}
	return knots
}

// trendColumns builds the slow-trend block of a design matrix: a constant
// column, plus a linear term for 1 knot, plus a full natural spline basis
// for 2 or more knots. The constant column always comes first so the basis
// spans an intercept.
func trendColumns(x []float64, nKnots int) (*mat.Dense, error) {
	n := len(x)
	switch {
	case nKnots <= 0:
		B := mat.NewDense(n, 1, nil)
		for i := 0; i < n; i++ {
			B.Set(i, 0, 1.0)
		}
		return B, nil
	case nKnots == 1:
		B := mat.NewDense(n, 2, nil)
		for i := 0; i < n; i++ {
			B.Set(i, 0, 1.0)
			B.Set(i, 1, x[i])
		}
		return B, nil
	default:
		lo, hi := minMax(x)
		if hi <= lo {
			return nil, fmt.Errorf("%w: degenerate time range for spline basis", ErrInvalidInput)
		}
		return naturalSplineBasis(x, equalKnots(lo, hi, nKnots))
	}
}

// harmonicColumns builds sin/cos pairs with an annual period. x is in years,
// so harmonic k is sin(2*pi*k*x), cos(2*pi*k*x).
func harmonicColumns(x []float64, harmonics int) *mat.Dense {
	if harmonics <= 0 {
		return nil
	}
	B := mat.NewDense(len(x), 2*harmonics, nil)
	for i, xi := range x {
		for k := 1; k <= harmonics; k++ {
			B.Set(i, 2*(k-1), math.Sin(2*math.Pi*float64(k)*xi))
			B.Set(i, 2*(k-1)+1, math.Cos(2*math.Pi*float64(k)*xi))
		}
	}
	return B
}

// weekdayColumns builds 6 day-of-week indicator columns with Sunday as the
// reference level.
func weekdayColumns(dates []time.Time) *mat.Dense {
	B := mat.NewDense(len(dates), 6, nil)
	for i, d := range dates {
		w := int(d.Weekday())
		if w > 0 {
			B.Set(i, w-1, 1.0)
		}
	}
	return B
}

// stepColumn builds the discontinuity indicator: 1 for dates on or after
// event, 0 before.
func stepColumn(dates []time.Time, event time.Time) *mat.Dense {
	B := mat.NewDense(len(dates), 1, nil)
	for i, d := range dates {
		if !d.Before(event) {
			B.Set(i, 0, 1.0)
		}
	}
	return B
}

// hcat concatenates column blocks into one design matrix, skipping nils.
func hcat(blocks ...*mat.Dense) *mat.Dense {
	rows, cols := 0, 0
	for _, b := range blocks {
		if b == nil {
			continue
		}
		r, c := b.Dims()
		rows = r
		cols += c
	}
	X := mat.NewDense(rows, cols, nil)
	at := 0
	for _, b := range blocks {
		if b == nil {
			continue
		}
		r, c := b.Dims()
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				X.Set(i, at+j, b.At(i, j))
			}
		}
		at += c
	}
	return X
}

func minMax(x []float64) (lo, hi float64) {
	lo, hi = x[0], x[0]
	for _, v := range x[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}
