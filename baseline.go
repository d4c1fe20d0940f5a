// Project: Estimation of Excess Mortality from Daily and Weekly Death Counts

package main

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"
)

const (
	irlsMaxIter = 50
	irlsTol     = 1e-10
)

// EstimateExpected fits the seasonal baseline model
//
//	log(mu_t / N_t) = trend(t) + seasonal(t) + weekday(t)
//
// by iteratively reweighted least squares under a Poisson likelihood and
// returns a new series carrying the expected count for every date plus the
// overdispersion scalar. Dates in cfg.ExcludeDates get zero fitting weight
// but still receive a predicted expected value, so anomalous periods do not
// bend the baseline toward themselves.
func EstimateExpected(series *CountSeries, cfg BaselineConfig) (*CountSeries, error) {
	if series == nil || len(series.Records) == 0 {
		return nil, fmt.Errorf("%w: series not provided", ErrInvalidInput)
	}
	if cfg.WeekdayEffect && series.cadenceDays != 1 {
		return nil, fmt.Errorf("%w: weekday effect requires daily cadence, series is %d-day",
			ErrInvalidInput, series.cadenceDays)
	}

	n := series.Len()
	X, err := baselineDesign(series, cfg)
	if err != nil {
		return nil, err
	}
	_, p := X.Dims()

	excluded := make([]bool, n)
	for _, d := range cfg.ExcludeDates {
		if i := series.indexOf(d); i >= 0 {
			excluded[i] = true
		}
	}
	nUsed := 0
	for i := 0; i < n; i++ {
		if !excluded[i] {
			nUsed++
		}
	}
	if nUsed <= p {
		return nil, fmt.Errorf("%w: baseline has %d parameters but only %d non-excluded dates",
			ErrUnidentifiable, p, nUsed)
	}

	// Offset and working state.
	offset := make([]float64, n)
	mu := make([]float64, n)
	eta := make([]float64, n)
	for i, rec := range series.Records {
		offset[i] = math.Log(rec.Population)
		mu[i] = rec.Observed + 0.5
		eta[i] = math.Log(mu[i])
	}

	beta := mat.NewVecDense(p, nil)
	devOld := math.Inf(1)
	converged := false

	for iter := 0; iter < irlsMaxIter; iter++ {
		// Weighted normal equations X^T W X b = X^T W z with W = diag(mu)
		// on non-excluded dates and z the working response (offset removed).
		xtwx := make([]float64, p*p)
		xtwz := mat.NewVecDense(p, nil)
		for i := 0; i < n; i++ {
			if excluded[i] {
				continue
			}
			w := mu[i]
			z := eta[i] - offset[i] + (series.Records[i].Observed-mu[i])/mu[i]
			for j := 0; j < p; j++ {
				xij := X.At(i, j)
				xtwz.SetVec(j, xtwz.AtVec(j)+w*xij*z)
				for k := j; k < p; k++ {
					xtwx[j*p+k] += w * xij * X.At(i, k)
				}
			}
		}
		for j := 0; j < p; j++ {
			for k := 0; k < j; k++ {
				xtwx[j*p+k] = xtwx[k*p+j]
			}
		}

		var chol mat.Cholesky
		if ok := chol.Factorize(mat.NewSymDense(p, xtwx)); !ok {
			return nil, fmt.Errorf("%w: weighted normal equations not positive definite at iteration %d",
				ErrNumerical, iter)
		}
		if err := chol.SolveVecTo(beta, xtwz); err != nil {
			return nil, fmt.Errorf("%w: IRLS solve failed: %v", ErrNumerical, err)
		}

		// Update the linear predictor and the fitted means.
		dev := 0.0
		for i := 0; i < n; i++ {
			e := offset[i]
			for j := 0; j < p; j++ {
				e += X.At(i, j) * beta.AtVec(j)
			}
			if e > 500 {
				return nil, fmt.Errorf("%w: IRLS diverged (linear predictor overflow)", ErrNumerical)
			}
			eta[i] = e
			mu[i] = math.Exp(e)
			if !excluded[i] {
				dev += poissonDeviance(series.Records[i].Observed, mu[i])
			}
		}

		if math.Abs(dev-devOld) < irlsTol*(math.Abs(dev)+0.1) {
			converged = true
			break
		}
		devOld = dev
	}
	if !converged {
		return nil, fmt.Errorf("%w: IRLS did not converge in %d iterations", ErrNumerical, irlsMaxIter)
	}

	// Pearson overdispersion over non-excluded dates.
	pearson := 0.0
	for i := 0; i < n; i++ {
		if excluded[i] {
			continue
		}
		r := series.Records[i].Observed - mu[i]
		pearson += r * r / mu[i]
	}
	dispersion := pearson / float64(nUsed-p)

	out := &CountSeries{
		Records:     series.Records,
		Expected:    mu,
		Dispersion:  dispersion,
		cadenceDays: series.cadenceDays,
	}
	return out, nil
}

// baselineDesign assembles the trend + seasonal + weekday design matrix for
// the full series.
func baselineDesign(series *CountSeries, cfg BaselineConfig) (*mat.Dense, error) {
	indices := make([]int, series.Len())
	for i := range indices {
		indices[i] = i
	}
	x := series.timeX(indices)

	trend, err := trendColumns(x, cfg.TrendKnots)
	if err != nil {
		return nil, err
	}
	seasonal := harmonicColumns(x, cfg.SeasonalHarmonics)

	var weekday *mat.Dense
	if cfg.WeekdayEffect {
		dates := make([]time.Time, series.Len())
		for i, rec := range series.Records {
			dates[i] = rec.Date
		}
		weekday = weekdayColumns(dates)
	}

	return hcat(trend, seasonal, weekday), nil
}

// poissonDeviance is the unit deviance contribution 2*(y*log(y/mu)-(y-mu)).
func poissonDeviance(y, mu float64) float64 {
	d := -(y - mu)
	if y > 0 {
		d += y * math.Log(y/mu)
	}
	return 2 * d
}
