// Project: Estimation of Excess Mortality from Daily and Weekly Death Counts

package main

import (
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/mat"
)

// DefaultMaxOrder is the AR order bound used when ARConfig.MaxOrder is zero.
const DefaultMaxOrder = 5

// FitAR estimates an AR(p) model for the standardized residual process
// r_t = (observed_t - expected_t) / sqrt(dispersion * expected_t) over the
// control range. The control range must be contiguous inside the series and,
// by caller contract, disjoint from excluded and event periods. Candidate
// orders 1..MaxOrder are fit by least squares on lagged values; with
// SelectByAIC the order minimizing AIC wins, otherwise MaxOrder is used.
func FitAR(series *CountSeries, cfg ARConfig) (*CorrelationModel, error) {
	if series == nil || len(series.Records) == 0 {
		return nil, fmt.Errorf("%w: series not provided", ErrInvalidInput)
	}
	if !series.HasExpected() {
		return nil, fmt.Errorf("%w: series has no expected counts, run EstimateExpected first", ErrInvalidInput)
	}

	maxOrder := cfg.MaxOrder
	if maxOrder == 0 {
		maxOrder = DefaultMaxOrder
	}
	if maxOrder < 1 {
		return nil, fmt.Errorf("%w: max order must be >= 1, got %d", ErrInvalidInput, maxOrder)
	}

	i0 := series.indexOf(cfg.ControlStart)
	i1 := series.indexOf(cfg.ControlEnd)
	if i0 < 0 || i1 < 0 || i1 < i0 {
		return nil, fmt.Errorf("%w: control range [%s, %s] is not a contiguous sub-range of the series",
			ErrInvalidInput, cfg.ControlStart.Format("2006-01-02"), cfg.ControlEnd.Format("2006-01-02"))
	}

	nCtrl := i1 - i0 + 1
	if nCtrl < maxOrder+1 {
		return nil, fmt.Errorf("%w: control range has %d points, need at least %d for AR(%d)",
			ErrUnidentifiable, nCtrl, maxOrder+1, maxOrder)
	}

	r := make([]float64, nCtrl)
	for j := 0; j < nCtrl; j++ {
		i := i0 + j
		exp := series.Expected[i]
		if exp <= 0 {
			return nil, fmt.Errorf("%w: non-positive expected count at %s",
				ErrInvalidInput, series.Records[i].Date.Format("2006-01-02"))
		}
		r[j] = (series.Records[i].Observed - exp) / math.Sqrt(series.Dispersion*exp)
	}

	best := (*CorrelationModel)(nil)
	if cfg.SelectByAIC {
		for k := 1; k <= maxOrder; k++ {
			m, err := fitAROrder(r, k)
			if err != nil {
				return nil, err
			}
			if best == nil || m.AIC < best.AIC {
				best = m
			}
		}
	} else {
		m, err := fitAROrder(r, maxOrder)
		if err != nil {
			return nil, err
		}
		best = m
	}

	if !stationary(best.Phi) {
		return nil, fmt.Errorf("%w: estimated AR(%d) process is non-stationary", ErrNumerical, best.Order)
	}
	return best, nil
}

// fitAROrder solves the least-squares regression of r_t on its k lags.
func fitAROrder(r []float64, k int) (*CorrelationModel, error) {
	nEff := len(r) - k

	// Normal equations on the lag design, accumulated elementwise.
	xtx := make([]float64, k*k)
	xty := mat.NewVecDense(k, nil)
	for t := k; t < len(r); t++ {
		for j := 0; j < k; j++ {
			xty.SetVec(j, xty.AtVec(j)+r[t-j-1]*r[t])
			for l := j; l < k; l++ {
				xtx[j*k+l] += r[t-j-1] * r[t-l-1]
			}
		}
	}
	for j := 0; j < k; j++ {
		for l := 0; l < j; l++ {
			xtx[j*k+l] = xtx[l*k+j]
		}
	}

	phi := mat.NewVecDense(k, nil)
	var chol mat.Cholesky
	if ok := chol.Factorize(mat.NewSymDense(k, xtx)); !ok {
		return nil, fmt.Errorf("%w: lag design for AR(%d) is singular", ErrNumerical, k)
	}
	if err := chol.SolveVecTo(phi, xty); err != nil {
		return nil, fmt.Errorf("%w: AR(%d) solve failed: %v", ErrNumerical, k, err)
	}

	rss := 0.0
	for t := k; t < len(r); t++ {
		pred := 0.0
		for j := 0; j < k; j++ {
			pred += phi.AtVec(j) * r[t-j-1]
		}
		d := r[t] - pred
		rss += d * d
	}

	sigmaSq := rss / float64(nEff)
	aic := float64(nEff)*math.Log(sigmaSq) + 2*float64(k+1)

	coeffs := make([]float64, k)
	for j := 0; j < k; j++ {
		coeffs[j] = phi.AtVec(j)
	}
	return &CorrelationModel{
		Order:   k,
		Phi:     coeffs,
		SigmaSq: sigmaSq,
		AIC:     aic,
	}, nil
}

// stationary reports whether the AR coefficients describe a stationary
// process. The eigenvalues of the companion matrix are the inverse roots of
// the characteristic polynomial; all must lie strictly inside the unit disk.
func stationary(phi []float64) bool {
	p := len(phi)
	if p == 0 {
		return true
	}
	if p == 1 {
		return math.Abs(phi[0]) < 1
	}

	companion := mat.NewDense(p, p, nil)
	for j := 0; j < p; j++ {
		companion.Set(0, j, phi[j])
	}
	for i := 1; i < p; i++ {
		companion.Set(i, i-1, 1.0)
	}

	var eig mat.Eigen
	if ok := eig.Factorize(companion, mat.EigenNone); !ok {
		return false
	}
	for _, v := range eig.Values(nil) {
		if cmplx.Abs(v) >= 1 {
			return false
		}
	}
	return true
}

// Autocov returns the theoretical autocovariances gamma(0..maxLag) of the
// fitted process, obtained by solving the Yule-Walker equations for the
// first p+1 lags exactly and extending by the AR recursion. No empirical
// truncation is involved, so a covariance matrix for any window length can
// be built from the result.
func (m *CorrelationModel) Autocov(maxLag int) ([]float64, error) {
	if m == nil || len(m.Phi) == 0 {
		return nil, fmt.Errorf("%w: correlation model not fitted", ErrInvalidInput)
	}
	if maxLag < 0 {
		return nil, fmt.Errorf("%w: maxLag must be >= 0, got %d", ErrInvalidInput, maxLag)
	}

	p := m.Order

	// Linear system in gamma(0..p):
	//   gamma(0) - sum_i phi_i gamma(i)     = sigma^2
	//   gamma(k) - sum_i phi_i gamma(|k-i|) = 0      for k = 1..p
	M := mat.NewDense(p+1, p+1, nil)
	rhs := mat.NewVecDense(p+1, nil)
	rhs.SetVec(0, m.SigmaSq)
	for k := 0; k <= p; k++ {
		M.Set(k, k, M.At(k, k)+1)
		for i := 1; i <= p; i++ {
			lag := k - i
			if lag < 0 {
				lag = -lag
			}
			M.Set(k, lag, M.At(k, lag)-m.Phi[i-1])
		}
	}

	head := mat.NewVecDense(p+1, nil)
	if err := head.SolveVec(M, rhs); err != nil {
		return nil, fmt.Errorf("%w: Yule-Walker system is singular: %v", ErrNumerical, err)
	}

	gamma := make([]float64, maxLag+1)
	for k := 0; k <= maxLag && k <= p; k++ {
		gamma[k] = head.AtVec(k)
	}
	for k := p + 1; k <= maxLag; k++ {
		v := 0.0
		for i := 1; i <= p; i++ {
			v += m.Phi[i-1] * gamma[k-i]
		}
		gamma[k] = v
	}
	return gamma, nil
}

// CorrelationMatrix builds the n x n Toeplitz correlation matrix
// R[i][j] = gamma(|i-j|)/gamma(0) for consecutive dates of the process.
func (m *CorrelationModel) CorrelationMatrix(n int) (*mat.SymDense, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: matrix size must be positive, got %d", ErrInvalidInput, n)
	}
	gamma, err := m.Autocov(n - 1)
	if err != nil {
		return nil, err
	}
	if gamma[0] <= 0 {
		return nil, fmt.Errorf("%w: non-positive process variance", ErrNumerical)
	}

	R := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			R.SetSym(i, j, gamma[j-i]/gamma[0])
		}
	}
	return R, nil
}
