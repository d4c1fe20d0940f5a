// Project: Estimation of Excess Mortality from Daily and Weekly Death Counts

package main

import (
	"errors"
	"math"
	"testing"
	"time"
)

// helper: compare floats with tolerance
func almostEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// makeSeries builds a validated series with the given cadence and a shared
// population.
func makeSeries(t *testing.T, start time.Time, observed []float64, population float64, cadenceDays int) *CountSeries {
	t.Helper()
	records := make([]CountRecord, len(observed))
	for i, obs := range observed {
		records[i] = CountRecord{
			Date:       start.AddDate(0, 0, i*cadenceDays),
			Observed:   obs,
			Population: population,
		}
	}
	s, err := NewCountSeries(records)
	if err != nil {
		t.Fatalf("NewCountSeries returned error: %v", err)
	}
	return s
}

func constSlice(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestNewCountSeries_Validation(t *testing.T) {
	d0 := date(2019, time.January, 1)

	cases := []struct {
		name    string
		records []CountRecord
	}{
		{
			name: "non-positive population",
			records: []CountRecord{
				{Date: d0, Observed: 10, Population: 0},
				{Date: d0.AddDate(0, 0, 1), Observed: 10, Population: 1e6},
			},
		},
		{
			name: "negative observed",
			records: []CountRecord{
				{Date: d0, Observed: -1, Population: 1e6},
				{Date: d0.AddDate(0, 0, 1), Observed: 10, Population: 1e6},
			},
		},
		{
			name: "fractional observed",
			records: []CountRecord{
				{Date: d0, Observed: 10.5, Population: 1e6},
				{Date: d0.AddDate(0, 0, 1), Observed: 10, Population: 1e6},
			},
		},
		{
			name: "duplicate dates",
			records: []CountRecord{
				{Date: d0, Observed: 10, Population: 1e6},
				{Date: d0, Observed: 11, Population: 1e6},
			},
		},
		{
			name: "unsorted dates",
			records: []CountRecord{
				{Date: d0.AddDate(0, 0, 1), Observed: 10, Population: 1e6},
				{Date: d0, Observed: 11, Population: 1e6},
			},
		},
		{
			name: "unsupported cadence",
			records: []CountRecord{
				{Date: d0, Observed: 10, Population: 1e6},
				{Date: d0.AddDate(0, 0, 3), Observed: 11, Population: 1e6},
			},
		},
		{
			name: "gap in dates",
			records: []CountRecord{
				{Date: d0, Observed: 10, Population: 1e6},
				{Date: d0.AddDate(0, 0, 1), Observed: 11, Population: 1e6},
				{Date: d0.AddDate(0, 0, 4), Observed: 12, Population: 1e6},
			},
		},
	}

	for _, tc := range cases {
		if _, err := NewCountSeries(tc.records); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("%s: expected ErrInvalidInput, got %v", tc.name, err)
		}
	}
}

// A flat series should recover its own mean as the expected count, with
// zero overdispersion.
func TestEstimateExpected_ConstantSeries(t *testing.T) {
	series := makeSeries(t, date(2018, time.January, 1), constSlice(200, 100), 1e6, 1)

	out, err := EstimateExpected(series, BaselineConfig{TrendKnots: 0, SeasonalHarmonics: 0})
	if err != nil {
		t.Fatalf("EstimateExpected returned error: %v", err)
	}

	for i, exp := range out.Expected {
		if !almostEqual(exp, 100, 1e-6) {
			t.Fatalf("Expected[%d] = %v, want 100", i, exp)
		}
	}
	if !almostEqual(out.Dispersion, 0, 1e-6) {
		t.Errorf("Dispersion = %v, want approx 0", out.Dispersion)
	}
	if series.Expected != nil {
		t.Errorf("input series was mutated: Expected is set")
	}
}

// Excluded dates get zero weight but still receive a prediction, so a large
// spike inside the excluded range must not move the baseline.
func TestEstimateExpected_ExcludedDatesDoNotBias(t *testing.T) {
	observed := constSlice(200, 100)
	var exclude []time.Time
	start := date(2018, time.January, 1)
	for i := 50; i < 60; i++ {
		observed[i] = 500
		exclude = append(exclude, start.AddDate(0, 0, i))
	}
	series := makeSeries(t, start, observed, 1e6, 1)

	out, err := EstimateExpected(series, BaselineConfig{ExcludeDates: exclude})
	if err != nil {
		t.Fatalf("EstimateExpected returned error: %v", err)
	}

	for i, exp := range out.Expected {
		if !almostEqual(exp, 100, 1e-6) {
			t.Fatalf("Expected[%d] = %v, want 100 (spike should carry no weight)", i, exp)
		}
	}
	if !almostEqual(out.Dispersion, 0, 1e-6) {
		t.Errorf("Dispersion = %v, want approx 0", out.Dispersion)
	}
}

// With counts that depend only on the day of week, the weekday indicators
// saturate the pattern and the fit is exact.
func TestEstimateExpected_WeekdayEffect(t *testing.T) {
	start := date(2018, time.January, 1)
	observed := make([]float64, 210)
	for i := range observed {
		w := int(start.AddDate(0, 0, i).Weekday())
		observed[i] = float64(90 + 5*w)
	}
	series := makeSeries(t, start, observed, 1e6, 1)

	out, err := EstimateExpected(series, BaselineConfig{WeekdayEffect: true})
	if err != nil {
		t.Fatalf("EstimateExpected returned error: %v", err)
	}

	for i, exp := range out.Expected {
		if !almostEqual(exp, observed[i], 1e-5) {
			t.Fatalf("Expected[%d] = %v, want %v", i, exp, observed[i])
		}
	}
}

// A constant event rate across a population jump must be fit exactly by the
// offset, not absorbed into the regression.
func TestEstimateExpected_PopulationOffset(t *testing.T) {
	start := date(2018, time.January, 1)
	records := make([]CountRecord, 100)
	for i := range records {
		pop, obs := 1e6, 100.0
		if i >= 50 {
			pop, obs = 2e6, 200.0
		}
		records[i] = CountRecord{Date: start.AddDate(0, 0, i), Observed: obs, Population: pop}
	}
	series, err := NewCountSeries(records)
	if err != nil {
		t.Fatalf("NewCountSeries returned error: %v", err)
	}

	out, err := EstimateExpected(series, BaselineConfig{})
	if err != nil {
		t.Fatalf("EstimateExpected returned error: %v", err)
	}
	for i := range records {
		if !almostEqual(out.Expected[i], records[i].Observed, 1e-5) {
			t.Fatalf("Expected[%d] = %v, want %v", i, out.Expected[i], records[i].Observed)
		}
	}
}

func TestEstimateExpected_Unidentifiable(t *testing.T) {
	start := date(2018, time.January, 1)
	series := makeSeries(t, start, constSlice(10, 100), 1e6, 1)

	var exclude []time.Time
	for i := 0; i < 9; i++ {
		exclude = append(exclude, start.AddDate(0, 0, i))
	}

	_, err := EstimateExpected(series, BaselineConfig{ExcludeDates: exclude})
	if !errors.Is(err, ErrUnidentifiable) {
		t.Errorf("expected ErrUnidentifiable, got %v", err)
	}
}

func TestEstimateExpected_WeekdayRequiresDailyCadence(t *testing.T) {
	series := makeSeries(t, date(2018, time.January, 1), constSlice(120, 700), 1e6, 7)

	_, err := EstimateExpected(series, BaselineConfig{WeekdayEffect: true})
	if !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for weekday effect on weekly data, got %v", err)
	}
}

// Seasonal harmonics and a spline trend on flat data should still converge
// to the flat baseline; extra columns carry zero coefficients.
func TestEstimateExpected_FlatWithSeasonalTerms(t *testing.T) {
	series := makeSeries(t, date(2017, time.January, 1), constSlice(400, 100), 1e6, 1)

	out, err := EstimateExpected(series, BaselineConfig{TrendKnots: 4, SeasonalHarmonics: 2})
	if err != nil {
		t.Fatalf("EstimateExpected returned error: %v", err)
	}
	for i, exp := range out.Expected {
		if !almostEqual(exp, 100, 1e-4) {
			t.Fatalf("Expected[%d] = %v, want 100", i, exp)
		}
	}
}
