// Project: Estimation of Excess Mortality from Daily and Weekly Death Counts

package main

import (
	"fmt"
	"math"
	"time"
)

// NewCountSeries validates records and builds a CountSeries. Records must be
// sorted ascending by date, one per date, regularly spaced at a daily or
// weekly cadence, with positive populations and non-negative integer counts.
func NewCountSeries(records []CountRecord) (*CountSeries, error) {
	if len(records) < 2 {
		return nil, fmt.Errorf("%w: need at least 2 records, got %d", ErrInvalidInput, len(records))
	}

	for i, rec := range records {
		if rec.Population <= 0 {
			return nil, fmt.Errorf("%w: population must be positive at %s, got %v",
				ErrInvalidInput, rec.Date.Format("2006-01-02"), rec.Population)
		}
		if rec.Observed < 0 || rec.Observed != math.Trunc(rec.Observed) {
			return nil, fmt.Errorf("%w: observed must be a non-negative count at %s, got %v",
				ErrInvalidInput, rec.Date.Format("2006-01-02"), rec.Observed)
		}
		if i > 0 && !records[i-1].Date.Before(rec.Date) {
			return nil, fmt.Errorf("%w: dates must be strictly ascending around %s",
				ErrInvalidInput, rec.Date.Format("2006-01-02"))
		}
	}

	cadence := daysBetween(records[0].Date, records[1].Date)
	if cadence != 1 && cadence != 7 {
		return nil, fmt.Errorf("%w: cadence must be daily or weekly, got %d days", ErrInvalidInput, cadence)
	}
	for i := 1; i < len(records); i++ {
		if daysBetween(records[i-1].Date, records[i].Date) != cadence {
			return nil, fmt.Errorf("%w: gap in dates before %s",
				ErrInvalidInput, records[i].Date.Format("2006-01-02"))
		}
	}

	recs := make([]CountRecord, len(records))
	copy(recs, records)

	return &CountSeries{
		Records:     recs,
		cadenceDays: cadence,
	}, nil
}

// Len returns the number of records in the series.
func (s *CountSeries) Len() int { return len(s.Records) }

// CadenceDays returns the spacing between consecutive dates in days.
func (s *CountSeries) CadenceDays() int { return s.cadenceDays }

// HasExpected reports whether the baseline estimator has run on this series.
func (s *CountSeries) HasExpected() bool { return s.Expected != nil }

// indexOf returns the position of date in the series, or -1.
func (s *CountSeries) indexOf(date time.Time) int {
	if len(s.Records) == 0 {
		return -1
	}
	d := daysBetween(s.Records[0].Date, date)
	if d < 0 || d%s.cadenceDays != 0 {
		return -1
	}
	i := d / s.cadenceDays
	if i >= len(s.Records) || !sameDay(s.Records[i].Date, date) {
		return -1
	}
	return i
}

// windowIndices returns the indices of series dates within [start, end],
// both inclusive. The result is empty when there is no overlap.
func (s *CountSeries) windowIndices(start, end time.Time) []int {
	var idx []int
	for i, rec := range s.Records {
		if !rec.Date.Before(start) && !rec.Date.After(end) {
			idx = append(idx, i)
		}
	}
	return idx
}

// timeX converts each record date to a time coordinate in years since the
// first record. Spline and harmonic bases are built on this scale.
func (s *CountSeries) timeX(indices []int) []float64 {
	x := make([]float64, len(indices))
	for j, i := range indices {
		x[j] = float64(daysBetween(s.Records[0].Date, s.Records[i].Date)) / 365.25
	}
	return x
}

// daysBetween returns the calendar-day difference b - a.
func daysBetween(a, b time.Time) int {
	a = time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	b = time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(math.Round(b.Sub(a).Hours() / 24))
}

func sameDay(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month() && a.Day() == b.Day()
}
