// Project: Estimation of Excess Mortality from Daily and Weekly Death Counts

package main

import (
	"fmt"
	"os"
	"time"
)

// This is the main driver that runs the excess-event analysis for a count
// table and an event window. The function expects three command-line
// arguments: the CSV path and the event window start and end dates
// (YYYY-MM-DD). The steps are: load and validate the counts, estimate the
// seasonal baseline with the event window excluded, fit the AR correlation
// model on the pre-event control period, fit the event-effect curve over the
// window, aggregate it into cumulative excess, and write the results to CSV.

func main() {
	if len(os.Args) < 4 {
		fmt.Println("Usage: go run . <counts.csv> <event_start> <event_end>")
		return
	}
	path := os.Args[1]

	eventStart, err := time.Parse("2006-01-02", os.Args[2])
	if err != nil {
		panic(fmt.Errorf("parse event start: %w", err))
	}
	eventEnd, err := time.Parse("2006-01-02", os.Args[3])
	if err != nil {
		panic(fmt.Errorf("parse event end: %w", err))
	}

	// 1. Load counts
	series, err := LoadCountSeriesCSV(path)
	if err != nil {
		panic(err)
	}
	fmt.Println("Loaded series with", series.Len(), "dates at a", series.CadenceDays(), "day cadence")

	// 2. Exclude the event window from the baseline
	var exclude []time.Time
	for _, rec := range series.Records {
		if !rec.Date.Before(eventStart) && !rec.Date.After(eventEnd) {
			exclude = append(exclude, rec.Date)
		}
	}

	// 3. Estimate the seasonal baseline
	withExpected, err := EstimateExpected(series, BaselineConfig{
		ExcludeDates:      exclude,
		WeekdayEffect:     series.CadenceDays() == 1,
		TrendKnots:        4,
		SeasonalHarmonics: 2,
	})
	if err != nil {
		panic(err)
	}
	fmt.Printf("Baseline estimated, dispersion = %.4f\n", withExpected.Dispersion)

	// 4. Fit the AR correlation model on the pre-event control period
	controlEnd := series.Records[0].Date
	for _, rec := range series.Records {
		if rec.Date.Before(eventStart) {
			controlEnd = rec.Date
		}
	}
	corrModel, err := FitAR(withExpected, ARConfig{
		ControlStart: series.Records[0].Date,
		ControlEnd:   controlEnd,
		MaxOrder:     DefaultMaxOrder,
		SelectByAIC:  true,
	})
	if err != nil {
		panic(err)
	}
	PrintCorrelationModel(corrModel)

	// 5. Fit the event-effect curve over the event window
	fit, err := FitCurve(withExpected, corrModel, CurveConfig{
		Start:         eventStart,
		End:           eventEnd,
		Model:         ModelCorrelated,
		WeekdayEffect: false,
		KnotsPerYear:  6,
	})
	if err != nil {
		panic(err)
	}
	fit.Summary()

	// 6. Aggregate into cumulative excess
	cumulative, err := Cumulative(fit, eventStart, eventEnd)
	if err != nil {
		panic(err)
	}

	// 7. Write results
	if err := WriteCumulativeCSV("cumulative_results.csv", cumulative); err != nil {
		panic(err)
	}
	fmt.Println("Cumulative excess written to cumulative_results.csv")

	if err := WriteDetectedIntervalsCSV("detected_intervals.csv", fit); err != nil {
		panic(err)
	}
	fmt.Println("Detected intervals written to detected_intervals.csv")
}
