// Project: Estimation of Excess Mortality from Daily and Weekly Death Counts

package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"gonum.org/v1/gonum/mat"
)

const csvDateLayout = "2006-01-02"

// LoadCountSeriesCSV loads a count table from a CSV file with columns
// date,observed,population and validates it into a CountSeries.
func LoadCountSeriesCSV(path string) (*CountSeries, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if len(header) < 3 {
		return nil, fmt.Errorf("%w: expected columns date,observed,population, got %v", ErrInvalidInput, header)
	}

	var records []CountRecord
	row := 0
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", row+2, err)
		}
		if len(rec) == 1 && rec[0] == "" {
			continue
		}
		if len(rec) < 3 {
			return nil, fmt.Errorf("row %d: expected 3 columns, got %d", row+2, len(rec))
		}

		date, err := time.Parse(csvDateLayout, rec[0])
		if err != nil {
			return nil, fmt.Errorf("parse date at row %d (%q): %w", row+2, rec[0], err)
		}
		observed, err := strconv.ParseFloat(rec[1], 64)
		if err != nil {
			return nil, fmt.Errorf("parse observed at row %d (%q): %w", row+2, rec[1], err)
		}
		population, err := strconv.ParseFloat(rec[2], 64)
		if err != nil {
			return nil, fmt.Errorf("parse population at row %d (%q): %w", row+2, rec[2], err)
		}

		records = append(records, CountRecord{Date: date, Observed: observed, Population: population})
		row++
	}
	if row == 0 {
		return nil, fmt.Errorf("no data rows in %s", path)
	}

	return NewCountSeries(records)
}

// WriteCumulativeCSV writes a cumulative result with the columns
// date,observed,sd,fitted,se in ascending date order.
func WriteCumulativeCSV(path string, result *CumulativeResult) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if err := writer.Write([]string{"date", "observed", "sd", "fitted", "se"}); err != nil {
		return err
	}
	for _, row := range result.Rows {
		rec := []string{
			row.Date.Format(csvDateLayout),
			fmt.Sprintf("%f", row.Observed),
			fmt.Sprintf("%f", row.SD),
			fmt.Sprintf("%f", row.Fitted),
			fmt.Sprintf("%f", row.SE),
		}
		if err := writer.Write(rec); err != nil {
			return err
		}
	}
	return nil
}

// WriteDetectedIntervalsCSV writes the detected excess intervals of a fit.
// Columns: start,end,days.
func WriteDetectedIntervalsCSV(path string, fit *CurveFit) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if err := writer.Write([]string{"start", "end", "days"}); err != nil {
		return err
	}
	for _, iv := range fit.Intervals {
		rec := []string{
			iv.Start.Format(csvDateLayout),
			iv.End.Format(csvDateLayout),
			fmt.Sprintf("%d", daysBetween(iv.Start, iv.End)+1),
		}
		if err := writer.Write(rec); err != nil {
			return err
		}
	}
	return nil
}

// Summary prints a human-readable overview of a fitted curve.
func (f *CurveFit) Summary() {
	fmt.Println("        Event-Effect Curve Fit Summary        ")

	fmt.Printf("Window:            %s .. %s (%d dates)\n",
		f.Dates[0].Format(csvDateLayout), f.Dates[len(f.Dates)-1].Format(csvDateLayout), len(f.Dates))
	_, p := f.X.Dims()
	fmt.Printf("Basis dimension:   %d\n", p)
	fmt.Printf("Dispersion:        %.4f\n", f.Dispersion)

	if wald, err := f.WaldTest(); err == nil {
		fmt.Printf("Wald test:         W = %.3f, df = %d, p = %.6f\n", wald.Statistic, wald.DF, wald.PValue)
	}

	fmt.Println("\nCoefficient covariance:")
	fmt.Printf("%v\n", mat.Formatted(f.CovBeta, mat.Prefix("  ")))

	f.PrintDetectedIntervals()
}

// PrintDetectedIntervals lists the date ranges where the fitted band
// excludes zero.
func (f *CurveFit) PrintDetectedIntervals() {
	if len(f.Intervals) == 0 {
		fmt.Println("\nNo intervals of significant excess detected.")
		return
	}
	fmt.Println("\nDetected intervals of significant excess:")
	for _, iv := range f.Intervals {
		fmt.Printf("  %s .. %s\n", iv.Start.Format(csvDateLayout), iv.End.Format(csvDateLayout))
	}
}

// PrintCorrelationModel prints the fitted AR structure.
func PrintCorrelationModel(m *CorrelationModel) {
	fmt.Printf("\n=== AR(%d) Correlation Model ===\n", m.Order)
	for i, phi := range m.Phi {
		fmt.Printf("phi_%d = %9.6f\n", i+1, phi)
	}
	fmt.Printf("sigma^2 = %.6f\n", m.SigmaSq)
	fmt.Printf("AIC     = %.3f\n", m.AIC)
}
