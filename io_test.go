// Project: Estimation of Excess Mortality from Daily and Weekly Death Counts

package main

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadCountSeriesCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "counts.csv")
	data := "date,observed,population\n" +
		"2020-01-01,100,1000000\n" +
		"2020-01-02,103,1000000\n" +
		"2020-01-03,98,1000000\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	series, err := LoadCountSeriesCSV(path)
	if err != nil {
		t.Fatalf("LoadCountSeriesCSV returned error: %v", err)
	}
	if series.Len() != 3 {
		t.Fatalf("Len = %d, want 3", series.Len())
	}
	if series.CadenceDays() != 1 {
		t.Errorf("CadenceDays = %d, want 1", series.CadenceDays())
	}
	if !series.Records[1].Date.Equal(date(2020, time.January, 2)) {
		t.Errorf("Records[1].Date = %s, want 2020-01-02", series.Records[1].Date.Format("2006-01-02"))
	}
	if series.Records[2].Observed != 98 {
		t.Errorf("Records[2].Observed = %v, want 98", series.Records[2].Observed)
	}
}

func TestLoadCountSeriesCSV_BadRows(t *testing.T) {
	cases := []struct {
		name string
		data string
	}{
		{
			name: "bad date",
			data: "date,observed,population\nnot-a-date,100,1000000\n2020-01-02,100,1000000\n",
		},
		{
			name: "bad observed",
			data: "date,observed,population\n2020-01-01,abc,1000000\n2020-01-02,100,1000000\n",
		},
		{
			name: "no data rows",
			data: "date,observed,population\n",
		},
	}

	for _, tc := range cases {
		path := filepath.Join(t.TempDir(), "counts.csv")
		if err := os.WriteFile(path, []byte(tc.data), 0o644); err != nil {
			t.Fatalf("%s: write fixture: %v", tc.name, err)
		}
		if _, err := LoadCountSeriesCSV(path); err == nil {
			t.Errorf("%s: expected an error, got nil", tc.name)
		}
	}
}

func TestLoadCountSeriesCSV_InvalidSeries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "counts.csv")
	data := "date,observed,population\n" +
		"2020-01-01,100,0\n" +
		"2020-01-02,100,1000000\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	if _, err := LoadCountSeriesCSV(path); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for zero population, got %v", err)
	}
}

func TestWriteCumulativeCSV(t *testing.T) {
	fit := scenarioFit()
	res, err := Cumulative(fit, fit.Dates[0], fit.Dates[2])
	if err != nil {
		t.Fatalf("Cumulative returned error: %v", err)
	}

	path := filepath.Join(t.TempDir(), "cumulative.csv")
	if err := WriteCumulativeCSV(path, res); err != nil {
		t.Fatalf("WriteCumulativeCSV returned error: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if lines[0] != "date,observed,sd,fitted,se" {
		t.Errorf("header = %q, want date,observed,sd,fitted,se", lines[0])
	}
	if len(lines) != 4 {
		t.Fatalf("got %d lines, want header plus 3 rows", len(lines))
	}
	if !strings.HasPrefix(lines[1], "2020-04-01,2.000000,1.000000,1.000000,") {
		t.Errorf("first row = %q, want 2020-04-01 with observed 2, sd 1, fitted 1", lines[1])
	}
}

func TestWriteDetectedIntervalsCSV(t *testing.T) {
	fit := scenarioFit()
	fit.Intervals = []DateInterval{
		{Start: fit.Dates[0], End: fit.Dates[2]},
	}

	path := filepath.Join(t.TempDir(), "intervals.csv")
	if err := WriteDetectedIntervalsCSV(path, fit); err != nil {
		t.Fatalf("WriteDetectedIntervalsCSV returned error: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if lines[0] != "start,end,days" {
		t.Errorf("header = %q, want start,end,days", lines[0])
	}
	if len(lines) != 2 || lines[1] != "2020-04-01,2020-04-03,3" {
		t.Errorf("rows = %v, want one row 2020-04-01,2020-04-03,3", lines[1:])
	}
}
