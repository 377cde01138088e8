package tasks

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"

	"leaffliction/internal/morph"
)

// WriteHistogramCSV writes one row per intensity level and one column per
// series, followed by mean and stddev rows.
func WriteHistogramCSV(path string, h morph.Histogram) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)

	header := []string{"level"}
	for _, s := range h.Series {
		header = append(header, s.Name)
	}
	rows := [][]string{header}

	for level := 0; level < morph.Bins; level++ {
		row := []string{strconv.Itoa(level)}
		for _, s := range h.Series {
			row = append(row, strconv.FormatFloat(s.Percent[level], 'f', 4, 64))
		}
		rows = append(rows, row)
	}

	mean, std := []string{"mean"}, []string{"stddev"}
	for _, s := range h.Series {
		mean = append(mean, strconv.FormatFloat(s.Mean, 'f', 4, 64))
		std = append(std, strconv.FormatFloat(s.StdDev, 'f', 4, 64))
	}
	rows = append(rows, mean, std)

	if err := w.WriteAll(rows); err != nil {
		f.Close()
		return fmt.Errorf("write histogram %s: %w", path, err)
	}
	return f.Close()
}
