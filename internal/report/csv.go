// Package report accumulates scoring results and writes the run's output files.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"runtime"
	"strconv"

	"github.com/cegan09/PerchCPU/pkg/models"
)

// CSVHeader is the header row of the results file.
var CSVHeader = []string{"file", "rank", "label", "score", "inference_ms"}

// WriteCSV writes rows with a header, using the platform's line endings.
func WriteCSV(w io.Writer, rows []models.ResultRow) error {
	cw := csv.NewWriter(w)
	cw.UseCRLF = runtime.GOOS == "windows"

	if err := cw.Write(CSVHeader); err != nil {
		return fmt.Errorf("writing csv header: %w", err)
	}
	record := make([]string, len(CSVHeader))
	for _, r := range rows {
		record[0] = r.File
		record[1] = strconv.Itoa(r.Rank)
		record[2] = r.Label
		record[3] = formatFloat(r.Score)
		record[4] = formatFloat(r.InferenceMs)
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("writing csv row for %s: %w", r.File, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteCSVFile creates (or truncates) path and writes rows to it.
func WriteCSVFile(path string, rows []models.ResultRow) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := WriteCSV(f, rows); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// formatFloat uses the shortest representation that round-trips.
func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
