package report

import (
	"fmt"
	"io"
	"math"
	"os"
	"runtime"
	"slices"
	"strings"
	"time"

	"github.com/cegan09/PerchCPU/pkg/models"
	"gonum.org/v1/gonum/stat"
)

// Aggregator collects timing samples over a run. It is not safe for
// concurrent use; the pipeline touches it from a single goroutine.
type Aggregator struct {
	batchSize int
	modelLoad time.Duration
	io        time.Duration
	inference time.Duration
	latencyMs []float64
	files     map[string]struct{}
}

// NewAggregator returns an empty aggregator for a run with the given batch size.
func NewAggregator(batchSize int) *Aggregator {
	return &Aggregator{batchSize: batchSize, files: make(map[string]struct{})}
}

// SetModelLoad records how long loading the model took.
func (a *Aggregator) SetModelLoad(d time.Duration) { a.modelLoad = d }

// AddIO adds the read time of one successfully loaded clip.
func (a *Aggregator) AddIO(d time.Duration) { a.io += d }

// AddBatch records one model invocation over n clips and returns the latency
// attributed to each clip: the batch time split evenly across the batch.
func (a *Aggregator) AddBatch(n int, d time.Duration) float64 {
	a.inference += d
	if n <= 0 {
		return 0
	}
	perClip := float64(d) / float64(time.Millisecond) / float64(n)
	for range n {
		a.latencyMs = append(a.latencyMs, perClip)
	}
	return perClip
}

// AddRows notes that id produced n result rows. Only files with at least
// one row count towards Files and throughput.
func (a *Aggregator) AddRows(id string, n int) {
	if n > 0 {
		a.files[id] = struct{}{}
	}
}

// Finish computes the run statistics for the given wall time.
func (a *Aggregator) Finish(wall time.Duration) models.RunStats {
	s := models.RunStats{
		Files:     len(a.files),
		ModelLoad: a.modelLoad,
		IO:        a.io,
		Inference: a.inference,
		Wall:      wall,
		Latency:   Summarize(a.latencyMs),
		BatchSize: a.batchSize,
	}
	if secs := wall.Seconds(); secs > 0 {
		s.Throughput = float64(s.Files) / secs
	}
	return s
}

// Summarize returns mean, median, p90 and p95 of samples, or zeros when empty.
func Summarize(samples []float64) models.LatencySummary {
	if len(samples) == 0 {
		return models.LatencySummary{}
	}
	sorted := slices.Clone(samples)
	slices.Sort(sorted)
	return models.LatencySummary{
		Mean:   stat.Mean(sorted, nil),
		Median: Percentile(sorted, 50),
		P90:    Percentile(sorted, 90),
		P95:    Percentile(sorted, 95),
	}
}

// Percentile interpolates linearly between the closest ranks of sorted
// samples, with rank = p/100 * (n-1).
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	rank := p / 100 * float64(n-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

// WriteStats writes the plain-text summary report using the platform's
// line endings.
func WriteStats(w io.Writer, s models.RunStats) error {
	text := fmt.Sprintf(
		"Files: %d\nModel load: %.3fs\nI/O: %.3fs\nInference: %.3fs\nWall: %.3fs\n"+
			"Avg/clip: %.1f ms (median %.1f, p90 %.1f, p95 %.1f)\n"+
			"Throughput: %.2f clips/s (batch=%d)\n",
		s.Files, s.ModelLoad.Seconds(), s.IO.Seconds(), s.Inference.Seconds(), s.Wall.Seconds(),
		s.Latency.Mean, s.Latency.Median, s.Latency.P90, s.Latency.P95,
		s.Throughput, s.BatchSize,
	)
	if runtime.GOOS == "windows" {
		text = strings.ReplaceAll(text, "\n", "\r\n")
	}
	_, err := io.WriteString(w, text)
	return err
}

// WriteStatsFile creates (or truncates) path and writes the report to it.
func WriteStatsFile(path string, s models.RunStats) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := WriteStats(f, s); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}
