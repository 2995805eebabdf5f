package perchcpu

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/cegan09/PerchCPU/internal/testsupport"
	"github.com/cegan09/PerchCPU/pkg/models"
)

const (
	testRate    = 8000
	testSamples = 32
	testClasses = 10
)

// recordingLogger keeps every line so tests can assert on warnings.
type recordingLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *recordingLogger) add(level, format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, level+" "+fmt.Sprintf(format, args...))
}

func (l *recordingLogger) Infof(format string, args ...any)  { l.add("INFO", format, args...) }
func (l *recordingLogger) Warnf(format string, args ...any)  { l.add("WARN", format, args...) }
func (l *recordingLogger) Errorf(format string, args ...any) { l.add("ERROR", format, args...) }
func (l *recordingLogger) Debugf(format string, args ...any) { l.add("DEBUG", format, args...) }

func (l *recordingLogger) contains(prefix, substr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, line := range l.lines {
		if strings.HasPrefix(line, prefix) && strings.Contains(line, substr) {
			return true
		}
	}
	return false
}

// scriptedModel emits logits where class (row+3) mod classes wins, and
// records the batch size of every call.
type scriptedModel struct {
	calls  []int
	loads  int
	output string
	err    error
}

func (m *scriptedModel) Load(ctx context.Context) error {
	m.loads++
	return nil
}

func (m *scriptedModel) Predict(ctx context.Context, in *models.Tensor) (models.Outputs, error) {
	if m.err != nil {
		return nil, m.err
	}
	rows := in.Shape[0]
	m.calls = append(m.calls, rows)

	values := make([]float64, rows*testClasses)
	for r := 0; r < rows; r++ {
		for c := 0; c < testClasses; c++ {
			values[r*testClasses+c] = -float64((c - r - 3 + 2*testClasses) % testClasses)
		}
	}
	logits, err := models.NewTensor(models.Float32, []int{rows, testClasses}, values)
	if err != nil {
		return nil, err
	}
	embedding, err := models.NewTensor(models.Float32, []int{rows, 4}, make([]float64, rows*4))
	if err != nil {
		return nil, err
	}
	name := m.output
	if name == "" {
		name = "label"
	}
	return models.Outputs{name: logits, "embedding": embedding}, nil
}

func writeClips(t *testing.T, dir string, n int) []string {
	t.Helper()
	paths := make([]string, n)
	for i := range paths {
		paths[i] = filepath.Join(dir, fmt.Sprintf("clip_%02d.wav", i))
		testsupport.WriteWAV(t, paths[i], testRate, 1, 16, testsupport.Ramp(i*10, testSamples))
	}
	return paths
}

func newTestService(t *testing.T, model Model, log Logger, opts ...Option) Service {
	t.Helper()
	base := []Option{
		WithSampleRate(testRate),
		WithClipSamples(testSamples),
		WithBatchSize(5),
		WithTopK(3),
		WithModel(model),
		WithLogger(log),
	}
	svc, err := NewService(append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	return svc
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("parse %s: %v", path, err)
	}
	return records
}

func TestRunScoresAllClips(t *testing.T) {
	dir := t.TempDir()
	paths := writeClips(t, filepath.Join(dir, "clips"), 7)
	out := filepath.Join(dir, "out", "results")

	model := &scriptedModel{}
	log := &recordingLogger{}
	svc := newTestService(t, model, log)

	summary, err := svc.Run(context.Background(), filepath.Join(dir, "clips"), out)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if model.loads != 1 {
		t.Errorf("Expected model to be loaded once, got %d", model.loads)
	}
	if len(model.calls) != 2 || model.calls[0] != 5 || model.calls[1] != 2 {
		t.Errorf("Expected model calls of sizes [5 2], got %v", model.calls)
	}
	if summary.Rows != 21 {
		t.Errorf("Expected 21 rows, got %d", summary.Rows)
	}
	if summary.ScoreKey != "label" {
		t.Errorf("Expected score key label, got %q", summary.ScoreKey)
	}
	if summary.ScoreFallback || !summary.Softmaxed {
		t.Errorf("Expected named logits to be softmaxed, got fallback=%t softmax=%t", summary.ScoreFallback, summary.Softmaxed)
	}
	if !log.contains("INFO", `Using output "label" as scores (fallback=false, softmax=true)`) {
		t.Errorf("Expected score selection to be logged, got %v", log.lines)
	}
	if summary.RunID == "" {
		t.Error("Expected a run ID")
	}

	records := readCSV(t, out+".csv")
	if len(records) != 22 {
		t.Fatalf("Expected header + 21 rows, got %d records", len(records))
	}
	if got := strings.Join(records[0], ","); got != "file,rank,label,score,inference_ms" {
		t.Errorf("Unexpected header %q", got)
	}
	for i, rec := range records[1:] {
		clip := i / 3
		if rec[0] != paths[clip] {
			t.Errorf("Row %d: expected file %s, got %s", i, paths[clip], rec[0])
		}
		if want := fmt.Sprint(i%3 + 1); rec[1] != want {
			t.Errorf("Row %d: expected rank %s, got %s", i, want, rec[1])
		}
	}
	// Within a batch the winning class is (row+3) mod classes.
	if records[1][2] != "3" {
		t.Errorf("Expected first clip's top label 3, got %s", records[1][2])
	}
	if records[6*3+1][2] != "4" {
		t.Errorf("Expected seventh clip's top label 4, got %s", records[6*3+1][2])
	}

	stats, err := os.ReadFile(out + "_stats.txt")
	if err != nil {
		t.Fatalf("read stats: %v", err)
	}
	text := string(stats)
	if !strings.HasPrefix(text, "Files: 7") {
		t.Errorf("Expected stats to start with Files: 7, got:\n%s", text)
	}
	if !strings.Contains(text, "(batch=5)") {
		t.Errorf("Expected batch size in stats, got:\n%s", text)
	}
	if summary.Stats.Files != 7 || summary.Stats.BatchSize != 5 {
		t.Errorf("Unexpected stats %+v", summary.Stats)
	}
}

func TestRunScoresAreProbabilities(t *testing.T) {
	dir := t.TempDir()
	writeClips(t, dir, 1)
	out := filepath.Join(dir, "results")

	svc := newTestService(t, &scriptedModel{}, &recordingLogger{}, WithTopK(testClasses))
	if _, err := svc.Run(context.Background(), dir, out); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	records := readCSV(t, out+".csv")
	var sum float64
	for _, rec := range records[1:] {
		var v float64
		if _, err := fmt.Sscan(rec[3], &v); err != nil {
			t.Fatalf("parse score %q: %v", rec[3], err)
		}
		if v < 0 || v > 1 {
			t.Errorf("Score %v outside [0, 1]", v)
		}
		sum += v
	}
	if sum < 0.999 || sum > 1.001 {
		t.Errorf("Expected softmaxed scores to sum to 1, got %v", sum)
	}
}

func TestRunSkipsWrongSampleRate(t *testing.T) {
	dir := t.TempDir()
	testsupport.WriteWAV(t, filepath.Join(dir, "wrong.wav"), 16000, 1, 16, testsupport.Ramp(0, testSamples))
	out := filepath.Join(dir, "results")

	model := &scriptedModel{}
	log := &recordingLogger{}
	svc := newTestService(t, model, log)

	summary, err := svc.Run(context.Background(), dir, out)
	if err != nil {
		t.Fatalf("Run should not fail on a skipped clip: %v", err)
	}
	if summary.Rows != 0 {
		t.Errorf("Expected 0 rows, got %d", summary.Rows)
	}
	if len(summary.Skipped) != 1 {
		t.Errorf("Expected 1 skipped file, got %v", summary.Skipped)
	}
	if len(model.calls) != 0 {
		t.Errorf("Model should not be called, got %v", model.calls)
	}
	if !log.contains("WARN", "[skip]") || !log.contains("WARN", "sr=16000") {
		t.Errorf("Expected a skip warning, got %v", log.lines)
	}

	records := readCSV(t, out+".csv")
	if len(records) != 1 {
		t.Errorf("Expected header only, got %d records", len(records))
	}
	if summary.Stats.Throughput != 0 || summary.Stats.Latency.P95 != 0 {
		t.Errorf("Expected zero throughput and latency, got %+v", summary.Stats)
	}
}

func TestRunSkipsBadFilesAndContinues(t *testing.T) {
	dir := t.TempDir()
	writeClips(t, dir, 3)
	if err := os.WriteFile(filepath.Join(dir, "broken.wav"), []byte("not a wav"), 0o644); err != nil {
		t.Fatalf("write broken file: %v", err)
	}

	model := &scriptedModel{}
	svc := newTestService(t, model, &recordingLogger{})
	summary, err := svc.Run(context.Background(), dir, filepath.Join(dir, "results"))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Rows != 9 {
		t.Errorf("Expected 9 rows, got %d", summary.Rows)
	}
	if len(summary.Skipped) != 1 || filepath.Base(summary.Skipped[0]) != "broken.wav" {
		t.Errorf("Expected broken.wav to be skipped, got %v", summary.Skipped)
	}
	if len(model.calls) != 1 || model.calls[0] != 3 {
		t.Errorf("Expected one call of size 3, got %v", model.calls)
	}
}

func TestRunNoClips(t *testing.T) {
	dir := t.TempDir()
	model := &scriptedModel{}
	svc := newTestService(t, model, &recordingLogger{})

	_, err := svc.Run(context.Background(), dir, filepath.Join(dir, "results"))
	if !errors.Is(err, ErrNoClips) {
		t.Fatalf("Expected ErrNoClips, got %v", err)
	}
	if model.loads != 0 {
		t.Error("Model should not be loaded when there is nothing to score")
	}
}

func TestRunMissingDirectory(t *testing.T) {
	svc := newTestService(t, &scriptedModel{}, &recordingLogger{})
	if _, err := svc.Run(context.Background(), filepath.Join(t.TempDir(), "missing"), ""); err == nil {
		t.Fatal("Expected error for missing directory")
	}
}

func TestRunModelErrorIsFatal(t *testing.T) {
	dir := t.TempDir()
	writeClips(t, dir, 2)
	out := filepath.Join(dir, "results")

	boom := errors.New("backend exploded")
	svc := newTestService(t, &scriptedModel{err: boom}, &recordingLogger{})
	_, err := svc.Run(context.Background(), dir, out)
	if !errors.Is(err, boom) {
		t.Fatalf("Expected model error, got %v", err)
	}
	if _, statErr := os.Stat(out + ".csv"); !os.IsNotExist(statErr) {
		t.Error("No CSV should be written after a fatal error")
	}
}

func TestRunNoScoreTensorIsFatal(t *testing.T) {
	dir := t.TempDir()
	writeClips(t, dir, 1)

	model := ModelFunc(func(ctx context.Context, in *models.Tensor) (models.Outputs, error) {
		flat, err := models.NewTensor(models.Float32, []int{in.Shape[0] * 4}, make([]float64, in.Shape[0]*4))
		if err != nil {
			return nil, err
		}
		return models.Outputs{"embedding": flat}, nil
	})
	svc := newTestService(t, model, &recordingLogger{})
	_, err := svc.Run(context.Background(), dir, filepath.Join(dir, "results"))
	if !errors.Is(err, ErrNoScoreTensor) {
		t.Fatalf("Expected ErrNoScoreTensor, got %v", err)
	}
}

func TestRunRowCountMismatchIsFatal(t *testing.T) {
	dir := t.TempDir()
	writeClips(t, dir, 2)

	model := ModelFunc(func(ctx context.Context, in *models.Tensor) (models.Outputs, error) {
		scores, err := models.NewTensor(models.Float32, []int{1, 3}, []float64{0.2, 0.3, 0.5})
		if err != nil {
			return nil, err
		}
		return models.Outputs{"scores": scores}, nil
	})
	svc := newTestService(t, model, &recordingLogger{})
	_, err := svc.Run(context.Background(), dir, filepath.Join(dir, "results"))
	if err == nil || !strings.Contains(err.Error(), "1 rows for a batch of 2") {
		t.Fatalf("Expected row count mismatch, got %v", err)
	}
}

func TestRunCustomScoreKeys(t *testing.T) {
	dir := t.TempDir()
	writeClips(t, dir, 1)

	model := &scriptedModel{output: "birds"}
	svc := newTestService(t, model, &recordingLogger{}, WithScoreKeys("birds"))
	summary, err := svc.Run(context.Background(), dir, filepath.Join(dir, "results"))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.ScoreKey != "birds" {
		t.Errorf("Expected score key birds, got %q", summary.ScoreKey)
	}
}

func TestCheck(t *testing.T) {
	model := &scriptedModel{}
	svc := newTestService(t, model, &recordingLogger{})

	res, err := svc.Check(context.Background())
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if model.loads != 1 || len(model.calls) != 1 || model.calls[0] != 1 {
		t.Errorf("Expected one load and one call of size 1, got loads=%d calls=%v", model.loads, model.calls)
	}
	if shape := res.Shapes["label"]; len(shape) != 2 || shape[0] != 1 || shape[1] != testClasses {
		t.Errorf("Unexpected label shape %v", shape)
	}
	if shape := res.Shapes["embedding"]; len(shape) != 2 || shape[1] != 4 {
		t.Errorf("Unexpected embedding shape %v", shape)
	}
	if res.ScoreKey != "label" {
		t.Errorf("Expected score key label, got %q", res.ScoreKey)
	}
}

func TestRunCountsOnlyFilesWithRows(t *testing.T) {
	dir := t.TempDir()
	writeClips(t, dir, 3)

	model := ModelFunc(func(ctx context.Context, in *models.Tensor) (models.Outputs, error) {
		empty, err := models.NewTensor(models.Float32, []int{in.Shape[0], 0}, nil)
		if err != nil {
			return nil, err
		}
		return models.Outputs{"scores": empty}, nil
	})
	svc := newTestService(t, model, &recordingLogger{})
	summary, err := svc.Run(context.Background(), dir, filepath.Join(dir, "results"))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Rows != 0 {
		t.Errorf("Expected 0 rows, got %d", summary.Rows)
	}
	if summary.Stats.Files != 0 || summary.Stats.Throughput != 0 {
		t.Errorf("Files without rows should not be counted, got %+v", summary.Stats)
	}
}

func TestRunReportsFallbackScores(t *testing.T) {
	dir := t.TempDir()
	writeClips(t, dir, 2)

	model := ModelFunc(func(ctx context.Context, in *models.Tensor) (models.Outputs, error) {
		rows := in.Shape[0]
		probs, err := models.NewTensor(models.Float32, []int{rows, 2}, slices.Repeat([]float64{0.7, 0.3}, rows))
		if err != nil {
			return nil, err
		}
		return models.Outputs{"output_0": probs}, nil
	})
	svc := newTestService(t, model, &recordingLogger{})
	summary, err := svc.Run(context.Background(), dir, filepath.Join(dir, "results"))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.ScoreKey != "output_0" || !summary.ScoreFallback || summary.Softmaxed {
		t.Errorf("Expected unsoftmaxed fallback output_0, got key=%q fallback=%t softmax=%t",
			summary.ScoreKey, summary.ScoreFallback, summary.Softmaxed)
	}
}

func TestCheckSkipsEmptyOutputs(t *testing.T) {
	inner := &scriptedModel{}
	model := ModelFunc(func(ctx context.Context, in *models.Tensor) (models.Outputs, error) {
		out, err := inner.Predict(ctx, in)
		if err != nil {
			return nil, err
		}
		out["aux"] = nil
		return out, nil
	})
	log := &recordingLogger{}
	svc := newTestService(t, model, log)

	res, err := svc.Check(context.Background())
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if _, ok := res.Shapes["aux"]; ok {
		t.Error("Empty output should not be reported with a shape")
	}
	if res.ScoreKey != "label" {
		t.Errorf("Expected score key label, got %q", res.ScoreKey)
	}
	if !log.contains("WARN", `"aux"`) {
		t.Errorf("Expected a warning about the empty output, got %v", log.lines)
	}
}
