package perchcpu

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/cegan09/PerchCPU/internal/audio"
	"github.com/cegan09/PerchCPU/internal/batch"
	"github.com/cegan09/PerchCPU/internal/report"
	"github.com/cegan09/PerchCPU/internal/scoring"
	"github.com/cegan09/PerchCPU/internal/serving"
	"github.com/cegan09/PerchCPU/pkg/logger"
	"github.com/cegan09/PerchCPU/pkg/models"
	"github.com/cegan09/PerchCPU/pkg/utils"
	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
)

// scoringService is the default implementation of the Service interface.
type scoringService struct {
	model    Model
	loader   *audio.Loader
	resolver *scoring.Resolver
	log      Logger
	config   *Config
}

func NewService(opts ...Option) (Service, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if cfg.Logger == nil {
		cfg.Logger = logger.GetLogger()
	}

	model := cfg.Model
	if model == nil {
		model = serving.NewClient(serving.Config{
			BaseURL:   cfg.ServingURL,
			Model:     cfg.ModelName,
			Version:   cfg.ModelVersion,
			Signature: cfg.Signature,
			Timeout:   cfg.Timeout,
		})
	}

	return &scoringService{
		model:    model,
		loader:   audio.NewLoader(cfg.SampleRate, cfg.ClipSamples),
		resolver: scoring.NewResolver(cfg.ScoreKeys),
		log:      cfg.Logger,
		config:   cfg,
	}, nil
}

func (s *scoringService) Config() Config {
	c := *s.config
	c.ScoreKeys = slices.Clone(c.ScoreKeys)
	return c
}

// Run scores every clip under clipsDir and writes <outBase>.csv and
// <outBase>_stats.txt. Unreadable clips are skipped; model and score
// resolution failures abort the run.
func (s *scoringService) Run(ctx context.Context, clipsDir, outBase string) (*Summary, error) {
	if outBase == "" {
		outBase = DefaultOutputBase
	}
	runID := utils.NewRunID()
	log := s.runLogger(runID)

	// 1. Enumerate inputs before paying for the model
	files, err := utils.FindFiles(clipsDir, s.config.Extension)
	if err != nil {
		return nil, fmt.Errorf("listing clips: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no %s files under %s", ErrNoClips, s.config.Extension, clipsDir)
	}
	log.Infof("Found %s %s files under %s", humanize.Comma(int64(len(files))), s.config.Extension, clipsDir)

	agg := report.NewAggregator(s.config.BatchSize)

	// 2. Load the model
	loadTime, err := s.loadModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading model: %w", err)
	}
	agg.SetModelLoad(loadTime)
	log.Infof("Model ready in %.3fs", loadTime.Seconds())
	if sig, input := s.servingSignature(); sig != "" {
		log.Infof("Serving signature %q, input %q", sig, input)
	}

	bar := s.newProgressBar(len(files))
	summary := &Summary{RunID: runID}
	var rows []models.ResultRow

	// 3. Stream clips through the batcher
	wallStart := time.Now()
	clips := func(yield func(string, []float32) bool) {
		for _, path := range files {
			start := time.Now()
			clip, err := s.loader.Load(path)
			_ = bar.Add(1)
			if err != nil {
				log.Warnf("[skip] %v", err)
				summary.Skipped = append(summary.Skipped, path)
				continue
			}
			agg.AddIO(time.Since(start))
			if !yield(clip.Path, clip.Samples) {
				return
			}
		}
	}

	for b := range batch.Batches(clips, s.config.BatchSize) {
		batchRows, resolved, err := s.scoreBatch(ctx, b, agg)
		if err != nil {
			_ = bar.Exit()
			return nil, err
		}
		if resolved.Key != summary.ScoreKey || resolved.Softmaxed != summary.Softmaxed {
			log.Infof("Using output %q as scores (fallback=%t, softmax=%t)", resolved.Key, resolved.Fallback, resolved.Softmaxed)
		}
		summary.ScoreKey = resolved.Key
		summary.ScoreFallback = resolved.Fallback
		summary.Softmaxed = resolved.Softmaxed
		rows = append(rows, batchRows...)
	}
	wall := time.Since(wallStart)
	_ = bar.Finish()

	// 4. Write results
	summary.Stats = agg.Finish(wall)
	summary.Rows = len(rows)
	summary.CSVPath, summary.StatsPath = utils.OutputPaths(outBase)

	if err := utils.EnsureParentDir(summary.CSVPath); err != nil {
		return nil, fmt.Errorf("preparing output directory: %w", err)
	}
	if err := report.WriteCSVFile(summary.CSVPath, rows); err != nil {
		return nil, fmt.Errorf("writing results: %w", err)
	}
	if err := report.WriteStatsFile(summary.StatsPath, summary.Stats); err != nil {
		return nil, fmt.Errorf("writing stats: %w", err)
	}

	if n := len(summary.Skipped); n > 0 {
		log.Warnf("Skipped %d of %d files", n, len(files))
	}
	log.Infof("Wrote %s rows to %s and stats to %s", humanize.Comma(int64(len(rows))), summary.CSVPath, summary.StatsPath)
	return summary, nil
}

// scoreBatch runs one model call and turns its output into result rows.
func (s *scoringService) scoreBatch(ctx context.Context, b *batch.Batch, agg *report.Aggregator) ([]models.ResultRow, *scoring.Resolved, error) {
	in, err := b.Tensor()
	if err != nil {
		return nil, nil, err
	}

	start := time.Now()
	out, err := s.model.Predict(ctx, in)
	elapsed := time.Since(start)
	if err != nil {
		return nil, nil, fmt.Errorf("inference failed for batch starting at %s: %w", b.IDs[0], err)
	}

	resolved, err := s.resolver.Resolve(out)
	if err != nil {
		return nil, nil, fmt.Errorf("resolving scores (outputs %v): %w", out.Names(), err)
	}
	if resolved.Scores.Rows != b.Len() {
		return nil, nil, fmt.Errorf("output %q has %d rows for a batch of %d clips", resolved.Key, resolved.Scores.Rows, b.Len())
	}

	perClip := agg.AddBatch(b.Len(), elapsed)
	s.log.Debugf("Batch of %d scored in %s (%.1f ms/clip)", b.Len(), elapsed, perClip)

	ranked := scoring.TopKRows(resolved.Scores, s.config.TopK)
	rows := make([]models.ResultRow, 0, b.Len()*s.config.TopK)
	for i, id := range b.IDs {
		agg.AddRows(id, len(ranked[i]))
		for r, c := range ranked[i] {
			rows = append(rows, models.ResultRow{
				File:        id,
				Rank:        r + 1,
				Label:       c.Label(),
				Score:       c.Score,
				InferenceMs: perClip,
			})
		}
	}
	return rows, resolved, nil
}

// Check loads the model and scores one all-zero clip, reporting the shape of
// every output.
func (s *scoringService) Check(ctx context.Context) (*CheckResult, error) {
	loadTime, err := s.loadModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading model: %w", err)
	}

	in, err := models.NewTensor(models.Float32, []int{1, s.config.ClipSamples}, make([]float64, s.config.ClipSamples))
	if err != nil {
		return nil, err
	}
	start := time.Now()
	out, err := s.model.Predict(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	res := &CheckResult{
		ModelLoad: loadTime,
		Inference: time.Since(start),
		Shapes:    make(map[string][]int, len(out)),
	}
	res.Signature, res.Input = s.servingSignature()
	for name, t := range out {
		if t == nil {
			s.log.Warnf("Output %q is empty", name)
			continue
		}
		res.Shapes[name] = slices.Clone(t.Shape)
	}
	if resolved, err := s.resolver.Resolve(out); err != nil {
		s.log.Warnf("No score tensor in outputs %v: %v", out.Names(), err)
	} else {
		res.ScoreKey = resolved.Key
	}
	return res, nil
}

// servingSignature reports the signature and input chosen by a loaded TF
// Serving client. Other models report nothing.
func (s *scoringService) servingSignature() (name, input string) {
	c, ok := s.model.(*serving.Client)
	if !ok || c.Signature() == nil {
		return "", ""
	}
	return c.Signature().Name, c.Signature().Input
}

func (s *scoringService) loadModel(ctx context.Context) (time.Duration, error) {
	l, ok := s.model.(Loader)
	if !ok {
		return 0, nil
	}
	start := time.Now()
	if err := l.Load(ctx); err != nil {
		return 0, err
	}
	return time.Since(start), nil
}

func (s *scoringService) runLogger(runID string) Logger {
	if l, ok := s.log.(*logger.Logger); ok {
		return l.With("run", utils.ShortID(runID))
	}
	return s.log
}

func (s *scoringService) newProgressBar(total int) *progressbar.ProgressBar {
	if s.config.Progress == nil {
		return progressbar.DefaultSilent(int64(total))
	}
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(s.config.Progress),
		progressbar.OptionSetDescription("scoring"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(30),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
}
