package perchcpu

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/cegan09/PerchCPU/internal/scoring"
	"github.com/cegan09/PerchCPU/internal/serving"
)

const (
	DefaultSampleRate  = 32000  // Perch expects 32 kHz input
	DefaultClipSamples = 160000 // 5 s at 32 kHz
	DefaultBatchSize   = 5
	DefaultTopK        = 3
	DefaultExtension   = ".wav"
	DefaultOutputBase  = "perch_results"

	DefaultServingURL = serving.DefaultBaseURL
	DefaultModelName  = serving.DefaultModel
	DefaultSignature  = serving.DefaultSignature
	DefaultTimeout    = serving.DefaultTimeout
)

// DefaultScoreKeys returns the default score output names in priority order.
func DefaultScoreKeys() []string {
	return slices.Clone(scoring.DefaultScoreKeys)
}

// Config is fixed for the lifetime of a Service. NewService copies it, so
// later changes to the options' inputs have no effect.
type Config struct {
	SampleRate  int
	ClipSamples int
	BatchSize   int
	TopK        int
	Extension   string
	ScoreKeys   []string

	ServingURL   string
	ModelName    string
	ModelVersion string
	Signature    string
	Timeout      time.Duration

	Model    Model
	Logger   Logger
	Progress io.Writer // progress bar destination; nil disables it
}

type Option func(*Config)

func WithSampleRate(rate int) Option {
	return func(c *Config) {
		c.SampleRate = rate
	}
}

func WithClipSamples(n int) Option {
	return func(c *Config) {
		c.ClipSamples = n
	}
}

func WithBatchSize(n int) Option {
	return func(c *Config) {
		c.BatchSize = n
	}
}

func WithTopK(k int) Option {
	return func(c *Config) {
		c.TopK = k
	}
}

func WithExtension(ext string) Option {
	return func(c *Config) {
		c.Extension = ext
	}
}

// WithScoreKeys replaces the priority list of score output names.
func WithScoreKeys(keys ...string) Option {
	return func(c *Config) {
		c.ScoreKeys = slices.Clone(keys)
	}
}

func WithServingURL(url string) Option {
	return func(c *Config) {
		c.ServingURL = url
	}
}

func WithModelName(name string) Option {
	return func(c *Config) {
		c.ModelName = name
	}
}

func WithModelVersion(version string) Option {
	return func(c *Config) {
		c.ModelVersion = version
	}
}

func WithSignature(name string) Option {
	return func(c *Config) {
		c.Signature = name
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.Timeout = d
	}
}

// WithModel injects the scoring model. Without it a TF Serving client is
// built from the serving options.
func WithModel(m Model) Option {
	return func(c *Config) {
		c.Model = m
	}
}

func WithLogger(log Logger) Option {
	return func(c *Config) {
		c.Logger = log
	}
}

func WithProgress(w io.Writer) Option {
	return func(c *Config) {
		c.Progress = w
	}
}

func defaultConfig() *Config {
	return &Config{
		SampleRate:  DefaultSampleRate,
		ClipSamples: DefaultClipSamples,
		BatchSize:   DefaultBatchSize,
		TopK:        DefaultTopK,
		Extension:   DefaultExtension,
		ScoreKeys:   DefaultScoreKeys(),
		ServingURL:  DefaultServingURL,
		ModelName:   DefaultModelName,
		Signature:   DefaultSignature,
		Timeout:     DefaultTimeout,
	}
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error
	if c.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("sample rate must be positive, got %d", c.SampleRate))
	}
	if c.ClipSamples <= 0 {
		errs = append(errs, fmt.Errorf("clip samples must be positive, got %d", c.ClipSamples))
	}
	if c.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("batch size must be at least 1, got %d", c.BatchSize))
	}
	if c.TopK < 1 {
		errs = append(errs, fmt.Errorf("top-k must be at least 1, got %d", c.TopK))
	}
	if !strings.HasPrefix(c.Extension, ".") || len(c.Extension) < 2 {
		errs = append(errs, fmt.Errorf("extension must look like \".wav\", got %q", c.Extension))
	}
	if len(c.ScoreKeys) == 0 {
		errs = append(errs, errors.New("at least one score key is required"))
	}
	if c.Model == nil && c.ServingURL == "" {
		errs = append(errs, errors.New("serving URL is required when no model is injected"))
	}
	return errors.Join(errs...)
}
