package perchcpu

import (
	"errors"
	"time"

	"github.com/cegan09/PerchCPU/internal/audio"
	"github.com/cegan09/PerchCPU/internal/scoring"
	"github.com/cegan09/PerchCPU/pkg/models"
)

var (
	// ErrNoClips is returned when the input directory holds no matching files.
	ErrNoClips = errors.New("no audio files found")

	ErrSampleRateMismatch = audio.ErrSampleRateMismatch
	ErrInvalidWAV         = audio.ErrInvalidWAV
	ErrNoScoreTensor      = scoring.ErrNoScoreTensor
)

// Summary describes a completed run.
type Summary struct {
	RunID     string
	Stats     models.RunStats
	Rows      int      // CSV rows written
	Skipped   []string // files that could not be loaded
	ScoreKey  string   // output entry used as scores (last batch)

	ScoreFallback bool // ScoreKey was chosen as the widest output, not by name
	Softmaxed     bool // scores looked like logits and were softmaxed

	CSVPath   string
	StatsPath string
}

// CheckResult is the outcome of a single all-zero inference.
type CheckResult struct {
	ModelLoad time.Duration
	Inference time.Duration
	Shapes    map[string][]int // output name -> shape; empty outputs are left out
	Signature string           // serving signature, when served over TF Serving
	Input     string
	ScoreKey  string           // empty when no score tensor could be resolved
}
