package perchcpu

import (
	"context"

	"github.com/cegan09/PerchCPU/pkg/models"
)

type Service interface {
	Run(ctx context.Context, clipsDir, outBase string) (*Summary, error)
	Check(ctx context.Context) (*CheckResult, error)
	Config() Config
}

// Model maps a (batch, samples) tensor to named output tensors.
type Model interface {
	Predict(ctx context.Context, in *models.Tensor) (models.Outputs, error)
}

// Loader is implemented by models that need a setup step, which is timed
// and reported as the model load duration.
type Loader interface {
	Load(ctx context.Context) error
}

// ModelFunc adapts a plain function to the Model interface.
type ModelFunc func(ctx context.Context, in *models.Tensor) (models.Outputs, error)

func (f ModelFunc) Predict(ctx context.Context, in *models.Tensor) (models.Outputs, error) {
	return f(ctx, in)
}

type Logger interface {
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
	Debugf(format string, args ...any)
}
