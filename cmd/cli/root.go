package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/cegan09/PerchCPU/pkg/logger"
	"github.com/cegan09/PerchCPU/pkg/perchcpu"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "PERCHCPU"

// cliApp carries state shared by all commands.
type cliApp struct {
	v          *viper.Viper
	configFile string
	log        *logger.Logger

	// model replaces the serving client; set by tests.
	model perchcpu.Model
}

// settings is the effective configuration after flags, environment and the
// config file are merged.
type settings struct {
	SampleRate   int           `yaml:"sample-rate"`
	ClipSamples  int           `yaml:"clip-samples"`
	BatchSize    int           `yaml:"batch-size"`
	TopK         int           `yaml:"top-k"`
	Extension    string        `yaml:"extension"`
	ScoreKeys    []string      `yaml:"score-keys"`
	ServingURL   string        `yaml:"serving-url"`
	Model        string        `yaml:"model"`
	ModelVersion string        `yaml:"model-version"`
	Signature    string        `yaml:"signature"`
	Timeout      time.Duration `yaml:"timeout"`
	LogLevel     string        `yaml:"log-level"`
}

func newRootCommand(app *cliApp) *cobra.Command {
	app.v = viper.New()

	rootCmd := &cobra.Command{
		Use:           "perchcpu",
		Short:         "Score audio clips with Perch and report latency",
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.setup(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&app.configFile, "config", "c", "", "YAML configuration file")
	flags.Int("sample-rate", perchcpu.DefaultSampleRate, "Required sample rate of input clips (Hz)")
	flags.Int("clip-samples", perchcpu.DefaultClipSamples, "Samples per clip after padding or truncation")
	flags.Int("batch-size", perchcpu.DefaultBatchSize, "Clips per model invocation")
	flags.Int("top-k", perchcpu.DefaultTopK, "Predictions kept per clip")
	flags.String("extension", perchcpu.DefaultExtension, "Audio file extension to collect")
	flags.StringSlice("score-keys", perchcpu.DefaultScoreKeys(), "Output names tried as scores, in priority order")
	flags.String("serving-url", perchcpu.DefaultServingURL, "TensorFlow Serving REST endpoint")
	flags.String("model", perchcpu.DefaultModelName, "Served model name")
	flags.String("model-version", "", "Served model version (latest if empty)")
	flags.String("signature", perchcpu.DefaultSignature, "Preferred serving signature")
	flags.Duration("timeout", perchcpu.DefaultTimeout, "HTTP timeout per request")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(newRunCommand(app))
	rootCmd.AddCommand(newCheckCommand(app))
	rootCmd.AddCommand(newConfigCommand(app))

	return rootCmd
}

// setup layers flags over PERCHCPU_* environment variables over the config
// file and sets up logging.
func (a *cliApp) setup(cmd *cobra.Command) error {
	a.v.SetEnvPrefix(envPrefix)
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()

	var bindErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if f.Name == "config" || f.Name == "help" {
			return
		}
		if err := a.v.BindPFlag(f.Name, f); err != nil && bindErr == nil {
			bindErr = err
		}
	})
	if bindErr != nil {
		return fmt.Errorf("binding flags: %w", bindErr)
	}

	if a.configFile != "" {
		a.v.SetConfigFile(a.configFile)
		if err := a.v.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config %s: %w", a.configFile, err)
		}
	}

	s := a.settings()
	level, err := logger.ParseLevel(s.LogLevel)
	if err != nil {
		return err
	}
	cfg := logger.DefaultConfig()
	cfg.Level = level
	cfg.Output = cmd.ErrOrStderr()
	cfg.Colorize = isTerminal(cfg.Output)
	a.log = logger.New(cfg)
	return nil
}

func (a *cliApp) settings() settings {
	keys := splitList(a.v.GetStringSlice("score-keys"))
	if len(keys) == 0 {
		keys = perchcpu.DefaultScoreKeys()
	}
	return settings{
		SampleRate:   a.v.GetInt("sample-rate"),
		ClipSamples:  a.v.GetInt("clip-samples"),
		BatchSize:    a.v.GetInt("batch-size"),
		TopK:         a.v.GetInt("top-k"),
		Extension:    a.v.GetString("extension"),
		ScoreKeys:    keys,
		ServingURL:   a.v.GetString("serving-url"),
		Model:        a.v.GetString("model"),
		ModelVersion: a.v.GetString("model-version"),
		Signature:    a.v.GetString("signature"),
		Timeout:      a.v.GetDuration("timeout"),
		LogLevel:     a.v.GetString("log-level"),
	}
}

// newService builds the scoring service from the merged settings. progress,
// when non-nil, receives a progress bar.
func (a *cliApp) newService(progress io.Writer) (perchcpu.Service, error) {
	s := a.settings()
	opts := []perchcpu.Option{
		perchcpu.WithSampleRate(s.SampleRate),
		perchcpu.WithClipSamples(s.ClipSamples),
		perchcpu.WithBatchSize(s.BatchSize),
		perchcpu.WithTopK(s.TopK),
		perchcpu.WithExtension(s.Extension),
		perchcpu.WithScoreKeys(s.ScoreKeys...),
		perchcpu.WithServingURL(s.ServingURL),
		perchcpu.WithModelName(s.Model),
		perchcpu.WithModelVersion(s.ModelVersion),
		perchcpu.WithSignature(s.Signature),
		perchcpu.WithTimeout(s.Timeout),
		perchcpu.WithLogger(a.log),
	}
	if a.model != nil {
		opts = append(opts, perchcpu.WithModel(a.model))
	}
	if progress != nil {
		opts = append(opts, perchcpu.WithProgress(progress))
	}
	return perchcpu.NewService(opts...)
}

// splitList accepts both repeated values and a single comma-separated
// value, as environment variables arrive.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
