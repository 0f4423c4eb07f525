// Package config loads the runtime settings shared by the train, predict
// and serve commands.
package config

import (
	"bytes"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/Brownie44l1/transfer-classifier/internal/features"
	"github.com/Brownie44l1/transfer-classifier/internal/imageload"
	"github.com/Brownie44l1/transfer-classifier/internal/model"
	"github.com/Brownie44l1/transfer-classifier/internal/pipeline"
)

type Config struct {
	// ModelDir holds model.json and classes.json. Empty means <data dir>/../model.
	ModelDir  string          `yaml:"model_dir"`
	ImageSize int             `yaml:"image_size"`
	LogLevel  string          `yaml:"log_level"`
	Listen    string          `yaml:"listen"`
	Extractor features.Config `yaml:"extractor"`
	Training  Training        `yaml:"training"`
}

type Training struct {
	Hidden       int     `yaml:"hidden"`
	Epochs       int     `yaml:"epochs"`
	BatchSize    int     `yaml:"batch_size"`
	LearningRate float64 `yaml:"learning_rate"`
	Seed         int64   `yaml:"seed"`
	Workers      int     `yaml:"workers"`
}

// Overrides captures CLI supplied values.
type Overrides struct {
	ModelDir      string
	ImageSize     int
	LogLevel      string
	Listen        string
	ExtractorKind string
	ExtractorPath string
	Epochs        int
	Seed          int64
	Workers       int
}

func Default() *Config {
	return &Config{
		ImageSize: pipeline.DefaultImageSide,
		LogLevel:  "info",
		Listen:    ":8080",
		Extractor: features.Config{Kind: features.KindGrid},
		Training: Training{
			Hidden:       model.DefaultHidden,
			Epochs:       model.DefaultEpochs,
			LearningRate: model.DefaultLearningRate,
		},
	}
}

// Load reads path over the defaults and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config")
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, errors.Wrapf(err, "failed to parse config %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyOverrides updates cfg using any non-zero override.
func (c *Config) ApplyOverrides(o Overrides) {
	if o.ModelDir != "" {
		c.ModelDir = o.ModelDir
	}
	if o.ImageSize > 0 {
		c.ImageSize = o.ImageSize
	}
	if o.LogLevel != "" {
		c.LogLevel = o.LogLevel
	}
	if o.Listen != "" {
		c.Listen = o.Listen
	}
	if o.ExtractorKind != "" {
		c.Extractor.Kind = o.ExtractorKind
	}
	if o.ExtractorPath != "" {
		c.Extractor.ONNX.ModelPath = o.ExtractorPath
		if o.ExtractorKind == "" {
			c.Extractor.Kind = features.KindONNX
		}
	}
	if o.Epochs > 0 {
		c.Training.Epochs = o.Epochs
	}
	if o.Seed != 0 {
		c.Training.Seed = o.Seed
	}
	if o.Workers > 0 {
		c.Training.Workers = o.Workers
	}
}

// Validate verifies the config is runnable.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if err := imageload.Square(c.ImageSize).Validate(); err != nil {
		return errors.Wrap(err, "image_size")
	}
	switch c.Extractor.Kind {
	case features.KindGrid, "":
	case features.KindONNX:
		if c.Extractor.ONNX.ModelPath == "" {
			return errors.New("extractor.onnx.model_path must be set for the onnx extractor")
		}
	default:
		return errors.Errorf("unknown extractor kind %q", c.Extractor.Kind)
	}
	t := c.Training
	if t.Hidden <= 0 {
		return errors.Errorf("training.hidden must be > 0 (got %d)", t.Hidden)
	}
	if t.Epochs <= 0 {
		return errors.Errorf("training.epochs must be > 0 (got %d)", t.Epochs)
	}
	if t.BatchSize < 0 {
		return errors.Errorf("training.batch_size must be >= 0 (got %d)", t.BatchSize)
	}
	if t.LearningRate <= 0 {
		return errors.Errorf("training.learning_rate must be > 0 (got %g)", t.LearningRate)
	}
	if t.Workers < 0 {
		return errors.Errorf("training.workers must be >= 0 (got %d)", t.Workers)
	}
	return nil
}

// TrainingOptions maps the config onto a training run.
func (c *Config) TrainingOptions() pipeline.Options {
	return pipeline.Options{
		ImageSize:    imageload.Square(c.ImageSize),
		Hidden:       c.Training.Hidden,
		Epochs:       c.Training.Epochs,
		BatchSize:    c.Training.BatchSize,
		LearningRate: c.Training.LearningRate,
		Seed:         c.Training.Seed,
		Workers:      c.Training.Workers,
	}
}
