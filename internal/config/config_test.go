package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/transfer-classifier/internal/features"
	"github.com/Brownie44l1/transfer-classifier/internal/imageload"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, features.KindGrid, cfg.Extractor.Kind)
	assert.Equal(t, 100, cfg.Training.Epochs)
	assert.Equal(t, 64, cfg.Training.Hidden)
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
model_dir: /tmp/model
image_size: 96
extractor:
  kind: onnx
  onnx:
    model_path: /models/mobilenet.onnx
    layout: nchw
training:
  epochs: 10
  learning_rate: 0.01
  seed: 7
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/model", cfg.ModelDir)
	assert.Equal(t, 96, cfg.ImageSize)
	assert.Equal(t, features.KindONNX, cfg.Extractor.Kind)
	assert.Equal(t, "/models/mobilenet.onnx", cfg.Extractor.ONNX.ModelPath)
	assert.Equal(t, 10, cfg.Training.Epochs)
	assert.Equal(t, int64(7), cfg.Training.Seed)
	// untouched keys keep their defaults
	assert.Equal(t, 64, cfg.Training.Hidden)
	assert.Equal(t, "info", cfg.LogLevel)

	opts := cfg.TrainingOptions()
	assert.Equal(t, imageload.Square(96), opts.ImageSize)
	assert.Equal(t, 0.01, opts.LearningRate)
}

func TestLoadRejects(t *testing.T) {
	cases := map[string]string{
		"unknown key":        "epochs: 3\n",
		"onnx without model": "extractor:\n  kind: onnx\n",
		"bad kind":           "extractor:\n  kind: tflite\n",
		"zero epochs":        "training:\n  epochs: -1\n",
		"bad image size":     "image_size: -3\n",
		"not yaml":           "training: [\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			require.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestApplyOverrides(t *testing.T) {
	cfg := Default()
	cfg.ApplyOverrides(Overrides{
		ModelDir:      "out",
		ExtractorPath: "/models/feat.onnx",
		Epochs:        5,
		Workers:       2,
	})
	assert.Equal(t, "out", cfg.ModelDir)
	assert.Equal(t, features.KindONNX, cfg.Extractor.Kind)
	assert.Equal(t, "/models/feat.onnx", cfg.Extractor.ONNX.ModelPath)
	assert.Equal(t, 5, cfg.Training.Epochs)
	assert.Equal(t, 2, cfg.Training.Workers)
	assert.Equal(t, 224, cfg.ImageSize)
	require.NoError(t, cfg.Validate())

	cfg.ApplyOverrides(Overrides{ExtractorKind: features.KindGrid})
	assert.Equal(t, features.KindGrid, cfg.Extractor.Kind)
}
