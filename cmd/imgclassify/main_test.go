package main

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/transfer-classifier/internal/model"
	"github.com/Brownie44l1/transfer-classifier/internal/store"
)

func writePNG(t *testing.T, path string, c color.RGBA) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	buf := &bytes.Buffer{}
	require.NoError(t, png.Encode(buf, img))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	out := &bytes.Buffer{}
	root.SetOut(out)
	root.SetErr(out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestTrainAndPredictCommands(t *testing.T) {
	root := t.TempDir()
	train := filepath.Join(root, "train")
	writePNG(t, filepath.Join(train, "cat", "1.png"), color.RGBA{R: 255, A: 255})
	writePNG(t, filepath.Join(train, "dog", "1.png"), color.RGBA{B: 255, A: 255})
	common := []string{"--image-size", "8", "--epochs", "3", "--seed", "5", "--log-level", "error"}

	_, err := execute(t, append([]string{"train", train}, common...)...)
	require.NoError(t, err)
	// default model dir sits next to the data folder
	assert.FileExists(t, filepath.Join(root, "model", store.ModelFile))

	// predict folders sit one level deeper and share the same model
	predict := filepath.Join(root, "verify", "set1")
	writePNG(t, filepath.Join(predict, "x.png"), color.RGBA{R: 255, A: 255})
	out, err := execute(t, append([]string{"predict", predict}, common...)...)
	require.NoError(t, err)

	var report model.PredictionReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, []string{"cat", "dog"}, report.Classes)
	require.Len(t, report.Images, 1)
	assert.Equal(t, "x.png", report.Images[0].Name)
}

func TestCommandErrors(t *testing.T) {
	_, err := execute(t, "train")
	require.Error(t, err)

	_, err = execute(t, "predict", t.TempDir(), "--log-level", "loud")
	require.Error(t, err)

	_, err = execute(t, "serve", "--log-level", "error")
	require.Error(t, err)

	_, err = execute(t, "train", t.TempDir(), "--extractor-kind", "tflite")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tflite")
}

func TestRootFlagsReachConfig(t *testing.T) {
	flags := &rootFlags{}
	root := buildRootCmd(flags)
	require.NoError(t, root.PersistentFlags().Parse([]string{
		"--listen", ":9999",
		"--extractor-kind", "grid",
		"--model-dir", "out",
		"--log-level", "error",
	}))

	e, err := flags.env()
	require.NoError(t, err)
	assert.Equal(t, ":9999", e.cfg.Listen)
	assert.Equal(t, "grid", e.cfg.Extractor.Kind)
	assert.Equal(t, "out", e.cfg.ModelDir)
}

func TestDefaultModelDir(t *testing.T) {
	assert.Equal(t, filepath.Join("system", "model"), defaultModelDir(filepath.Join("system", "train"), trainDepth))
	assert.Equal(t, filepath.Join("system", "model"),
		defaultModelDir(filepath.Join("system", "verify-data", "verify1"), predictDepth))
	assert.Equal(t, filepath.Join("system", "model"), defaultModelDir("system/train/", trainDepth))
}

func TestEnableCORS(t *testing.T) {
	called := false
	h := enableCORS(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/predict", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.False(t, called)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.True(t, called)
}
