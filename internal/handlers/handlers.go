package handlers

import (
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Brownie44l1/transfer-classifier/internal/dataset"
	"github.com/Brownie44l1/transfer-classifier/internal/imageload"
	"github.com/Brownie44l1/transfer-classifier/internal/model"
	"github.com/Brownie44l1/transfer-classifier/internal/pipeline"
)

const maxUploadBytes = 32 << 20

// Runner scores every image in a directory. *pipeline.Inference implements it.
type Runner interface {
	Run(ctx context.Context, dir string) (*model.PredictionReport, error)
}

type PredictionRequest struct {
	Dir string `json:"dir"`
}

type Handler struct {
	runner Runner
	logger *zap.SugaredLogger
}

func NewHandler(runner Runner, logger *zap.SugaredLogger) *Handler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Handler{runner: runner, logger: logger}
}

// Routes registers the endpoints on mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.Health)
	mux.HandleFunc("/predict", h.Predict)
	mux.HandleFunc("/predict/image", h.PredictFromImage)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// Predict scores a directory that is readable by the server.
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	var req PredictionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.Dir == "" {
		http.Error(w, "Missing dir", http.StatusBadRequest)
		return
	}

	h.run(w, r, req.Dir)
}

// PredictFromImage scores the files uploaded under the "image" form field.
func (h *Handler) PredictFromImage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		http.Error(w, "Failed to parse form", http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	files := r.MultipartForm.File["image"]
	if len(files) == 0 {
		http.Error(w, "No image file provided. Use 'image' as the form field name", http.StatusBadRequest)
		return
	}

	dir, err := os.MkdirTemp("", "predict-*")
	if err != nil {
		h.logger.Errorw("failed to create upload dir", "error", err)
		http.Error(w, "Prediction failed", http.StatusInternalServerError)
		return
	}
	defer os.RemoveAll(dir)

	seen := make(map[string]bool, len(files))
	for _, header := range files {
		name := filepath.Base(header.Filename)
		if strings.HasPrefix(name, ".") {
			http.Error(w, "Hidden file name "+name, http.StatusBadRequest)
			return
		}
		if !imageload.Supported(name) {
			http.Error(w, "Invalid image format. Supported: PNG, JPEG, BMP", http.StatusBadRequest)
			return
		}
		if seen[name] {
			http.Error(w, "Duplicate file name "+name, http.StatusBadRequest)
			return
		}
		seen[name] = true
		h.logger.Debugw("received file", "name", name, "size", header.Size)
		if err := saveUpload(header, filepath.Join(dir, name)); err != nil {
			h.logger.Errorw("failed to store upload", "name", name, "error", err)
			http.Error(w, "Prediction failed", http.StatusInternalServerError)
			return
		}
	}

	h.run(w, r, dir)
}

func (h *Handler) run(w http.ResponseWriter, r *http.Request, dir string) {
	report, err := h.runner.Run(r.Context(), dir)
	if err != nil {
		status := statusFor(err)
		h.logger.Warnw("prediction failed", "dir", dir, "status", status, "error", err)
		http.Error(w, err.Error(), status)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrModelNotTrained):
		return http.StatusServiceUnavailable
	case errors.Is(err, dataset.ErrEmptyDataset),
		errors.Is(err, dataset.ErrAccess),
		errors.Is(err, imageload.ErrDecode):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func saveUpload(header *multipart.FileHeader, path string) error {
	src, err := header.Open()
	if err != nil {
		return err
	}
	defer src.Close()
	dst, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
