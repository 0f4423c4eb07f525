package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/Brownie44l1/transfer-classifier/internal/handlers"
	"github.com/Brownie44l1/transfer-classifier/internal/imageload"
	"github.com/Brownie44l1/transfer-classifier/internal/pipeline"
	"github.com/Brownie44l1/transfer-classifier/internal/progress"
)

func newTrainCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "train <dir>",
		Short: "Train a classifier head on dir/<class>/<image>",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := flags.env()
			if err != nil {
				return err
			}
			ext, err := e.openExtractor()
			if err != nil {
				return err
			}
			defer e.close(ext)

			notifier := progress.NewNotifier(progress.LogObserver{Logger: e.logger.Named("progress")}, e.logger, 0)
			defer notifier.Close()

			tr := &pipeline.Training{
				Extractor: ext,
				Store:     e.store(args[0], trainDepth),
				Notifier:  notifier,
				Logger:    e.logger.Named("train"),
				Options:   e.cfg.TrainingOptions(),
			}
			res, err := tr.Run(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fields := []any{"run", res.RunID, "classes", res.Classes, "examples", res.Examples, "epochs", len(res.History)}
			if n := len(res.History); n > 0 {
				fields = append(fields, "loss", res.History[n-1].Loss, "acc", res.History[n-1].Accuracy)
			}
			e.logger.Infow("training finished", fields...)
			return nil
		},
	}
}

func newPredictCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "predict <dir>",
		Short: "Score every image in dir and print the JSON report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := flags.env()
			if err != nil {
				return err
			}
			ext, err := e.openExtractor()
			if err != nil {
				return err
			}
			defer e.close(ext)

			inf := &pipeline.Inference{
				Extractor: ext,
				Store:     e.store(args[0], predictDepth),
				Logger:    e.logger.Named("predict"),
				ImageSize: imageload.Square(e.cfg.ImageSize),
				Workers:   e.cfg.Training.Workers,
			}
			report, err := inf.Run(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func newServeCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve predictions over HTTP",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := flags.env()
			if err != nil {
				return err
			}
			if e.cfg.ModelDir == "" {
				return errors.New("serve needs --model-dir or model_dir in the config")
			}
			ext, err := e.openExtractor()
			if err != nil {
				return err
			}
			defer e.close(ext)

			inf := &pipeline.Inference{
				Extractor: ext,
				Store:     e.store("", 0),
				Logger:    e.logger.Named("predict"),
				ImageSize: imageload.Square(e.cfg.ImageSize),
				Workers:   e.cfg.Training.Workers,
			}
			mux := http.NewServeMux()
			handlers.NewHandler(inf, e.logger.Named("http")).Routes(mux)

			addr := e.cfg.Listen
			if port := os.Getenv("PORT"); port != "" {
				addr = ":" + port
			}
			srv := &http.Server{
				Addr:              addr,
				Handler:           enableCORS(mux),
				ReadHeaderTimeout: 10 * time.Second,
			}

			e.logger.Infow("server starting", "addr", addr, "model_dir", e.cfg.ModelDir)
			e.logger.Info("endpoints: GET /health, POST /predict {\"dir\": ...}, POST /predict/image (multipart field image)")

			errc := make(chan error, 1)
			go func() { errc <- srv.ListenAndServe() }()
			select {
			case err := <-errc:
				return errors.Wrap(err, "server failed")
			case <-cmd.Context().Done():
				e.logger.Info("shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			}
		},
	}
}
