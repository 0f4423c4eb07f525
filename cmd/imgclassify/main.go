package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Brownie44l1/transfer-classifier/internal/config"
	"github.com/Brownie44l1/transfer-classifier/internal/features"
	"github.com/Brownie44l1/transfer-classifier/internal/logging"
	"github.com/Brownie44l1/transfer-classifier/internal/store"
)

type rootFlags struct {
	configPath string
	overrides  config.Overrides
}

// env is what every subcommand needs once flags are parsed.
type env struct {
	cfg    *config.Config
	logger *zap.SugaredLogger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	return buildRootCmd(&rootFlags{})
}

func buildRootCmd(flags *rootFlags) *cobra.Command {
	root := &cobra.Command{
		Use:          "imgclassify",
		Short:        "Train and run image classifiers on top of a frozen feature model",
		SilenceUsage: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "", "YAML config file")
	pf.StringVar(&flags.overrides.LogLevel, "log-level", "", "debug, info, warn or error")
	pf.StringVar(&flags.overrides.ModelDir, "model-dir", "", "directory holding model.json and classes.json")
	pf.StringVar(&flags.overrides.ExtractorPath, "extractor", "", "ONNX feature model path")
	pf.StringVar(&flags.overrides.ExtractorKind, "extractor-kind", "", "feature extractor: onnx or grid")
	pf.StringVar(&flags.overrides.Listen, "listen", "", "serve address, PORT overrides it")
	pf.IntVar(&flags.overrides.ImageSize, "image-size", 0, "square input side in pixels")
	pf.IntVar(&flags.overrides.Epochs, "epochs", 0, "training epochs")
	pf.Int64Var(&flags.overrides.Seed, "seed", 0, "shuffle and init seed, 0 picks one")
	pf.IntVar(&flags.overrides.Workers, "workers", 0, "parallel image decoders, 0 uses all CPUs")

	root.AddCommand(
		newTrainCmd(flags),
		newPredictCmd(flags),
		newServeCmd(flags),
	)
	return root
}

func (f *rootFlags) env() (*env, error) {
	cfg := config.Default()
	if f.configPath != "" {
		loaded, err := config.Load(f.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	cfg.ApplyOverrides(f.overrides)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger, err := logging.New("imgclassify", cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, logger: logger}, nil
}

func (e *env) openExtractor() (features.Extractor, error) {
	ext, err := features.Open(e.cfg.Extractor, e.logger.Named("features"))
	if err != nil {
		return nil, errors.Wrap(err, "failed to open feature extractor")
	}
	e.logger.Infow("feature extractor ready", "kind", e.cfg.Extractor.Kind, "dim", ext.Dim())
	return ext, nil
}

const (
	// train <root>/<set> keeps its model in <root>/model
	trainDepth = 1
	// predict <root>/<group>/<set> reads <root>/model
	predictDepth = 2
)

// store opens the configured model dir, or <data dir> walked up depth
// levels plus /model when none is configured.
func (e *env) store(dataDir string, depth int) *store.Store {
	dir := e.cfg.ModelDir
	if dir == "" {
		dir = defaultModelDir(dataDir, depth)
	}
	return store.New(dir, e.logger.Named("store"))
}

func defaultModelDir(dataDir string, depth int) string {
	dir := filepath.Clean(dataDir)
	for i := 0; i < depth; i++ {
		dir = filepath.Dir(dir)
	}
	return filepath.Join(dir, "model")
}

func (e *env) close(ext features.Extractor) {
	if err := ext.Close(); err != nil {
		e.logger.Warnw("failed to close feature extractor", "error", err)
	}
	_ = e.logger.Sync()
}
