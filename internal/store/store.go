// Package store persists a trained classifier head next to its class list.
//
// A model directory holds two files: model.json with the architecture and
// weights, and classes.json with the ordered class names whose positions are
// the integer labels used in training.
package store

import (
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Brownie44l1/transfer-classifier/internal/model"
)

const (
	ModelFile   = "model.json"
	ClassesFile = "classes.json"

	// Format tags the model.json layout.
	Format = "dense-relu-softmax.v1"
)

// rename is swapped in tests to simulate a failing filesystem.
var rename = os.Rename

var (
	ErrNotFound        = errors.New("model artifact not found")
	ErrCorruptArtifact = errors.New("model artifact corrupt")
)

type modelFile struct {
	Format       string             `json:"format"`
	Architecture model.Architecture `json:"architecture"`
	Activations  []string           `json:"activations"`
	Weights      model.Weights      `json:"weights"`
}

// Store reads and writes the artifacts under Dir.
type Store struct {
	Dir    string
	Logger *zap.SugaredLogger
}

func New(dir string, logger *zap.SugaredLogger) *Store {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Store{Dir: dir, Logger: logger}
}

func (s *Store) ModelPath() string   { return filepath.Join(s.Dir, ModelFile) }
func (s *Store) ClassesPath() string { return filepath.Join(s.Dir, ClassesFile) }

// Save writes both artifacts. Nothing is renamed into place until both
// files have been written in full, and a failed rename puts the previous
// model.json back.
func (s *Store) Save(clf *model.Classifier, classes []string) error {
	if len(classes) != clf.Outputs() {
		return errors.Errorf("%d classes for a head with %d outputs", len(classes), clf.Outputs())
	}
	modelJSON, err := json.Marshal(modelFile{
		Format:       Format,
		Architecture: clf.Architecture(),
		Activations:  []string{"relu", "softmax"},
		Weights:      clf.Weights(),
	})
	if err != nil {
		return errors.Wrap(err, "failed to encode model")
	}
	classesJSON, err := json.Marshal(classes)
	if err != nil {
		return errors.Wrap(err, "failed to encode classes")
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return errors.Wrapf(err, "failed to create model dir %s", s.Dir)
	}

	modelTmp, err := writeTemp(s.Dir, modelJSON)
	if err != nil {
		return err
	}
	classesTmp, err := writeTemp(s.Dir, classesJSON)
	if err != nil {
		return multierr.Append(err, os.Remove(modelTmp))
	}
	backup, err := s.moveAside()
	if err != nil {
		return multierr.Combine(err, os.Remove(modelTmp), os.Remove(classesTmp))
	}
	if err := rename(modelTmp, s.ModelPath()); err != nil {
		return multierr.Combine(errors.Wrap(err, "failed to save model"),
			os.Remove(modelTmp), os.Remove(classesTmp), s.restore(backup))
	}
	if err := rename(classesTmp, s.ClassesPath()); err != nil {
		return multierr.Combine(errors.Wrap(err, "failed to save classes"),
			os.Remove(classesTmp), s.restore(backup))
	}
	if backup != "" {
		if err := os.Remove(backup); err != nil {
			s.Logger.Warnw("failed to remove previous model", "path", backup, "error", err)
		}
	}
	s.Logger.Infow("model saved", "dir", s.Dir, "architecture", clf.Architecture().String(), "classes", classes)
	return nil
}

// moveAside renames an existing model.json out of the way so a failed save
// can put it back. It returns "" when there is nothing to keep.
func (s *Store) moveAside() (string, error) {
	backup := filepath.Join(s.Dir, ".model.json.prev")
	err := rename(s.ModelPath(), backup)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrap(err, "failed to keep previous model")
	}
	return backup, nil
}

// restore undoes a partial save so model.json never pairs with a class list
// it was not saved with.
func (s *Store) restore(backup string) error {
	if backup == "" {
		if err := os.Remove(s.ModelPath()); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return errors.Wrap(err, "failed to remove partial model")
		}
		return nil
	}
	return errors.Wrap(rename(backup, s.ModelPath()), "failed to restore previous model")
}

func writeTemp(dir string, data []byte) (string, error) {
	f, err := os.CreateTemp(dir, ".artifact-*.tmp")
	if err != nil {
		return "", errors.Wrap(err, "failed to create temp file")
	}
	_, err = f.Write(data)
	err = multierr.Append(err, f.Close())
	if err != nil {
		return "", multierr.Append(errors.Wrap(err, "failed to write temp file"), os.Remove(f.Name()))
	}
	return f.Name(), nil
}

// Load is the inverse of Save.
func (s *Store) Load() (*model.Classifier, []string, error) {
	var mf modelFile
	if err := readJSON(s.ModelPath(), &mf); err != nil {
		return nil, nil, err
	}
	if mf.Format != Format {
		return nil, nil, errors.Wrapf(ErrCorruptArtifact, "%s: unknown format %q", s.ModelPath(), mf.Format)
	}
	clf, err := model.FromWeights(mf.Weights)
	if err != nil {
		return nil, nil, errors.Wrapf(ErrCorruptArtifact, "%s: %v", s.ModelPath(), err)
	}
	if arch := clf.Architecture(); arch != mf.Architecture {
		return nil, nil, errors.Wrapf(ErrCorruptArtifact, "%s: weights are %s, header says %s",
			s.ModelPath(), arch, mf.Architecture)
	}

	var classes []string
	if err := readJSON(s.ClassesPath(), &classes); err != nil {
		return nil, nil, err
	}
	if len(classes) != clf.Outputs() {
		return nil, nil, errors.Wrapf(ErrCorruptArtifact, "%s: %d classes for %d outputs",
			s.ClassesPath(), len(classes), clf.Outputs())
	}
	clf.SetLogger(s.Logger)
	return clf, classes, nil
}

func readJSON(path string, v any) error {
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return errors.Wrapf(ErrNotFound, "%s", path)
	}
	if err != nil {
		return errors.Wrapf(err, "failed to read %s", path)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errors.Wrapf(ErrCorruptArtifact, "%s: %v", path, err)
	}
	return nil
}
