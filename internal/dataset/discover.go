package dataset

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/Brownie44l1/transfer-classifier/internal/imageload"
)

var (
	// ErrEmptyDataset means no file under the root matched an image extension.
	ErrEmptyDataset = errors.New("no image files found")
	// ErrAccess is matched by every AccessError.
	ErrAccess = errors.New("dataset not accessible")
)

// AccessError reports a directory that could not be enumerated or a file
// that could not be read.
type AccessError struct {
	Path string
	Err  error
}

func (e *AccessError) Error() string {
	return "access " + e.Path + ": " + e.Err.Error()
}

func (e *AccessError) Unwrap() error { return e.Err }

func (e *AccessError) Is(target error) bool { return target == ErrAccess }

// labeledFiles is the result of walking root/<class>/<file>.
type labeledFiles struct {
	paths   []string
	labels  []int
	classes []string
}

// discoverLabeled lists root/<class>/<file> in lexical order. A class gets
// the next free index the first time one of its files is seen, so folders
// without images never enter the class list.
func discoverLabeled(root string) (*labeledFiles, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, &AccessError{Path: root, Err: err}
	}
	out := &labeledFiles{}
	index := make(map[string]int)
	for _, entry := range entries {
		if hidden(entry.Name()) {
			continue
		}
		dir := filepath.Join(root, entry.Name())
		if !isDir(dir, entry) {
			continue
		}
		files, err := discoverImages(dir)
		if err != nil {
			return nil, err
		}
		class := entry.Name()
		for _, file := range files {
			label, ok := index[class]
			if !ok {
				label = len(out.classes)
				index[class] = label
				out.classes = append(out.classes, class)
			}
			out.paths = append(out.paths, file)
			out.labels = append(out.labels, label)
		}
	}
	return out, nil
}

// discoverImages lists the image files directly inside dir.
func discoverImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, &AccessError{Path: dir, Err: err}
	}
	var files []string
	for _, entry := range entries {
		name := entry.Name()
		if hidden(name) || !imageload.Supported(name) {
			continue
		}
		path := filepath.Join(dir, name)
		if isDir(path, entry) {
			continue
		}
		files = append(files, path)
	}
	return files, nil
}

func hidden(name string) bool { return strings.HasPrefix(name, ".") }

func isDir(path string, entry fs.DirEntry) bool {
	if entry.Type()&fs.ModeSymlink == 0 {
		return entry.IsDir()
	}
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
