package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/axiomesh/council/core"
	"github.com/pkg/errors"
)

var _ core.Backend = (*JSONFile)(nil)

// JSONFile keeps the whole document in a single JSON file, the layout older deployments used.
type JSONFile struct {
	Path string

	mu sync.Mutex
}

func NewJSONFile(path string) (*JSONFile, error) {
	if path == "" {
		return nil, errors.New("json storage needs a file path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errors.Wrapf(err, "create directory for %s", path)
	}
	return &JSONFile{Path: path}, nil
}

func (j *JSONFile) Load() (*core.Document, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	data, err := os.ReadFile(j.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "read %s", j.Path)
	}
	if len(data) == 0 {
		return nil, nil
	}

	doc := &core.Document{}
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, errors.Wrapf(err, "decode %s", j.Path)
	}
	return doc, nil
}

// Save writes to a temporary file and renames it over the old one.
func (j *JSONFile) Save(doc *core.Document) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode document")
	}

	tmp := j.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return errors.Wrapf(err, "write %s", tmp)
	}
	return errors.Wrapf(os.Rename(tmp, j.Path), "replace %s", j.Path)
}

func (j *JSONFile) Close() error {
	return nil
}
