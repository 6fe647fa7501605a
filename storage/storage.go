package storage

import (
	"fmt"

	"github.com/axiomesh/council/core"
	"github.com/axiomesh/council/repo"
)

// Open returns the backend selected by storage.type.
func Open(config *repo.Config) (core.Backend, error) {
	switch config.Storage.Type {
	case repo.StorageLevelDB:
		return NewLevelDB(config.StoragePath())
	case repo.StorageJSON:
		return NewJSONFile(config.StoragePath())
	}
	return nil, fmt.Errorf("unsupported storage type %q", config.Storage.Type)
}

// OpenStore opens the configured backend and loads the document from it.
func OpenStore(config *repo.Config) (*core.DocumentStore, error) {
	backend, err := Open(config)
	if err != nil {
		return nil, err
	}
	store, err := core.NewDocumentStore(backend)
	if err != nil {
		backend.Close()
		return nil, err
	}
	return store, nil
}

// Copy replaces the content of dst with the document held by src and
// returns the number of proposals copied.
func Copy(dst, src core.Backend) (int, error) {
	doc, err := src.Load()
	if err != nil {
		return 0, err
	}
	if doc == nil {
		doc = core.NewDocument()
	}
	if err := dst.Save(doc); err != nil {
		return 0, err
	}
	return len(doc.Proposals), nil
}
