package storage

import (
	"encoding/json"
	"fmt"

	"github.com/axiomesh/axiom-kit/storage"
	"github.com/axiomesh/axiom-kit/storage/leveldb"
	"github.com/axiomesh/council/core"
	"github.com/pkg/errors"
)

const (
	proposalsKey         = "proposals"
	pendingProposalsKey  = "pendingProposals"
	pendingSelectionsKey = "pendingSelections"
	usersKey             = "users"
)

var _ core.Backend = (*LevelDB)(nil)

// LevelDB stores each document collection under its own key and writes them in one batch.
type LevelDB struct {
	DB storage.Storage
}

func NewLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.New(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open leveldb at %s", path)
	}
	return &LevelDB{DB: db}, nil
}

func (l *LevelDB) Load() (*core.Document, error) {
	if !l.DB.Has([]byte(proposalsKey)) && !l.DB.Has([]byte(usersKey)) {
		return nil, nil
	}

	doc := &core.Document{}
	fields := []struct {
		key string
		dst any
	}{
		{proposalsKey, &doc.Proposals},
		{pendingProposalsKey, &doc.PendingProposals},
		{pendingSelectionsKey, &doc.PendingSelections},
		{usersKey, &doc.Users},
	}
	for _, f := range fields {
		data := l.DB.Get([]byte(f.key))
		if data == nil {
			continue
		}
		if err := json.Unmarshal(data, f.dst); err != nil {
			return nil, errors.Wrapf(err, "decode %s", f.key)
		}
	}
	return doc, nil
}

// Save commits all collections together. The underlying store panics on write errors,
// so those are recovered into an error.
func (l *LevelDB) Save(doc *core.Document) (err error) {
	values := map[string]any{
		proposalsKey:         doc.Proposals,
		pendingProposalsKey:  doc.PendingProposals,
		pendingSelectionsKey: doc.PendingSelections,
		usersKey:             doc.Users,
	}

	batch := l.DB.NewBatch()
	for key, v := range values {
		data, err := json.Marshal(v)
		if err != nil {
			return errors.Wrapf(err, "encode %s", key)
		}
		batch.Put([]byte(key), data)
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("leveldb commit: %v", r)
		}
	}()
	batch.Commit()
	return nil
}

func (l *LevelDB) Close() error {
	return l.DB.Close()
}
