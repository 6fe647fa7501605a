package core

import (
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/samber/lo"
)

// Store is the scoped view of the persisted document the engine works against.
// Implementations are not safe for concurrent use; the engine owns them from one goroutine.
type Store interface {
	// Reload replaces the in-memory state with the persisted document.
	Reload() error
	// Flush writes the whole document back.
	Flush() error
	Close() error

	// Proposals returns the proposals of scopeID in creation order.
	Proposals(scopeID string) []*Proposal
	// OpenProposals returns every open proposal across scopes.
	OpenProposals() []*Proposal
	Proposal(scopeID, id string) *Proposal
	AddProposal(p *Proposal)

	// User returns the user, creating an empty record on first access.
	User(id string) *User
	Users() []*User

	Draft(creatorID string, now time.Time) *PendingProposal
	PutDraft(creatorID string, d *PendingProposal)
	DeleteDraft(creatorID string)

	Selection(voterID string, now time.Time) *SelectionEntry
	PutSelection(voterID string, e *SelectionEntry)
	DeleteSelection(voterID string)

	// SweepExpired drops stale drafts and selections, returning how many were removed.
	SweepExpired(now time.Time) int
}

// Document is the persisted layout.
type Document struct {
	Proposals         []*Proposal                 `json:"proposals"`
	PendingProposals  map[string]*PendingProposal `json:"pendingProposals"`
	PendingSelections map[string]*SelectionEntry  `json:"pendingSelections"`
	Users             map[string]*User            `json:"users"`
}

func NewDocument() *Document {
	doc := &Document{}
	doc.ensure()
	return doc
}

func (d *Document) ensure() {
	if d.Proposals == nil {
		d.Proposals = []*Proposal{}
	}
	if d.PendingProposals == nil {
		d.PendingProposals = make(map[string]*PendingProposal)
	}
	if d.PendingSelections == nil {
		d.PendingSelections = make(map[string]*SelectionEntry)
	}
	if d.Users == nil {
		d.Users = make(map[string]*User)
	}
	for id, u := range d.Users {
		if u == nil {
			u = &User{}
			d.Users[id] = u
		}
		u.ID = id
		if u.RewardedProposals == nil {
			u.RewardedProposals = make(map[string]bool)
		}
	}
	for _, p := range d.Proposals {
		if p.Votes == nil {
			p.Votes = make(map[string]VoteRecord)
		}
	}
}

// Backend persists a Document.
type Backend interface {
	// Load returns nil, nil when nothing has been stored yet.
	Load() (*Document, error)
	Save(doc *Document) error
	Close() error
}

// DocumentStore keeps the document in memory and writes it through a Backend.
// A nil backend keeps everything in memory.
type DocumentStore struct {
	backend Backend
	doc     *Document
}

var _ Store = (*DocumentStore)(nil)

func NewDocumentStore(backend Backend) (*DocumentStore, error) {
	s := &DocumentStore{backend: backend, doc: NewDocument()}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *DocumentStore) Reload() error {
	if s.backend == nil {
		return nil
	}
	doc, err := s.backend.Load()
	if err != nil {
		return errors.Wrap(err, "load document")
	}
	if doc == nil {
		doc = NewDocument()
	}
	doc.ensure()
	s.doc = doc
	return nil
}

func (s *DocumentStore) Flush() error {
	if s.backend == nil {
		return nil
	}
	if err := s.backend.Save(s.doc); err != nil {
		return &PersistenceError{Op: "flush", Err: err}
	}
	return nil
}

func (s *DocumentStore) Close() error {
	if s.backend == nil {
		return nil
	}
	return s.backend.Close()
}

func (s *DocumentStore) Proposals(scopeID string) []*Proposal {
	return lo.Filter(s.doc.Proposals, func(p *Proposal, _ int) bool {
		return p.ScopeID == scopeID
	})
}

func (s *DocumentStore) OpenProposals() []*Proposal {
	return lo.Filter(s.doc.Proposals, func(p *Proposal, _ int) bool {
		return p.Status == Open
	})
}

func (s *DocumentStore) Proposal(scopeID, id string) *Proposal {
	p, ok := lo.Find(s.doc.Proposals, func(p *Proposal) bool {
		return p.ScopeID == scopeID && p.ID == id
	})
	if !ok {
		return nil
	}
	return p
}

func (s *DocumentStore) AddProposal(p *Proposal) {
	if p.Votes == nil {
		p.Votes = make(map[string]VoteRecord)
	}
	s.doc.Proposals = append(s.doc.Proposals, p)
}

func (s *DocumentStore) User(id string) *User {
	u, ok := s.doc.Users[id]
	if !ok {
		u = &User{ID: id, RewardedProposals: make(map[string]bool)}
		s.doc.Users[id] = u
	}
	return u
}

func (s *DocumentStore) Users() []*User {
	users := lo.Values(s.doc.Users)
	sort.Slice(users, func(i, j int) bool {
		return users[i].ID < users[j].ID
	})
	return users
}

func (s *DocumentStore) Draft(creatorID string, now time.Time) *PendingProposal {
	d, ok := s.doc.PendingProposals[creatorID]
	if !ok {
		return nil
	}
	if !d.Live(now) || d.Proposal == nil {
		delete(s.doc.PendingProposals, creatorID)
		return nil
	}
	return d
}

func (s *DocumentStore) PutDraft(creatorID string, d *PendingProposal) {
	s.doc.PendingProposals[creatorID] = d
}

func (s *DocumentStore) DeleteDraft(creatorID string) {
	delete(s.doc.PendingProposals, creatorID)
}

func (s *DocumentStore) Selection(voterID string, now time.Time) *SelectionEntry {
	e, ok := s.doc.PendingSelections[voterID]
	if !ok {
		return nil
	}
	if !e.Live(now) {
		delete(s.doc.PendingSelections, voterID)
		return nil
	}
	return e
}

func (s *DocumentStore) PutSelection(voterID string, e *SelectionEntry) {
	s.doc.PendingSelections[voterID] = e
}

func (s *DocumentStore) DeleteSelection(voterID string) {
	delete(s.doc.PendingSelections, voterID)
}

func (s *DocumentStore) SweepExpired(now time.Time) int {
	removed := 0
	for id, d := range s.doc.PendingProposals {
		if !d.Live(now) {
			delete(s.doc.PendingProposals, id)
			removed++
		}
	}
	for id, e := range s.doc.PendingSelections {
		if !e.Live(now) {
			delete(s.doc.PendingSelections, id)
			removed++
		}
	}
	return removed
}
