package core

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"
)

var lastAliases = map[string]bool{"last": true, "ultimo": true, "ultima": true}

// Resolver maps a free-form vote reference to a single proposal of a scope.
type Resolver struct {
	store         Store
	maxCandidates int
	selectionTTL  time.Duration
}

func NewResolver(store Store, maxCandidates int, selectionTTL time.Duration) *Resolver {
	if maxCandidates <= 0 {
		maxCandidates = 8
	}
	return &Resolver{store: store, maxCandidates: maxCandidates, selectionTTL: selectionTTL}
}

// ResolveTarget tries, in order: exact id, the "last" alias, an index into the voter's
// selection menu, exact normalized title, then normalized substring. Ambiguous title
// matches are cached as the voter's new selection menu and reported as *AmbiguousMatchError.
func (r *Resolver) ResolveTarget(scopeID, voterID, reference string, now time.Time) (*Proposal, error) {
	ref := strings.TrimSpace(reference)
	if ref == "" {
		return nil, validationf("vote reference is empty")
	}

	if p := r.store.Proposal(scopeID, ref); p != nil {
		return p, nil
	}

	norm := NormalizeText(ref)
	if lastAliases[norm] {
		if p := MostRecentOpen(r.store.Proposals(scopeID)); p != nil {
			return p, nil
		}
		return nil, &NotFoundError{Reference: ref}
	}

	if n, err := strconv.Atoi(ref); err == nil && n > 0 {
		if p := r.fromSelection(scopeID, voterID, n, now); p != nil {
			return p, nil
		}
	}

	proposals := r.store.Proposals(scopeID)
	exact := lo.Filter(proposals, func(p *Proposal, _ int) bool {
		return NormalizeText(p.Title) == norm
	})
	if p, err := r.pick(voterID, ref, exact, now); p != nil || err != nil {
		return p, err
	}

	partial := lo.Filter(proposals, func(p *Proposal, _ int) bool {
		return strings.Contains(NormalizeText(p.Title), norm)
	})
	if p, err := r.pick(voterID, ref, partial, now); p != nil || err != nil {
		return p, err
	}

	return nil, &NotFoundError{Reference: ref}
}

func (r *Resolver) fromSelection(scopeID, voterID string, n int, now time.Time) *Proposal {
	entry := r.store.Selection(voterID, now)
	if entry == nil || n > len(entry.CandidateIDs) {
		return nil
	}
	return r.store.Proposal(scopeID, entry.CandidateIDs[n-1])
}

func (r *Resolver) pick(voterID, ref string, matches []*Proposal, now time.Time) (*Proposal, error) {
	switch len(matches) {
	case 0:
		return nil, nil
	case 1:
		return matches[0], nil
	}

	sorted := append([]*Proposal(nil), matches...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].OpenedAt.Before(sorted[j].OpenedAt)
	})
	if len(sorted) > r.maxCandidates {
		sorted = sorted[:r.maxCandidates]
	}

	r.store.PutSelection(voterID, &SelectionEntry{
		CandidateIDs: lo.Map(sorted, func(p *Proposal, _ int) string { return p.ID }),
		ExpiresAt:    now.Add(r.selectionTTL),
	})
	return nil, &AmbiguousMatchError{Reference: ref, Candidates: sorted}
}

// MostRecentOpen returns the newest open proposal, or nil.
func MostRecentOpen(proposals []*Proposal) *Proposal {
	var latest *Proposal
	for _, p := range proposals {
		if p.Status != Open {
			continue
		}
		if latest == nil || !p.OpenedAt.Before(latest.OpenedAt) {
			latest = p
		}
	}
	return latest
}
