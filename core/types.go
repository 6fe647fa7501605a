package core

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type ProposalStatus string

const (
	// Pending proposals wait for the creator to pick an approval rule
	Pending ProposalStatus = "pending"
	Open    ProposalStatus = "open"

	Approved  ProposalStatus = "approved"
	Rejected  ProposalStatus = "rejected"
	Cancelled ProposalStatus = "cancelled"
	Tied      ProposalStatus = "tied"
)

// legacyStatuses maps statuses written by older deployments.
var legacyStatuses = map[string]ProposalStatus{
	"aprovada":  Approved,
	"rejeitada": Rejected,
	"cancelada": Cancelled,
	"empatada":  Tied,
}

func (s *ProposalStatus) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	raw = strings.ToLower(strings.TrimSpace(raw))
	if legacy, ok := legacyStatuses[raw]; ok {
		*s = legacy
		return nil
	}
	*s = ProposalStatus(raw)
	return nil
}

// Terminal reports whether the status can no longer change.
func (s ProposalStatus) Terminal() bool {
	switch s {
	case Approved, Rejected, Cancelled, Tied:
		return true
	}
	return false
}

type RuleType string

const (
	// Unanimity means every group member must vote yes
	Unanimity RuleType = "unanimity"

	// Quorum means a fraction of the group must vote, then simple majority decides
	Quorum RuleType = "quorum"
)

type ApprovalRule struct {
	Type          RuleType `json:"type"`
	QuorumPercent float64  `json:"quorumPercent,omitempty"`
}

func (r *ApprovalRule) String() string {
	if r == nil {
		return "default"
	}
	if r.Type == Unanimity {
		return "unanimity"
	}
	return fmt.Sprintf("quorum %d%%", int(r.QuorumPercent*100+0.5))
}

// Criticality levels offered to the creator of a draft
const (
	CriticalityLow    = 1
	CriticalityMedium = 2
	CriticalityHigh   = 3
)

// RuleForCriticality maps the 1/2/3 reply to an approval rule.
func RuleForCriticality(choice int) (*ApprovalRule, bool) {
	switch choice {
	case CriticalityLow:
		return &ApprovalRule{Type: Quorum, QuorumPercent: 0.25}, true
	case CriticalityMedium:
		return &ApprovalRule{Type: Quorum, QuorumPercent: 0.5}, true
	case CriticalityHigh:
		return &ApprovalRule{Type: Unanimity}, true
	}
	return nil, false
}

type Choice string

const (
	Yes Choice = "yes"
	No  Choice = "no"
)

type VoteRecord struct {
	Choice Choice `json:"vote"`
	Final  bool   `json:"final"`
}

// UnmarshalJSON accepts both the structured record and the legacy bare "yes"/"no" form.
func (v *VoteRecord) UnmarshalJSON(data []byte) error {
	var bare string
	if err := json.Unmarshal(data, &bare); err == nil {
		*v = VoteRecord{Choice: Choice(bare)}
		return v.validate()
	}

	type plain VoteRecord
	var rec plain
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}
	*v = VoteRecord(rec)
	return v.validate()
}

func (v *VoteRecord) validate() error {
	if v.Choice != Yes && v.Choice != No {
		return fmt.Errorf("unknown vote choice %q", v.Choice)
	}
	return nil
}

// Tally is the vote summary a proposal was resolved with.
type Tally struct {
	Yes    int `json:"yes"`
	No     int `json:"no"`
	Locked int `json:"locked"`
	// group size at evaluation time, 0 until resolved
	GroupSize int `json:"groupSize,omitempty"`
}

func (t Tally) Voters() int {
	return t.Yes + t.No
}

type Proposal struct {
	ID         string                `json:"id"`
	Title      string                `json:"title"`
	ScopeID    string                `json:"groupJid"`
	OpenedBy   string                `json:"openedBy"`
	OpenedByID string                `json:"openedById,omitempty"`
	OpenedAt   time.Time             `json:"openedAtISO"`
	Deadline   time.Time             `json:"deadlineISO"`
	Status     ProposalStatus        `json:"status"`
	Approval   *ApprovalRule         `json:"approval,omitempty"`
	Votes      map[string]VoteRecord `json:"votes"`

	ResolvedAt *time.Time `json:"resolvedAtISO,omitempty"`
	Result     *Tally     `json:"result,omitempty"`
}

// Tally counts the current ledger.
func (p *Proposal) Tally() Tally {
	var t Tally
	for _, v := range p.Votes {
		switch v.Choice {
		case Yes:
			t.Yes++
		case No:
			t.No++
		}
		if v.Final {
			t.Locked++
		}
	}
	return t
}

func (p *Proposal) Expired(now time.Time) bool {
	return !p.Deadline.After(now)
}

// PendingProposal is a draft waiting for its criticality choice.
type PendingProposal struct {
	Proposal  *Proposal `json:"proposal"`
	ExpiresAt time.Time `json:"expiresAtISO"`
}

func (d *PendingProposal) Live(now time.Time) bool {
	return d != nil && now.Before(d.ExpiresAt)
}

// SelectionEntry is the numbered menu offered after an ambiguous vote reference.
type SelectionEntry struct {
	CandidateIDs []string  `json:"list"`
	ExpiresAt    time.Time `json:"expiresAtISO"`
}

func (e *SelectionEntry) Live(now time.Time) bool {
	return e != nil && now.Before(e.ExpiresAt)
}

type User struct {
	ID        string `json:"-"`
	Name      string `json:"name,omitempty"`
	XP        int    `json:"xp"`
	VoteCount int    `json:"votesCount"`
	// proposals that already paid XP to this user
	RewardedProposals map[string]bool `json:"votedProposals"`
	LastSeen          *time.Time      `json:"lastSeenISO,omitempty"`
}

// EventKind classifies inbound transport events.
type EventKind string

const (
	TextEvent    EventKind = "text"
	StickerEvent EventKind = "sticker"
)

// Event is a single inbound message delivered by the transport.
type Event struct {
	Kind EventKind `json:"kind"`
	// group the event belongs to, empty for direct messages
	ScopeID string `json:"scope_id"`
	// where replies go
	ChatID      string `json:"chat_id"`
	SenderID    string `json:"sender_id"`
	SenderName  string `json:"sender_name"`
	Text        string `json:"text,omitempty"`
	StickerHash string `json:"sticker_hash,omitempty"`
	Direct      bool   `json:"direct"`
}
