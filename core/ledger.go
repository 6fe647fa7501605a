package core

import (
	"time"
)

// Award describes the outcome of crediting a vote to a user.
type Award struct {
	Granted bool
	XP      int
	Before  LevelInfo
	After   LevelInfo
}

func (a Award) LeveledUp() bool {
	return a.Granted && a.After.Level > a.Before.Level
}

// RecordVoteOnce pays xp the first time user votes on proposalID. Later calls only refresh LastSeen.
func RecordVoteOnce(user *User, proposalID string, xp int, now time.Time) Award {
	seen := now
	user.LastSeen = &seen

	before := LevelFromXP(user.XP)
	if user.RewardedProposals == nil {
		user.RewardedProposals = make(map[string]bool)
	}
	if user.RewardedProposals[proposalID] {
		return Award{Before: before, After: before}
	}

	if xp < 0 {
		xp = 0
	}
	user.RewardedProposals[proposalID] = true
	user.XP += xp
	user.VoteCount++

	return Award{
		Granted: true,
		XP:      xp,
		Before:  before,
		After:   LevelFromXP(user.XP),
	}
}

// ApplyVote records or changes voter's choice. A locked vote is never touched.
func ApplyVote(p *Proposal, voter *User, choice Choice, xp int, now time.Time) (Award, error) {
	if p.Status != Open {
		return Award{}, ErrProposalClosed
	}
	if choice != Yes && choice != No {
		return Award{}, validationf("vote must be yes or no")
	}
	if rec, ok := p.Votes[voter.ID]; ok && rec.Final {
		return Award{}, ErrFinalityViolation
	}

	if p.Votes == nil {
		p.Votes = make(map[string]VoteRecord)
	}
	p.Votes[voter.ID] = VoteRecord{Choice: choice}
	return RecordVoteOnce(voter, p.ID, xp, now), nil
}

// LockVote makes voter's vote final. Locking without a prior vote counts as a final yes.
func LockVote(p *Proposal, voter *User, xp int, now time.Time) (Award, error) {
	if p.Status != Open {
		return Award{}, ErrProposalClosed
	}
	if p.Votes == nil {
		p.Votes = make(map[string]VoteRecord)
	}

	rec, ok := p.Votes[voter.ID]
	switch {
	case !ok:
		p.Votes[voter.ID] = VoteRecord{Choice: Yes, Final: true}
		return RecordVoteOnce(voter, p.ID, xp, now), nil
	case rec.Final:
		return Award{}, nil
	default:
		rec.Final = true
		p.Votes[voter.ID] = rec
		return Award{}, nil
	}
}
