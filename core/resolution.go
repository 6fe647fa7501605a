package core

import (
	"math"
)

// Verdict is the outcome of evaluating a tally against an approval rule.
type Verdict struct {
	Status ProposalStatus
	// votes required by the quorum, 0 when no quorum applied
	Needed int
}

// Resolve decides an expired proposal. A quorum rule (or a positive fallbackQuorum when no
// rule was chosen) cancels the proposal if too few members voted; otherwise a tie is tied
// and the majority wins. Unanimity needs every member to vote yes.
func Resolve(t Tally, rule *ApprovalRule, groupSize int, fallbackQuorum float64) Verdict {
	if rule != nil && rule.Type == Unanimity {
		if t.Yes == groupSize && t.No == 0 {
			return Verdict{Status: Approved}
		}
		return Verdict{Status: Rejected}
	}

	quorum := fallbackQuorum
	if rule != nil && rule.Type == Quorum {
		quorum = rule.QuorumPercent
	}

	var needed int
	if quorum > 0 {
		needed = int(math.Ceil(float64(groupSize) * quorum))
		if t.Voters() < needed {
			return Verdict{Status: Cancelled, Needed: needed}
		}
	}

	switch {
	case t.Yes == t.No:
		return Verdict{Status: Tied, Needed: needed}
	case t.Yes > t.No:
		return Verdict{Status: Approved, Needed: needed}
	default:
		return Verdict{Status: Rejected, Needed: needed}
	}
}
