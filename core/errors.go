package core

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrFinalityViolation     = errors.New("vote is locked and cannot be changed")
	ErrExpiredOrMissingDraft = errors.New("no pending proposal draft, or it expired")
	ErrInvalidChoice         = errors.New("criticality choice must be 1, 2 or 3")
	ErrProposalClosed        = errors.New("proposal is not open for voting")
	ErrNotAdmin              = errors.New("command restricted to the administrator")
)

// ValidationError reports malformed command arguments.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

func validationf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// NotFoundError reports a vote reference that matched no proposal.
type NotFoundError struct {
	Reference string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("proposal %q not found in this group", e.Reference)
}

// AmbiguousMatchError lists the candidates offered to the voter.
type AmbiguousMatchError struct {
	Reference  string
	Candidates []*Proposal
}

func (e *AmbiguousMatchError) Error() string {
	ids := make([]string, 0, len(e.Candidates))
	for _, c := range e.Candidates {
		ids = append(ids, c.ID)
	}
	return fmt.Sprintf("reference %q matches %d proposals: %s", e.Reference, len(e.Candidates), strings.Join(ids, ", "))
}

// PersistenceError means the store failed to flush; the operation is not reported as successful.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %s", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Expected reports whether err is a recoverable, user-facing outcome.
func Expected(err error) bool {
	if err == nil {
		return true
	}
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return false
	}
	var ve *ValidationError
	var nf *NotFoundError
	var am *AmbiguousMatchError
	return errors.As(err, &ve) || errors.As(err, &nf) || errors.As(err, &am) ||
		errors.Is(err, ErrFinalityViolation) || errors.Is(err, ErrExpiredOrMissingDraft) ||
		errors.Is(err, ErrInvalidChoice) || errors.Is(err, ErrProposalClosed) || errors.Is(err, ErrNotAdmin)
}
