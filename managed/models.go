// Package managed defines the funding request attached to a tracked issue
// and its lifecycle state machine.
package managed

import (
	"fmt"

	"github.com/workfund/dowfund/id"
	"github.com/workfund/dowfund/issue"
	"github.com/workfund/dowfund/types"
)

// State is the lifecycle state of a managed issue.
//
// OPEN is the only initial and only non-terminal state. REJECTED and
// SOLVED are terminal: once reached, the record is immutable.
type State string

const (
	StateOpen     State = "open"
	StateRejected State = "rejected"
	StateSolved   State = "solved"
)

// ParseState validates a state string.
func ParseState(s string) (State, error) {
	switch State(s) {
	case StateOpen, StateRejected, StateSolved:
		return State(s), nil
	default:
		return "", fmt.Errorf("managed: invalid state %q", s)
	}
}

// IsTerminal reports whether the state permits no further transitions.
func (s State) IsTerminal() bool {
	return s == StateRejected || s == StateSolved
}

// CanTransition reports whether a transition to target is legal.
// Only OPEN → REJECTED and OPEN → SOLVED exist; everything else is refused.
func (s State) CanTransition(target State) bool {
	return s == StateOpen && target.IsTerminal()
}

// Visibility controls whether a manager's funding request exposes its
// contributors publicly.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// ParseVisibility validates a visibility string. Empty defaults to public.
func ParseVisibility(s string) (Visibility, error) {
	switch Visibility(s) {
	case "":
		return VisibilityPublic, nil
	case VisibilityPublic, VisibilityPrivate:
		return Visibility(s), nil
	default:
		return "", fmt.Errorf("managed: invalid visibility %q", s)
	}
}

// ManagedIssue is the funding request wrapper around one tracked issue,
// owned by exactly one manager at a time. At most one ManagedIssue per
// issue may be in a non-terminal state; stores enforce this with a
// uniqueness constraint.
type ManagedIssue struct {
	types.Entity
	ID              id.ManagedIssueID `json:"id"`
	IssueID         issue.IssueID     `json:"issue_id"`
	ManagerID       id.UserID         `json:"manager_id"`
	RequestedCredit *types.Credit     `json:"requested_credit,omitempty"`
	Visibility      Visibility        `json:"visibility"`
	State           State             `json:"state"`
}

// Validate checks structural invariants of the record.
func (m *ManagedIssue) Validate() error {
	if m.ID.IsNil() {
		return fmt.Errorf("managed: missing id")
	}
	if m.ManagerID.IsNil() {
		return fmt.Errorf("managed: missing manager")
	}
	if err := m.IssueID.Validate(); err != nil {
		return err
	}
	if _, err := ParseState(string(m.State)); err != nil {
		return err
	}
	if m.RequestedCredit != nil && m.RequestedCredit.IsNegative() {
		return fmt.Errorf("managed: requested credit must be non-negative")
	}
	return nil
}

// IsManagedBy reports whether the given user owns this funding request.
func (m *ManagedIssue) IsManagedBy(userID id.UserID) bool {
	return m.ManagerID.Equal(userID)
}
