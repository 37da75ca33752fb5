package dowfund

import (
	"errors"
	"fmt"
)

// Sentinel errors for the funding engine. Handlers map these to transport
// status codes; stores return them so business rules stay in one taxonomy.
var (
	// General errors
	ErrUnauthorized  = errors.New("dowfund: no authenticated caller")
	ErrNotFound      = errors.New("dowfund: not found")
	ErrInvalidInput  = errors.New("dowfund: invalid input")
	ErrInvalidAmount = errors.New("dowfund: amount must be positive")

	// Entity lookup errors
	ErrUserNotFound         = errors.New("dowfund: user not found")
	ErrCompanyNotFound      = errors.New("dowfund: company not found")
	ErrOwnerNotFound        = errors.New("dowfund: owner not found")
	ErrRepositoryNotFound   = errors.New("dowfund: repository not found")
	ErrIssueNotFound        = errors.New("dowfund: issue not found")
	ErrManagedIssueNotFound = errors.New("dowfund: no funding request for issue")

	// Managed issue errors
	ErrAlreadyManaged     = errors.New("dowfund: another manager already has an open funding request for this issue")
	ErrNotManager         = errors.New("dowfund: caller does not manage this funding request")
	ErrInvalidTransition  = errors.New("dowfund: illegal state transition")
	ErrIssueClosed        = errors.New("dowfund: issue is closed")
	ErrGoalBelowCollected = errors.New("dowfund: requested amount is below the credit already collected")

	// Ledger errors
	ErrFundingRejected    = errors.New("dowfund: funding has been rejected for this issue and cannot be resumed")
	ErrFundingClosed      = errors.New("dowfund: funding is closed for this solved issue")
	ErrInsufficientCredit = errors.New("dowfund: insufficient credit for this commitment")

	// Transient errors — safe to retry
	ErrSerialization = errors.New("dowfund: transaction serialization conflict")
	ErrStoreClosed   = errors.New("dowfund: store is closed")

	// Invariant errors — data integrity breaches, never retried
	ErrNegativeBalance      = errors.New("dowfund: sponsor balance is negative")
	ErrDuplicateOpenRequest = errors.New("dowfund: multiple open funding requests for one issue")
)

// ValidationError represents a row that failed to parse into a typed entity.
type ValidationError struct {
	Entity  string
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("dowfund: invalid %s: %s: %s", e.Entity, e.Field, e.Message)
}

// IsNotFound reports whether the error is any not-found lookup failure.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrUserNotFound) ||
		errors.Is(err, ErrCompanyNotFound) ||
		errors.Is(err, ErrOwnerNotFound) ||
		errors.Is(err, ErrRepositoryNotFound) ||
		errors.Is(err, ErrIssueNotFound) ||
		errors.Is(err, ErrManagedIssueNotFound)
}

// IsForbidden reports whether the error is a permission refusal: wrong
// manager, a closed issue, or funding attempted on a permanently rejected
// issue.
func IsForbidden(err error) bool {
	return errors.Is(err, ErrNotManager) ||
		errors.Is(err, ErrFundingRejected) ||
		errors.Is(err, ErrIssueClosed)
}

// IsRetryable reports whether the error is transient and the operation can
// be retried safely.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrSerialization)
}

// IsInvariant reports whether the error is a data-integrity breach. These
// are logged with full context, surfaced as internal errors, and never
// retried automatically.
func IsInvariant(err error) bool {
	return errors.Is(err, ErrNegativeBalance) ||
		errors.Is(err, ErrDuplicateOpenRequest)
}
