package campaign

import (
	"fmt"

	"github.com/workfund/dowfund/id"
	"github.com/workfund/dowfund/types"
)

// Payment is one historical fiat payment recorded against an owner (and
// optionally a repository). Payments are written by the surrounding
// billing integration; campaigns aggregate them per source currency.
type Payment struct {
	types.Entity
	Ref          string          `json:"ref"` // Provider payment reference, unique
	OwnerID      id.OwnerID      `json:"owner_id"`
	RepositoryID id.RepositoryID `json:"repository_id,omitempty"`
	Amount       types.Money     `json:"amount"`
}

// Validate checks structural invariants.
func (p *Payment) Validate() error {
	if p.Ref == "" {
		return fmt.Errorf("campaign: payment missing ref")
	}
	if p.OwnerID.IsNil() {
		return fmt.Errorf("campaign: payment missing owner")
	}
	if !p.Amount.IsPositive() {
		return fmt.Errorf("campaign: payment amount must be positive, got %v", p.Amount)
	}
	return nil
}

// InScope reports whether the payment belongs to the given scope.
func (p *Payment) InScope(s Scope) bool {
	if !p.OwnerID.Equal(s.OwnerID) {
		return false
	}
	if s.RepositoryID.IsNil() {
		return true
	}
	return p.RepositoryID.Equal(s.RepositoryID)
}
