// Package pledge defines the append-only funding ledger entries.
//
// A Pledge records one sponsor committing DoW credit toward one issue.
// Entries are never mutated or deleted once written: they are the
// financial audit trail backing every collected-amount computation.
package pledge

import (
	"fmt"

	"github.com/workfund/dowfund/id"
	"github.com/workfund/dowfund/issue"
	"github.com/workfund/dowfund/types"
)

// Pledge is one funding commitment against an issue.
//
// CompanyID is set when the sponsor spends company credit rather than
// personal credit; the balance check then runs against the company.
type Pledge struct {
	types.Entity
	ID        id.PledgeID   `json:"id"`
	IssueID   issue.IssueID `json:"issue_id"`
	UserID    id.UserID     `json:"user_id"`
	CompanyID id.CompanyID  `json:"company_id,omitempty"`
	Credit    types.Credit  `json:"credit"`
}

// Validate checks structural invariants. Credit must be strictly positive;
// a zero or negative ledger entry is never legal.
func (p *Pledge) Validate() error {
	if p.ID.IsNil() {
		return fmt.Errorf("pledge: missing id")
	}
	if p.UserID.IsNil() {
		return fmt.Errorf("pledge: missing user")
	}
	if err := p.IssueID.Validate(); err != nil {
		return err
	}
	if !p.Credit.IsPositive() {
		return fmt.Errorf("pledge: credit must be positive, got %s", p.Credit)
	}
	return nil
}

// SponsorKey returns the balance-accounting key for this entry: the
// company when company credit is spent, otherwise the user.
func (p *Pledge) SponsorKey() string {
	return SponsorKey(p.UserID, p.CompanyID)
}

// SponsorKey derives the balance-accounting key for a sponsor pair.
// Company credit is pooled per company; personal credit per user.
func SponsorKey(userID id.UserID, companyID id.CompanyID) string {
	if !companyID.IsNil() {
		return companyID.String()
	}
	return userID.String()
}
