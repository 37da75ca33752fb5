package postgres

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/workfund/dowfund"
	"github.com/workfund/dowfund/id"
	"github.com/workfund/dowfund/issue"
	"github.com/workfund/dowfund/managed"
	"github.com/workfund/dowfund/pledge"
	"github.com/workfund/dowfund/types"
)

// Row models mirror table layouts. Credit amounts live in NUMERIC columns
// and are scanned as strings so no precision is lost between the database
// and decimal arithmetic.

type managedIssueRow struct {
	ID              id.ManagedIssueID
	RepositoryID    id.RepositoryID
	IssueNumber     int
	IssueExternalID int64
	ManagerID       id.UserID
	RequestedAmount sql.NullString
	RequestedUnit   sql.NullString
	Visibility      string
	State           string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (r *managedIssueRow) toDomain() (*managed.ManagedIssue, error) {
	state, err := managed.ParseState(r.State)
	if err != nil {
		return nil, dowfund.ValidationError{Entity: "managed_issue", Field: "state", Message: err.Error()}
	}
	visibility, err := managed.ParseVisibility(r.Visibility)
	if err != nil {
		return nil, dowfund.ValidationError{Entity: "managed_issue", Field: "visibility", Message: err.Error()}
	}

	iid, err := issue.NewIssueID(r.RepositoryID, r.IssueNumber, r.IssueExternalID)
	if err != nil {
		return nil, dowfund.ValidationError{Entity: "managed_issue", Field: "issue_id", Message: err.Error()}
	}

	m := &managed.ManagedIssue{
		Entity:     types.Entity{CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt},
		ID:         r.ID,
		IssueID:    iid,
		ManagerID:  r.ManagerID,
		Visibility: visibility,
		State:      state,
	}

	if r.RequestedAmount.Valid {
		credit, err := creditFromColumns(r.RequestedAmount.String, r.RequestedUnit.String)
		if err != nil {
			return nil, dowfund.ValidationError{Entity: "managed_issue", Field: "requested_amount", Message: err.Error()}
		}
		m.RequestedCredit = &credit
	}

	return m, nil
}

type pledgeRow struct {
	ID              id.PledgeID
	RepositoryID    id.RepositoryID
	IssueNumber     int
	IssueExternalID int64
	UserID          id.UserID
	CompanyID       id.CompanyID
	CreditAmount    string
	CreditUnit      string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (r *pledgeRow) toDomain() (*pledge.Pledge, error) {
	iid, err := issue.NewIssueID(r.RepositoryID, r.IssueNumber, r.IssueExternalID)
	if err != nil {
		return nil, dowfund.ValidationError{Entity: "pledge", Field: "issue_id", Message: err.Error()}
	}

	credit, err := creditFromColumns(r.CreditAmount, r.CreditUnit)
	if err != nil {
		return nil, dowfund.ValidationError{Entity: "pledge", Field: "credit_amount", Message: err.Error()}
	}

	return &pledge.Pledge{
		Entity:    types.Entity{CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt},
		ID:        r.ID,
		IssueID:   iid,
		UserID:    r.UserID,
		CompanyID: r.CompanyID,
		Credit:    credit,
	}, nil
}

func creditFromColumns(amount, unit string) (types.Credit, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return types.Credit{}, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	if unit == "" {
		unit = types.UnitMinute
	}
	return types.Credit{Amount: d, Unit: unit}, nil
}

// creditColumns splits a Credit into its column values for INSERT/UPDATE.
func creditColumns(c types.Credit) (string, string) {
	unit := c.Unit
	if unit == "" {
		unit = types.UnitMinute
	}
	return c.Amount.String(), unit
}
