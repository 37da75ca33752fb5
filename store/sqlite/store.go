// Package sqlite implements store.Store on SQLite via the pure-Go
// modernc.org driver. Suited to embedded and single-node deployments.
//
// SQLite allows one writer at a time; the pool is capped at a single
// connection so every guarded operation is serialized by construction.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	sqlite3 "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/workfund/dowfund"
	"github.com/workfund/dowfund/campaign"
	"github.com/workfund/dowfund/currency"
	"github.com/workfund/dowfund/id"
	"github.com/workfund/dowfund/issue"
	"github.com/workfund/dowfund/managed"
	"github.com/workfund/dowfund/pledge"
	"github.com/workfund/dowfund/sponsor"
	ledgerstore "github.com/workfund/dowfund/store"
	"github.com/workfund/dowfund/types"
)

// compile-time interface check
var _ ledgerstore.Store = (*Store)(nil)

// Store implements store.Store using SQLite.
type Store struct {
	db *sql.DB
}

// New opens a SQLite store at the given path. Use ":memory:" for an
// in-process ephemeral database.
func New(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("dowfund/sqlite: open: %w", err)
	}

	// Single writer; also keeps ":memory:" databases alive.
	db.SetMaxOpenConns(1)
	db.SetConnMaxIdleTime(0)

	return &Store{db: db}, nil
}

// DB returns the underlying database handle for direct access.
func (s *Store) DB() *sql.DB { return s.db }

// Migrate applies pending schema migrations.
func (s *Store) Migrate(ctx context.Context) error {
	return migrate(ctx, s.db)
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// isBusy reports whether the error is a lock conflict worth retrying.
func isBusy(err error) bool {
	var sqErr *sqlite3.Error
	if errors.As(err, &sqErr) {
		code := sqErr.Code() & 0xff
		return code == sqlite3lib.SQLITE_BUSY || code == sqlite3lib.SQLITE_LOCKED
	}
	return false
}

func isUniqueViolation(err error) bool {
	var sqErr *sqlite3.Error
	if errors.As(err, &sqErr) {
		return sqErr.Code()&0xff == sqlite3lib.SQLITE_CONSTRAINT
	}
	return false
}

func translate(err error) error {
	if isBusy(err) {
		return fmt.Errorf("%w: %v", dowfund.ErrSerialization, err)
	}
	return err
}

func creditFromColumns(amount, unit string) (types.Credit, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return types.Credit{}, fmt.Errorf("dowfund/sqlite: parse amount %q: %w", amount, err)
	}
	if unit == "" {
		unit = types.UnitMinute
	}
	return types.Credit{Amount: d, Unit: unit}, nil
}

func creditColumns(c types.Credit) (string, string) {
	unit := c.Unit
	if unit == "" {
		unit = types.UnitMinute
	}
	return c.Amount.String(), unit
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// sumCredits totals pledge amounts row by row in Go. SQLite's SUM()
// coerces TEXT operands to REAL, which would float-truncate ledger totals.
func sumCredits(ctx context.Context, q querier, query string, args ...any) (types.Credit, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return types.ZeroCredit(), translate(err)
	}
	defer rows.Close()

	total := types.ZeroCredit()
	for rows.Next() {
		var amount, unit string
		if err := rows.Scan(&amount, &unit); err != nil {
			return types.ZeroCredit(), err
		}
		credit, err := creditFromColumns(amount, unit)
		if err != nil {
			return types.ZeroCredit(), err
		}
		total = total.Add(credit)
	}
	return total, translate(rows.Err())
}

// ==================== Sponsor Store ====================

func (s *Store) UpsertUser(ctx context.Context, u *sponsor.User) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO dowfund_users (id, login, email, created_at, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET login = excluded.login, email = excluded.email, updated_at = excluded.updated_at`,
		u.ID, u.Login, u.Email, u.CreatedAt, u.UpdatedAt)
	return translate(err)
}

func (s *Store) GetUser(ctx context.Context, userID id.UserID) (*sponsor.User, error) {
	u := &sponsor.User{}
	err := s.db.QueryRowContext(ctx, `
SELECT id, login, email, created_at, updated_at
FROM dowfund_users WHERE id = ?`, userID).
		Scan(&u.ID, &u.Login, &u.Email, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, dowfund.ErrUserNotFound
		}
		return nil, translate(err)
	}
	return u, nil
}

func (s *Store) UpsertCompany(ctx context.Context, c *sponsor.Company) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO dowfund_companies (id, name, created_at, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET name = excluded.name, updated_at = excluded.updated_at`,
		c.ID, c.Name, c.CreatedAt, c.UpdatedAt)
	return translate(err)
}

func (s *Store) GetCompany(ctx context.Context, companyID id.CompanyID) (*sponsor.Company, error) {
	c := &sponsor.Company{}
	err := s.db.QueryRowContext(ctx, `
SELECT id, name, created_at, updated_at
FROM dowfund_companies WHERE id = ?`, companyID).
		Scan(&c.ID, &c.Name, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, dowfund.ErrCompanyNotFound
		}
		return nil, translate(err)
	}
	return c, nil
}

// ==================== Forge Entity Store ====================

func (s *Store) UpsertOwner(ctx context.Context, o *issue.Owner) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO dowfund_owners (id, login, name, created_at, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET login = excluded.login, name = excluded.name, updated_at = excluded.updated_at`,
		o.ID, o.Login, o.Name, o.CreatedAt, o.UpdatedAt)
	return translate(err)
}

func (s *Store) GetOwner(ctx context.Context, ownerID id.OwnerID) (*issue.Owner, error) {
	return s.getOwner(ctx, `WHERE id = ?`, ownerID)
}

func (s *Store) GetOwnerByLogin(ctx context.Context, login string) (*issue.Owner, error) {
	return s.getOwner(ctx, `WHERE login = ?`, login)
}

func (s *Store) getOwner(ctx context.Context, where string, arg any) (*issue.Owner, error) {
	o := &issue.Owner{}
	err := s.db.QueryRowContext(ctx, `
SELECT id, login, name, created_at, updated_at
FROM dowfund_owners `+where, arg).
		Scan(&o.ID, &o.Login, &o.Name, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, dowfund.ErrOwnerNotFound
		}
		return nil, translate(err)
	}
	return o, nil
}

func (s *Store) UpsertRepository(ctx context.Context, r *issue.Repository) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO dowfund_repositories (id, owner_id, name, created_at, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET owner_id = excluded.owner_id, name = excluded.name, updated_at = excluded.updated_at`,
		r.ID, r.OwnerID, r.Name, r.CreatedAt, r.UpdatedAt)
	return translate(err)
}

func (s *Store) GetRepository(ctx context.Context, repoID id.RepositoryID) (*issue.Repository, error) {
	r := &issue.Repository{}
	err := s.db.QueryRowContext(ctx, `
SELECT id, owner_id, name, created_at, updated_at
FROM dowfund_repositories WHERE id = ?`, repoID).
		Scan(&r.ID, &r.OwnerID, &r.Name, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, dowfund.ErrRepositoryNotFound
		}
		return nil, translate(err)
	}
	return r, nil
}

func (s *Store) GetRepositoryByName(ctx context.Context, ownerID id.OwnerID, name string) (*issue.Repository, error) {
	r := &issue.Repository{}
	err := s.db.QueryRowContext(ctx, `
SELECT id, owner_id, name, created_at, updated_at
FROM dowfund_repositories WHERE owner_id = ? AND name = ?`, ownerID, name).
		Scan(&r.ID, &r.OwnerID, &r.Name, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, dowfund.ErrRepositoryNotFound
		}
		return nil, translate(err)
	}
	return r, nil
}

func (s *Store) UpsertIssue(ctx context.Context, i *issue.Issue) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO dowfund_issues (repository_id, number, external_id, title, open, url, author, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (repository_id, number) DO UPDATE
SET external_id = excluded.external_id, title = excluded.title, open = excluded.open,
    url = excluded.url, author = excluded.author, updated_at = excluded.updated_at`,
		i.ID.RepositoryID, i.ID.Number, i.ID.ExternalID,
		i.Title, i.Open, i.URL, i.Author, i.CreatedAt, i.UpdatedAt)
	return translate(err)
}

func (s *Store) GetIssue(ctx context.Context, issueID issue.IssueID) (*issue.Issue, error) {
	return s.GetIssueByNumber(ctx, issueID.RepositoryID, issueID.Number)
}

func (s *Store) GetIssueByNumber(ctx context.Context, repoID id.RepositoryID, number int) (*issue.Issue, error) {
	i := &issue.Issue{}
	err := s.db.QueryRowContext(ctx, `
SELECT repository_id, number, external_id, title, open, url, author, created_at, updated_at
FROM dowfund_issues WHERE repository_id = ? AND number = ?`, repoID, number).
		Scan(&i.ID.RepositoryID, &i.ID.Number, &i.ID.ExternalID,
			&i.Title, &i.Open, &i.URL, &i.Author, &i.CreatedAt, &i.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, dowfund.ErrIssueNotFound
		}
		return nil, translate(err)
	}
	return i, nil
}

// ==================== Managed Issue Store ====================

func (s *Store) CreateManagedIssue(ctx context.Context, m *managed.ManagedIssue) error {
	var amount, unit any
	if m.RequestedCredit != nil {
		amount, unit = creditColumns(*m.RequestedCredit)
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO dowfund_managed_issues
    (id, repository_id, issue_number, issue_external_id, manager_id,
     requested_amount, requested_unit, visibility, state, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.IssueID.RepositoryID, m.IssueID.Number, m.IssueID.ExternalID,
		m.ManagerID, amount, unit, string(m.Visibility), string(m.State),
		m.CreatedAt, m.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return dowfund.ErrAlreadyManaged
		}
		return translate(err)
	}
	return nil
}

const managedIssueColumns = `
id, repository_id, issue_number, issue_external_id, manager_id,
requested_amount, requested_unit, visibility, state, created_at, updated_at`

func scanManagedIssue(row interface{ Scan(...any) error }) (*managed.ManagedIssue, error) {
	var (
		mid             id.ManagedIssueID
		repoID          id.RepositoryID
		number          int
		externalID      int64
		managerID       id.UserID
		requestedAmount sql.NullString
		requestedUnit   sql.NullString
		visibility      string
		state           string
		createdAt       time.Time
		updatedAt       time.Time
	)
	err := row.Scan(&mid, &repoID, &number, &externalID, &managerID,
		&requestedAmount, &requestedUnit, &visibility, &state, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	parsedState, err := managed.ParseState(state)
	if err != nil {
		return nil, dowfund.ValidationError{Entity: "managed_issue", Field: "state", Message: err.Error()}
	}
	parsedVisibility, err := managed.ParseVisibility(visibility)
	if err != nil {
		return nil, dowfund.ValidationError{Entity: "managed_issue", Field: "visibility", Message: err.Error()}
	}
	iid, err := issue.NewIssueID(repoID, number, externalID)
	if err != nil {
		return nil, dowfund.ValidationError{Entity: "managed_issue", Field: "issue_id", Message: err.Error()}
	}

	m := &managed.ManagedIssue{
		Entity:     types.Entity{CreatedAt: createdAt, UpdatedAt: updatedAt},
		ID:         mid,
		IssueID:    iid,
		ManagerID:  managerID,
		Visibility: parsedVisibility,
		State:      parsedState,
	}
	if requestedAmount.Valid {
		credit, err := creditFromColumns(requestedAmount.String, requestedUnit.String)
		if err != nil {
			return nil, dowfund.ValidationError{Entity: "managed_issue", Field: "requested_amount", Message: err.Error()}
		}
		m.RequestedCredit = &credit
	}
	return m, nil
}

func (s *Store) GetManagedIssue(ctx context.Context, miID id.ManagedIssueID) (*managed.ManagedIssue, error) {
	m, err := scanManagedIssue(s.db.QueryRowContext(ctx, `
SELECT `+managedIssueColumns+`
FROM dowfund_managed_issues WHERE id = ?`, miID))
	if err != nil {
		if isNoRows(err) {
			return nil, dowfund.ErrManagedIssueNotFound
		}
		return nil, translate(err)
	}
	return m, nil
}

func (s *Store) GetOpenManagedIssue(ctx context.Context, issueID issue.IssueID) (*managed.ManagedIssue, error) {
	m, err := scanManagedIssue(s.db.QueryRowContext(ctx, `
SELECT `+managedIssueColumns+`
FROM dowfund_managed_issues
WHERE repository_id = ? AND issue_number = ? AND state = 'open'`,
		issueID.RepositoryID, issueID.Number))
	if err != nil {
		if isNoRows(err) {
			return nil, dowfund.ErrManagedIssueNotFound
		}
		return nil, translate(err)
	}
	return m, nil
}

func (s *Store) ListManagedIssues(ctx context.Context, issueID issue.IssueID) ([]*managed.ManagedIssue, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+managedIssueColumns+`
FROM dowfund_managed_issues
WHERE repository_id = ? AND issue_number = ?
ORDER BY created_at`, issueID.RepositoryID, issueID.Number)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	var out []*managed.ManagedIssue
	for rows.Next() {
		m, err := scanManagedIssue(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, translate(rows.Err())
}

func (s *Store) HasRejectedManagedIssue(ctx context.Context, issueID issue.IssueID) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
SELECT EXISTS (
    SELECT 1 FROM dowfund_managed_issues
    WHERE repository_id = ? AND issue_number = ? AND state = 'rejected'
)`, issueID.RepositoryID, issueID.Number).Scan(&exists)
	return exists, translate(err)
}

func (s *Store) UpdateRequestedCredit(ctx context.Context, miID id.ManagedIssueID, credit types.Credit) error {
	amount, unit := creditColumns(credit)
	res, err := s.db.ExecContext(ctx, `
UPDATE dowfund_managed_issues
SET requested_amount = ?, requested_unit = ?, updated_at = CURRENT_TIMESTAMP
WHERE id = ? AND state = 'open'`, amount, unit, miID)
	if err != nil {
		return translate(err)
	}
	return s.requireOpenRow(ctx, res, miID)
}

func (s *Store) TransitionManagedIssue(ctx context.Context, miID id.ManagedIssueID, target managed.State) error {
	if !managed.StateOpen.CanTransition(target) {
		return dowfund.ErrInvalidTransition
	}

	res, err := s.db.ExecContext(ctx, `
UPDATE dowfund_managed_issues
SET state = ?, updated_at = CURRENT_TIMESTAMP
WHERE id = ? AND state = 'open'`, string(target), miID)
	if err != nil {
		return translate(err)
	}
	return s.requireOpenRow(ctx, res, miID)
}

func (s *Store) requireOpenRow(ctx context.Context, res sql.Result, miID id.ManagedIssueID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return translate(err)
	}
	if n > 0 {
		return nil
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, `
SELECT EXISTS (SELECT 1 FROM dowfund_managed_issues WHERE id = ?)`, miID).Scan(&exists); err != nil {
		return translate(err)
	}
	if !exists {
		return dowfund.ErrManagedIssueNotFound
	}
	return dowfund.ErrInvalidTransition
}

// ==================== Ledger Store ====================

func (s *Store) CommitPledge(ctx context.Context, p *pledge.Pledge, allocated types.Credit) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return translate(err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	var rejected bool
	if err := tx.QueryRowContext(ctx, `
SELECT EXISTS (
    SELECT 1 FROM dowfund_managed_issues
    WHERE repository_id = ? AND issue_number = ? AND state = 'rejected'
)`, p.IssueID.RepositoryID, p.IssueID.Number).Scan(&rejected); err != nil {
		return translate(err)
	}
	if rejected {
		return dowfund.ErrFundingRejected
	}

	key := p.SponsorKey()

	spent, err := sumCredits(ctx, tx, `
SELECT credit_amount, credit_unit
FROM dowfund_pledges WHERE sponsor_key = ?`, key)
	if err != nil {
		return err
	}

	if spent.Add(p.Credit).Cmp(allocated) > 0 {
		return dowfund.ErrInsufficientCredit
	}

	amount, unit := creditColumns(p.Credit)
	if _, err := tx.ExecContext(ctx, `
INSERT INTO dowfund_pledges
    (id, repository_id, issue_number, issue_external_id, user_id, company_id,
     sponsor_key, credit_amount, credit_unit, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.IssueID.RepositoryID, p.IssueID.Number, p.IssueID.ExternalID,
		p.UserID, p.CompanyID, key, amount, unit, p.CreatedAt, p.UpdatedAt); err != nil {
		return translate(err)
	}

	return translate(tx.Commit())
}

func (s *Store) ListPledgesByIssue(ctx context.Context, issueID issue.IssueID) ([]*pledge.Pledge, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, repository_id, issue_number, issue_external_id, user_id, company_id,
       credit_amount, credit_unit, created_at, updated_at
FROM dowfund_pledges
WHERE repository_id = ? AND issue_number = ?
ORDER BY created_at`, issueID.RepositoryID, issueID.Number)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	var out []*pledge.Pledge
	for rows.Next() {
		var (
			pid          id.PledgeID
			repoID       id.RepositoryID
			number       int
			externalID   int64
			userID       id.UserID
			companyID    id.CompanyID
			creditAmount string
			creditUnit   string
			createdAt    time.Time
			updatedAt    time.Time
		)
		if err := rows.Scan(&pid, &repoID, &number, &externalID, &userID, &companyID,
			&creditAmount, &creditUnit, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		iid, err := issue.NewIssueID(repoID, number, externalID)
		if err != nil {
			return nil, dowfund.ValidationError{Entity: "pledge", Field: "issue_id", Message: err.Error()}
		}
		credit, err := creditFromColumns(creditAmount, creditUnit)
		if err != nil {
			return nil, err
		}
		out = append(out, &pledge.Pledge{
			Entity:    types.Entity{CreatedAt: createdAt, UpdatedAt: updatedAt},
			ID:        pid,
			IssueID:   iid,
			UserID:    userID,
			CompanyID: companyID,
			Credit:    credit,
		})
	}
	return out, translate(rows.Err())
}

func (s *Store) SumPledgesByIssue(ctx context.Context, issueID issue.IssueID) (types.Credit, error) {
	return sumCredits(ctx, s.db, `
SELECT credit_amount, credit_unit
FROM dowfund_pledges WHERE repository_id = ? AND issue_number = ?`,
		issueID.RepositoryID, issueID.Number)
}

func (s *Store) SumPledgesBySponsor(ctx context.Context, userID id.UserID, companyID id.CompanyID) (types.Credit, error) {
	return sumCredits(ctx, s.db, `
SELECT credit_amount, credit_unit
FROM dowfund_pledges WHERE sponsor_key = ?`,
		pledge.SponsorKey(userID, companyID))
}

// ==================== Allocation Store ====================

func (s *Store) SetAllocation(ctx context.Context, userID id.UserID, companyID id.CompanyID, credit types.Credit) error {
	amount, unit := creditColumns(credit)
	_, err := s.db.ExecContext(ctx, `
INSERT INTO dowfund_allocations (sponsor_key, amount, unit, updated_at)
VALUES (?, ?, ?, CURRENT_TIMESTAMP)
ON CONFLICT (sponsor_key) DO UPDATE SET amount = excluded.amount, unit = excluded.unit, updated_at = CURRENT_TIMESTAMP`,
		pledge.SponsorKey(userID, companyID), amount, unit)
	return translate(err)
}

func (s *Store) Allocated(ctx context.Context, userID id.UserID, companyID id.CompanyID) (types.Credit, error) {
	var amount, unit string
	err := s.db.QueryRowContext(ctx, `
SELECT amount, unit FROM dowfund_allocations WHERE sponsor_key = ?`,
		pledge.SponsorKey(userID, companyID)).Scan(&amount, &unit)
	if err != nil {
		if isNoRows(err) {
			return types.ZeroCredit(), nil
		}
		return types.ZeroCredit(), translate(err)
	}
	return creditFromColumns(amount, unit)
}

// ==================== Campaign Store ====================

func (s *Store) RecordPayment(ctx context.Context, p *campaign.Payment) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO dowfund_payments (ref, owner_id, repository_id, amount, currency, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (ref) DO NOTHING`,
		p.Ref, p.OwnerID, p.RepositoryID, p.Amount.Amount, p.Amount.Currency,
		p.CreatedAt, p.UpdatedAt)
	return translate(err)
}

func (s *Store) RaisedByCurrency(ctx context.Context, scope campaign.Scope) (map[currency.Code]types.Money, error) {
	query := `
SELECT currency, COALESCE(SUM(amount), 0)
FROM dowfund_payments WHERE owner_id = ?`
	args := []any{scope.OwnerID}
	if !scope.RepositoryID.IsNil() {
		query += ` AND repository_id = ?`
		args = append(args, scope.RepositoryID)
	}
	query += ` GROUP BY currency`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	raised := make(map[currency.Code]types.Money)
	for rows.Next() {
		var cur string
		var amount int64
		if err := rows.Scan(&cur, &amount); err != nil {
			return nil, err
		}
		code, err := currency.Parse(cur)
		if err != nil {
			return nil, err
		}
		raised[code] = types.Money{Amount: amount, Currency: cur}
	}
	return raised, translate(rows.Err())
}

func (s *Store) SetPrices(ctx context.Context, prices []campaign.Price) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return translate(err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	if _, err := tx.ExecContext(ctx, `DELETE FROM dowfund_prices`); err != nil {
		return translate(err)
	}
	for i, pr := range prices {
		amount, unit := creditColumns(pr.Credit)
		if _, err := tx.ExecContext(ctx, `
INSERT INTO dowfund_prices (position, label, currency, amount, credit_amount, credit_unit)
VALUES (?, ?, ?, ?, ?, ?)`,
			i, pr.Label, string(pr.Currency), pr.Amount.Amount, amount, unit); err != nil {
			return translate(err)
		}
	}
	return translate(tx.Commit())
}

func (s *Store) ListPrices(ctx context.Context) ([]campaign.Price, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT label, currency, amount, credit_amount, credit_unit
FROM dowfund_prices ORDER BY position`)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	var out []campaign.Price
	for rows.Next() {
		var label, cur, creditAmount, creditUnit string
		var amount int64
		if err := rows.Scan(&label, &cur, &amount, &creditAmount, &creditUnit); err != nil {
			return nil, err
		}
		code, err := currency.Parse(cur)
		if err != nil {
			return nil, err
		}
		credit, err := creditFromColumns(creditAmount, creditUnit)
		if err != nil {
			return nil, err
		}
		out = append(out, campaign.Price{
			Label:    label,
			Currency: code,
			Amount:   types.Money{Amount: amount, Currency: cur},
			Credit:   credit,
		})
	}
	return out, translate(rows.Err())
}
