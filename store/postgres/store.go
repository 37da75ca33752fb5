// Package postgres implements store.Store on PostgreSQL via database/sql
// and the pgx driver.
//
// Concurrency control for ledger writes uses transaction-scoped advisory
// locks keyed on the sponsor, so the balance check and the insert are
// atomic per sponsor without serializing unrelated commits.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver

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

// Store implements store.Store using PostgreSQL.
type Store struct {
	db *sql.DB
}

// New opens a PostgreSQL store from a connection string.
func New(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("dowfund/postgres: open: %w", err)
	}
	return &Store{db: db}, nil
}

// NewFromDB wraps an existing connection pool.
func NewFromDB(db *sql.DB) *Store {
	return &Store{db: db}
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

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// isSerialization reports whether the error is a serialization failure or
// deadlock that the engine may retry.
func isSerialization(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

func translate(err error) error {
	if isSerialization(err) {
		return fmt.Errorf("%w: %v", dowfund.ErrSerialization, err)
	}
	return err
}

// ==================== Sponsor Store ====================

func (s *Store) UpsertUser(ctx context.Context, u *sponsor.User) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO dowfund_users (id, login, email, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO UPDATE SET login = $2, email = $3, updated_at = $5`,
		u.ID, u.Login, u.Email, u.CreatedAt, u.UpdatedAt)
	return translate(err)
}

func (s *Store) GetUser(ctx context.Context, userID id.UserID) (*sponsor.User, error) {
	u := &sponsor.User{}
	err := s.db.QueryRowContext(ctx, `
SELECT id, login, email, created_at, updated_at
FROM dowfund_users WHERE id = $1`, userID).
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
VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE SET name = $2, updated_at = $4`,
		c.ID, c.Name, c.CreatedAt, c.UpdatedAt)
	return translate(err)
}

func (s *Store) GetCompany(ctx context.Context, companyID id.CompanyID) (*sponsor.Company, error) {
	c := &sponsor.Company{}
	err := s.db.QueryRowContext(ctx, `
SELECT id, name, created_at, updated_at
FROM dowfund_companies WHERE id = $1`, companyID).
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
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO UPDATE SET login = $2, name = $3, updated_at = $5`,
		o.ID, o.Login, o.Name, o.CreatedAt, o.UpdatedAt)
	return translate(err)
}

func (s *Store) GetOwner(ctx context.Context, ownerID id.OwnerID) (*issue.Owner, error) {
	return s.getOwner(ctx, `WHERE id = $1`, ownerID)
}

func (s *Store) GetOwnerByLogin(ctx context.Context, login string) (*issue.Owner, error) {
	return s.getOwner(ctx, `WHERE login = $1`, login)
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
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO UPDATE SET owner_id = $2, name = $3, updated_at = $5`,
		r.ID, r.OwnerID, r.Name, r.CreatedAt, r.UpdatedAt)
	return translate(err)
}

func (s *Store) GetRepository(ctx context.Context, repoID id.RepositoryID) (*issue.Repository, error) {
	r := &issue.Repository{}
	err := s.db.QueryRowContext(ctx, `
SELECT id, owner_id, name, created_at, updated_at
FROM dowfund_repositories WHERE id = $1`, repoID).
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
FROM dowfund_repositories WHERE owner_id = $1 AND name = $2`, ownerID, name).
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
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (repository_id, number) DO UPDATE
SET external_id = $3, title = $4, open = $5, url = $6, author = $7, updated_at = $9`,
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
FROM dowfund_issues WHERE repository_id = $1 AND number = $2`, repoID, number).
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

	// The partial unique index on (repository_id, issue_number) WHERE
	// state = 'open' makes a racing second insert fail with 23505.
	_, err := s.db.ExecContext(ctx, `
INSERT INTO dowfund_managed_issues
    (id, repository_id, issue_number, issue_external_id, manager_id,
     requested_amount, requested_unit, visibility, state, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		m.ID, m.IssueID.RepositoryID, m.IssueID.Number, m.IssueID.ExternalID,
		m.ManagerID, amount, unit, string(m.Visibility), string(m.State),
		m.CreatedAt, m.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
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
	var r managedIssueRow
	err := row.Scan(&r.ID, &r.RepositoryID, &r.IssueNumber, &r.IssueExternalID,
		&r.ManagerID, &r.RequestedAmount, &r.RequestedUnit,
		&r.Visibility, &r.State, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return r.toDomain()
}

func (s *Store) GetManagedIssue(ctx context.Context, miID id.ManagedIssueID) (*managed.ManagedIssue, error) {
	m, err := scanManagedIssue(s.db.QueryRowContext(ctx, `
SELECT `+managedIssueColumns+`
FROM dowfund_managed_issues WHERE id = $1`, miID))
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
WHERE repository_id = $1 AND issue_number = $2 AND state = 'open'`,
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
WHERE repository_id = $1 AND issue_number = $2
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
    WHERE repository_id = $1 AND issue_number = $2 AND state = 'rejected'
)`, issueID.RepositoryID, issueID.Number).Scan(&exists)
	return exists, translate(err)
}

func (s *Store) UpdateRequestedCredit(ctx context.Context, miID id.ManagedIssueID, credit types.Credit) error {
	amount, unit := creditColumns(credit)
	res, err := s.db.ExecContext(ctx, `
UPDATE dowfund_managed_issues
SET requested_amount = $2, requested_unit = $3, updated_at = NOW()
WHERE id = $1 AND state = 'open'`, miID, amount, unit)
	if err != nil {
		return translate(err)
	}
	return s.requireOpenRow(ctx, res, miID)
}

func (s *Store) TransitionManagedIssue(ctx context.Context, miID id.ManagedIssueID, target managed.State) error {
	if !managed.StateOpen.CanTransition(target) {
		return dowfund.ErrInvalidTransition
	}

	// The state guard lives in the WHERE clause: a racing transition that
	// lost leaves zero affected rows.
	res, err := s.db.ExecContext(ctx, `
UPDATE dowfund_managed_issues
SET state = $2, updated_at = NOW()
WHERE id = $1 AND state = 'open'`, miID, string(target))
	if err != nil {
		return translate(err)
	}
	return s.requireOpenRow(ctx, res, miID)
}

// requireOpenRow distinguishes "no such record" from "record no longer
// open" after a guarded zero-row update.
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
SELECT EXISTS (SELECT 1 FROM dowfund_managed_issues WHERE id = $1)`, miID).Scan(&exists); err != nil {
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

	key := p.SponsorKey()

	// Serialize commits per sponsor for the rest of this transaction.
	if _, err := tx.ExecContext(ctx,
		`SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key); err != nil {
		return translate(err)
	}

	// Rejection re-check under the lock.
	var rejected bool
	if err := tx.QueryRowContext(ctx, `
SELECT EXISTS (
    SELECT 1 FROM dowfund_managed_issues
    WHERE repository_id = $1 AND issue_number = $2 AND state = 'rejected'
)`, p.IssueID.RepositoryID, p.IssueID.Number).Scan(&rejected); err != nil {
		return translate(err)
	}
	if rejected {
		return dowfund.ErrFundingRejected
	}

	var spentStr string
	if err := tx.QueryRowContext(ctx, `
SELECT COALESCE(SUM(credit_amount), 0)
FROM dowfund_pledges WHERE sponsor_key = $1`, key).Scan(&spentStr); err != nil {
		return translate(err)
	}
	spent, err := creditFromColumns(spentStr, p.Credit.Unit)
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
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		p.ID, p.IssueID.RepositoryID, p.IssueID.Number, p.IssueID.ExternalID,
		p.UserID, p.CompanyID, key, amount, unit, p.CreatedAt, p.UpdatedAt); err != nil {
		return translate(err)
	}

	return translate(tx.Commit())
}

const pledgeColumns = `
id, repository_id, issue_number, issue_external_id, user_id, company_id,
credit_amount, credit_unit, created_at, updated_at`

func (s *Store) ListPledgesByIssue(ctx context.Context, issueID issue.IssueID) ([]*pledge.Pledge, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+pledgeColumns+`
FROM dowfund_pledges
WHERE repository_id = $1 AND issue_number = $2
ORDER BY created_at`, issueID.RepositoryID, issueID.Number)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	var out []*pledge.Pledge
	for rows.Next() {
		var r pledgeRow
		if err := rows.Scan(&r.ID, &r.RepositoryID, &r.IssueNumber, &r.IssueExternalID,
			&r.UserID, &r.CompanyID, &r.CreditAmount, &r.CreditUnit,
			&r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		p, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, translate(rows.Err())
}

func (s *Store) SumPledgesByIssue(ctx context.Context, issueID issue.IssueID) (types.Credit, error) {
	var sum string
	err := s.db.QueryRowContext(ctx, `
SELECT COALESCE(SUM(credit_amount), 0)
FROM dowfund_pledges WHERE repository_id = $1 AND issue_number = $2`,
		issueID.RepositoryID, issueID.Number).Scan(&sum)
	if err != nil {
		return types.ZeroCredit(), translate(err)
	}
	return creditFromColumns(sum, types.UnitMinute)
}

func (s *Store) SumPledgesBySponsor(ctx context.Context, userID id.UserID, companyID id.CompanyID) (types.Credit, error) {
	var sum string
	err := s.db.QueryRowContext(ctx, `
SELECT COALESCE(SUM(credit_amount), 0)
FROM dowfund_pledges WHERE sponsor_key = $1`,
		pledge.SponsorKey(userID, companyID)).Scan(&sum)
	if err != nil {
		return types.ZeroCredit(), translate(err)
	}
	return creditFromColumns(sum, types.UnitMinute)
}

// ==================== Allocation Store ====================

func (s *Store) SetAllocation(ctx context.Context, userID id.UserID, companyID id.CompanyID, credit types.Credit) error {
	amount, unit := creditColumns(credit)
	_, err := s.db.ExecContext(ctx, `
INSERT INTO dowfund_allocations (sponsor_key, amount, unit, updated_at)
VALUES ($1, $2, $3, NOW())
ON CONFLICT (sponsor_key) DO UPDATE SET amount = $2, unit = $3, updated_at = NOW()`,
		pledge.SponsorKey(userID, companyID), amount, unit)
	return translate(err)
}

func (s *Store) Allocated(ctx context.Context, userID id.UserID, companyID id.CompanyID) (types.Credit, error) {
	var amount, unit string
	err := s.db.QueryRowContext(ctx, `
SELECT amount, unit FROM dowfund_allocations WHERE sponsor_key = $1`,
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
	// Idempotent on the provider reference.
	_, err := s.db.ExecContext(ctx, `
INSERT INTO dowfund_payments (ref, owner_id, repository_id, amount, currency, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (ref) DO NOTHING`,
		p.Ref, p.OwnerID, p.RepositoryID, p.Amount.Amount, p.Amount.Currency,
		p.CreatedAt, p.UpdatedAt)
	return translate(err)
}

func (s *Store) RaisedByCurrency(ctx context.Context, scope campaign.Scope) (map[currency.Code]types.Money, error) {
	query := `
SELECT currency, COALESCE(SUM(amount), 0)
FROM dowfund_payments WHERE owner_id = $1`
	args := []any{scope.OwnerID}
	if !scope.RepositoryID.IsNil() {
		query += ` AND repository_id = $2`
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
VALUES ($1, $2, $3, $4, $5, $6)`,
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
