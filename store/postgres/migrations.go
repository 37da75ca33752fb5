package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

type migration struct {
	version string
	name    string
	up      string
}

// migrations run in order; each applies once, tracked in
// dowfund_schema_migrations.
var migrations = []migration{
	{
		version: "20250301000001",
		name:    "create_sponsors",
		up: `
CREATE TABLE IF NOT EXISTS dowfund_users (
    id         TEXT PRIMARY KEY,
    login      TEXT NOT NULL DEFAULT '',
    email      TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS dowfund_companies (
    id         TEXT PRIMARY KEY,
    name       TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`,
	},
	{
		version: "20250301000002",
		name:    "create_forge_entities",
		up: `
CREATE TABLE IF NOT EXISTS dowfund_owners (
    id         TEXT PRIMARY KEY,
    login      TEXT NOT NULL DEFAULT '',
    name       TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_dowfund_owners_login ON dowfund_owners (login);

CREATE TABLE IF NOT EXISTS dowfund_repositories (
    id         TEXT PRIMARY KEY,
    owner_id   TEXT NOT NULL REFERENCES dowfund_owners (id),
    name       TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_dowfund_repos_owner_name ON dowfund_repositories (owner_id, name);

CREATE TABLE IF NOT EXISTS dowfund_issues (
    repository_id TEXT NOT NULL REFERENCES dowfund_repositories (id),
    number        INT NOT NULL,
    external_id   BIGINT NOT NULL,
    title         TEXT NOT NULL DEFAULT '',
    open          BOOLEAN NOT NULL DEFAULT TRUE,
    url           TEXT NOT NULL DEFAULT '',
    author        TEXT NOT NULL DEFAULT '',
    created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (repository_id, number)
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_dowfund_issues_external ON dowfund_issues (external_id);`,
	},
	{
		version: "20250301000003",
		name:    "create_managed_issues",
		up: `
CREATE TABLE IF NOT EXISTS dowfund_managed_issues (
    id                TEXT PRIMARY KEY,
    repository_id     TEXT NOT NULL,
    issue_number      INT NOT NULL,
    issue_external_id BIGINT NOT NULL,
    manager_id        TEXT NOT NULL,
    requested_amount  NUMERIC(20, 6),
    requested_unit    TEXT,
    visibility        TEXT NOT NULL DEFAULT 'public',
    state             TEXT NOT NULL DEFAULT 'open',
    created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    FOREIGN KEY (repository_id, issue_number) REFERENCES dowfund_issues (repository_id, number)
);

-- At most one open funding request per issue.
CREATE UNIQUE INDEX IF NOT EXISTS idx_dowfund_managed_single_open
    ON dowfund_managed_issues (repository_id, issue_number) WHERE state = 'open';

CREATE INDEX IF NOT EXISTS idx_dowfund_managed_issue
    ON dowfund_managed_issues (repository_id, issue_number);`,
	},
	{
		version: "20250301000004",
		name:    "create_pledges",
		up: `
CREATE TABLE IF NOT EXISTS dowfund_pledges (
    id                TEXT PRIMARY KEY,
    repository_id     TEXT NOT NULL,
    issue_number      INT NOT NULL,
    issue_external_id BIGINT NOT NULL,
    user_id           TEXT NOT NULL,
    company_id        TEXT,
    sponsor_key       TEXT NOT NULL,
    credit_amount     NUMERIC(20, 6) NOT NULL CHECK (credit_amount > 0),
    credit_unit       TEXT NOT NULL DEFAULT 'minute',
    created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    FOREIGN KEY (repository_id, issue_number) REFERENCES dowfund_issues (repository_id, number)
);

CREATE INDEX IF NOT EXISTS idx_dowfund_pledges_issue
    ON dowfund_pledges (repository_id, issue_number);
CREATE INDEX IF NOT EXISTS idx_dowfund_pledges_sponsor
    ON dowfund_pledges (sponsor_key);`,
	},
	{
		version: "20250301000005",
		name:    "create_allocations",
		up: `
CREATE TABLE IF NOT EXISTS dowfund_allocations (
    sponsor_key TEXT PRIMARY KEY,
    amount      NUMERIC(20, 6) NOT NULL DEFAULT 0,
    unit        TEXT NOT NULL DEFAULT 'minute',
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`,
	},
	{
		version: "20250301000006",
		name:    "create_campaign_data",
		up: `
CREATE TABLE IF NOT EXISTS dowfund_payments (
    ref           TEXT PRIMARY KEY,
    owner_id      TEXT NOT NULL,
    repository_id TEXT,
    amount        BIGINT NOT NULL CHECK (amount > 0),
    currency      TEXT NOT NULL,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_dowfund_payments_owner ON dowfund_payments (owner_id);

CREATE TABLE IF NOT EXISTS dowfund_prices (
    position      INT PRIMARY KEY,
    label         TEXT NOT NULL DEFAULT '',
    currency      TEXT NOT NULL,
    amount        BIGINT NOT NULL,
    credit_amount NUMERIC(20, 6) NOT NULL,
    credit_unit   TEXT NOT NULL DEFAULT 'minute'
);`,
	},
}

func migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS dowfund_schema_migrations (
    version    TEXT PRIMARY KEY,
    name       TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`); err != nil {
		return fmt.Errorf("dowfund/postgres: create migrations table: %w", err)
	}

	for _, m := range migrations {
		applied, err := isApplied(ctx, db, m.version)
		if err != nil {
			return err
		}
		if applied {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("dowfund/postgres: begin migration %s: %w", m.version, err)
		}
		if _, err := tx.ExecContext(ctx, m.up); err != nil {
			tx.Rollback() //nolint:errcheck // rollback on failure path
			return fmt.Errorf("dowfund/postgres: migration %s (%s): %w", m.version, m.name, err)
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO dowfund_schema_migrations (version, name) VALUES ($1, $2)`,
			m.version, m.name); err != nil {
			tx.Rollback() //nolint:errcheck // rollback on failure path
			return fmt.Errorf("dowfund/postgres: record migration %s: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("dowfund/postgres: commit migration %s: %w", m.version, err)
		}
	}

	return nil
}

func isApplied(ctx context.Context, db *sql.DB, version string) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx, `
SELECT EXISTS (SELECT 1 FROM dowfund_schema_migrations WHERE version = $1)`, version).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("dowfund/postgres: check migration %s: %w", version, err)
	}
	return exists, nil
}
