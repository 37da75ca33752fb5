package sqlite

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

var migrations = []migration{
	{
		version: "20250301000001",
		name:    "create_sponsors",
		up: `
CREATE TABLE IF NOT EXISTS dowfund_users (
    id         TEXT PRIMARY KEY,
    login      TEXT NOT NULL DEFAULT '',
    email      TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS dowfund_companies (
    id         TEXT PRIMARY KEY,
    name       TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
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
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_dowfund_owners_login ON dowfund_owners (login);

CREATE TABLE IF NOT EXISTS dowfund_repositories (
    id         TEXT PRIMARY KEY,
    owner_id   TEXT NOT NULL REFERENCES dowfund_owners (id),
    name       TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_dowfund_repos_owner_name ON dowfund_repositories (owner_id, name);

CREATE TABLE IF NOT EXISTS dowfund_issues (
    repository_id TEXT NOT NULL REFERENCES dowfund_repositories (id),
    number        INTEGER NOT NULL,
    external_id   INTEGER NOT NULL,
    title         TEXT NOT NULL DEFAULT '',
    open          BOOLEAN NOT NULL DEFAULT TRUE,
    url           TEXT NOT NULL DEFAULT '',
    author        TEXT NOT NULL DEFAULT '',
    created_at    TIMESTAMP NOT NULL,
    updated_at    TIMESTAMP NOT NULL,
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
    issue_number      INTEGER NOT NULL,
    issue_external_id INTEGER NOT NULL,
    manager_id        TEXT NOT NULL,
    requested_amount  TEXT,
    requested_unit    TEXT,
    visibility        TEXT NOT NULL DEFAULT 'public',
    state             TEXT NOT NULL DEFAULT 'open',
    created_at        TIMESTAMP NOT NULL,
    updated_at        TIMESTAMP NOT NULL,
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
    issue_number      INTEGER NOT NULL,
    issue_external_id INTEGER NOT NULL,
    user_id           TEXT NOT NULL,
    company_id        TEXT,
    sponsor_key       TEXT NOT NULL,
    credit_amount     TEXT NOT NULL,
    credit_unit       TEXT NOT NULL DEFAULT 'minute',
    created_at        TIMESTAMP NOT NULL,
    updated_at        TIMESTAMP NOT NULL,
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
    amount      TEXT NOT NULL DEFAULT '0',
    unit        TEXT NOT NULL DEFAULT 'minute',
    updated_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
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
    amount        INTEGER NOT NULL CHECK (amount > 0),
    currency      TEXT NOT NULL,
    created_at    TIMESTAMP NOT NULL,
    updated_at    TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_dowfund_payments_owner ON dowfund_payments (owner_id);

CREATE TABLE IF NOT EXISTS dowfund_prices (
    position      INTEGER PRIMARY KEY,
    label         TEXT NOT NULL DEFAULT '',
    currency      TEXT NOT NULL,
    amount        INTEGER NOT NULL,
    credit_amount TEXT NOT NULL,
    credit_unit   TEXT NOT NULL DEFAULT 'minute'
);`,
	},
}

func migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS dowfund_schema_migrations (
    version    TEXT PRIMARY KEY,
    name       TEXT NOT NULL,
    applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`); err != nil {
		return fmt.Errorf("dowfund/sqlite: create migrations table: %w", err)
	}

	for _, m := range migrations {
		var exists bool
		if err := db.QueryRowContext(ctx, `
SELECT EXISTS (SELECT 1 FROM dowfund_schema_migrations WHERE version = ?)`, m.version).Scan(&exists); err != nil {
			return fmt.Errorf("dowfund/sqlite: check migration %s: %w", m.version, err)
		}
		if exists {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("dowfund/sqlite: begin migration %s: %w", m.version, err)
		}
		if _, err := tx.ExecContext(ctx, m.up); err != nil {
			tx.Rollback() //nolint:errcheck // rollback on failure path
			return fmt.Errorf("dowfund/sqlite: migration %s (%s): %w", m.version, m.name, err)
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO dowfund_schema_migrations (version, name) VALUES (?, ?)`, m.version, m.name); err != nil {
			tx.Rollback() //nolint:errcheck // rollback on failure path
			return fmt.Errorf("dowfund/sqlite: record migration %s: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("dowfund/sqlite: commit migration %s: %w", m.version, err)
		}
	}

	return nil
}
