package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS tenants (
	id         UUID PRIMARY KEY,
	name       TEXT NOT NULL,
	slug       TEXT NOT NULL UNIQUE,
	domain     TEXT NOT NULL UNIQUE,
	config     JSONB NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS users (
	id            UUID PRIMARY KEY,
	tenant_id     UUID NOT NULL REFERENCES tenants(id),
	email         TEXT NOT NULL,
	name          TEXT NOT NULL,
	role          TEXT NOT NULL,
	password_hash TEXT NOT NULL DEFAULT '',
	created_by    TEXT,
	created_at    TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL,
	UNIQUE (tenant_id, email)
);

CREATE TABLE IF NOT EXISTS job_posts (
	id          UUID PRIMARY KEY,
	tenant_id   UUID NOT NULL REFERENCES tenants(id),
	title       TEXT NOT NULL,
	description TEXT NOT NULL,
	location    TEXT NOT NULL DEFAULT '',
	salary_min  INT,
	salary_max  INT,
	tags        TEXT[] NOT NULL DEFAULT '{}',
	status      TEXT NOT NULL,
	created_by  TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS feed_posts (
	id         UUID PRIMARY KEY,
	tenant_id  UUID NOT NULL REFERENCES tenants(id),
	author_id  TEXT NOT NULL,
	content    TEXT NOT NULL,
	visibility TEXT NOT NULL,
	status     TEXT NOT NULL,
	flags      TEXT[] NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS workflow_executions (
	id           TEXT PRIMARY KEY,
	workflow_id  TEXT NOT NULL,
	workflow_key TEXT NOT NULL,
	tenant_id    TEXT NOT NULL,
	user_id      TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL,
	start_time   TIMESTAMPTZ NOT NULL,
	end_time     TIMESTAMPTZ,
	current_step TEXT NOT NULL DEFAULT '',
	step_results JSONB NOT NULL DEFAULT '[]',
	errors       JSONB NOT NULL DEFAULT '[]',
	metadata     JSONB NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS workflow_executions_tenant_idx ON workflow_executions (tenant_id, start_time);
`

// Migrate creates the tables used by the Postgres repository and execution
// store when they do not exist yet.
func Migrate(ctx context.Context, db *pgxpool.Pool) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
