package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Postgres driver

	"github.com/xela07ax/pipeline-approval-relay/internal/audit"
)

const auditColumns = 12

const createAuditTable = `
CREATE TABLE IF NOT EXISTS approval_audit (
	id          UUID PRIMARY KEY,
	trace_id    TEXT NOT NULL,
	pipeline    TEXT NOT NULL,
	env         TEXT NOT NULL,
	stage       TEXT NOT NULL,
	action      TEXT NOT NULL,
	status      TEXT NOT NULL,
	summary     TEXT NOT NULL,
	outcome     TEXT NOT NULL,
	error       TEXT NOT NULL DEFAULT '',
	duration_ms BIGINT NOT NULL,
	timestamp   TIMESTAMPTZ NOT NULL
)`

// AuditRepo stores the approval audit trail.
type AuditRepo struct {
	db *sql.DB
}

func NewAuditRepo(connString string, maxConns int) (*AuditRepo, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	if maxConns <= 0 {
		maxConns = 5
	}
	// Lambda keeps one environment per concurrent invocation: small pool.
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)
	db.SetConnMaxLifetime(5 * time.Minute)
	return &AuditRepo{db: db}, nil
}

// Ping checks the database is reachable at startup.
func (r *AuditRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// EnsureSchema creates the audit table if needed.
func (r *AuditRepo) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createAuditTable); err != nil {
		return fmt.Errorf("postgres: failed to create approval_audit: %w", err)
	}
	return nil
}

func (r *AuditRepo) Close() error {
	return r.db.Close()
}

// WriteBatch implements audit.Storage with one multi-row insert.
func (r *AuditRepo) WriteBatch(ctx context.Context, events []audit.Event) error {
	if len(events) == 0 {
		return nil
	}

	query, vals := buildBatchInsert(events)
	if _, err := r.db.ExecContext(ctx, query, vals...); err != nil {
		return fmt.Errorf("postgres: failed to write audit batch: %w", err)
	}
	return nil
}

func buildBatchInsert(events []audit.Event) (string, []interface{}) {
	placeholders := make([]string, 0, len(events))
	vals := make([]interface{}, 0, len(events)*auditColumns)

	for i, e := range events {
		p := i * auditColumns
		ph := make([]string, auditColumns)
		for j := range ph {
			ph[j] = fmt.Sprintf("$%d", p+j+1)
		}
		placeholders = append(placeholders, "("+strings.Join(ph, ", ")+")")

		vals = append(vals,
			e.ID, e.TraceID, e.Pipeline, e.Env, e.Stage, e.Action,
			e.Status, e.Summary, e.Outcome, e.Error, e.DurationMs, e.Timestamp,
		)
	}

	query := fmt.Sprintf(
		"INSERT INTO approval_audit (id, trace_id, pipeline, env, stage, action, status, summary, outcome, error, duration_ms, timestamp) VALUES %s ON CONFLICT (id) DO NOTHING",
		strings.Join(placeholders, ", "),
	)
	return query, vals
}
