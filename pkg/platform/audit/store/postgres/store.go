// Package postgres is the audit.Store backed by the append-only audit_log table.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	id "docket/pkg/domain"
	audit "docket/pkg/platform/audit"
)

// chainLockKey serializes appenders so each record links to the true chain head.
const chainLockKey = 7204332

// Store implements audit.Store. Appends run in their own transaction and never join a
// workflow transaction: an audit record outlives a rolled-back business change.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Append(ctx context.Context, rec *audit.Record) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin audit tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, chainLockKey); err != nil {
		return fmt.Errorf("lock audit chain: %w", err)
	}

	prev := audit.GenesisHash
	err = tx.QueryRowContext(ctx, `SELECT hash FROM audit_log ORDER BY seq DESC LIMIT 1`).Scan(&prev)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("read audit chain head: %w", err)
	}
	audit.Seal(rec, prev)

	var actor uuid.NullUUID
	if rec.ActorID != nil {
		actor = uuid.NullUUID{UUID: uuid.UUID(*rec.ActorID), Valid: true}
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO audit_log (
			id, actor_id, action, method, endpoint, ip, client,
			outcome, reason, request_id, target, created_at, prev_hash, hash
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING seq
	`,
		uuid.UUID(rec.ID), actor, rec.Action, rec.Method, rec.Endpoint, rec.IP, rec.Client,
		string(rec.Outcome), rec.Reason, rec.RequestID, rec.Target, rec.Timestamp, rec.PrevHash, rec.Hash,
	).Scan(&rec.Seq)
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit audit record: %w", err)
	}
	return nil
}

const selectRecords = `
	SELECT seq, id, actor_id, action, method, endpoint, ip, client,
		   outcome, reason, request_id, target, created_at, prev_hash, hash
	FROM audit_log
`

// ListRecent returns up to limit records, newest first.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]audit.Record, error) {
	rows, err := s.db.QueryContext(ctx, selectRecords+` ORDER BY seq DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func (s *Store) ListByActor(ctx context.Context, actor id.UserID, limit int) ([]audit.Record, error) {
	rows, err := s.db.QueryContext(ctx, selectRecords+` WHERE actor_id = $1 ORDER BY seq DESC LIMIT $2`,
		uuid.UUID(actor), limit)
	if err != nil {
		return nil, fmt.Errorf("query audit records by actor: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func (s *Store) ListAll(ctx context.Context) ([]audit.Record, error) {
	rows, err := s.db.QueryContext(ctx, selectRecords+` ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("query audit chain: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func scanRecords(rows *sql.Rows) ([]audit.Record, error) {
	out := []audit.Record{}
	for rows.Next() {
		var (
			rec     audit.Record
			recID   uuid.UUID
			actor   uuid.NullUUID
			outcome string
		)
		if err := rows.Scan(
			&rec.Seq, &recID, &actor, &rec.Action, &rec.Method, &rec.Endpoint, &rec.IP, &rec.Client,
			&outcome, &rec.Reason, &rec.RequestID, &rec.Target, &rec.Timestamp, &rec.PrevHash, &rec.Hash,
		); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		rec.ID = id.AuditID(recID)
		if actor.Valid {
			a := id.UserID(actor.UUID)
			rec.ActorID = &a
		}
		rec.Outcome = audit.Outcome(outcome)
		rec.Timestamp = rec.Timestamp.UTC()
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit records: %w", err)
	}
	return out, nil
}
