package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver; imported for side-effects (driver registration)

	"github.com/onnwee/paygate/internal/tracing"
)

// auditChainLockID is the advisory lock key serializing appends so two
// transactions cannot chain to the same predecessor hash.
const auditChainLockID = 7201

// PostgresRepository implements Repository backed by PostgreSQL.
// Appends run in a transaction holding an advisory lock on the chain head;
// the sequence is assigned from the current max so restarts cannot fork it.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a Postgres-backed audit repository.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Append creates a new record chained to the current head.
func (r *PostgresRepository) Append(ctx context.Context, entry Entry) (record *Record, retErr error) {
	if err := validateEntry(entry); err != nil {
		return nil, err
	}

	ctx, endSpan := tracing.StartDBSpan(ctx, "audit_records", tracing.DBOperationInsert)
	defer func() { endSpan(retErr) }()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin audit append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", auditChainLockID); err != nil {
		return nil, fmt.Errorf("lock audit chain: %w", err)
	}

	var seq uint64
	var prevHash string
	err = tx.QueryRowContext(ctx, `
		SELECT sequence_id, hash FROM audit_records
		ORDER BY sequence_id DESC LIMIT 1`).Scan(&seq, &prevHash)
	if err == sql.ErrNoRows {
		seq, prevHash = 0, ""
	} else if err != nil {
		return nil, fmt.Errorf("read audit chain head: %w", err)
	}

	record = &Record{
		SequenceID: seq + 1,
		SubjectID:  entry.SubjectID,
		Actor:      entry.Actor,
		Action:     entry.Action,
		Details:    entry.Details,
		PrevHash:   prevHash,
		CreatedAt:  time.Now().UTC(),
	}
	record.Hash = ComputeHash(record.SequenceID, record.SubjectID, record.Actor,
		record.Action, record.Details, record.PrevHash)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO audit_records
			(sequence_id, subject_id, actor, action, details, prev_hash, hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		record.SequenceID, record.SubjectID, record.Actor, record.Action,
		record.Details, record.PrevHash, record.Hash, record.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert audit record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit audit append: %w", err)
	}
	return record, nil
}

// Range returns up to limit records with SequenceID > afterSeq in sequence order.
func (r *PostgresRepository) Range(ctx context.Context, afterSeq uint64, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT sequence_id, subject_id, actor, action, details, prev_hash, hash, created_at
		FROM audit_records
		WHERE sequence_id > $1
		ORDER BY sequence_id ASC
		LIMIT $2`, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit range: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// BySubject returns records for a subject in sequence order.
func (r *PostgresRepository) BySubject(ctx context.Context, subjectID string, limit int) ([]*Record, error) {
	query := `
		SELECT sequence_id, subject_id, actor, action, details, prev_hash, hash, created_at
		FROM audit_records
		WHERE subject_id = $1
		ORDER BY sequence_id ASC`
	args := []any{subjectID}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit by subject: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// LastHash returns the hash at the head of the chain.
func (r *PostgresRepository) LastHash(ctx context.Context) (string, error) {
	var hash string
	err := r.db.QueryRowContext(ctx, `
		SELECT hash FROM audit_records ORDER BY sequence_id DESC LIMIT 1`).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read audit chain head: %w", err)
	}
	return hash, nil
}

// scanRecords reads audit records from a query result.
func scanRecords(rows *sql.Rows) ([]*Record, error) {
	var results []*Record
	for rows.Next() {
		record := &Record{}
		err := rows.Scan(&record.SequenceID, &record.SubjectID, &record.Actor,
			&record.Action, &record.Details, &record.PrevHash, &record.Hash,
			&record.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		results = append(results, record)
	}
	return results, rows.Err()
}
