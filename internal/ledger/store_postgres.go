package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/onnwee/paygate/internal/audit"
	"github.com/onnwee/paygate/internal/tracing"
)

// auditChainLockID mirrors the advisory lock used by the audit package so
// ledger transactions appending audit records serialize against direct
// audit appends.
const auditChainLockID = 7201

// PostgresRepository implements Repository backed by PostgreSQL. Entry
// updates and their audit appends run in one transaction. Single success per
// business key is additionally enforced by a partial unique index on
// (business_key) WHERE paid (see migrations), so a race that slips past the
// in-transaction check still cannot commit a second success.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a Postgres-backed ledger repository.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// CreateEntry creates an entry in StateInitiated and audits the creation.
func (r *PostgresRepository) CreateEntry(ctx context.Context, params CreateParams, actor string) (entry *Entry, retErr error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "ledger_entries", tracing.DBOperationInsert)
	defer func() { endSpan(retErr) }()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin create entry: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Fold retries carrying a known idempotency key.
	if params.IdempotencyKey != "" {
		existing, err := getEntry(ctx, tx, "idempotency_key = $1", params.IdempotencyKey)
		if err == nil {
			_ = tx.Rollback()
			return existing, nil
		}
		if !errors.Is(err, ErrEntryNotFound) {
			return nil, err
		}
	}

	var paid bool
	err = tx.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM ledger_entries
			WHERE business_key = $1
			  AND (state = $2 OR (state = $3 AND outcome = $2))
		)`, params.BusinessKey, StateSucceeded, StateReconciled).Scan(&paid)
	if err != nil {
		return nil, fmt.Errorf("check duplicate payment: %w", err)
	}
	if paid {
		return nil, fmt.Errorf("%w: %s", ErrDuplicatePayment, params.BusinessKey)
	}

	now := time.Now().UTC()
	entry = &Entry{
		ID:                    uuid.New().String(),
		ExternalReference:     params.ExternalReference,
		IdempotencyKey:        params.IdempotencyKey,
		BusinessKey:           params.BusinessKey,
		Amount:                params.Amount,
		Currency:              params.Currency,
		CounterpartyReference: params.CounterpartyReference,
		Metadata:              params.Metadata,
		State:                 StateInitiated,
		CreatedAt:             now,
		UpdatedAt:             now,
	}

	metadata, err := json.Marshal(entry.Metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO ledger_entries
			(id, external_reference, idempotency_key, business_key, amount,
			 currency, counterparty_reference, metadata, state, outcome,
			 events, created_at, updated_at)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4, $5, $6, $7, $8, $9, '', '{}', $10, $10)`,
		entry.ID, entry.ExternalReference, entry.IdempotencyKey, entry.BusinessKey,
		entry.Amount, entry.Currency, entry.CounterpartyReference, metadata,
		entry.State, now)
	if err != nil {
		return nil, fmt.Errorf("insert ledger entry: %w", err)
	}

	details := fmt.Sprintf("business_key=%s amount=%d %s", entry.BusinessKey, entry.Amount, entry.Currency)
	if err := appendAuditTx(ctx, tx, entry.ID, actor, audit.ActionEntryCreated, details); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit create entry: %w", err)
	}
	return entry, nil
}

// UpdateState applies a transition and its audit record in one transaction.
func (r *PostgresRepository) UpdateState(ctx context.Context, externalRef, newState, evidenceID, actor string) (entry *Entry, retErr error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "ledger_entries", tracing.DBOperationUpdate)
	defer func() { endSpan(retErr) }()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin update state: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	entry, err = getEntry(ctx, tx, "external_reference = $1 FOR UPDATE", externalRef)
	if err != nil {
		return nil, err
	}

	prevState := entry.State
	if err := Apply(entry, newState, evidenceID); err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE ledger_entries
		SET state = $2, outcome = $3, events = $4, updated_at = $5
		WHERE id = $1`,
		entry.ID, entry.State, entry.Outcome, pq.Array(entry.Events), entry.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("update ledger entry: %w", err)
	}

	details := fmt.Sprintf("%s->%s evidence=%s", prevState, newState, evidenceID)
	if err := appendAuditTx(ctx, tx, entry.ID, actor, audit.ActionStateTransition, details); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit update state: %w", err)
	}
	return entry, nil
}

// GetByExternalReference returns the entry mapped to a processor object.
func (r *PostgresRepository) GetByExternalReference(ctx context.Context, externalRef string) (*Entry, error) {
	return getEntry(ctx, r.db, "external_reference = $1", externalRef)
}

// GetByBusinessKey returns all entries for a business key.
func (r *PostgresRepository) GetByBusinessKey(ctx context.Context, businessKey string) ([]*Entry, error) {
	rows, err := r.db.QueryContext(ctx, selectEntry+" WHERE business_key = $1 ORDER BY created_at", businessKey)
	if err != nil {
		return nil, fmt.Errorf("query entries by business key: %w", err)
	}
	defer rows.Close()

	var results []*Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, entry)
	}
	return results, rows.Err()
}

// IsPaid reports whether a business key has a completed payment.
func (r *PostgresRepository) IsPaid(ctx context.Context, businessKey string) (bool, error) {
	var paid bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM ledger_entries
			WHERE business_key = $1
			  AND (state = $2 OR (state = $3 AND outcome = $2))
		)`, businessKey, StateSucceeded, StateReconciled).Scan(&paid)
	if err != nil {
		return false, fmt.Errorf("check paid: %w", err)
	}
	return paid, nil
}

const selectEntry = `
	SELECT id, COALESCE(external_reference, ''), COALESCE(idempotency_key, ''),
	       business_key, amount, currency, counterparty_reference, metadata,
	       state, outcome, events, created_at, updated_at
	FROM ledger_entries`

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// getEntry fetches a single entry by the given WHERE clause.
func getEntry(ctx context.Context, q querier, where string, args ...any) (*Entry, error) {
	row := q.QueryRowContext(ctx, selectEntry+" WHERE "+where, args...)
	entry, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w", ErrEntryNotFound)
	}
	return entry, err
}

// scannable is satisfied by *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

// scanEntry reads one ledger entry row.
func scanEntry(row scannable) (*Entry, error) {
	entry := &Entry{}
	var metadata []byte
	var events pq.StringArray
	err := row.Scan(&entry.ID, &entry.ExternalReference, &entry.IdempotencyKey,
		&entry.BusinessKey, &entry.Amount, &entry.Currency,
		&entry.CounterpartyReference, &metadata, &entry.State, &entry.Outcome,
		&events, &entry.CreatedAt, &entry.UpdatedAt)
	if err != nil {
		return nil, err
	}
	entry.Events = []string(events)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &entry.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return entry, nil
}

// appendAuditTx appends an audit record inside the caller's transaction,
// holding the chain advisory lock so the hash chain stays linear.
func appendAuditTx(ctx context.Context, tx *sql.Tx, subjectID, actor, action, details string) error {
	if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", auditChainLockID); err != nil {
		return fmt.Errorf("lock audit chain: %w", err)
	}

	var seq uint64
	var prevHash string
	err := tx.QueryRowContext(ctx, `
		SELECT sequence_id, hash FROM audit_records
		ORDER BY sequence_id DESC LIMIT 1`).Scan(&seq, &prevHash)
	if err == sql.ErrNoRows {
		seq, prevHash = 0, ""
	} else if err != nil {
		return fmt.Errorf("read audit chain head: %w", err)
	}

	seq++
	hash := audit.ComputeHash(seq, subjectID, actor, action, details, prevHash)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO audit_records
			(sequence_id, subject_id, actor, action, details, prev_hash, hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		seq, subjectID, actor, action, details, prevHash, hash, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}
