package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"golang.org/x/exp/slog"

	"ticketgate/internal/domain/validation"
)

type ValidationRepository struct {
	db  *Storage
	log *slog.Logger
}

func NewValidationRepository(db *Storage, log *slog.Logger) *ValidationRepository {
	return &ValidationRepository{
		db:  db,
		log: log.With("component", "validation_repository"),
	}
}

// revisionLockKey — ключ advisory-блокировки, под которой выдаются ревизии.
// Блокировка держится до конца транзакции, поэтому ревизии фиксируются в порядке выдачи:
// читатель ленты, увидевший ревизию N, видит и все ревизии меньше N.
const revisionLockKey int64 = 0x7469636b6574 // "ticket"

const entryColumns = `id, ticket_id, validated_at, validator_identity, device_id, method, verdict, reason, revision, received_at`

func (r *ValidationRepository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.db.WithTx(ctx, fn)
}

// LockTicket берет транзакционную advisory-блокировку по id билета.
func (r *ValidationRepository) LockTicket(ctx context.Context, ticketID string) error {
	_, err := r.db.q(ctx).Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, ticketID)
	if err != nil {
		return fmt.Errorf("advisory lock: %w", err)
	}
	return nil
}

// lockRevisions вызывается перед каждой записью, которая берет nextval('validation_revision_seq').
// Порядок блокировок всегда билет, затем ревизии.
func (r *ValidationRepository) lockRevisions(ctx context.Context) error {
	if _, err := r.db.q(ctx).Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, revisionLockKey); err != nil {
		return fmt.Errorf("revision lock: %w", err)
	}
	return nil
}

func (r *ValidationRepository) TicketExists(ctx context.Context, ticketID string) (bool, error) {
	var exists bool
	err := r.db.q(ctx).QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM tickets WHERE id = $1)`, ticketID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("ticket exists: %w", err)
	}
	return exists, nil
}

func (r *ValidationRepository) Get(ctx context.Context, id string) (*validation.Entry, error) {
	row := r.db.q(ctx).QueryRow(ctx, `SELECT `+entryColumns+` FROM validations WHERE id = $1`, id)
	return scanEntry(row)
}

func (r *ValidationRepository) Canonical(ctx context.Context, ticketID string) (*validation.Entry, error) {
	row := r.db.q(ctx).QueryRow(ctx,
		`SELECT `+entryColumns+` FROM validations WHERE ticket_id = $1 AND verdict = 'synced'`, ticketID)
	return scanEntry(row)
}

func (r *ValidationRepository) Insert(ctx context.Context, e *validation.Entry) error {
	const query = `
		INSERT INTO validations (id, ticket_id, validated_at, validator_identity, device_id, method, verdict, reason, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING revision`

	if err := r.lockRevisions(ctx); err != nil {
		return err
	}
	err := r.db.q(ctx).QueryRow(ctx, query,
		e.ID, e.TicketID, e.ValidatedAt, e.ValidatorIdentity, e.DeviceID,
		string(e.Method), string(e.Verdict), e.Reason, e.ReceivedAt,
	).Scan(&e.Revision)
	if err != nil {
		r.log.Error("failed to insert validation", "record_id", e.ID, "ticket_id", e.TicketID, "error", err)
		return fmt.Errorf("insert validation: %w", err)
	}
	return nil
}

func (r *ValidationRepository) Demote(ctx context.Context, id, reason string) (*validation.Entry, error) {
	const query = `
		UPDATE validations
		SET verdict = 'conflict', reason = $2, revision = nextval('validation_revision_seq')
		WHERE id = $1
		RETURNING ` + entryColumns

	if err := r.lockRevisions(ctx); err != nil {
		return nil, err
	}
	return scanEntry(r.db.q(ctx).QueryRow(ctx, query, id, reason))
}

func (r *ValidationRepository) ChangesSince(ctx context.Context, deviceID string, since int64, limit int) ([]validation.Change, error) {
	const query = `
		SELECT v.id, v.verdict, v.reason, v.revision, c.device_id, c.validated_at
		FROM validations v
		LEFT JOIN validations c
		       ON c.ticket_id = v.ticket_id AND c.verdict = 'synced' AND v.verdict = 'conflict'
		WHERE v.device_id = $1 AND v.revision > $2
		ORDER BY v.revision
		LIMIT $3`

	rows, err := r.db.q(ctx).Query(ctx, query, deviceID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("changes since: %w", err)
	}
	defer rows.Close()

	var changes []validation.Change
	for rows.Next() {
		var (
			c               validation.Change
			verdict         string
			canonicalDevice *string
			canonicalAt     *time.Time
		)
		if err := rows.Scan(&c.RecordID, &verdict, &c.Reason, &c.Revision, &canonicalDevice, &canonicalAt); err != nil {
			return nil, fmt.Errorf("scan change: %w", err)
		}
		c.Verdict = validation.Verdict(verdict)
		if canonicalDevice != nil {
			c.CanonicalDeviceID = *canonicalDevice
			c.CanonicalValidatedAt = canonicalAt
		}
		changes = append(changes, c)
	}
	return changes, rows.Err()
}

func (r *ValidationRepository) Conflicts(ctx context.Context, limit int) ([]validation.Entry, error) {
	rows, err := r.db.q(ctx).Query(ctx,
		`SELECT `+entryColumns+` FROM validations WHERE verdict = 'conflict' ORDER BY revision DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list conflicts: %w", err)
	}
	defer rows.Close()

	var entries []validation.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

func scanEntry(row pgx.Row) (*validation.Entry, error) {
	var (
		e       validation.Entry
		method  string
		verdict string
	)
	err := row.Scan(&e.ID, &e.TicketID, &e.ValidatedAt, &e.ValidatorIdentity, &e.DeviceID,
		&method, &verdict, &e.Reason, &e.Revision, &e.ReceivedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, validation.ErrRecordNotFound
		}
		return nil, fmt.Errorf("scan validation: %w", err)
	}
	e.Method = validation.Method(method)
	e.Verdict = validation.Verdict(verdict)
	return &e, nil
}
