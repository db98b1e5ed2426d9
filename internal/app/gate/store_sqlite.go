package gate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"golang.org/x/exp/slog"

	"ticketgate/internal/domain/ticket"
	"ticketgate/internal/domain/validation"
	"ticketgate/internal/infrastructure/migration"
)

// timeLayout — фиксированная ширина, чтобы строки сравнивались в том же порядке, что и время.
const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

const dsnParams = "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate"

const recordColumns = `seq, id, ticket_id, ticket_code, validated_at, validator_identity, device_id, method,
	sync_status, attempts, last_error, synced_at, needs_review, reviewed_at,
	canonical_device_id, canonical_validated_at`

// Store — локальное хранилище устройства: снимок билетов, очередь валидаций и курсор синхронизации.
// Любая ошибка SQLite возвращается как validation.ErrStorage.
type Store struct {
	db       *sql.DB
	deviceID string
	log      *slog.Logger
}

// RecordFilter — выборка локальной истории валидаций.
type RecordFilter struct {
	Status      validation.SyncStatus
	NeedsReview bool
	TicketID    string
	Limit       int
}

// Counts — количество записей по статусам.
type Counts struct {
	Pending     int `json:"pending"`
	Synced      int `json:"synced"`
	Conflict    int `json:"conflict"`
	NeedsReview int `json:"needs_review"`
}

// Cursor — состояние синхронизации устройства.
type Cursor struct {
	LastRevision  int64      `json:"last_revision"`
	OperatingDate string     `json:"operating_date,omitempty"`
	LastRefreshAt *time.Time `json:"last_refresh_at,omitempty"`
	LastFlushAt   *time.Time `json:"last_flush_at,omitempty"`
}

// Applied — итог применения вердиктов к очереди.
type Applied struct {
	Synced    int
	Conflicts int
}

func OpenStore(ctx context.Context, path, deviceID string, log *slog.Logger) (*Store, error) {
	if err := migration.NewMigration(migration.SQLite, migration.SQLiteURL(path), nil).Up(); err != nil {
		return nil, storageErr("migrate", err)
	}

	db, err := sql.Open("sqlite3", path+dsnParams)
	if err != nil {
		return nil, storageErr("open database", err)
	}
	// Одно соединение: транзакции устройства не конкурируют между собой внутри процесса.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, storageErr("ping database", err)
	}

	if _, err := db.ExecContext(ctx,
		`INSERT OR IGNORE INTO sync_cursor (device_id) VALUES (?)`, deviceID); err != nil {
		db.Close()
		return nil, storageErr("init cursor", err)
	}

	return &Store{
		db:       db,
		deviceID: deviceID,
		log:      log.With("component", "gate_store"),
	}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) LoadSnapshot(ctx context.Context) ([]ticket.Ticket, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, code, owner_name, owner_email, event_name, ticket_type_name, unit_price, status
		FROM tickets_snapshot
		ORDER BY code`)
	if err != nil {
		return nil, storageErr("load snapshot", err)
	}
	defer rows.Close()

	var tickets []ticket.Ticket
	for rows.Next() {
		var (
			t     ticket.Ticket
			price string
		)
		if err := rows.Scan(&t.ID, &t.Code, &t.OwnerName, &t.OwnerEmail, &t.EventName,
			&t.TicketTypeName, &price, &t.Status); err != nil {
			return nil, storageErr("scan ticket", err)
		}
		if t.UnitPrice, err = decimal.NewFromString(price); err != nil {
			return nil, storageErr("parse unit price", err)
		}
		tickets = append(tickets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("load snapshot", err)
	}
	return tickets, nil
}

// ReplaceSnapshot атомарно заменяет снимок. Билеты с локальными записями остаются Used,
// даже если другой процесс принял билет между чтением и заменой.
func (s *Store) ReplaceSnapshot(ctx context.Context, tickets []ticket.Ticket, operatingDate string, at time.Time) error {
	return s.withTx(ctx, "replace snapshot", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM tickets_snapshot`); err != nil {
			return err
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO tickets_snapshot
				(id, code, owner_name, owner_email, event_name, ticket_type_name, unit_price, status)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, t := range tickets {
			if _, err := stmt.ExecContext(ctx, t.ID, t.Code, t.OwnerName, t.OwnerEmail, t.EventName,
				t.TicketTypeName, t.UnitPrice.String(), string(t.Status)); err != nil {
				return fmt.Errorf("insert ticket %s: %w", t.ID, err)
			}
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE tickets_snapshot SET status = 'used'
			WHERE status = 'valid' AND id IN (SELECT ticket_id FROM pending_validations)`); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE sync_cursor SET operating_date = ?, last_refresh_at = ? WHERE device_id = ?`,
			operatingDate, formatTime(at), s.deviceID)
		return err
	})
}

// CommitAcceptance в одной транзакции переводит билет в Used и добавляет запись в очередь.
// Если билет уже не Valid, возвращает validation.ErrAlreadyUsed и ничего не пишет.
// ValidatedAt сдвигается вперед, если не превосходит последнюю запись устройства.
func (s *Store) CommitAcceptance(ctx context.Context, ticketID string, rec *validation.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin acceptance", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE tickets_snapshot SET status = 'used' WHERE id = ? AND status = 'valid'`, ticketID)
	if err != nil {
		return storageErr("mark ticket used", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr("mark ticket used", err)
	}
	if n != 1 {
		return validation.ErrAlreadyUsed
	}

	var last sql.NullString
	if err := tx.QueryRowContext(ctx,
		`SELECT MAX(validated_at) FROM pending_validations WHERE device_id = ?`, rec.DeviceID).Scan(&last); err != nil {
		return storageErr("last validated_at", err)
	}
	if last.Valid {
		prev, err := parseTime(last.String)
		if err != nil {
			return storageErr("parse validated_at", err)
		}
		if !rec.ValidatedAt.After(prev) {
			rec.ValidatedAt = prev.Add(time.Microsecond)
		}
	}

	res, err = tx.ExecContext(ctx, `
		INSERT INTO pending_validations
			(id, ticket_id, ticket_code, validated_at, validator_identity, device_id, method, sync_status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.TicketID, rec.TicketCode, formatTime(rec.ValidatedAt), rec.ValidatorIdentity,
		rec.DeviceID, string(rec.Method), string(validation.SyncPending))
	if err != nil {
		return storageErr("insert record", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return storageErr("insert record", err)
	}

	if err := tx.Commit(); err != nil {
		return storageErr("commit acceptance", err)
	}

	rec.Seq = seq
	rec.SyncStatus = validation.SyncPending
	return nil
}

// LatestForTicket возвращает последнюю локальную запись по билету или nil.
func (s *Store) LatestForTicket(ctx context.Context, ticketID string) (*validation.Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM pending_validations WHERE ticket_id = ? ORDER BY seq DESC LIMIT 1`, ticketID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("latest record", err)
	}
	return rec, nil
}

func (s *Store) TicketIDsWithRecords(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ticket_id, MAX(sync_status = 'pending')
		FROM pending_validations
		GROUP BY ticket_id`)
	if err != nil {
		return nil, storageErr("ticket ids with records", err)
	}
	defer rows.Close()

	ids := make(map[string]bool)
	for rows.Next() {
		var (
			id      string
			pending bool
		)
		if err := rows.Scan(&id, &pending); err != nil {
			return nil, storageErr("scan ticket id", err)
		}
		ids[id] = pending
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("ticket ids with records", err)
	}
	return ids, nil
}

// Pending возвращает неотправленные записи в порядке очереди.
func (s *Store) Pending(ctx context.Context, limit int) ([]validation.Record, error) {
	return s.Records(ctx, RecordFilter{Status: validation.SyncPending, Limit: limit})
}

// Records возвращает записи: Pending — в порядке очереди, остальные — от новых к старым.
func (s *Store) Records(ctx context.Context, f RecordFilter) ([]validation.Record, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		where = append(where, "sync_status = ?")
		args = append(args, string(f.Status))
	}
	if f.NeedsReview {
		where = append(where, "needs_review = 1")
	}
	if f.TicketID != "" {
		where = append(where, "ticket_id = ?")
		args = append(args, f.TicketID)
	}

	query := `SELECT ` + recordColumns + ` FROM pending_validations`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	if f.Status == validation.SyncPending {
		query += " ORDER BY seq ASC"
	} else {
		query += " ORDER BY seq DESC"
	}
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("list records", err)
	}
	defer rows.Close()

	var records []validation.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, storageErr("scan record", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list records", err)
	}
	return records, nil
}

// ApplyResults применяет вердикты авторитета. Synced применяется только к Pending,
// Conflict — к любой записи, еще не помеченной как Conflict (в том числе к понижаемой Synced).
func (s *Store) ApplyResults(ctx context.Context, results []validation.Result, at time.Time) (Applied, error) {
	var applied Applied
	err := s.withTx(ctx, "apply results", func(tx *sql.Tx) error {
		var err error
		applied, err = applyVerdicts(ctx, tx, results, at)
		return err
	})
	return applied, err
}

// ApplyChanges применяет ленту изменений и сдвигает курсор в той же транзакции.
func (s *Store) ApplyChanges(ctx context.Context, changes []validation.Change, revision int64, at time.Time) (Applied, error) {
	results := make([]validation.Result, 0, len(changes))
	for _, c := range changes {
		results = append(results, c.Result)
	}

	var applied Applied
	err := s.withTx(ctx, "apply changes", func(tx *sql.Tx) error {
		var err error
		if applied, err = applyVerdicts(ctx, tx, results, at); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE sync_cursor SET last_revision = ?
			WHERE device_id = ? AND last_revision < ?`, revision, s.deviceID, revision)
		return err
	})
	return applied, err
}

func applyVerdicts(ctx context.Context, tx *sql.Tx, results []validation.Result, at time.Time) (Applied, error) {
	var applied Applied
	for _, r := range results {
		var (
			res sql.Result
			err error
		)
		switch r.Verdict {
		case validation.VerdictSynced:
			res, err = tx.ExecContext(ctx, `
				UPDATE pending_validations
				SET sync_status = 'synced', synced_at = ?, last_error = ''
				WHERE id = ? AND sync_status = 'pending'`,
				formatTime(at), r.RecordID)
		case validation.VerdictConflict:
			res, err = tx.ExecContext(ctx, `
				UPDATE pending_validations
				SET sync_status = 'conflict', synced_at = ?, needs_review = 1, last_error = ?,
				    canonical_device_id = ?, canonical_validated_at = ?
				WHERE id = ? AND sync_status != 'conflict'`,
				formatTime(at), r.Reason, r.CanonicalDeviceID, formatTimePtr(r.CanonicalValidatedAt), r.RecordID)
		default:
			return applied, fmt.Errorf("record %s: unknown verdict %q", r.RecordID, r.Verdict)
		}
		if err != nil {
			return applied, fmt.Errorf("apply verdict to %s: %w", r.RecordID, err)
		}

		n, err := res.RowsAffected()
		if err != nil {
			return applied, err
		}
		if n == 0 {
			continue
		}
		if r.Verdict == validation.VerdictSynced {
			applied.Synced++
		} else {
			applied.Conflicts++
		}
	}
	return applied, nil
}

// MarkAttempt фиксирует неудачную попытку отправки. Записи остаются Pending.
func (s *Store) MarkAttempt(ctx context.Context, ids []string, lastErr string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.withTx(ctx, "mark attempt", func(tx *sql.Tx) error {
		for _, id := range ids {
			if _, err := tx.ExecContext(ctx, `
				UPDATE pending_validations SET attempts = attempts + 1, last_error = ?
				WHERE id = ? AND sync_status = 'pending'`, lastErr, id); err != nil {
				return err
			}
		}
		return nil
	})
}

// MarkReviewed снимает флаг проверки с конфликтной записи.
func (s *Store) MarkReviewed(ctx context.Context, id string, at time.Time) error {
	var status string
	err := s.db.QueryRowContext(ctx, `SELECT sync_status FROM pending_validations WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return validation.ErrRecordNotFound
	}
	if err != nil {
		return storageErr("get record", err)
	}
	if validation.SyncStatus(status) != validation.SyncConflict {
		return ErrNotConflict
	}

	if _, err := s.db.ExecContext(ctx, `
		UPDATE pending_validations SET needs_review = 0, reviewed_at = ?
		WHERE id = ? AND sync_status = 'conflict'`, formatTime(at), id); err != nil {
		return storageErr("mark reviewed", err)
	}
	return nil
}

func (s *Store) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN sync_status = 'pending' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN sync_status = 'synced' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN sync_status = 'conflict' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(needs_review), 0)
		FROM pending_validations`).Scan(&c.Pending, &c.Synced, &c.Conflict, &c.NeedsReview)
	if err != nil {
		return Counts{}, storageErr("count records", err)
	}
	return c, nil
}

func (s *Store) Cursor(ctx context.Context) (Cursor, error) {
	var (
		c                  Cursor
		refreshAt, flushAt sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT last_revision, operating_date, last_refresh_at, last_flush_at
		FROM sync_cursor WHERE device_id = ?`, s.deviceID).
		Scan(&c.LastRevision, &c.OperatingDate, &refreshAt, &flushAt)
	if err != nil {
		return Cursor{}, storageErr("read cursor", err)
	}
	if c.LastRefreshAt, err = parseNullTime(refreshAt); err != nil {
		return Cursor{}, storageErr("parse cursor", err)
	}
	if c.LastFlushAt, err = parseNullTime(flushAt); err != nil {
		return Cursor{}, storageErr("parse cursor", err)
	}
	return c, nil
}

func (s *Store) SetLastFlush(ctx context.Context, at time.Time) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE sync_cursor SET last_flush_at = ? WHERE device_id = ?`, formatTime(at), s.deviceID); err != nil {
		return storageErr("set last flush", err)
	}
	return nil
}

func (s *Store) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr(op, err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return storageErr(op, err)
	}
	if err := tx.Commit(); err != nil {
		return storageErr(op, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*validation.Record, error) {
	var (
		rec                                        validation.Record
		validatedAt                                string
		method, status                             string
		needsReview                                int
		syncedAt, reviewedAt, canonicalValidatedAt sql.NullString
	)
	if err := row.Scan(&rec.Seq, &rec.ID, &rec.TicketID, &rec.TicketCode, &validatedAt,
		&rec.ValidatorIdentity, &rec.DeviceID, &method, &status, &rec.Attempts, &rec.LastError,
		&syncedAt, &needsReview, &reviewedAt, &rec.CanonicalDeviceID, &canonicalValidatedAt); err != nil {
		return nil, err
	}

	var err error
	if rec.ValidatedAt, err = parseTime(validatedAt); err != nil {
		return nil, err
	}
	if rec.SyncedAt, err = parseNullTime(syncedAt); err != nil {
		return nil, err
	}
	if rec.ReviewedAt, err = parseNullTime(reviewedAt); err != nil {
		return nil, err
	}
	if rec.CanonicalValidatedAt, err = parseNullTime(canonicalValidatedAt); err != nil {
		return nil, err
	}
	rec.Method = validation.Method(method)
	rec.SyncStatus = validation.SyncStatus(status)
	rec.NeedsReview = needsReview == 1
	return &rec, nil
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", validation.ErrStorage, op, err)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
