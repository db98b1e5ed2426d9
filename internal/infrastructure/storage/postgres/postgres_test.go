package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticketgate/internal/domain/device"
	"ticketgate/internal/domain/ticket"
	"ticketgate/internal/domain/validation"
	"ticketgate/internal/infrastructure/migration"
	"ticketgate/internal/utils/clock"
	"ticketgate/internal/utils/logger"
)

// newTestStorage подключается к TEST_DATABASE_URL; без него интеграционные тесты пропускаются.
func newTestStorage(t *testing.T) *Storage {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL is not set, skipping Postgres integration tests")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		t.Skipf("skipping Postgres integration tests: %v", err)
	}
	t.Cleanup(pool.Close)

	require.NoError(t, migration.NewMigration(migration.Postgres, dsn, nil).Up())

	_, err = pool.Exec(ctx, `TRUNCATE validations, tickets, devices`)
	require.NoError(t, err)

	return NewWithPool(pool)
}

func insertTicket(t *testing.T, s *Storage, id, code, date string) {
	t.Helper()
	_, err := s.Pool().Exec(context.Background(), `
		INSERT INTO tickets (id, code, owner_name, owner_email, event_name, ticket_type_name, unit_price, event_date)
		VALUES ($1, $2, 'Ada Lovelace', 'ada@example.com', 'Autumn Concert', 'Standard', 49.90, $3::date)`,
		id, code, date)
	require.NoError(t, err)
}

func TestValidationRepository_EarliestWins(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	insertTicket(t, s, "ticket-1", "TCK-002", "2026-10-16")

	repo := NewValidationRepository(s, logger.Discard())
	svc := validation.NewService(repo, nil, clock.NewSystem(), logger.Discard(), nil)

	t1 := time.Date(2026, 10, 16, 18, 10, 0, 0, time.UTC)
	late := validation.Submission{
		ID: uuid.NewString(), TicketID: "ticket-1", ValidatedAt: t1.Add(2 * time.Minute),
		ValidatorIdentity: "bob", DeviceID: "gate-2", Method: validation.MethodScan,
	}
	early := validation.Submission{
		ID: uuid.NewString(), TicketID: "ticket-1", ValidatedAt: t1,
		ValidatorIdentity: "alice", DeviceID: "gate-1", Method: validation.MethodManual,
	}

	res, err := svc.Submit(ctx, "gate-2", []validation.Submission{late})
	require.NoError(t, err)
	assert.Equal(t, validation.VerdictSynced, res[0].Verdict)

	res, err = svc.Submit(ctx, "gate-1", []validation.Submission{early})
	require.NoError(t, err)
	assert.Equal(t, validation.VerdictSynced, res[0].Verdict)

	canonical, err := repo.Canonical(ctx, "ticket-1")
	require.NoError(t, err)
	assert.Equal(t, early.ID, canonical.ID)

	feed, err := svc.Changes(ctx, "gate-2", 0, 10)
	require.NoError(t, err)
	require.NotEmpty(t, feed.Changes)
	last := feed.Changes[len(feed.Changes)-1]
	assert.Equal(t, late.ID, last.RecordID)
	assert.Equal(t, validation.VerdictConflict, last.Verdict)
	assert.Equal(t, "gate-1", last.CanonicalDeviceID)

	again, err := svc.Submit(ctx, "gate-2", []validation.Submission{late})
	require.NoError(t, err)
	assert.Equal(t, validation.VerdictConflict, again[0].Verdict)

	conflicts, err := svc.Conflicts(ctx, 10)
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, late.ID, conflicts[0].ID)
}

func TestValidationRepository_SingleCanonicalIndex(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	repo := NewValidationRepository(s, logger.Discard())

	entry := func() *validation.Entry {
		return &validation.Entry{
			ID: uuid.NewString(), TicketID: "ticket-x", ValidatedAt: time.Now(),
			ValidatorIdentity: "alice", DeviceID: "gate-1", Method: validation.MethodScan,
			Verdict: validation.VerdictSynced, ReceivedAt: time.Now(),
		}
	}

	first := entry()
	require.NoError(t, repo.Insert(ctx, first))
	assert.Positive(t, first.Revision)

	err := repo.Insert(ctx, entry())
	require.Error(t, err)
	assert.True(t, isUniqueViolation(err))
}

func TestValidationRepository_RevisionsCommitInOrder(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	repo := NewValidationRepository(s, logger.Discard())

	entry := func(ticketID, deviceID string) *validation.Entry {
		return &validation.Entry{
			ID: uuid.NewString(), TicketID: ticketID, ValidatedAt: time.Now(),
			ValidatorIdentity: "alice", DeviceID: deviceID, Method: validation.MethodScan,
			Verdict: validation.VerdictSynced, ReceivedAt: time.Now(),
		}
	}

	// Первая транзакция: демоция по ticket-1 остается незафиксированной.
	canonical := entry("ticket-1", "gate-x")
	require.NoError(t, repo.Insert(ctx, canonical))

	demoted := make(chan *validation.Entry, 1)
	release := make(chan struct{})
	t.Cleanup(func() {
		select {
		case <-release:
		default:
			close(release)
		}
	})
	firstDone := make(chan error, 1)
	go func() {
		firstDone <- s.WithTx(ctx, func(ctx context.Context) error {
			if err := repo.LockTicket(ctx, "ticket-1"); err != nil {
				return err
			}
			e, err := repo.Demote(ctx, canonical.ID, validation.ReasonSuperseded)
			if err != nil {
				return err
			}
			demoted <- e
			<-release
			return nil
		})
	}()

	var first *validation.Entry
	select {
	case first = <-demoted:
	case err := <-firstDone:
		t.Fatalf("first transaction finished early: %v", err)
	}

	// Вторая транзакция по другому билету того же устройства.
	second := entry("ticket-2", "gate-x")
	secondDone := make(chan error, 1)
	go func() {
		secondDone <- s.WithTx(ctx, func(ctx context.Context) error {
			if err := repo.LockTicket(ctx, "ticket-2"); err != nil {
				return err
			}
			return repo.Insert(ctx, second)
		})
	}()

	select {
	case err := <-secondDone:
		t.Fatalf("second transaction committed before the first: %v", err)
	case <-time.After(300 * time.Millisecond):
	}

	changes, err := repo.ChangesSince(ctx, "gate-x", canonical.Revision, 10)
	require.NoError(t, err)
	assert.Empty(t, changes)

	close(release)
	require.NoError(t, <-firstDone)
	require.NoError(t, <-secondDone)

	assert.Less(t, first.Revision, second.Revision)

	changes, err = repo.ChangesSince(ctx, "gate-x", canonical.Revision, 10)
	require.NoError(t, err)
	require.Len(t, changes, 2)
	assert.Equal(t, canonical.ID, changes[0].RecordID)
	assert.Equal(t, validation.VerdictConflict, changes[0].Verdict)
	assert.Equal(t, second.ID, changes[1].RecordID)
}

func TestTicketRepository_ListByDate(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	insertTicket(t, s, "ticket-1", "TCK-001", "2026-10-16")
	insertTicket(t, s, "ticket-2", "TCK-002", "2026-10-16")
	insertTicket(t, s, "ticket-3", "TCK-003", "2026-10-17")

	_, err := s.Pool().Exec(ctx, `
		INSERT INTO validations (id, ticket_id, validated_at, validator_identity, device_id, method, verdict)
		VALUES ($1, 'ticket-2', NOW(), 'alice', 'gate-1', 'scan', 'synced')`, uuid.NewString())
	require.NoError(t, err)

	repo := NewTicketRepository(s, logger.Discard())
	tickets, err := repo.ListByDate(ctx, time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	require.Len(t, tickets, 2)
	assert.Equal(t, "TCK-001", tickets[0].Code)
	assert.Equal(t, ticket.StatusValid, tickets[0].Status)
	assert.True(t, tickets[0].UnitPrice.Equal(decimal.RequireFromString("49.90")))
	assert.Equal(t, ticket.StatusUsed, tickets[1].Status)
}

func TestDeviceRepository(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	repo := NewDeviceRepository(s, logger.Discard())

	d := device.Device{ID: "gate-1", Name: "North", SecretHash: "hash", CreatedAt: time.Now()}
	require.NoError(t, repo.Create(ctx, d))
	assert.ErrorIs(t, repo.Create(ctx, d), device.ErrAlreadyExists)

	at := time.Now().Truncate(time.Microsecond)
	require.NoError(t, repo.Touch(ctx, "gate-1", at, true))
	assert.ErrorIs(t, repo.Touch(ctx, "gate-404", at, false), device.ErrNotFound)

	found, err := repo.FindByID(ctx, "gate-1")
	require.NoError(t, err)
	require.NotNil(t, found.LastSyncAt)
	assert.True(t, found.LastSyncAt.Equal(at))

	_, err = repo.FindByID(ctx, "gate-404")
	assert.ErrorIs(t, err, device.ErrNotFound)

	all, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
