package gate

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"ticketgate/internal/domain/ticket"
	"ticketgate/internal/domain/validation"
	"ticketgate/internal/utils/clock"
	"ticketgate/internal/utils/logger"
)

var testNow = time.Date(2026, 10, 16, 18, 0, 0, 0, time.UTC)

func testTickets() []ticket.Ticket {
	return []ticket.Ticket{
		{
			ID: "t-1", Code: "TCK-001", OwnerName: "Anna Petrova", OwnerEmail: "anna@example.com",
			EventName: "Autumn Jazz", TicketTypeName: "Standard", UnitPrice: decimal.NewFromInt(25),
			Status: ticket.StatusValid,
		},
		{
			ID: "t-2", Code: "TCK-002", OwnerName: "Boris Ivanov", OwnerEmail: "boris@example.com",
			EventName: "Autumn Jazz", TicketTypeName: "VIP", UnitPrice: decimal.NewFromInt(80),
			Status: ticket.StatusValid,
		},
		{
			ID: "t-3", Code: "TCK-003", OwnerName: "Anna Smirnova", OwnerEmail: "smirnova@example.com",
			EventName: "Autumn Jazz", TicketTypeName: "Standard", UnitPrice: decimal.NewFromInt(25),
			Status: ticket.StatusUsed,
		},
	}
}

func newTestStore(t *testing.T, deviceID string) *Store {
	t.Helper()
	return openTestStore(t, filepath.Join(t.TempDir(), "gate.db"), deviceID)
}

func openTestStore(t *testing.T, path, deviceID string) *Store {
	t.Helper()
	s, err := OpenStore(context.Background(), path, deviceID, logger.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// stubFetcher отдает заданный набор билетов.
type stubFetcher struct {
	tickets []ticket.Ticket
	err     error
	dates   []string
}

func (f *stubFetcher) FetchTickets(_ context.Context, date string) (*ticket.Snapshot, error) {
	f.dates = append(f.dates, date)
	if f.err != nil {
		return nil, f.err
	}
	return &ticket.Snapshot{OperatingDate: date, Tickets: f.tickets}, nil
}

type countingKicker struct{ n int }

func (k *countingKicker) Kick() { k.n++ }

// newTestGate создает устройство с загруженным снимком testTickets.
func newTestGate(t *testing.T, deviceID string, clk clock.Clock) (*Gate, *Store) {
	t.Helper()
	store := newTestStore(t, deviceID)
	require.NoError(t, store.ReplaceSnapshot(context.Background(), testTickets(), "2026-10-16", testNow))

	g, err := NewGate(context.Background(), store, &stubFetcher{tickets: testTickets()}, GateConfig{
		DeviceID:         deviceID,
		DefaultValidator: "controller-" + deviceID,
		Location:         time.UTC,
	}, clk, logger.Discard())
	require.NoError(t, err)
	return g, store
}

func testRecord(id, ticketID, deviceID string, at time.Time) *validation.Record {
	return &validation.Record{
		ID:                id,
		TicketID:          ticketID,
		ValidatedAt:       at,
		ValidatorIdentity: "controller-" + deviceID,
		DeviceID:          deviceID,
		Method:            validation.MethodScan,
	}
}
