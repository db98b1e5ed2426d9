package gate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/slog"

	"ticketgate/internal/domain/ticket"
	"ticketgate/internal/domain/validation"
	"ticketgate/internal/infrastructure/metrics"
	"ticketgate/internal/utils/clock"
)

// Kicker получает сигнал о новой записи в очереди.
type Kicker interface {
	Kick()
}

// TicketFetcher загружает снимок билетов с авторитета.
type TicketFetcher interface {
	FetchTickets(ctx context.Context, date string) (*ticket.Snapshot, error)
}

// RefreshResult — итог обновления снимка.
type RefreshResult struct {
	OperatingDate string    `json:"operating_date"`
	Tickets       int       `json:"tickets"`
	Preserved     int       `json:"preserved"`
	RefreshedAt   time.Time `json:"refreshed_at"`
}

// Gate владеет снимком и очередью устройства. Один мьютекс сериализует validate,
// замену снимка при refresh и записи вердиктов в очередь.
type Gate struct {
	mu       sync.Mutex
	store    *Store
	snapshot *Snapshot
	fetcher  TicketFetcher
	kicker   Kicker

	deviceID  string
	validator string
	location  *time.Location
	clock     clock.Clock
	log       *slog.Logger
}

type GateConfig struct {
	DeviceID         string
	DefaultValidator string
	Location         *time.Location
}

func NewGate(ctx context.Context, store *Store, fetcher TicketFetcher, cfg GateConfig, clk clock.Clock, log *slog.Logger) (*Gate, error) {
	tickets, err := store.LoadSnapshot(ctx)
	if err != nil {
		return nil, err
	}

	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	validator := cfg.DefaultValidator
	if validator == "" {
		validator = cfg.DeviceID
	}

	g := &Gate{
		store:     store,
		snapshot:  newSnapshot(tickets),
		fetcher:   fetcher,
		deviceID:  cfg.DeviceID,
		validator: validator,
		location:  loc,
		clock:     clk,
		log:       log.With("component", "gate"),
	}
	metrics.GateSnapshotTickets.Set(float64(g.snapshot.Len()))
	return g, nil
}

// SetKicker подключает реконсилятор после создания.
func (g *Gate) SetKicker(k Kicker) {
	g.mu.Lock()
	g.kicker = k
	g.mu.Unlock()
}

// Queue возвращает очередь, пишущую под тем же мьютексом, что и validate.
func (g *Gate) Queue() *Queue {
	return &Queue{store: g.store, mu: &g.mu, clock: g.clock}
}

// Validate решает по коду билета только по локальному состоянию, без обращения к сети.
// Отказы (неизвестный или использованный билет) возвращаются в Outcome с nil-ошибкой;
// ошибка означает сбой локального хранилища или неверные аргументы.
func (g *Gate) Validate(ctx context.Context, raw, validator string, method validation.Method) (Outcome, error) {
	if method == "" {
		method = validation.MethodScan
	}
	if !method.Valid() {
		return Outcome{}, fmt.Errorf("%w: %q", ErrInvalidMethod, method)
	}
	if validator == "" {
		validator = g.validator
	}
	code := ticket.NormalizeCode(raw)

	outcome, kicker, err := g.validateLocked(ctx, code, validator, method)
	if err != nil {
		metrics.GateValidations.WithLabelValues("error", "storage", string(method)).Inc()
		g.log.Error("validation failed", "code", code, "error", err)
		return Outcome{}, err
	}

	if outcome.Accepted {
		metrics.GateValidations.WithLabelValues("accepted", "", string(method)).Inc()
		metrics.GatePendingRecords.Inc()
		g.log.Info("ticket accepted",
			"code", code, "ticket_id", outcome.Ticket.ID, "record_id", outcome.Record.ID,
			"validator", validator, "method", method)
		if kicker != nil {
			kicker.Kick()
		}
	} else {
		metrics.GateValidations.WithLabelValues("rejected", outcome.Reason, string(method)).Inc()
		g.log.Info("ticket rejected", "code", code, "reason", outcome.Reason, "validator", validator)
	}
	return outcome, nil
}

func (g *Gate) validateLocked(ctx context.Context, code, validator string, method validation.Method) (Outcome, Kicker, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	t, found := g.snapshot.Find(code)

	var last *validation.Record
	if found && t.IsUsed() {
		var err error
		if last, err = g.store.LatestForTicket(ctx, t.ID); err != nil {
			return Outcome{}, nil, err
		}
	}

	outcome := decide(code, t, found, last)
	if !outcome.Accepted {
		return outcome, nil, nil
	}

	rec := &validation.Record{
		ID:                uuid.NewString(),
		TicketID:          t.ID,
		TicketCode:        t.Code,
		ValidatedAt:       g.clock.Now().UTC().Truncate(time.Microsecond),
		ValidatorIdentity: validator,
		DeviceID:          g.deviceID,
		Method:            method,
		SyncStatus:        validation.SyncPending,
	}

	err := g.store.CommitAcceptance(ctx, t.ID, rec)
	if errors.Is(err, validation.ErrAlreadyUsed) {
		// Билет принят другим процессом на этом же устройстве.
		g.snapshot.MarkUsedLocally(t.ID)
		if last, err = g.store.LatestForTicket(ctx, t.ID); err != nil {
			return Outcome{}, nil, err
		}
		t.Status = ticket.StatusUsed
		return decide(code, t, true, last), nil, nil
	}
	if err != nil {
		return Outcome{}, nil, err
	}

	g.snapshot.MarkUsedLocally(t.ID)
	t.Status = ticket.StatusUsed
	outcome.Ticket = &t
	outcome.Record = rec
	return outcome, g.kicker, nil
}

// Refresh загружает снимок на операционную дату (по умолчанию сегодня) и атомарно подменяет локальный.
// Сетевой запрос выполняется без блокировки: validate в это время не ждет.
func (g *Gate) Refresh(ctx context.Context, date string) (*RefreshResult, error) {
	if date == "" {
		date = g.clock.Now().In(g.location).Format(ticket.DateLayout)
	}

	fetched, err := g.fetcher.FetchTickets(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("fetch tickets for %s: %w", date, err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	withRecords, err := g.store.TicketIDsWithRecords(ctx)
	if err != nil {
		return nil, err
	}

	merged, preserved := merge(g.snapshot, fetched.Tickets, withRecords)
	now := g.clock.Now()
	if err := g.store.ReplaceSnapshot(ctx, merged, date, now); err != nil {
		return nil, err
	}
	g.snapshot = newSnapshot(merged)
	metrics.GateSnapshotTickets.Set(float64(g.snapshot.Len()))

	g.log.Info("snapshot refreshed", "date", date, "tickets", len(merged), "preserved", preserved)
	return &RefreshResult{
		OperatingDate: date,
		Tickets:       len(merged),
		Preserved:     preserved,
		RefreshedAt:   now,
	}, nil
}

// Search ищет билеты по владельцу для ручного ввода.
func (g *Gate) Search(query string, limit int) []ticket.Ticket {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.snapshot.Search(query, limit)
}

func (g *Gate) SnapshotSize() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.snapshot.Len()
}

// Ticket возвращает билет из снимка по id.
func (g *Gate) Ticket(id string) (ticket.Ticket, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.snapshot.FindByID(id)
}
