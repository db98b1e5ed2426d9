package gate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"ticketgate/internal/domain/device"
	"ticketgate/internal/domain/ticket"
	"ticketgate/internal/domain/validation"
	"ticketgate/internal/utils/clock"
	"ticketgate/internal/utils/logger"
)

// memRepository — хранилище авторитета в памяти с теми же ограничениями, что и схема Postgres.
type memRepository struct {
	txMu     sync.Mutex
	mu       sync.Mutex
	tickets  map[string]bool
	entries  map[string]*validation.Entry
	revision int64
}

func newMemRepository(ticketIDs ...string) *memRepository {
	r := &memRepository{tickets: map[string]bool{}, entries: map[string]*validation.Entry{}}
	for _, id := range ticketIDs {
		r.tickets[id] = true
	}
	return r
}

func (r *memRepository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	r.txMu.Lock()
	defer r.txMu.Unlock()
	return fn(ctx)
}

func (r *memRepository) LockTicket(context.Context, string) error { return nil }

func (r *memRepository) TicketExists(_ context.Context, ticketID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tickets[ticketID], nil
}

func (r *memRepository) Get(_ context.Context, id string) (*validation.Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, validation.ErrRecordNotFound
	}
	cp := *e
	return &cp, nil
}

func (r *memRepository) Canonical(_ context.Context, ticketID string) (*validation.Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e := r.canonicalLocked(ticketID); e != nil {
		cp := *e
		return &cp, nil
	}
	return nil, validation.ErrRecordNotFound
}

func (r *memRepository) canonicalLocked(ticketID string) *validation.Entry {
	for _, e := range r.entries {
		if e.TicketID == ticketID && e.Verdict == validation.VerdictSynced {
			return e
		}
	}
	return nil
}

func (r *memRepository) Insert(_ context.Context, e *validation.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[e.ID]; ok {
		return errors.New("duplicate id")
	}
	if e.Verdict == validation.VerdictSynced && r.canonicalLocked(e.TicketID) != nil {
		return errors.New("second synced record for ticket")
	}
	r.revision++
	e.Revision = r.revision
	cp := *e
	r.entries[e.ID] = &cp
	return nil
}

func (r *memRepository) Demote(_ context.Context, id, reason string) (*validation.Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, validation.ErrRecordNotFound
	}
	r.revision++
	e.Verdict = validation.VerdictConflict
	e.Reason = reason
	e.Revision = r.revision
	cp := *e
	return &cp, nil
}

func (r *memRepository) ChangesSince(_ context.Context, deviceID string, since int64, limit int) ([]validation.Change, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []validation.Change
	for _, e := range r.entries {
		if e.DeviceID != deviceID || e.Revision <= since {
			continue
		}
		var canonical *validation.Entry
		if e.Verdict == validation.VerdictConflict {
			canonical = r.canonicalLocked(e.TicketID)
		}
		out = append(out, validation.Change{Result: e.Result(canonical), Revision: e.Revision})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Revision < out[j].Revision })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memRepository) Conflicts(context.Context, int) ([]validation.Entry, error) {
	return nil, nil
}

func (r *memRepository) syncedCount(ticketID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.entries {
		if e.TicketID == ticketID && e.Verdict == validation.VerdictSynced {
			n++
		}
	}
	return n
}

func (r *memRepository) canonicalDevice(ticketID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e := r.canonicalLocked(ticketID); e != nil {
		return e.DeviceID
	}
	return ""
}

// fakeAuthority — авторитет в памяти на настоящем validation.Service.
type fakeAuthority struct {
	svc  *validation.Service
	repo *memRepository

	mu sync.Mutex
	// down — сеть недоступна: запросы не доходят.
	down bool
	// dropResponses — сколько ответов на пакет потерять после применения.
	dropResponses int
	// shuffle — вернуть результаты в неверном порядке.
	shuffle bool
	// block, если задан, задерживает SubmitBatch до закрытия канала.
	block   chan struct{}
	entered chan struct{}
	batches int
}

func newFakeAuthority() *fakeAuthority {
	repo := newMemRepository("t-1", "t-2", "t-3")
	return &fakeAuthority{
		svc:  validation.NewService(repo, nil, clock.NewFixed(testNow.Add(time.Hour)), logger.Discard(), nil),
		repo: repo,
	}
}

func (a *fakeAuthority) setDown(down bool) {
	a.mu.Lock()
	a.down = down
	a.mu.Unlock()
}

func (a *fakeAuthority) batchCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.batches
}

func (a *fakeAuthority) client(deviceID string) *deviceClient {
	return &deviceClient{deviceID: deviceID, auth: a}
}

// deviceClient — Authority, привязанный к устройству, как HTTP-клиент с токеном.
type deviceClient struct {
	deviceID string
	auth     *fakeAuthority
	token    string
	// beforeSubmit, если задан, вызывается один раз перед применением пакета.
	beforeSubmit func()
}

var _ AuthorityClient = (*deviceClient)(nil)

func (c *deviceClient) unreachable() error {
	c.auth.mu.Lock()
	defer c.auth.mu.Unlock()
	if c.auth.down {
		return fmt.Errorf("%w: connection refused", validation.ErrTransport)
	}
	return nil
}

func (c *deviceClient) HealthCheck(context.Context) error {
	return c.unreachable()
}

func (c *deviceClient) FetchTickets(_ context.Context, date string) (*ticket.Snapshot, error) {
	if err := c.unreachable(); err != nil {
		return nil, err
	}
	return &ticket.Snapshot{OperatingDate: date, Tickets: testTickets()}, nil
}

func (c *deviceClient) SubmitBatch(ctx context.Context, records []validation.Record) ([]validation.Result, error) {
	if err := c.unreachable(); err != nil {
		return nil, err
	}

	c.auth.mu.Lock()
	block, entered := c.auth.block, c.auth.entered
	c.auth.entered = nil
	c.auth.mu.Unlock()
	if block != nil {
		if entered != nil {
			close(entered)
		}
		select {
		case <-block:
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", validation.ErrTransport, ctx.Err())
		}
	}

	if hook := c.beforeSubmit; hook != nil {
		c.beforeSubmit = nil
		hook()
	}

	subs := make([]validation.Submission, 0, len(records))
	for _, r := range records {
		subs = append(subs, r.Submission())
	}
	results, err := c.auth.svc.Submit(ctx, c.deviceID, subs)
	if err != nil {
		return nil, err
	}

	c.auth.mu.Lock()
	defer c.auth.mu.Unlock()
	c.auth.batches++
	if c.auth.dropResponses > 0 {
		c.auth.dropResponses--
		return nil, fmt.Errorf("%w: connection reset", validation.ErrTransport)
	}
	if c.auth.shuffle && len(results) > 1 {
		results[0], results[1] = results[1], results[0]
	}
	return results, nil
}

func (c *deviceClient) Changes(ctx context.Context, since int64, limit int) (*validation.ChangeFeed, error) {
	if err := c.unreachable(); err != nil {
		return nil, err
	}
	return c.auth.svc.Changes(ctx, c.deviceID, since, limit)
}

func (c *deviceClient) Register(context.Context, device.RegisterRequest) error {
	return c.unreachable()
}

func (c *deviceClient) Login(_ context.Context, deviceID, secret string) (string, error) {
	if err := c.unreachable(); err != nil {
		return "", err
	}
	if secret != "correct-secret" {
		return "", fmt.Errorf("%w: invalid credentials", ErrUnauthorized)
	}
	return "token-" + deviceID, nil
}

func (c *deviceClient) SetToken(token string) {
	c.token = token
}
