package gate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/exp/slog"

	"ticketgate/internal/domain/validation"
	"ticketgate/internal/infrastructure/metrics"
	"ticketgate/internal/utils/clock"
)

// Connectivity — то, что реконсилятору нужно от монитора связи.
type Connectivity interface {
	Online() bool
	Subscribe() (<-chan Transition, func())
	WithOnline(parent context.Context) (context.Context, context.CancelFunc)
}

type ReconcilerConfig struct {
	BatchSize     int
	ChangesLimit  int
	BatchWindow   time.Duration
	SyncInterval  time.Duration
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
}

// FlushResult — итог одного flush.
type FlushResult struct {
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Sent       int       `json:"sent"`
	Synced     int       `json:"synced"`
	Conflicts  int       `json:"conflicts"`
	Demoted    int       `json:"demoted"`
	Batches    int       `json:"batches"`
}

// ReconcilerStats — состояние для статуса устройства.
type ReconcilerStats struct {
	LastFlush      *FlushResult `json:"last_flush,omitempty"`
	LastError      string       `json:"last_error,omitempty"`
	LastErrorAt    *time.Time   `json:"last_error_at,omitempty"`
	Failures       int          `json:"failures"`
	NextRetryAfter string       `json:"next_retry_after,omitempty"`
}

// Reconciler доставляет записи очереди авторитету и применяет вердикты.
type Reconciler struct {
	queue     *Queue
	authority Authority
	config    ReconcilerConfig
	clock     clock.Clock
	log       *slog.Logger

	kick     chan struct{}
	flushing atomic.Bool
	// batchSize уменьшается, если авторитет отверг пакет как слишком большой.
	// Меняется только внутри flush.
	batchSize int

	mu        sync.Mutex
	last      *FlushResult
	lastErr   error
	lastErrAt time.Time
	failures  int
	nextRetry time.Duration
}

func NewReconciler(queue *Queue, authority Authority, cfg *ReconcilerConfig, clk clock.Clock, log *slog.Logger) *Reconciler {
	c := ReconcilerConfig{
		BatchSize:     100,
		ChangesLimit:  500,
		BatchWindow:   2 * time.Second,
		SyncInterval:  30 * time.Second,
		RetryDelay:    time.Second,
		MaxRetryDelay: 5 * time.Minute,
	}
	if cfg != nil {
		if cfg.BatchSize > 0 {
			c.BatchSize = cfg.BatchSize
		}
		if cfg.ChangesLimit > 0 {
			c.ChangesLimit = cfg.ChangesLimit
		}
		if cfg.BatchWindow > 0 {
			c.BatchWindow = cfg.BatchWindow
		}
		if cfg.SyncInterval > 0 {
			c.SyncInterval = cfg.SyncInterval
		}
		if cfg.RetryDelay > 0 {
			c.RetryDelay = cfg.RetryDelay
		}
		if cfg.MaxRetryDelay > 0 {
			c.MaxRetryDelay = cfg.MaxRetryDelay
		}
	}

	return &Reconciler{
		queue:     queue,
		authority: authority,
		config:    c,
		clock:     clk,
		log:       log.With("component", "reconciler"),
		kick:      make(chan struct{}, 1),
		batchSize: c.BatchSize,
	}
}

// Kick сообщает о новой записи. Не блокирует; сигналы в пределах BatchWindow склеиваются.
func (r *Reconciler) Kick() {
	select {
	case r.kick <- struct{}{}:
	default:
	}
}

// Flush отправляет все Pending-записи пачками и затем забирает ленту изменений вердиктов.
// При транспортной ошибке записи остаются Pending; уже примененные вердикты не откатываются.
func (r *Reconciler) Flush(ctx context.Context) (*FlushResult, error) {
	if !r.flushing.CompareAndSwap(false, true) {
		return nil, ErrFlushInProgress
	}
	defer r.flushing.Store(false)

	res := &FlushResult{StartedAt: r.clock.Now()}
	err := r.flush(ctx, res)
	res.FinishedAt = r.clock.Now()

	r.record(res, err)
	return res, err
}

func (r *Reconciler) flush(ctx context.Context, res *FlushResult) error {
	// stalled — первая запись пакета, по которому не применился ни один вердикт.
	var stalled string
	for {
		batch, err := r.queue.Pending(ctx, r.batchSize)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			break
		}
		if stalled != "" && batch[0].ID == stalled {
			return fmt.Errorf("%w: no verdict applied to batch of %d", ErrResultMismatch, len(batch))
		}

		results, err := r.authority.SubmitBatch(ctx, batch)
		if errors.Is(err, validation.ErrBatchTooLarge) && len(batch) > 1 {
			r.batchSize = max(len(batch)/2, 1)
			r.log.Warn("authority rejected batch size, halving", "records", len(batch), "batch_size", r.batchSize)
			continue
		}
		if err == nil {
			err = checkResults(batch, results)
		}
		if err != nil {
			// Попытку фиксируем и при отмене flush: контекст мог отмениться из-за потери связи.
			if merr := r.queue.MarkAttempt(context.WithoutCancel(ctx), batch, err.Error()); merr != nil {
				r.log.Error("failed to record attempt", "error", merr)
			}
			return fmt.Errorf("submit batch of %d: %w", len(batch), err)
		}

		applied, err := r.queue.ApplyResults(ctx, results)
		if err != nil {
			return err
		}
		res.Batches++
		res.Sent += len(batch)
		res.Synced += applied.Synced
		res.Conflicts += applied.Conflicts
		metrics.GateVerdicts.WithLabelValues(string(validation.VerdictSynced)).Add(float64(applied.Synced))
		metrics.GateVerdicts.WithLabelValues(string(validation.VerdictConflict)).Add(float64(applied.Conflicts))

		// Ноль примененных вердиктов значит, что пакет уже отправил другой процесс на той же базе.
		// Ошибка только если записи так и остались Pending.
		stalled = ""
		if applied.Synced+applied.Conflicts == 0 {
			stalled = batch[0].ID
			continue
		}
		if len(batch) < r.batchSize {
			break
		}
	}

	if err := r.pullChanges(ctx, res); err != nil {
		return err
	}

	if c, err := r.queue.Counts(ctx); err == nil {
		metrics.GatePendingRecords.Set(float64(c.Pending))
	}
	return r.queue.MarkFlushed(ctx)
}

// pullChanges применяет изменения вердиктов после курсора. Курсор двигается в той же транзакции.
func (r *Reconciler) pullChanges(ctx context.Context, res *FlushResult) error {
	for {
		cur, err := r.queue.Cursor(ctx)
		if err != nil {
			return err
		}

		feed, err := r.authority.Changes(ctx, cur.LastRevision, r.config.ChangesLimit)
		if err != nil {
			return fmt.Errorf("changes since %d: %w", cur.LastRevision, err)
		}
		if len(feed.Changes) == 0 {
			return nil
		}

		applied, err := r.queue.ApplyChanges(ctx, feed)
		if err != nil {
			return err
		}
		res.Synced += applied.Synced
		res.Demoted += applied.Conflicts
		if applied.Conflicts > 0 {
			metrics.GateVerdicts.WithLabelValues(string(validation.VerdictConflict)).Add(float64(applied.Conflicts))
			r.log.Warn("validations demoted to conflict", "count", applied.Conflicts, "revision", feed.Revision)
		}

		if !feed.HasMore || feed.Revision <= cur.LastRevision {
			return nil
		}
	}
}

func checkResults(batch []validation.Record, results []validation.Result) error {
	if len(results) != len(batch) {
		return fmt.Errorf("%w: %d results for %d records", ErrResultMismatch, len(results), len(batch))
	}
	for i := range batch {
		if results[i].RecordID != batch[i].ID {
			return fmt.Errorf("%w: result %d is for %s, expected %s",
				ErrResultMismatch, i, results[i].RecordID, batch[i].ID)
		}
	}
	return nil
}

func (r *Reconciler) record(res *FlushResult, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err != nil {
		r.lastErr = err
		r.lastErrAt = res.FinishedAt
		label := "error"
		if errors.Is(err, validation.ErrTransport) || errors.Is(err, context.Canceled) {
			label = "transport_error"
		}
		metrics.GateFlushes.WithLabelValues(label).Inc()
		r.log.Warn("flush failed", "sent", res.Sent, "error", err)
		return
	}

	r.last = res
	r.lastErr = nil
	metrics.GateFlushes.WithLabelValues("ok").Inc()
	if res.Sent > 0 || res.Demoted > 0 {
		r.log.Info("flush completed",
			"sent", res.Sent, "synced", res.Synced, "conflicts", res.Conflicts,
			"demoted", res.Demoted, "batches", res.Batches)
	}
}

func (r *Reconciler) Stats() ReconcilerStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := ReconcilerStats{LastFlush: r.last, Failures: r.failures}
	if r.lastErr != nil {
		st.LastError = r.lastErr.Error()
		at := r.lastErrAt
		st.LastErrorAt = &at
	}
	if r.nextRetry > 0 {
		st.NextRetryAfter = r.nextRetry.String()
	}
	return st
}

// Run — фоновый цикл: flush при появлении связи, по окну после Kick, по интервалу
// и по таймеру повтора с экспоненциальной задержкой.
func (r *Reconciler) Run(ctx context.Context, conn Connectivity) error {
	transitions, unsubscribe := conn.Subscribe()
	defer unsubscribe()

	ticker := time.NewTicker(r.config.SyncInterval)
	defer ticker.Stop()

	var (
		window *time.Timer
		retry  *time.Timer
	)
	stop := func(t *time.Timer) *time.Timer {
		if t != nil {
			t.Stop()
		}
		return nil
	}
	defer func() {
		stop(window)
		stop(retry)
	}()

	flush := func() {
		if !conn.Online() {
			return
		}
		fctx, cancel := conn.WithOnline(ctx)
		_, err := r.Flush(fctx)
		cancel()

		switch {
		case errors.Is(err, ErrFlushInProgress):
		case err != nil:
			r.mu.Lock()
			r.failures++
			delay := backoff(r.config.RetryDelay, r.config.MaxRetryDelay, r.failures-1)
			r.nextRetry = delay
			r.mu.Unlock()
			retry = stop(retry)
			retry = time.NewTimer(delay)
		default:
			r.mu.Lock()
			r.failures = 0
			r.nextRetry = 0
			r.mu.Unlock()
			retry = stop(retry)
		}
	}

	flush()
	for {
		select {
		case <-ctx.Done():
			return nil
		case tr := <-transitions:
			if tr.Online {
				r.mu.Lock()
				r.failures = 0
				r.mu.Unlock()
				flush()
			}
		case <-r.kick:
			if window == nil {
				window = time.NewTimer(r.config.BatchWindow)
			}
		case <-timerC(window):
			window = nil
			flush()
		case <-ticker.C:
			flush()
		case <-timerC(retry):
			retry = nil
			flush()
		}
	}
}

func timerC(t *time.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

// backoff возвращает base*2^n, не больше maxDelay.
func backoff(base, maxDelay time.Duration, n int) time.Duration {
	d := base
	for i := 0; i < n; i++ {
		d *= 2
		if d >= maxDelay || d <= 0 {
			return maxDelay
		}
	}
	return min(d, maxDelay)
}
