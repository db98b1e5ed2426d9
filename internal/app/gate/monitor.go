package gate

import (
	"context"
	"sync"
	"time"

	"golang.org/x/exp/slog"

	"ticketgate/internal/infrastructure/metrics"
	"ticketgate/internal/utils/clock"
)

// Prober проверяет доступность авторитета.
type Prober interface {
	HealthCheck(ctx context.Context) error
}

// Transition — смена состояния связи.
type Transition struct {
	Online bool
	At     time.Time
}

// ConnectivityState — текущее состояние для статуса.
type ConnectivityState struct {
	Online         bool       `json:"online"`
	ChangedAt      *time.Time `json:"changed_at,omitempty"`
	LastProbeAt    *time.Time `json:"last_probe_at,omitempty"`
	LastProbeError string     `json:"last_probe_error,omitempty"`
}

type MonitorConfig struct {
	ProbeInterval time.Duration
	ProbeTimeout  time.Duration
}

const subscriberBuffer = 4

// Monitor следит за связью с авторитетом: периодическая проба плюс внешний сигнал Set.
type Monitor struct {
	prober Prober
	config MonitorConfig
	clock  clock.Clock
	log    *slog.Logger

	mu        sync.Mutex
	online    bool
	changedAt time.Time
	lastProbe time.Time
	lastErr   string
	// offline закрывается при переходе в offline; nil, пока связи нет.
	offline chan struct{}
	subs    map[int]chan Transition
	nextSub int
}

func NewMonitor(prober Prober, cfg MonitorConfig, clk clock.Clock, log *slog.Logger) *Monitor {
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = 15 * time.Second
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 3 * time.Second
	}
	return &Monitor{
		prober: prober,
		config: cfg,
		clock:  clk,
		log:    log.With("component", "connectivity_monitor"),
		subs:   make(map[int]chan Transition),
	}
}

func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Set выставляет состояние и возвращает true, если оно изменилось.
func (m *Monitor) Set(online bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.online == online {
		return false
	}

	now := m.clock.Now()
	m.online = online
	m.changedAt = now
	if online {
		m.offline = make(chan struct{})
	} else if m.offline != nil {
		close(m.offline)
		m.offline = nil
	}
	metrics.BoolGauge(metrics.GateOnline, online)

	tr := Transition{Online: online, At: now}
	for _, ch := range m.subs {
		notify(ch, tr)
	}

	if online {
		m.log.Info("authority reachable")
	} else {
		m.log.Warn("authority unreachable, working offline")
	}
	return true
}

// notify не блокирует: при полном буфере выбрасывается самый старый переход.
func notify(ch chan Transition, tr Transition) {
	for {
		select {
		case ch <- tr:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// Probe выполняет одну проверку и обновляет состояние.
func (m *Monitor) Probe(ctx context.Context) bool {
	pctx, cancel := context.WithTimeout(ctx, m.config.ProbeTimeout)
	defer cancel()

	err := m.prober.HealthCheck(pctx)

	m.mu.Lock()
	m.lastProbe = m.clock.Now()
	m.lastErr = ""
	if err != nil {
		m.lastErr = err.Error()
	}
	m.mu.Unlock()

	if err != nil && ctx.Err() != nil {
		// Остановка процесса — не потеря связи.
		return m.Online()
	}
	if err != nil {
		m.log.Debug("probe failed", "error", err)
	}
	m.Set(err == nil)
	return err == nil
}

// Run пробует сразу и далее каждые ProbeInterval до отмены ctx.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.config.ProbeInterval)
	defer ticker.Stop()

	m.Probe(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Probe(ctx)
		}
	}
}

// Subscribe возвращает канал переходов и функцию отписки.
func (m *Monitor) Subscribe() (<-chan Transition, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextSub
	m.nextSub++
	ch := make(chan Transition, subscriberBuffer)
	m.subs[id] = ch

	return ch, func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

// WithOnline возвращает контекст, который отменяется при переходе в offline.
// Если связи уже нет, контекст отменен сразу.
func (m *Monitor) WithOnline(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	m.mu.Lock()
	offline := m.offline
	m.mu.Unlock()

	if offline == nil {
		cancel()
		return ctx, cancel
	}

	go func() {
		select {
		case <-offline:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

func (m *Monitor) State() ConnectivityState {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := ConnectivityState{Online: m.online, LastProbeError: m.lastErr}
	if !m.changedAt.IsZero() {
		t := m.changedAt
		st.ChangedAt = &t
	}
	if !m.lastProbe.IsZero() {
		t := m.lastProbe
		st.LastProbeAt = &t
	}
	return st
}
