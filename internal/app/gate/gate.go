package gate

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/exp/slog"
	"golang.org/x/sync/errgroup"

	"ticketgate/internal/app/gate/config"
	"ticketgate/internal/domain/device"
	"ticketgate/internal/domain/ticket"
	"ticketgate/internal/domain/validation"
	"ticketgate/internal/utils/clock"
)

// AuthorityClient — Authority плюс регистрация и вход устройства.
type AuthorityClient interface {
	Authority
	Register(ctx context.Context, req device.RegisterRequest) error
	Login(ctx context.Context, deviceID, secret string) (string, error)
	SetToken(token string)
}

// Status — сводное состояние устройства.
type Status struct {
	DeviceID        string            `json:"device_id"`
	Connectivity    ConnectivityState `json:"connectivity"`
	Records         Counts            `json:"records"`
	SnapshotTickets int               `json:"snapshot_tickets"`
	Cursor          Cursor            `json:"cursor"`
	Sync            ReconcilerStats   `json:"sync"`
	Authorized      bool              `json:"authorized"`
}

// App связывает конфигурацию, локальное хранилище, сервис валидации, реконсилятор и монитор связи.
type App struct {
	config     *config.Config
	log        *slog.Logger
	clock      clock.Clock
	client     AuthorityClient
	store      *Store
	gate       *Gate
	queue      *Queue
	reconciler *Reconciler
	monitor    *Monitor
	authorized bool
}

func New(ctx context.Context, cfg *config.Config, log *slog.Logger) (*App, error) {
	client, err := NewHTTPClient(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("init authority client: %w", err)
	}
	return NewWithClient(ctx, cfg, client, clock.NewSystem(), log)
}

func NewWithClient(ctx context.Context, cfg *config.Config, client AuthorityClient, clk clock.Clock, log *slog.Logger) (*App, error) {
	store, err := OpenStore(ctx, cfg.DataPath, cfg.DeviceID, log)
	if err != nil {
		return nil, err
	}

	g, err := NewGate(ctx, store, client, GateConfig{
		DeviceID:         cfg.DeviceID,
		DefaultValidator: cfg.Validator,
		Location:         cfg.Location(),
	}, clk, log)
	if err != nil {
		store.Close()
		return nil, err
	}

	queue := g.Queue()
	reconciler := NewReconciler(queue, client, &ReconcilerConfig{
		BatchSize:     cfg.BatchSize,
		BatchWindow:   cfg.BatchWindow,
		SyncInterval:  cfg.SyncInterval,
		RetryDelay:    cfg.RetryDelay,
		MaxRetryDelay: cfg.MaxRetryDelay,
	}, clk, log)
	g.SetKicker(reconciler)

	monitor := NewMonitor(client, MonitorConfig{
		ProbeInterval: cfg.ProbeInterval,
		ProbeTimeout:  cfg.ProbeTimeout,
	}, clk, log)

	app := &App{
		config:     cfg,
		log:        log,
		clock:      clk,
		client:     client,
		store:      store,
		gate:       g,
		queue:      queue,
		reconciler: reconciler,
		monitor:    monitor,
	}

	if token, err := app.GetToken(); err == nil && token != "" {
		client.SetToken(token)
		app.authorized = true
		log.Debug("token loaded", "path", cfg.TokenPath)
	}

	return app, nil
}

func (a *App) Close() error {
	return a.store.Close()
}

// Run запускает агента: монитор связи, реконсилятор, периодическое обновление снимка
// и, если передан handler, локальный HTTP API. Возвращается после отмены ctx.
func (a *App) Run(ctx context.Context, handler http.Handler) error {
	a.monitor.Probe(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.monitor.Run(gctx) })
	g.Go(func() error { return a.reconciler.Run(gctx, a.monitor) })
	g.Go(func() error { return a.refreshLoop(gctx) })

	if handler != nil {
		srv := &http.Server{
			Addr:              a.config.ListenAddress,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			a.log.Info("local API listening", "address", a.config.ListenAddress)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("local API: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	a.log.Info("gate agent started",
		"device_id", a.config.DeviceID,
		"authority", a.config.AuthorityAddress,
		"snapshot_tickets", a.gate.SnapshotSize())

	err := g.Wait()
	a.log.Info("gate agent stopped")
	return err
}

// refreshLoop обновляет снимок при появлении связи и каждые RefreshInterval.
func (a *App) refreshLoop(ctx context.Context) error {
	transitions, unsubscribe := a.monitor.Subscribe()
	defer unsubscribe()

	ticker := time.NewTicker(a.config.RefreshInterval)
	defer ticker.Stop()

	refresh := func() {
		if !a.monitor.Online() {
			return
		}
		rctx, cancel := a.monitor.WithOnline(ctx)
		defer cancel()
		if _, err := a.gate.Refresh(rctx, ""); err != nil {
			a.log.Warn("snapshot refresh failed", "error", err)
		}
	}

	refresh()
	for {
		select {
		case <-ctx.Done():
			return nil
		case tr := <-transitions:
			if tr.Online {
				refresh()
			}
		case <-ticker.C:
			refresh()
		}
	}
}

// Validate — решение на проходе. Сеть не нужна.
func (a *App) Validate(ctx context.Context, code, validator string, method validation.Method) (Outcome, error) {
	return a.gate.Validate(ctx, code, validator, method)
}

func (a *App) Search(query string, limit int) []ticket.Ticket {
	return a.gate.Search(query, limit)
}

func (a *App) Refresh(ctx context.Context, date string) (*RefreshResult, error) {
	return a.gate.Refresh(ctx, date)
}

// Flush выполняет синхронизацию сейчас, не дожидаясь таймеров.
func (a *App) Flush(ctx context.Context) (*FlushResult, error) {
	return a.reconciler.Flush(ctx)
}

// Probe проверяет связь с авторитетом один раз.
func (a *App) Probe(ctx context.Context) bool {
	return a.monitor.Probe(ctx)
}

// SetOnline — внешний сигнал платформы о состоянии сети.
func (a *App) SetOnline(online bool) bool {
	return a.monitor.Set(online)
}

func (a *App) Records(ctx context.Context, f RecordFilter) ([]validation.Record, error) {
	return a.queue.Records(ctx, f)
}

func (a *App) MarkReviewed(ctx context.Context, id string) error {
	return a.queue.MarkReviewed(ctx, id)
}

func (a *App) Status(ctx context.Context) (*Status, error) {
	counts, err := a.queue.Counts(ctx)
	if err != nil {
		return nil, err
	}
	cursor, err := a.queue.Cursor(ctx)
	if err != nil {
		return nil, err
	}

	return &Status{
		DeviceID:        a.config.DeviceID,
		Connectivity:    a.monitor.State(),
		Records:         counts,
		SnapshotTickets: a.gate.SnapshotSize(),
		Cursor:          cursor,
		Sync:            a.reconciler.Stats(),
		Authorized:      a.authorized,
	}, nil
}

// Enroll регистрирует устройство у авторитета и сразу получает токен.
func (a *App) Enroll(ctx context.Context, enrollmentKey, secret string) error {
	err := a.client.Register(ctx, device.RegisterRequest{
		DeviceID:      a.config.DeviceID,
		Name:          a.config.DeviceName,
		Secret:        secret,
		EnrollmentKey: enrollmentKey,
	})
	if err != nil {
		return fmt.Errorf("register device: %w", err)
	}
	return a.Login(ctx, secret)
}

func (a *App) Login(ctx context.Context, secret string) error {
	token, err := a.client.Login(ctx, a.config.DeviceID, secret)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	return a.SaveToken(token)
}

func (a *App) GetToken() (string, error) {
	tokenBytes, err := os.ReadFile(a.config.TokenPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: token not found, run `gate login`", ErrUnauthorized)
		}
		return "", fmt.Errorf("read token: %w", err)
	}
	return strings.TrimSpace(string(tokenBytes)), nil
}

func (a *App) SaveToken(token string) error {
	if err := os.WriteFile(a.config.TokenPath, []byte(token), 0o600); err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	a.client.SetToken(token)
	a.authorized = true
	return nil
}

func (a *App) ClearToken() error {
	if err := os.Remove(a.config.TokenPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove token: %w", err)
	}
	a.client.SetToken("")
	a.authorized = false
	return nil
}

func (a *App) Config() *config.Config {
	return a.config
}
