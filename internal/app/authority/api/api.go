// Авторитет: каноническое состояние билетов и разрешение конфликтов валидаций.

// GET  /api/v1/health                    # Проверка связи (публичный)
// POST /api/v1/devices/register          # Регистрация устройства (публичный, ключ подключения)
// POST /api/v1/devices/login             # Токен устройства (публичный)
// GET  /api/v1/devices                   # Список устройств (auth)
// GET  /api/v1/tickets?date=             # Снимок билетов на дату (auth)
// POST /api/v1/validations/batch         # Пакет валидаций (auth, rate limit)
// GET  /api/v1/validations/changes       # Изменения вердиктов (auth, rate limit)
// GET  /api/v1/validations/conflicts     # Журнал конфликтов (auth)
// GET  /metrics                          # Prometheus

package api

import (
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/klauspost/compress/gzhttp"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/exp/slog"

	devicesAPI "ticketgate/internal/app/authority/api/http/devices"
	healthAPI "ticketgate/internal/app/authority/api/http/health"
	"ticketgate/internal/app/authority/api/http/middleware"
	"ticketgate/internal/app/authority/api/http/middleware/auth"
	"ticketgate/internal/app/authority/api/http/middleware/logger"
	"ticketgate/internal/app/authority/api/http/middleware/ratelimit"
	ticketsAPI "ticketgate/internal/app/authority/api/http/tickets"
	validationsAPI "ticketgate/internal/app/authority/api/http/validations"
	"ticketgate/internal/domain/device"
	"ticketgate/internal/domain/session"
	"ticketgate/internal/domain/ticket"
	"ticketgate/internal/domain/validation"
	"ticketgate/internal/infrastructure/storage/postgres"
	limiter "ticketgate/internal/infrastructure/ratelimit"
	"ticketgate/internal/utils/clock"
)

// Deps — внешние зависимости API.
type Deps struct {
	Storage       *postgres.Storage
	Publisher     validation.Publisher
	Limiter       limiter.Limiter
	Clock         clock.Clock
	Secret        string
	TokenTTL      time.Duration
	EnrollmentKey string
	Sync          validation.ServiceConfig
}

type Handlers struct {
	Health      *healthAPI.Handler
	Devices     *devicesAPI.Handler
	Tickets     *ticketsAPI.Handler
	Validations *validationsAPI.Handler
}

// New создает http.Handler со всеми операциями через huma.Register, /metrics и gzip-сжатием ответов.
func New(deps Deps, log *slog.Logger) http.Handler {
	mux := chi.NewMux()

	config := huma.DefaultConfig("Ticketgate Authority API", "1.0.0")
	config.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		"bearer": {Type: "http", Scheme: "bearer", BearerFormat: "JWT"},
	}

	API := humachi.New(mux, config)

	h := handlers(API, deps, log)
	h.Health.SetupRoutes(API)
	h.Devices.SetupRoutes(API)
	h.Tickets.SetupRoutes(API)
	h.Validations.SetupRoutes(API)

	mux.Handle("/metrics", promhttp.Handler())

	return gzhttp.GzipHandler(mux)
}

func handlers(API huma.API, deps Deps, log *slog.Logger) *Handlers {
	sessionService := session.NewService(deps.Secret, deps.TokenTTL, deps.Clock, log)
	authMW := auth.New(API, sessionService, log)
	loggerMW := logger.New(log)
	rateMW := ratelimit.New(API, deps.Limiter, log)
	middlewares := middleware.NewContainer()

	middlewares.Add(loggerMW.Middleware())
	healthHandler := healthAPI.NewHandler(deps.Storage, deps.Clock, log, middlewares.GetAllAndClear())

	deviceRepo := postgres.NewDeviceRepository(deps.Storage, log)
	deviceService := device.NewService(deviceRepo, device.NewSecretValidator(), deps.EnrollmentKey, deps.Clock, log)
	middlewares.Add(loggerMW.Middleware())
	public := middlewares.GetAllAndClear()
	middlewares.Add(loggerMW.Middleware())
	middlewares.Add(authMW.Middleware())
	devicesHandler := devicesAPI.NewHandler(deviceService, sessionService, deps.TokenTTL, log, public, middlewares.GetAllAndClear())

	ticketRepo := postgres.NewTicketRepository(deps.Storage, log)
	ticketService := ticket.NewService(ticketRepo, deps.Clock, log)
	middlewares.Add(loggerMW.Middleware())
	middlewares.Add(authMW.Middleware())
	ticketsHandler := ticketsAPI.NewHandler(ticketService, log, middlewares.GetAllAndClear())

	validationRepo := postgres.NewValidationRepository(deps.Storage, log)
	syncCfg := deps.Sync
	validationService := validation.NewService(validationRepo, deps.Publisher, deps.Clock, log, &syncCfg)
	middlewares.Add(loggerMW.Middleware())
	middlewares.Add(authMW.Middleware())
	middlewares.Add(rateMW.Middleware())
	validationsHandler := validationsAPI.NewHandler(validationService, deviceService, log, middlewares.GetAllAndClear())

	return &Handlers{
		Health:      healthHandler,
		Devices:     devicesHandler,
		Tickets:     ticketsHandler,
		Validations: validationsHandler,
	}
}
