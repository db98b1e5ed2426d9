// Локальный API агента для интерфейса на проходе. Слушает только локальный адрес.

// GET  /api/v1/health                    # Агент жив, есть ли связь с авторитетом
// POST /api/v1/validate                  # Проверка билета (офлайн)
// GET  /api/v1/tickets/search?q=         # Поиск по владельцу
// GET  /api/v1/status                    # Связь, очередь, курсор, последний flush
// POST /api/v1/sync                      # Синхронизация сейчас
// POST /api/v1/refresh?date=             # Обновить снимок
// GET  /api/v1/validations?status=       # Локальная история
// POST /api/v1/validations/{id}/review   # Конфликт разобран
// PUT  /api/v1/connectivity              # Сигнал платформы о сети
// GET  /metrics                          # Prometheus

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/exp/slog"

	agentAPI "ticketgate/internal/app/gate/api/http/agent"
	"ticketgate/internal/infrastructure/metrics"
)

func New(service agentAPI.Service, log *slog.Logger) http.Handler {
	mux := chi.NewMux()
	API := humachi.New(mux, huma.DefaultConfig("Ticketgate Gate API", "1.0.0"))

	handler := agentAPI.NewHandler(service, log, huma.Middlewares{requestLogger(log)})
	handler.SetupRoutes(API)

	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// requestLogger пишет запросы на уровне Debug: интерфейс опрашивает статус постоянно.
func requestLogger(log *slog.Logger) func(huma.Context, func(huma.Context)) {
	log = log.With(slog.String("component", "http_logger"))
	return func(ctx huma.Context, next func(huma.Context)) {
		start := time.Now()
		next(ctx)
		duration := time.Since(start)

		metrics.GateRequestDuration.
			WithLabelValues(ctx.Method(), ctx.Operation().Path, strconv.Itoa(ctx.Status())).
			Observe(duration.Seconds())

		log.Debug("HTTP request",
			slog.String("method", ctx.Method()),
			slog.String("path", ctx.URL().Path),
			slog.Int("status", ctx.Status()),
			slog.Duration("duration", duration),
		)
	}
}
