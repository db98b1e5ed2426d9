package health

import (
	"context"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"golang.org/x/exp/slog"

	"ticketgate/internal/utils/clock"
)

// Pinger проверяет доступность хранилища.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	db         Pinger
	clock      clock.Clock
	log        *slog.Logger
	middleware huma.Middlewares
}

func NewHandler(db Pinger, clk clock.Clock, log *slog.Logger, middleware huma.Middlewares) *Handler {
	return &Handler{
		db:         db,
		clock:      clk,
		log:        log,
		middleware: middleware,
	}
}

func (h *Handler) SetupRoutes(api huma.API) {
	huma.Register(api, h.healthCheckOp(), h.healthCheck)
}

func (h *Handler) healthCheck(ctx context.Context, _ *Input) (*Output, error) {
	h.log.Debug("health check request received")

	if h.db != nil {
		if err := h.db.Ping(ctx); err != nil {
			h.log.Error("database ping failed", "error", err)
			return nil, huma.Error503ServiceUnavailable("database unavailable")
		}
	}

	return &Output{
		Body: Response{
			Status: "OK",
			Time:   h.clock.Now().Format(time.RFC3339),
		},
	}, nil
}
