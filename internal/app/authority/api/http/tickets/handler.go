package tickets

import (
	"context"
	"errors"

	"github.com/danielgtaylor/huma/v2"
	"golang.org/x/exp/slog"

	"ticketgate/internal/app/authority/api/http/middleware/auth"
	"ticketgate/internal/domain/ticket"
)

type Handler struct {
	service    ticket.Servicer
	log        *slog.Logger
	middleware huma.Middlewares
}

func NewHandler(service ticket.Servicer, log *slog.Logger, mws huma.Middlewares) *Handler {
	return &Handler{
		service:    service,
		log:        log,
		middleware: mws,
	}
}

func (h *Handler) SetupRoutes(api huma.API) {
	huma.Register(api, h.snapshotOp(), h.snapshot)
}

func (h *Handler) snapshot(ctx context.Context, input *snapshotInput) (*snapshotOutput, error) {
	deviceID, ok := auth.GetDeviceID(ctx)
	if !ok {
		return nil, huma.Error401Unauthorized("Unauthorized")
	}

	snap, err := h.service.Snapshot(ctx, input.Date)
	if err != nil {
		if errors.Is(err, ticket.ErrInvalidDate) {
			return nil, huma.Error400BadRequest("date must be YYYY-MM-DD")
		}
		h.log.Error("build snapshot", "device_id", deviceID, "date", input.Date, "error", err)
		return nil, huma.Error500InternalServerError("build snapshot")
	}

	h.log.Debug("snapshot served", "device_id", deviceID, "date", input.Date, "tickets", len(snap.Tickets))
	return &snapshotOutput{Body: snap}, nil
}
