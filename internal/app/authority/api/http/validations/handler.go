package validations

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"golang.org/x/exp/slog"

	"ticketgate/internal/app/authority/api/http/middleware/auth"
	"ticketgate/internal/domain/validation"
	"ticketgate/internal/infrastructure/metrics"
)

// DeviceToucher отмечает время последней синхронизации устройства.
type DeviceToucher interface {
	Touch(ctx context.Context, id string, synced bool) error
}

type Handler struct {
	service    validation.Servicer
	devices    DeviceToucher
	log        *slog.Logger
	middleware huma.Middlewares
}

func NewHandler(service validation.Servicer, devices DeviceToucher, log *slog.Logger, mws huma.Middlewares) *Handler {
	return &Handler{
		service:    service,
		devices:    devices,
		log:        log,
		middleware: mws,
	}
}

func (h *Handler) SetupRoutes(api huma.API) {
	huma.Register(api, h.batchOp(), h.batch)
	huma.Register(api, h.changesOp(), h.changes)
	huma.Register(api, h.conflictsOp(), h.conflicts)
}

func (h *Handler) batch(ctx context.Context, input *batchInput) (*batchOutput, error) {
	deviceID, ok := auth.GetDeviceID(ctx)
	if !ok {
		return nil, huma.Error401Unauthorized("Unauthorized")
	}

	results, err := h.service.Submit(ctx, deviceID, input.Body.Records)
	switch {
	case err == nil:
	case errors.Is(err, validation.ErrDeviceMismatch):
		return nil, huma.Error403Forbidden(err.Error())
	case errors.Is(err, validation.ErrBatchTooLarge):
		return nil, huma.NewError(http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, validation.ErrInvalidSubmission):
		return nil, huma.Error400BadRequest(err.Error())
	default:
		h.log.Error("submit batch", "device_id", deviceID, "records", len(input.Body.Records), "error", err)
		return nil, huma.Error500InternalServerError("submit batch")
	}

	for _, r := range results {
		metrics.AuthorityVerdicts.WithLabelValues(string(r.Verdict)).Inc()
	}
	if err := h.devices.Touch(ctx, deviceID, true); err != nil {
		h.log.Warn("touch device", "device_id", deviceID, "error", err)
	}

	h.log.Info("batch applied", "device_id", deviceID, "records", len(results))
	return &batchOutput{Body: validation.BatchResponse{Results: results}}, nil
}

func (h *Handler) changes(ctx context.Context, input *changesInput) (*changesOutput, error) {
	deviceID, ok := auth.GetDeviceID(ctx)
	if !ok {
		return nil, huma.Error401Unauthorized("Unauthorized")
	}

	feed, err := h.service.Changes(ctx, deviceID, input.Since, input.Limit)
	if err != nil {
		h.log.Error("changes feed", "device_id", deviceID, "since", input.Since, "error", err)
		return nil, huma.Error500InternalServerError("changes feed")
	}

	return &changesOutput{Body: feed}, nil
}

func (h *Handler) conflicts(ctx context.Context, input *conflictsInput) (*conflictsOutput, error) {
	if _, ok := auth.GetDeviceID(ctx); !ok {
		return nil, huma.Error401Unauthorized("Unauthorized")
	}

	entries, err := h.service.Conflicts(ctx, input.Limit)
	if err != nil {
		h.log.Error("list conflicts", "error", err)
		return nil, huma.Error500InternalServerError("list conflicts")
	}

	return &conflictsOutput{Body: conflictsResponse{Conflicts: toConflictEntries(entries)}}, nil
}
