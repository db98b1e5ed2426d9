package agent

import (
	"context"
	"errors"

	"github.com/danielgtaylor/huma/v2"
	"golang.org/x/exp/slog"

	"ticketgate/internal/app/gate"
	"ticketgate/internal/domain/ticket"
	"ticketgate/internal/domain/validation"
)

// Service — то, что локальный API вызывает у агента.
type Service interface {
	Validate(ctx context.Context, code, validator string, method validation.Method) (gate.Outcome, error)
	Search(query string, limit int) []ticket.Ticket
	Refresh(ctx context.Context, date string) (*gate.RefreshResult, error)
	Flush(ctx context.Context) (*gate.FlushResult, error)
	Status(ctx context.Context) (*gate.Status, error)
	Records(ctx context.Context, f gate.RecordFilter) ([]validation.Record, error)
	MarkReviewed(ctx context.Context, id string) error
	SetOnline(online bool) bool
}

type Handler struct {
	service    Service
	log        *slog.Logger
	middleware huma.Middlewares
}

func NewHandler(service Service, log *slog.Logger, middleware huma.Middlewares) *Handler {
	return &Handler{
		service:    service,
		log:        log.With("component", "gate_api"),
		middleware: middleware,
	}
}

func (h *Handler) SetupRoutes(api huma.API) {
	huma.Register(api, h.healthOp(), h.health)
	huma.Register(api, h.validateOp(), h.validate)
	huma.Register(api, h.searchOp(), h.search)
	huma.Register(api, h.statusOp(), h.status)
	huma.Register(api, h.syncOp(), h.sync)
	huma.Register(api, h.refreshOp(), h.refresh)
	huma.Register(api, h.recordsOp(), h.records)
	huma.Register(api, h.reviewOp(), h.review)
	huma.Register(api, h.connectivityOp(), h.connectivity)
}

func (h *Handler) health(ctx context.Context, _ *HealthInput) (*HealthOutput, error) {
	st, err := h.service.Status(ctx)
	if err != nil {
		h.log.Error("status failed", "error", err)
		return nil, huma.Error503ServiceUnavailable("local storage unavailable")
	}

	out := &HealthOutput{}
	out.Body.Status = "OK"
	out.Body.Online = st.Connectivity.Online
	return out, nil
}

func (h *Handler) validate(ctx context.Context, input *ValidateInput) (*ValidateOutput, error) {
	outcome, err := h.service.Validate(ctx, input.Body.Code, input.Body.Validator, input.Body.Method)
	if err != nil {
		if errors.Is(err, gate.ErrInvalidMethod) {
			return nil, huma.Error400BadRequest(err.Error())
		}
		return nil, huma.Error500InternalServerError("local storage failure")
	}
	return &ValidateOutput{Body: outcome}, nil
}

func (h *Handler) search(_ context.Context, input *SearchInput) (*SearchOutput, error) {
	out := &SearchOutput{}
	out.Body.Tickets = h.service.Search(input.Query, input.Limit)
	if out.Body.Tickets == nil {
		out.Body.Tickets = []ticket.Ticket{}
	}
	return out, nil
}

func (h *Handler) status(ctx context.Context, _ *StatusInput) (*StatusOutput, error) {
	st, err := h.service.Status(ctx)
	if err != nil {
		h.log.Error("status failed", "error", err)
		return nil, huma.Error500InternalServerError("local storage failure")
	}
	return &StatusOutput{Body: st}, nil
}

func (h *Handler) sync(ctx context.Context, _ *SyncInput) (*SyncOutput, error) {
	res, err := h.service.Flush(ctx)
	if err != nil {
		return nil, authorityError(err)
	}
	return &SyncOutput{Body: res}, nil
}

func (h *Handler) refresh(ctx context.Context, input *RefreshInput) (*RefreshOutput, error) {
	if input.Date != "" {
		if _, err := ticket.ParseDate(input.Date); err != nil {
			return nil, huma.Error400BadRequest("date must be YYYY-MM-DD")
		}
	}

	res, err := h.service.Refresh(ctx, input.Date)
	if err != nil {
		return nil, authorityError(err)
	}
	return &RefreshOutput{Body: res}, nil
}

func (h *Handler) records(ctx context.Context, input *RecordsInput) (*RecordsOutput, error) {
	records, err := h.service.Records(ctx, gate.RecordFilter{
		Status:      validation.SyncStatus(input.Status),
		NeedsReview: input.NeedsReview,
		TicketID:    input.TicketID,
		Limit:       input.Limit,
	})
	if err != nil {
		h.log.Error("list records failed", "error", err)
		return nil, huma.Error500InternalServerError("local storage failure")
	}

	out := &RecordsOutput{}
	out.Body.Records = records
	if out.Body.Records == nil {
		out.Body.Records = []validation.Record{}
	}
	return out, nil
}

func (h *Handler) review(ctx context.Context, input *ReviewInput) (*ReviewOutput, error) {
	err := h.service.MarkReviewed(ctx, input.ID)
	switch {
	case err == nil:
		return &ReviewOutput{}, nil
	case errors.Is(err, validation.ErrRecordNotFound):
		return nil, huma.Error404NotFound("record not found")
	case errors.Is(err, gate.ErrNotConflict):
		return nil, huma.Error409Conflict("record is not in conflict")
	default:
		h.log.Error("mark reviewed failed", "id", input.ID, "error", err)
		return nil, huma.Error500InternalServerError("local storage failure")
	}
}

func (h *Handler) connectivity(_ context.Context, input *ConnectivityInput) (*ConnectivityOutput, error) {
	out := &ConnectivityOutput{}
	out.Body.Changed = h.service.SetOnline(input.Body.Online)
	out.Body.Online = input.Body.Online
	return out, nil
}

// authorityError переводит ошибку синхронизации или загрузки снимка в ответ локального API.
func authorityError(err error) error {
	switch {
	case errors.Is(err, gate.ErrFlushInProgress):
		return huma.Error409Conflict(err.Error())
	case errors.Is(err, validation.ErrStorage):
		return huma.Error500InternalServerError("local storage failure")
	case errors.Is(err, validation.ErrTransport):
		return huma.Error503ServiceUnavailable(err.Error())
	default:
		return huma.Error502BadGateway(err.Error())
	}
}
