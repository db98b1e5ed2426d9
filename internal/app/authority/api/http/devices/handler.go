package devices

import (
	"context"
	"errors"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"golang.org/x/exp/slog"

	"ticketgate/internal/domain/device"
	"ticketgate/internal/domain/session"
)

type Handler struct {
	service    device.Servicer
	session    session.Servicer
	tokenTTL   time.Duration
	log        *slog.Logger
	public     huma.Middlewares
	middleware huma.Middlewares
}

// NewHandler: public применяется к регистрации и логину, middleware — к операциям с авторизацией.
func NewHandler(service device.Servicer, session session.Servicer, tokenTTL time.Duration, log *slog.Logger, public, middleware huma.Middlewares) *Handler {
	return &Handler{
		service:    service,
		session:    session,
		tokenTTL:   tokenTTL,
		log:        log,
		public:     public,
		middleware: middleware,
	}
}

func (h *Handler) SetupRoutes(api huma.API) {
	huma.Register(api, h.registerOp(), h.register)
	huma.Register(api, h.loginOp(), h.login)
	huma.Register(api, h.listOp(), h.list)
}

func (h *Handler) register(ctx context.Context, input *registerInput) (*registerOutput, error) {
	err := h.service.Register(ctx, input.Body)
	switch {
	case err == nil:
	case errors.Is(err, device.ErrInvalidEnrollment):
		return nil, huma.Error403Forbidden("invalid enrollment key")
	case errors.Is(err, device.ErrInvalidInput):
		return nil, huma.Error400BadRequest(err.Error())
	case errors.Is(err, device.ErrAlreadyExists):
		return nil, huma.Error409Conflict("device already registered")
	default:
		h.log.Error("register device", "device_id", input.Body.DeviceID, "error", err)
		return nil, huma.Error500InternalServerError("register device")
	}

	h.log.Info("device registered", "device_id", input.Body.DeviceID)
	return &registerOutput{
		Body: registerResponse{DeviceID: input.Body.DeviceID, Status: "Ok"},
	}, nil
}

func (h *Handler) login(ctx context.Context, input *loginInput) (*loginOutput, error) {
	d, err := h.service.Authenticate(ctx, input.Body.DeviceID, input.Body.Secret)
	if err != nil {
		if errors.Is(err, device.ErrInvalidAuth) {
			return nil, huma.Error401Unauthorized("invalid credentials")
		}
		h.log.Error("authenticate device", "device_id", input.Body.DeviceID, "error", err)
		return nil, huma.Error500InternalServerError("authenticate device")
	}

	token, err := h.session.Create(ctx, d.ID)
	if err != nil {
		h.log.Error("create session", "device_id", d.ID, "error", err)
		return nil, huma.Error500InternalServerError("create session")
	}

	if err := h.service.Touch(ctx, d.ID, false); err != nil {
		h.log.Warn("touch device", "device_id", d.ID, "error", err)
	}

	return &loginOutput{
		Body: LoginResponse{
			Token:     token,
			DeviceID:  d.ID,
			ExpiresIn: int64(h.tokenTTL.Seconds()),
		},
	}, nil
}

func (h *Handler) list(ctx context.Context, _ *struct{}) (*listOutput, error) {
	infos, err := h.service.List(ctx)
	if err != nil {
		h.log.Error("list devices", "error", err)
		return nil, huma.Error500InternalServerError("list devices")
	}

	return &listOutput{Body: listResponse{Devices: infos}}, nil
}
