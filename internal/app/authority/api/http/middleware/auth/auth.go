package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"golang.org/x/exp/slog"

	"ticketgate/internal/domain/session"
)

type Auth struct {
	api     huma.API
	session session.Servicer
	log     *slog.Logger
}

func New(api huma.API, session session.Servicer, log *slog.Logger) *Auth {
	return &Auth{
		api:     api,
		session: session,
		log:     log.With("component", "auth_middleware"),
	}
}

type contextKey string

const DeviceIDKey contextKey = "deviceID"

// Middleware проверяет Bearer-токен устройства и кладет его id в контекст.
func (a *Auth) Middleware() func(huma.Context, func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		header := ctx.Header("Authorization")

		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			a.log.Debug("missing bearer token", "path", ctx.URL().Path)
			_ = huma.WriteErr(a.api, ctx, http.StatusUnauthorized, "Unauthorized")
			return
		}

		deviceID, err := a.session.Validate(ctx.Context(), token)
		if err != nil {
			a.log.Warn("token rejected", "path", ctx.URL().Path, "error", err)
			_ = huma.WriteErr(a.api, ctx, http.StatusUnauthorized, "Unauthorized")
			return
		}

		next(huma.WithContext(ctx, WithDeviceID(ctx.Context(), deviceID)))
	}
}

func WithDeviceID(ctx context.Context, deviceID string) context.Context {
	return context.WithValue(ctx, DeviceIDKey, deviceID)
}

func GetDeviceID(ctx context.Context) (string, bool) {
	deviceID, ok := ctx.Value(DeviceIDKey).(string)
	return deviceID, ok && deviceID != ""
}
