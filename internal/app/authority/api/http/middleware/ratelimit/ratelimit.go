package ratelimit

import (
	"math"
	"net/http"
	"strconv"

	"github.com/danielgtaylor/huma/v2"
	"golang.org/x/exp/slog"

	"ticketgate/internal/app/authority/api/http/middleware/auth"
	"ticketgate/internal/infrastructure/metrics"
	"ticketgate/internal/infrastructure/ratelimit"
)

// RateLimit ограничивает частоту запросов устройства к операции.
// Должен стоять после auth: ключ строится по id устройства.
type RateLimit struct {
	api     huma.API
	limiter ratelimit.Limiter
	log     *slog.Logger
}

func New(api huma.API, limiter ratelimit.Limiter, log *slog.Logger) *RateLimit {
	return &RateLimit{
		api:     api,
		limiter: limiter,
		log:     log.With("component", "ratelimit_middleware"),
	}
}

func (r *RateLimit) Middleware() func(huma.Context, func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		if r.limiter == nil {
			next(ctx)
			return
		}

		deviceID, ok := auth.GetDeviceID(ctx.Context())
		if !ok {
			deviceID = ctx.RemoteAddr()
		}
		op := ctx.Operation().OperationID

		d, err := r.limiter.Allow(ctx.Context(), deviceID+":"+op)
		if err != nil {
			// fail open: лимитер не должен останавливать синхронизацию
			r.log.Warn("rate limiter unavailable", "device_id", deviceID, "error", err)
			next(ctx)
			return
		}

		ctx.SetHeader("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		ctx.SetHeader("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))

		if !d.Allowed {
			metrics.AuthorityRateLimited.WithLabelValues(op).Inc()
			ctx.SetHeader("Retry-After", strconv.Itoa(int(math.Ceil(d.ResetAfter.Seconds()))))
			_ = huma.WriteErr(r.api, ctx, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		next(ctx)
	}
}
