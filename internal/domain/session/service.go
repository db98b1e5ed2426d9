package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/exp/slog"

	"ticketgate/internal/utils/clock"
)

const issuer = "ticketgate-authority"

var ErrInvalidToken = errors.New("invalid token")

type Servicer interface {
	Create(ctx context.Context, deviceID string) (string, error)
	Validate(ctx context.Context, token string) (string, error)
}

// Service выдает и проверяет токены устройств (JWT HS256, sub = id устройства).
type Service struct {
	secret []byte
	ttl    time.Duration
	clock  clock.Clock
	log    *slog.Logger
}

func NewService(secret string, ttl time.Duration, clk clock.Clock, log *slog.Logger) *Service {
	return &Service{
		secret: []byte(secret),
		ttl:    ttl,
		clock:  clk,
		log:    log.With("component", "session_service"),
	}
}

func (s *Service) Create(_ context.Context, deviceID string) (string, error) {
	now := s.clock.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   deviceID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	return token, nil
}

func (s *Service) Validate(_ context.Context, token string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.clock.Now),
	)
	if err != nil {
		s.log.Debug("token rejected", "error", err)
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if claims.Subject == "" {
		return "", fmt.Errorf("%w: empty subject", ErrInvalidToken)
	}

	return claims.Subject, nil
}
