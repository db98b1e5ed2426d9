package device

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/exp/slog"

	"ticketgate/internal/utils/clock"
)

type Servicer interface {
	Register(ctx context.Context, req RegisterRequest) error
	Authenticate(ctx context.Context, id, secret string) (Device, error)
	Touch(ctx context.Context, id string, synced bool) error
	List(ctx context.Context) ([]Info, error)
}

type Service struct {
	repo          Repository
	validator     Validator
	enrollmentKey string
	clock         clock.Clock
	log           *slog.Logger
}

func NewService(repo Repository, validator Validator, enrollmentKey string, clk clock.Clock, log *slog.Logger) *Service {
	return &Service{
		repo:          repo,
		validator:     validator,
		enrollmentKey: enrollmentKey,
		clock:         clk,
		log:           log.With("component", "device_service"),
	}
}

// Register регистрирует устройство по ключу подключения. Секрет хранится только в виде bcrypt-хэша.
func (s *Service) Register(ctx context.Context, req RegisterRequest) error {
	if s.enrollmentKey == "" || subtle.ConstantTimeCompare([]byte(req.EnrollmentKey), []byte(s.enrollmentKey)) != 1 {
		s.log.Warn("enrollment rejected", "device_id", req.DeviceID)
		return ErrInvalidEnrollment
	}

	if err := s.validator.ValidateRegister(req.DeviceID, req.Secret); err != nil {
		s.log.Debug("validation failed", "device_id", req.DeviceID, "error", err)
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Secret), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash secret: %w", err)
	}

	name := req.Name
	if name == "" {
		name = req.DeviceID
	}

	return s.repo.Create(ctx, Device{
		ID:         req.DeviceID,
		Name:       name,
		SecretHash: string(hash),
		CreatedAt:  s.clock.Now(),
	})
}

func (s *Service) Authenticate(ctx context.Context, id, secret string) (Device, error) {
	if err := s.validator.ValidateID(id); err != nil {
		return Device{}, ErrInvalidAuth
	}

	d, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Device{}, ErrInvalidAuth
		}
		return Device{}, fmt.Errorf("find device: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(d.SecretHash), []byte(secret)); err != nil {
		return Device{}, ErrInvalidAuth
	}

	return d, nil
}

func (s *Service) Touch(ctx context.Context, id string, synced bool) error {
	return s.repo.Touch(ctx, id, s.clock.Now(), synced)
}

func (s *Service) List(ctx context.Context) ([]Info, error) {
	devices, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}

	infos := make([]Info, 0, len(devices))
	for _, d := range devices {
		infos = append(infos, d.Info())
	}
	return infos, nil
}
