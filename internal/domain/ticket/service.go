package ticket

import (
	"context"
	"fmt"

	"golang.org/x/exp/slog"

	"ticketgate/internal/utils/clock"
)

type Servicer interface {
	Snapshot(ctx context.Context, date string) (*Snapshot, error)
}

type Service struct {
	repo  Repository
	clock clock.Clock
	log   *slog.Logger
}

func NewService(repo Repository, clk clock.Clock, log *slog.Logger) *Service {
	return &Service{
		repo:  repo,
		clock: clk,
		log:   log.With("component", "ticket_service"),
	}
}

func (s *Service) Snapshot(ctx context.Context, date string) (*Snapshot, error) {
	day, err := ParseDate(date)
	if err != nil {
		return nil, err
	}

	tickets, err := s.repo.ListByDate(ctx, day)
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	if tickets == nil {
		tickets = []Ticket{}
	}

	s.log.Debug("snapshot built", "date", date, "tickets", len(tickets))

	return &Snapshot{
		OperatingDate: date,
		GeneratedAt:   s.clock.Now(),
		Tickets:       tickets,
	}, nil
}
