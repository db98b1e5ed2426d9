package validation

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/exp/slog"

	"ticketgate/internal/utils/clock"
)

// Strategy — правило выбора канонической записи при конкурирующих валидациях.
type Strategy string

const (
	// StrategyEarliest — побеждает самая ранняя validatedAt, даже если она пришла позже.
	StrategyEarliest Strategy = "earliest"
	// StrategyFirstSynced — побеждает запись, первой дошедшая до авторитета.
	StrategyFirstSynced Strategy = "first_synced"
)

func (s Strategy) Valid() bool {
	return s == StrategyEarliest || s == StrategyFirstSynced
}

type Servicer interface {
	Submit(ctx context.Context, deviceID string, batch []Submission) ([]Result, error)
	Changes(ctx context.Context, deviceID string, since int64, limit int) (*ChangeFeed, error)
	Conflicts(ctx context.Context, limit int) ([]Entry, error)
}

type ServiceConfig struct {
	Strategy   Strategy
	MaxBatch   int
	MaxChanges int
}

type Service struct {
	repo      Repository
	publisher Publisher
	clock     clock.Clock
	log       *slog.Logger
	config    ServiceConfig
}

func NewService(repo Repository, publisher Publisher, clk clock.Clock, log *slog.Logger, config *ServiceConfig) *Service {
	cfg := ServiceConfig{
		Strategy:   StrategyEarliest,
		MaxBatch:   500,
		MaxChanges: 1000,
	}
	if config != nil {
		if config.Strategy.Valid() {
			cfg.Strategy = config.Strategy
		}
		if config.MaxBatch > 0 {
			cfg.MaxBatch = config.MaxBatch
		}
		if config.MaxChanges > 0 {
			cfg.MaxChanges = config.MaxChanges
		}
	}
	if publisher == nil {
		publisher = NopPublisher()
	}

	return &Service{
		repo:      repo,
		publisher: publisher,
		clock:     clk,
		log:       log.With("component", "validation_service"),
		config:    cfg,
	}
}

// Submit применяет пакет записей устройства и возвращает вердикты в том же порядке.
// Повторная отправка уже известной записи возвращает сохраненный вердикт.
func (s *Service) Submit(ctx context.Context, deviceID string, batch []Submission) ([]Result, error) {
	if len(batch) > s.config.MaxBatch {
		return nil, fmt.Errorf("%w: %d records, max %d", ErrBatchTooLarge, len(batch), s.config.MaxBatch)
	}
	for i, sub := range batch {
		if err := s.check(deviceID, sub); err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
	}

	results := make([]Result, 0, len(batch))
	for _, sub := range batch {
		res, events, err := s.apply(ctx, sub)
		if err != nil {
			s.log.Error("failed to apply validation",
				"record_id", sub.ID, "ticket_id", sub.TicketID, "device_id", deviceID, "error", err)
			return nil, fmt.Errorf("apply record %s: %w", sub.ID, err)
		}
		results = append(results, res)
		s.publish(ctx, events)
	}

	return results, nil
}

func (s *Service) check(deviceID string, sub Submission) error {
	if sub.DeviceID != deviceID {
		return ErrDeviceMismatch
	}
	if _, err := uuid.Parse(sub.ID); err != nil {
		return fmt.Errorf("%w: id is not a uuid", ErrInvalidSubmission)
	}
	if sub.TicketID == "" {
		return fmt.Errorf("%w: empty ticket id", ErrInvalidSubmission)
	}
	if sub.ValidatedAt.IsZero() {
		return fmt.Errorf("%w: empty validated_at", ErrInvalidSubmission)
	}
	if !sub.Method.Valid() {
		return fmt.Errorf("%w: unknown method %q", ErrInvalidSubmission, sub.Method)
	}
	return nil
}

func (s *Service) apply(ctx context.Context, sub Submission) (Result, []ConflictEvent, error) {
	var (
		res    Result
		events []ConflictEvent
	)

	err := s.repo.WithTx(ctx, func(ctx context.Context) error {
		if err := s.repo.LockTicket(ctx, sub.TicketID); err != nil {
			return fmt.Errorf("lock ticket: %w", err)
		}

		existing, err := s.repo.Get(ctx, sub.ID)
		switch {
		case err == nil:
			res, err = s.replay(ctx, existing)
			return err
		case !errors.Is(err, ErrRecordNotFound):
			return fmt.Errorf("get record: %w", err)
		}

		entry := sub.Entry(s.clock.Now())

		exists, err := s.repo.TicketExists(ctx, sub.TicketID)
		if err != nil {
			return fmt.Errorf("ticket exists: %w", err)
		}
		if !exists {
			entry.Verdict = VerdictConflict
			entry.Reason = ReasonUnknownTicket
			if err := s.repo.Insert(ctx, entry); err != nil {
				return fmt.Errorf("insert record: %w", err)
			}
			res = entry.Result(nil)
			events = append(events, s.conflictEvent(entry, nil))
			return nil
		}

		canonical, err := s.repo.Canonical(ctx, sub.TicketID)
		switch {
		case errors.Is(err, ErrRecordNotFound):
			entry.Verdict = VerdictSynced
			canonical = nil
		case err != nil:
			return fmt.Errorf("canonical record: %w", err)
		case s.config.Strategy == StrategyEarliest && entry.Key().Precedes(canonical.Key()):
			// Старая каноническая запись уступает до вставки новой: synced может быть только одна.
			demoted, err := s.repo.Demote(ctx, canonical.ID, ReasonSuperseded)
			if err != nil {
				return fmt.Errorf("demote record %s: %w", canonical.ID, err)
			}
			entry.Verdict = VerdictSynced
			events = append(events, s.conflictEvent(demoted, entry))
			s.log.Info("canonical validation superseded",
				"ticket_id", sub.TicketID, "demoted_record", demoted.ID, "winner_record", entry.ID)
			canonical = nil
		default:
			entry.Verdict = VerdictConflict
			entry.Reason = ReasonAlreadyUsed
		}

		if err := s.repo.Insert(ctx, entry); err != nil {
			return fmt.Errorf("insert record: %w", err)
		}
		if entry.Verdict == VerdictConflict {
			events = append(events, s.conflictEvent(entry, canonical))
		}
		res = entry.Result(canonical)
		return nil
	})

	return res, events, err
}

func (s *Service) replay(ctx context.Context, existing *Entry) (Result, error) {
	if existing.Verdict != VerdictConflict {
		return existing.Result(nil), nil
	}

	canonical, err := s.repo.Canonical(ctx, existing.TicketID)
	if errors.Is(err, ErrRecordNotFound) {
		return existing.Result(nil), nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("canonical record: %w", err)
	}
	return existing.Result(canonical), nil
}

func (s *Service) conflictEvent(lost, winner *Entry) ConflictEvent {
	e := ConflictEvent{
		RecordID:          lost.ID,
		TicketID:          lost.TicketID,
		DeviceID:          lost.DeviceID,
		ValidatorIdentity: lost.ValidatorIdentity,
		ValidatedAt:       lost.ValidatedAt,
		Reason:            lost.Reason,
		DetectedAt:        s.clock.Now(),
	}
	if winner != nil {
		e.CanonicalRecordID = winner.ID
		e.CanonicalDeviceID = winner.DeviceID
		e.CanonicalValidatedAt = winner.ValidatedAt
	}
	return e
}

func (s *Service) publish(ctx context.Context, events []ConflictEvent) {
	for _, e := range events {
		if err := s.publisher.PublishConflict(ctx, e); err != nil {
			s.log.Warn("failed to publish conflict event", "record_id", e.RecordID, "error", err)
		}
	}
}

// Changes возвращает изменения вердиктов по записям устройства с ревизией больше since.
func (s *Service) Changes(ctx context.Context, deviceID string, since int64, limit int) (*ChangeFeed, error) {
	if limit <= 0 || limit > s.config.MaxChanges {
		limit = s.config.MaxChanges
	}
	if since < 0 {
		since = 0
	}

	// Запрашиваем на одну больше, чтобы понять, есть ли продолжение.
	changes, err := s.repo.ChangesSince(ctx, deviceID, since, limit+1)
	if err != nil {
		return nil, fmt.Errorf("changes since %d: %w", since, err)
	}

	feed := &ChangeFeed{Changes: changes, Revision: since}
	if len(changes) > limit {
		feed.Changes = changes[:limit]
		feed.HasMore = true
	}
	if n := len(feed.Changes); n > 0 {
		feed.Revision = feed.Changes[n-1].Revision
	}
	if feed.Changes == nil {
		feed.Changes = []Change{}
	}

	return feed, nil
}

func (s *Service) Conflicts(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 || limit > s.config.MaxChanges {
		limit = s.config.MaxChanges
	}
	return s.repo.Conflicts(ctx, limit)
}
