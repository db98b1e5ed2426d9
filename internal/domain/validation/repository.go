package validation

import "context"

type Repository interface {
	// WithTx выполняет fn в одной транзакции. Вложенные вызовы переиспользуют внешнюю.
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	// LockTicket сериализует решения по одному билету до конца транзакции.
	LockTicket(ctx context.Context, ticketID string) error
	TicketExists(ctx context.Context, ticketID string) (bool, error)
	// Get возвращает ErrRecordNotFound, если записи нет.
	Get(ctx context.Context, id string) (*Entry, error)
	// Canonical возвращает единственную запись с вердиктом synced или ErrRecordNotFound.
	Canonical(ctx context.Context, ticketID string) (*Entry, error)
	// Insert сохраняет запись и проставляет ей новую ревизию.
	Insert(ctx context.Context, e *Entry) error
	// Demote переводит запись в conflict с новой ревизией.
	Demote(ctx context.Context, id, reason string) (*Entry, error)
	ChangesSince(ctx context.Context, deviceID string, since int64, limit int) ([]Change, error)
	Conflicts(ctx context.Context, limit int) ([]Entry, error)
}

// Publisher доставляет события о конфликтах во внешний аудит.
type Publisher interface {
	PublishConflict(ctx context.Context, e ConflictEvent) error
}

type nopPublisher struct{}

func (nopPublisher) PublishConflict(context.Context, ConflictEvent) error { return nil }

// NopPublisher — издатель по умолчанию, когда брокер не настроен.
func NopPublisher() Publisher {
	return nopPublisher{}
}
