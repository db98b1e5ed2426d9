package ticket

import (
	"context"
	"time"
)

type Repository interface {
	// ListByDate возвращает билеты на мероприятия указанного дня.
	// Билет считается использованным, если у него есть каноническая валидация.
	ListByDate(ctx context.Context, date time.Time) ([]Ticket, error)
}
