package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/exp/slog"

	"ticketgate/internal/domain/ticket"
)

type TicketRepository struct {
	db  *Storage
	log *slog.Logger
}

func NewTicketRepository(db *Storage, log *slog.Logger) *TicketRepository {
	return &TicketRepository{
		db:  db,
		log: log.With("component", "ticket_repository"),
	}
}

func (r *TicketRepository) ListByDate(ctx context.Context, date time.Time) ([]ticket.Ticket, error) {
	const query = `
		SELECT t.id, t.code, t.owner_name, t.owner_email, t.event_name, t.ticket_type_name,
		       t.unit_price::text,
		       EXISTS (SELECT 1 FROM validations v WHERE v.ticket_id = t.id AND v.verdict = 'synced')
		FROM tickets t
		WHERE t.event_date = $1::date
		ORDER BY t.code`

	rows, err := r.db.q(ctx).Query(ctx, query, date.Format(ticket.DateLayout))
	if err != nil {
		r.log.Error("failed to list tickets", "date", date, "error", err)
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	defer rows.Close()

	var tickets []ticket.Ticket
	for rows.Next() {
		var (
			t     ticket.Ticket
			price string
			used  bool
		)
		if err := rows.Scan(&t.ID, &t.Code, &t.OwnerName, &t.OwnerEmail, &t.EventName,
			&t.TicketTypeName, &price, &used); err != nil {
			return nil, fmt.Errorf("scan ticket: %w", err)
		}

		t.UnitPrice, err = decimal.NewFromString(price)
		if err != nil {
			return nil, fmt.Errorf("parse price of ticket %s: %w", t.ID, err)
		}

		t.Status = ticket.StatusValid
		if used {
			t.Status = ticket.StatusUsed
		}
		tickets = append(tickets, t)
	}

	return tickets, rows.Err()
}
