package ticket

import "github.com/shopspring/decimal"

// Status — состояние билета. Переход возможен только Valid -> Used.
type Status string

const (
	StatusValid Status = "valid"
	StatusUsed  Status = "used"
)

func (s Status) Valid() bool {
	return s == StatusValid || s == StatusUsed
}

// Ticket — право на однократный проход на мероприятие.
type Ticket struct {
	ID             string          `json:"id"`
	Code           string          `json:"code"`
	OwnerName      string          `json:"owner_name"`
	OwnerEmail     string          `json:"owner_email"`
	EventName      string          `json:"event_name"`
	TicketTypeName string          `json:"ticket_type_name"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	Status         Status          `json:"status"`
}

func (t Ticket) IsUsed() bool {
	return t.Status == StatusUsed
}
