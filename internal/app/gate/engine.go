package gate

import (
	"fmt"
	"time"

	"ticketgate/internal/domain/ticket"
	"ticketgate/internal/domain/validation"
)

const msgUsedElsewhere = "used by another device"

// Outcome — результат попытки валидации, показываемый на проходе.
type Outcome struct {
	Accepted bool               `json:"accepted"`
	Code     string             `json:"code"`
	Reason   string             `json:"reason,omitempty"`
	Ticket   *ticket.Ticket     `json:"ticket,omitempty"`
	Record   *validation.Record `json:"record,omitempty"`

	PreviousValidatedAt *time.Time `json:"previous_validated_at,omitempty"`
	PreviousValidator   string     `json:"previous_validator,omitempty"`
	PreviousDeviceID    string     `json:"previous_device_id,omitempty"`
	UsedElsewhere       bool       `json:"used_elsewhere,omitempty"`
	Message             string     `json:"message"`
}

// Err возвращает класс отказа: validation.ErrNotFound или validation.ErrAlreadyUsed.
func (o Outcome) Err() error {
	switch {
	case o.Accepted:
		return nil
	case o.Reason == validation.ReasonUnknownTicket:
		return validation.ErrNotFound
	default:
		return validation.ErrAlreadyUsed
	}
}

// decide — чистая логика решения по билету. last — последняя локальная запись по билету, если есть.
// Для принятого билета Record заполняет вызывающий.
func decide(code string, t ticket.Ticket, found bool, last *validation.Record) Outcome {
	if !found {
		return Outcome{
			Code:    code,
			Reason:  validation.ReasonUnknownTicket,
			Message: validation.ReasonUnknownTicket,
		}
	}

	if t.IsUsed() {
		o := Outcome{
			Code:   code,
			Reason: validation.ReasonAlreadyUsed,
			Ticket: &t,
		}
		if last == nil {
			o.UsedElsewhere = true
			o.Message = msgUsedElsewhere
			return o
		}
		at := last.ValidatedAt
		o.PreviousValidatedAt = &at
		o.PreviousValidator = last.ValidatorIdentity
		o.PreviousDeviceID = last.DeviceID
		o.Message = fmt.Sprintf("already used at %s by %s", at.Local().Format("15:04:05"), last.ValidatorIdentity)
		return o
	}

	return Outcome{
		Accepted: true,
		Code:     code,
		Ticket:   &t,
		Message:  "accepted",
	}
}
