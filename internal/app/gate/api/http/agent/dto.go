package agent

import (
	"ticketgate/internal/app/gate"
	"ticketgate/internal/domain/ticket"
	"ticketgate/internal/domain/validation"
)

type HealthInput struct{}

type HealthOutput struct {
	Body struct {
		Status string `json:"status" example:"OK"`
		Online bool   `json:"online" doc:"Authority reachable"`
	}
}

type ValidateInput struct {
	Body struct {
		Code      string            `json:"code" minLength:"1" maxLength:"128" doc:"Scanned or typed ticket code"`
		Validator string            `json:"validator,omitempty" maxLength:"128" doc:"Controller identity, device default when empty"`
		Method    validation.Method `json:"method,omitempty" enum:"scan,manual,search" doc:"Input method, scan when empty"`
	}
}

type ValidateOutput struct {
	Body gate.Outcome
}

type SearchInput struct {
	Query string `query:"q" minLength:"1" doc:"Owner name or email fragment"`
	Limit int    `query:"limit" minimum:"0" maximum:"100" default:"20"`
}

type SearchOutput struct {
	Body struct {
		Tickets []ticket.Ticket `json:"tickets"`
	}
}

type StatusInput struct{}

type StatusOutput struct {
	Body *gate.Status
}

type SyncInput struct{}

type SyncOutput struct {
	Body *gate.FlushResult
}

type RefreshInput struct {
	Date string `query:"date" doc:"Operating date YYYY-MM-DD, today when empty"`
}

type RefreshOutput struct {
	Body *gate.RefreshResult
}

type RecordsInput struct {
	Status      string `query:"status" enum:"pending,synced,conflict" doc:"Filter by sync status"`
	NeedsReview bool   `query:"needs_review"`
	TicketID    string `query:"ticket_id"`
	Limit       int    `query:"limit" minimum:"0" maximum:"1000" default:"100"`
}

type RecordsOutput struct {
	Body struct {
		Records []validation.Record `json:"records"`
	}
}

type ReviewInput struct {
	ID string `path:"id" minLength:"1"`
}

type ReviewOutput struct{}

type ConnectivityInput struct {
	Body struct {
		Online bool `json:"online" doc:"Platform network state"`
	}
}

type ConnectivityOutput struct {
	Body struct {
		Online  bool `json:"online"`
		Changed bool `json:"changed"`
	}
}
