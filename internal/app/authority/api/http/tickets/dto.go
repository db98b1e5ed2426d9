package tickets

import "ticketgate/internal/domain/ticket"

type snapshotInput struct {
	Date string `query:"date" required:"true" example:"2026-10-16" doc:"Операционная дата YYYY-MM-DD"`
}

type snapshotOutput struct {
	Body *ticket.Snapshot
}
