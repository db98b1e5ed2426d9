package validations

import (
	"time"

	"ticketgate/internal/domain/validation"
)

type batchInput struct {
	Body validation.BatchRequest
}

type batchOutput struct {
	Body validation.BatchResponse
}

type changesInput struct {
	Since int64 `query:"since" minimum:"0" doc:"Последняя примененная устройством ревизия"`
	Limit int   `query:"limit" minimum:"0" doc:"Максимум изменений в ответе"`
}

type changesOutput struct {
	Body *validation.ChangeFeed
}

type conflictsInput struct {
	Limit int `query:"limit" minimum:"0"`
}

type conflictsOutput struct {
	Body conflictsResponse
}

type conflictsResponse struct {
	Conflicts []conflictEntry `json:"conflicts"`
}

type conflictEntry struct {
	RecordID          string            `json:"record_id"`
	TicketID          string            `json:"ticket_id"`
	DeviceID          string            `json:"device_id"`
	ValidatorIdentity string            `json:"validator_identity"`
	ValidatedAt       time.Time         `json:"validated_at"`
	Method            validation.Method `json:"method"`
	Reason            string            `json:"reason"`
	Revision          int64             `json:"revision"`
	ReceivedAt        time.Time         `json:"received_at"`
}

func toConflictEntries(entries []validation.Entry) []conflictEntry {
	out := make([]conflictEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, conflictEntry{
			RecordID:          e.ID,
			TicketID:          e.TicketID,
			DeviceID:          e.DeviceID,
			ValidatorIdentity: e.ValidatorIdentity,
			ValidatedAt:       e.ValidatedAt,
			Method:            e.Method,
			Reason:            e.Reason,
			Revision:          e.Revision,
			ReceivedAt:        e.ReceivedAt,
		})
	}
	return out
}
