package validation

import "time"

// Submission — запись валидации в протоколе синхронизации.
type Submission struct {
	ID                string    `json:"id" format:"uuid" doc:"Client-generated record id"`
	TicketID          string    `json:"ticket_id" minLength:"1"`
	ValidatedAt       time.Time `json:"validated_at" doc:"Device clock at acceptance"`
	ValidatorIdentity string    `json:"validator_identity" minLength:"1"`
	DeviceID          string    `json:"device_id" minLength:"1"`
	Method            Method    `json:"method" enum:"scan,manual,search"`
}

func (s Submission) Key() Key {
	return Key{ValidatedAt: s.ValidatedAt, DeviceID: s.DeviceID, ID: s.ID}
}

func (s Submission) Entry(receivedAt time.Time) *Entry {
	return &Entry{
		ID:                s.ID,
		TicketID:          s.TicketID,
		ValidatedAt:       s.ValidatedAt.UTC(),
		ValidatorIdentity: s.ValidatorIdentity,
		DeviceID:          s.DeviceID,
		Method:            s.Method,
		ReceivedAt:        receivedAt,
	}
}

type BatchRequest struct {
	Records []Submission `json:"records" minItems:"1"`
}

// Result — вердикт по одной записи. Порядок результатов совпадает с порядком записей в запросе.
type Result struct {
	RecordID             string     `json:"record_id"`
	Verdict              Verdict    `json:"verdict"`
	Reason               string     `json:"reason,omitempty"`
	CanonicalDeviceID    string     `json:"canonical_device_id,omitempty"`
	CanonicalValidatedAt *time.Time `json:"canonical_validated_at,omitempty"`
}

type BatchResponse struct {
	Results []Result `json:"results"`
}

// Change — изменение вердикта по записи устройства с номером ревизии.
type Change struct {
	Result
	Revision int64 `json:"revision"`
}

// ChangeFeed — порция изменений после курсора устройства.
type ChangeFeed struct {
	Changes  []Change `json:"changes"`
	Revision int64    `json:"revision"`
	HasMore  bool     `json:"has_more"`
}

// ConflictEvent публикуется для аудита, когда запись получает вердикт Conflict.
type ConflictEvent struct {
	RecordID             string    `json:"record_id"`
	TicketID             string    `json:"ticket_id"`
	DeviceID             string    `json:"device_id"`
	ValidatorIdentity    string    `json:"validator_identity"`
	ValidatedAt          time.Time `json:"validated_at"`
	Reason               string    `json:"reason"`
	CanonicalRecordID    string    `json:"canonical_record_id,omitempty"`
	CanonicalDeviceID    string    `json:"canonical_device_id,omitempty"`
	CanonicalValidatedAt time.Time `json:"canonical_validated_at,omitempty"`
	DetectedAt           time.Time `json:"detected_at"`
}
