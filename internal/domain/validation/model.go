package validation

import "time"

// Method — способ, которым контролер нашел билет.
type Method string

const (
	MethodScan   Method = "scan"
	MethodManual Method = "manual"
	MethodSearch Method = "search"
)

func (m Method) Valid() bool {
	switch m {
	case MethodScan, MethodManual, MethodSearch:
		return true
	}
	return false
}

// SyncStatus — состояние локальной записи относительно авторитета.
type SyncStatus string

const (
	SyncPending  SyncStatus = "pending"
	SyncSynced   SyncStatus = "synced"
	SyncConflict SyncStatus = "conflict"
)

// Verdict — решение авторитета по отдельной записи.
type Verdict string

const (
	VerdictSynced   Verdict = "synced"
	VerdictConflict Verdict = "conflict"
)

func (v Verdict) SyncStatus() SyncStatus {
	if v == VerdictSynced {
		return SyncSynced
	}
	return SyncConflict
}

// Причины конфликта, которые авторитет сообщает устройству.
const (
	ReasonAlreadyUsed   = "already used"
	ReasonSuperseded    = "superseded by earlier validation"
	ReasonUnknownTicket = "unknown ticket"
)

// Record — факт допуска по билету на устройстве. Записи никогда не удаляются.
type Record struct {
	ID                string     `json:"id"`
	TicketID          string     `json:"ticket_id"`
	TicketCode        string     `json:"ticket_code,omitempty"`
	ValidatedAt       time.Time  `json:"validated_at"`
	ValidatorIdentity string     `json:"validator_identity"`
	DeviceID          string     `json:"device_id"`
	Method            Method     `json:"method"`
	SyncStatus        SyncStatus `json:"sync_status"`

	// Seq — порядок вставки в очередь устройства.
	Seq                  int64      `json:"seq,omitempty"`
	Attempts             int        `json:"attempts,omitempty"`
	LastError            string     `json:"last_error,omitempty"`
	SyncedAt             *time.Time `json:"synced_at,omitempty"`
	NeedsReview          bool       `json:"needs_review,omitempty"`
	ReviewedAt           *time.Time `json:"reviewed_at,omitempty"`
	CanonicalDeviceID    string     `json:"canonical_device_id,omitempty"`
	CanonicalValidatedAt *time.Time `json:"canonical_validated_at,omitempty"`
}

func (r Record) Key() Key {
	return Key{ValidatedAt: r.ValidatedAt, DeviceID: r.DeviceID, ID: r.ID}
}

// Submission возвращает запись в том виде, в котором она уходит авторитету.
func (r Record) Submission() Submission {
	return Submission{
		ID:                r.ID,
		TicketID:          r.TicketID,
		ValidatedAt:       r.ValidatedAt,
		ValidatorIdentity: r.ValidatorIdentity,
		DeviceID:          r.DeviceID,
		Method:            r.Method,
	}
}

// Err возвращает ErrConflictLost для записей, проигравших конфликт.
func (r Record) Err() error {
	if r.SyncStatus == SyncConflict {
		return ErrConflictLost
	}
	return nil
}

// Entry — запись в хранилище авторитета.
type Entry struct {
	ID                string
	TicketID          string
	ValidatedAt       time.Time
	ValidatorIdentity string
	DeviceID          string
	Method            Method
	Verdict           Verdict
	Reason            string
	Revision          int64
	ReceivedAt        time.Time
}

func (e Entry) Key() Key {
	return Key{ValidatedAt: e.ValidatedAt, DeviceID: e.DeviceID, ID: e.ID}
}

// Result строит ответ устройству. canonical может быть nil.
func (e Entry) Result(canonical *Entry) Result {
	res := Result{RecordID: e.ID, Verdict: e.Verdict, Reason: e.Reason}
	if e.Verdict == VerdictConflict && canonical != nil {
		at := canonical.ValidatedAt
		res.CanonicalDeviceID = canonical.DeviceID
		res.CanonicalValidatedAt = &at
	}
	return res
}
