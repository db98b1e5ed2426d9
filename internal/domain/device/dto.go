package device

import "time"

type RegisterRequest struct {
	DeviceID      string `json:"device_id" minLength:"3" maxLength:"64"`
	Name          string `json:"name,omitempty" maxLength:"128"`
	Secret        string `json:"secret" minLength:"8"`
	EnrollmentKey string `json:"enrollment_key" minLength:"1"`
}

type LoginRequest struct {
	DeviceID string `json:"device_id" minLength:"3" maxLength:"64"`
	Secret   string `json:"secret" minLength:"1"`
}

// Info — публичные сведения об устройстве без хэша секрета.
type Info struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	CreatedAt  time.Time  `json:"created_at"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
	LastSyncAt *time.Time `json:"last_sync_at,omitempty"`
}
