package device

import "time"

// Device — зарегистрированное у авторитета устройство контролера.
type Device struct {
	ID         string
	Name       string
	SecretHash string
	CreatedAt  time.Time
	LastSeenAt *time.Time
	LastSyncAt *time.Time
}

func (d Device) Info() Info {
	return Info{
		ID:         d.ID,
		Name:       d.Name,
		CreatedAt:  d.CreatedAt,
		LastSeenAt: d.LastSeenAt,
		LastSyncAt: d.LastSyncAt,
	}
}
