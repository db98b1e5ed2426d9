package validation

import "time"

// Key задает полный порядок записей по одному билету: раньше validatedAt,
// затем меньший deviceId, затем меньший id записи.
type Key struct {
	ValidatedAt time.Time
	DeviceID    string
	ID          string
}

// Precedes сообщает, должна ли k выиграть у other.
func (k Key) Precedes(other Key) bool {
	if !k.ValidatedAt.Equal(other.ValidatedAt) {
		return k.ValidatedAt.Before(other.ValidatedAt)
	}
	if k.DeviceID != other.DeviceID {
		return k.DeviceID < other.DeviceID
	}
	return k.ID < other.ID
}
