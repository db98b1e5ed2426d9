package device

import (
	"context"
	"time"
)

type Repository interface {
	Create(ctx context.Context, d Device) error
	FindByID(ctx context.Context, id string) (Device, error)
	// Touch отмечает активность устройства; synced — была ли синхронизация.
	Touch(ctx context.Context, id string, at time.Time, synced bool) error
	List(ctx context.Context) ([]Device, error)
}
