package clock

import (
	"sync"
	"time"
)

// Clock позволяет подменять текущее время в сервисах и тестах.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

// NewSystem возвращает часы на основе time.Now (UTC).
func NewSystem() Clock {
	return systemClock{}
}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

// Fixed — управляемые часы для тестов.
type Fixed struct {
	mu  sync.Mutex
	now time.Time
}

// NewFixed возвращает часы, которые всегда показывают t, пока их не сдвинут.
func NewFixed(t time.Time) *Fixed {
	return &Fixed{now: t.UTC()}
}

func (f *Fixed) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance сдвигает часы вперед на d.
func (f *Fixed) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

// Set выставляет произвольное время.
func (f *Fixed) Set(t time.Time) {
	f.mu.Lock()
	f.now = t.UTC()
	f.mu.Unlock()
}
