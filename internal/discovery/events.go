package discovery

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// PhoneEvent is emitted when a listing carries a phone number that was not
// stored before.
type PhoneEvent struct {
	URL   string `json:"url"`
	Phone string `json:"phone"`
}

// Events fans progress messages and phone discoveries out to subscribers.
// Delivery is synchronous. A panicking subscriber is logged and skipped.
// The zero value is ready to use.
type Events struct {
	mu       sync.RWMutex
	progress []func(string)
	phone    []func(PhoneEvent)
}

// OnProgress subscribes fn to human-readable progress messages.
func (e *Events) OnProgress(fn func(string)) {
	e.mu.Lock()
	e.progress = append(e.progress, fn)
	e.mu.Unlock()
}

// OnPhone subscribes fn to phone discoveries.
func (e *Events) OnPhone(fn func(PhoneEvent)) {
	e.mu.Lock()
	e.phone = append(e.phone, fn)
	e.mu.Unlock()
}

func (e *Events) progressf(format string, args ...any) {
	if e == nil {
		return
	}
	e.mu.RLock()
	subs := e.progress
	e.mu.RUnlock()
	if len(subs) == 0 {
		return
	}
	msg := fmt.Sprintf(format, args...)
	for _, fn := range subs {
		deliver("progress", func() { fn(msg) })
	}
}

func (e *Events) phoneFound(ev PhoneEvent) {
	if e == nil {
		return
	}
	e.mu.RLock()
	subs := e.phone
	e.mu.RUnlock()
	for _, fn := range subs {
		deliver("phone", func() { fn(ev) })
	}
}

func deliver(kind string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("discovery: subscriber panicked",
				zap.String("event", kind),
				zap.Any("panic", r),
			)
		}
	}()
	fn()
}
