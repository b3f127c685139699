// Package scheduler provides the in-process reminder implementation backing
// the engine's periodic pull request checks and pending-update drains.
package scheduler

import (
	"context"
	"sync"
	"time"

	logger "github.com/sirupsen/logrus"
)

type reminder struct {
	timer  *time.Timer
	cancel context.CancelFunc
}

// TimerScheduler implements domain.ReminderScheduler with standard library
// timers. Reminders are process-local; durable state in the storage layer is
// what allows them to be re-registered after a restart.
type TimerScheduler struct {
	mu        sync.Mutex
	reminders map[string]*reminder
	closed    bool
}

// New creates an empty scheduler.
func New() *TimerScheduler {
	return &TimerScheduler{reminders: make(map[string]*reminder)}
}

// TryRegisterReminder arms a reminder that fires after due and then every
// period until unregistered. Registering an existing name replaces the
// previous schedule.
func (s *TimerScheduler) TryRegisterReminder(
	name string,
	due, period time.Duration,
	fire func(ctx context.Context),
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	if existing, ok := s.reminders[name]; ok {
		existing.timer.Stop()
		existing.cancel()
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &reminder{cancel: cancel}
	r.timer = time.AfterFunc(due, func() {
		s.fire(ctx, name, period, r, fire)
	})
	s.reminders[name] = r
	return nil
}

// TryUnregisterReminder stops a reminder. Unregistering an absent name is
// not an error.
func (s *TimerScheduler) TryUnregisterReminder(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r, ok := s.reminders[name]; ok {
		r.timer.Stop()
		r.cancel()
		delete(s.reminders, name)
	}
	return nil
}

// Close stops every reminder. The scheduler accepts no registrations after
// closing.
func (s *TimerScheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	for name, r := range s.reminders {
		r.timer.Stop()
		r.cancel()
		delete(s.reminders, name)
	}
}

func (s *TimerScheduler) fire(
	ctx context.Context,
	name string,
	period time.Duration,
	r *reminder,
	fn func(ctx context.Context),
) {
	if ctx.Err() != nil {
		return
	}

	func() {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Errorf("reminder %s panicked: %v", name, rec)
			}
		}()
		fn(ctx)
	}()

	s.mu.Lock()
	defer s.mu.Unlock()
	// Re-arm only while this reminder is still the registered one; it may
	// have been unregistered or replaced while firing.
	if current, ok := s.reminders[name]; ok && current == r && ctx.Err() == nil {
		r.timer = time.AfterFunc(period, func() {
			s.fire(ctx, name, period, r, fn)
		})
	}
}
