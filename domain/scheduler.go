package domain

import (
	"context"
	"time"
)

// ReminderScheduler drives the engine's polling: a registered reminder fires
// after due and then every period until unregistered. Registering an existing
// name replaces it; unregistering an absent name is not an error.
type ReminderScheduler interface {
	TryRegisterReminder(name string, due, period time.Duration, fire func(ctx context.Context)) error
	TryUnregisterReminder(name string) error
}
