package reconciler

import (
	"context"
	"sync"
	"time"

	logger "github.com/sirupsen/logrus"

	"github.com/rios0rios0/depflow/domain"
	"github.com/rios0rios0/depflow/policy"
	"github.com/rios0rios0/depflow/resolver"
)

const defaultReminderPeriod = 5 * time.Minute

// Manager hands out the per-unit reconciler instances, guaranteeing a single
// instance (and thus a single mutex) per unit key for the process lifetime.
type Manager struct {
	mu          sync.Mutex
	reconcilers map[string]*Reconciler

	state     domain.StateStore
	metadata  domain.MetadataStore
	scheduler domain.ReminderScheduler
	providers domain.ProviderResolver
	evaluator *policy.Evaluator

	checkPeriod  time.Duration
	updatePeriod time.Duration
}

// NewManager wires a manager over the shared stores, scheduler and providers.
// Zero periods fall back to the default reminder period.
func NewManager(
	state domain.StateStore,
	metadata domain.MetadataStore,
	scheduler domain.ReminderScheduler,
	providers domain.ProviderResolver,
	evaluator *policy.Evaluator,
	checkPeriod, updatePeriod time.Duration,
) *Manager {
	if checkPeriod <= 0 {
		checkPeriod = defaultReminderPeriod
	}
	if updatePeriod <= 0 {
		updatePeriod = defaultReminderPeriod
	}
	return &Manager{
		reconcilers:  make(map[string]*Reconciler),
		state:        state,
		metadata:     metadata,
		scheduler:    scheduler,
		providers:    providers,
		evaluator:    evaluator,
		checkPeriod:  checkPeriod,
		updatePeriod: updatePeriod,
	}
}

// For returns the reconciler owning the given unit, creating it on first use.
func (m *Manager) For(unit Unit) *Reconciler {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := unit.Key()
	if r, ok := m.reconcilers[key]; ok {
		return r
	}

	r := &Reconciler{
		unit:         unit,
		state:        m.state,
		metadata:     m.metadata,
		scheduler:    m.scheduler,
		providers:    m.providers,
		resolver:     resolver.New(&providerReader{providers: m.providers}),
		evaluator:    m.evaluator,
		checkPeriod:  m.checkPeriod,
		updatePeriod: m.updatePeriod,
	}
	m.reconcilers[key] = r
	return r
}

// Recover re-arms reminders for every unit with durable state after a
// restart. Reminders live in process memory, so this is what turns persisted
// pull request records and pending queues back into running timers.
func (m *Manager) Recover(ctx context.Context) error {
	subscriptions, err := m.metadata.ListSubscriptions()
	if err != nil {
		return err
	}

	seen := make(map[string]bool)
	for _, sub := range subscriptions {
		unit := UnitFor(sub)
		if seen[unit.Key()] {
			continue
		}
		seen[unit.Key()] = true
		if err := m.recoverUnit(unit); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) recoverUnit(unit Unit) error {
	r := m.For(unit)
	key := unit.Key()

	_, ok, err := m.state.GetInProgressPullRequest(key)
	if err != nil {
		return err
	}
	if ok {
		logger.Infof("recovering pull request check reminder for unit %s", key)
		if err := m.scheduler.TryRegisterReminder(
			unit.checkReminderName(), m.checkPeriod, m.checkPeriod, r.fireCheckReminder,
		); err != nil {
			return err
		}
	}

	pending, err := m.state.GetPendingUpdates(key)
	if err != nil {
		return err
	}
	if len(pending) > 0 {
		logger.Infof("recovering %d pending updates for unit %s", len(pending), key)
		if err := m.scheduler.TryRegisterReminder(
			unit.updateReminderName(), m.updatePeriod, m.updatePeriod, r.fireUpdateReminder,
		); err != nil {
			return err
		}
	}
	return nil
}

// providerReader adapts the provider resolver into the dependency reader the
// update resolver expects, dispatching manifest reads by repository URL.
type providerReader struct {
	providers domain.ProviderResolver
}

func (p *providerReader) GetDependencies(
	ctx context.Context,
	repoURI, ref string,
) ([]domain.DependencyDetail, error) {
	provider, err := p.providers.ForRepository(repoURI)
	if err != nil {
		return nil, err
	}
	return provider.GetDependencies(ctx, repoURI, ref)
}
