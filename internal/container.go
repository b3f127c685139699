// Package internal wires the engine together through a DIG container.
package internal

import (
	"go.uber.org/dig"

	"github.com/rios0rios0/depflow/application"
	"github.com/rios0rios0/depflow/config"
	"github.com/rios0rios0/depflow/domain"
	providerPkg "github.com/rios0rios0/depflow/infrastructure/provider"
	ghProv "github.com/rios0rios0/depflow/infrastructure/provider/github"
	glProv "github.com/rios0rios0/depflow/infrastructure/provider/gitlab"
	"github.com/rios0rios0/depflow/infrastructure/scheduler"
	"github.com/rios0rios0/depflow/infrastructure/storage"
	"github.com/rios0rios0/depflow/policy"
	"github.com/rios0rios0/depflow/reconciler"
)

// Engine bundles the long-lived components handed to the CLI.
type Engine struct {
	Service   *application.Service
	store     *storage.Store
	scheduler *scheduler.TimerScheduler
}

// NewEngine is the DIG constructor for the engine bundle.
func NewEngine(
	service *application.Service,
	store *storage.Store,
	sched *scheduler.TimerScheduler,
) *Engine {
	return &Engine{Service: service, store: store, scheduler: sched}
}

// Close releases the scheduler and the storage backend.
func (e *Engine) Close() error {
	e.scheduler.Close()
	return e.store.Close()
}

// RegisterProviders registers all constructors with the DIG container,
// bottom-up: storage -> scheduler -> providers -> policies -> reconciler ->
// application service.
func RegisterProviders(container *dig.Container, cfg *config.Config) error {
	constructors := []any{
		func() *config.Config { return cfg },
		func(cfg *config.Config) (*storage.Store, error) {
			return storage.Open(storage.Config{
				Path:     cfg.Storage.Path,
				InMemory: cfg.Storage.InMemory,
			})
		},
		func(s *storage.Store) domain.StateStore { return s },
		func(s *storage.Store) domain.MetadataStore { return s },
		scheduler.New,
		func(s *scheduler.TimerScheduler) domain.ReminderScheduler { return s },
		buildProviderResolver,
		func(cfg *config.Config) *policy.Evaluator {
			return policy.NewEvaluator(cfg.Engine.BotAuthor)
		},
		func(
			state domain.StateStore,
			metadata domain.MetadataStore,
			sched domain.ReminderScheduler,
			providers domain.ProviderResolver,
			evaluator *policy.Evaluator,
			cfg *config.Config,
		) *reconciler.Manager {
			return reconciler.NewManager(
				state, metadata, sched, providers, evaluator,
				cfg.Engine.CheckInterval, cfg.Engine.UpdateInterval,
			)
		},
		application.NewService,
		NewEngine,
	}

	for _, constructor := range constructors {
		if err := container.Provide(constructor); err != nil {
			return err
		}
	}
	return nil
}

// InjectEngine builds a fully wired engine from the configuration.
func InjectEngine(cfg *config.Config) (*Engine, error) {
	container := dig.New()
	if err := RegisterProviders(container, cfg); err != nil {
		return nil, err
	}

	var engine *Engine
	if err := container.Invoke(func(e *Engine) {
		engine = e
	}); err != nil {
		return nil, err
	}
	return engine, nil
}

func buildProviderResolver(cfg *config.Config) (domain.ProviderResolver, error) {
	registry := providerPkg.NewRegistry()
	registry.Register("github", ghProv.New)
	registry.Register("gitlab", glProv.New)

	providers := make([]domain.Provider, 0, len(cfg.Providers))
	for _, pc := range cfg.Providers {
		p, err := registry.Get(pc.Type, pc.Token)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}
	return providerPkg.NewResolver(providers...), nil
}
