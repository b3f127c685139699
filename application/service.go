// Package application orchestrates the reconciliation engine: it fans
// build-completion events out to the subscriptions watching them and exposes
// the query and maintenance surface used by the CLI.
package application

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	logger "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/rios0rios0/depflow/domain"
	"github.com/rios0rios0/depflow/flowgraph"
	"github.com/rios0rios0/depflow/policy"
	"github.com/rios0rios0/depflow/reconciler"
)

const maxConcurrentUnits = 8

// Service is the application facade over the metadata store and the
// reconciliation manager.
type Service struct {
	metadata domain.MetadataStore
	manager  *reconciler.Manager
}

// NewService creates the facade.
func NewService(metadata domain.MetadataStore, manager *reconciler.Manager) *Service {
	return &Service{metadata: metadata, manager: manager}
}

// UpdateAssets reconciles one subscription against one registered build.
func (s *Service) UpdateAssets(
	ctx context.Context,
	subscriptionID, buildID string,
) (reconciler.Outcome, error) {
	sub, err := s.metadata.GetSubscription(subscriptionID)
	if err != nil {
		return reconciler.Outcome{}, err
	}
	build, err := s.metadata.GetBuild(buildID)
	if err != nil {
		return reconciler.Outcome{}, err
	}

	params := domain.UpdateAssetsParameters{
		SubscriptionID: sub.ID,
		BuildID:        build.ID,
		SourceSha:      build.Commit,
		Assets:         build.Assets,
	}
	return s.manager.For(reconciler.UnitFor(sub)).UpdateAssets(ctx, params)
}

// BuildResult reports the outcome of one subscription triggered by a build.
type BuildResult struct {
	SubscriptionID string
	Outcome        reconciler.Outcome
	Err            error
}

// ProcessBuild fans a build-completion event out to every enabled
// subscription watching the given channel and the build's source repository.
// Subscriptions map to reconciliation units, and distinct units are processed
// concurrently; ordering within a unit is enforced by the unit itself.
func (s *Service) ProcessBuild(
	ctx context.Context,
	buildID, channel string,
) ([]BuildResult, error) {
	build, err := s.metadata.GetBuild(buildID)
	if err != nil {
		return nil, err
	}
	subscriptions, err := s.metadata.ListSubscriptions()
	if err != nil {
		return nil, err
	}

	var (
		mu      sync.Mutex
		results []BuildResult
	)
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(maxConcurrentUnits)

	for _, sub := range subscriptions {
		if !subscriptionWatches(sub, channel, build.Repository) {
			continue
		}

		sub := sub
		group.Go(func() error {
			params := domain.UpdateAssetsParameters{
				SubscriptionID: sub.ID,
				BuildID:        build.ID,
				SourceSha:      build.Commit,
				Assets:         build.Assets,
			}
			outcome, err := s.manager.For(reconciler.UnitFor(sub)).UpdateAssets(groupCtx, params)
			if err != nil {
				logger.WithError(err).Errorf(
					"failed to update assets for subscription %s", sub.ID,
				)
			}

			mu.Lock()
			results = append(results, BuildResult{
				SubscriptionID: sub.ID,
				Outcome:        outcome,
				Err:            err,
			})
			mu.Unlock()
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

func subscriptionWatches(sub domain.Subscription, channel, sourceRepo string) bool {
	return sub.Enabled &&
		sub.Policy.UpdateFrequency != domain.UpdateFrequencyNone &&
		strings.EqualFold(sub.Channel, channel) &&
		strings.EqualFold(sub.SourceRepository, sourceRepo)
}

// Synchronize re-examines the in-flight pull request of a subscription's
// unit. It reports whether a pull request is still in flight.
func (s *Service) Synchronize(ctx context.Context, subscriptionID string) (bool, error) {
	sub, err := s.metadata.GetSubscription(subscriptionID)
	if err != nil {
		return false, err
	}

	pr, _, err := s.manager.For(reconciler.UnitFor(sub)).SynchronizePullRequest(ctx)
	if err != nil {
		return false, err
	}
	return pr != nil, nil
}

// Recover re-arms reminders for durable state after a restart.
func (s *Service) Recover(ctx context.Context) error {
	return s.manager.Recover(ctx)
}

// FlowGraph builds the dependency flow graph from the registered default
// channels and subscriptions. When channelFilter is non-empty the graph is
// pruned to the subgraph flowing into matching channels.
func (s *Service) FlowGraph(
	channelFilter string,
	includeDisabled bool,
	additionalDefaults ...domain.DefaultChannel,
) (*flowgraph.Graph, error) {
	channels, err := s.metadata.ListDefaultChannels()
	if err != nil {
		return nil, err
	}
	subscriptions, err := s.metadata.ListSubscriptions()
	if err != nil {
		return nil, err
	}

	graph := flowgraph.Build(channels, subscriptions, additionalDefaults...)
	if channelFilter != "" {
		graph.PruneTo(channelFilter, includeDisabled)
	}
	return graph, nil
}

// MetadataFile is the YAML document accepted by ImportMetadata: a declarative
// snapshot of subscriptions, builds, default channels and branch policies.
type MetadataFile struct {
	Subscriptions   []domain.Subscription   `yaml:"subscriptions"`
	Builds          []domain.Build          `yaml:"builds"`
	DefaultChannels []domain.DefaultChannel `yaml:"defaultChannels"`
	BranchPolicies  []BranchPolicyEntry     `yaml:"branchPolicies"`
}

// BranchPolicyEntry configures the merge policies of one repository branch,
// used by batched reconciliation units.
type BranchPolicyEntry struct {
	Repository    string                         `yaml:"repository"`
	Branch        string                         `yaml:"branch"`
	MergePolicies []domain.MergePolicyDefinition `yaml:"mergePolicies"`
}

// ImportMetadata loads a metadata file into the store. Merge policies are
// validated before anything is written.
func (s *Service) ImportMetadata(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read metadata file %q: %w", path, err)
	}

	var file MetadataFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse metadata file: %w", err)
	}

	for _, sub := range file.Subscriptions {
		if err := policy.ValidateMergePolicies(sub.Policy.MergePolicies); err != nil {
			return fmt.Errorf("subscription %q: %w", sub.ID, err)
		}
	}
	for _, entry := range file.BranchPolicies {
		if err := policy.ValidateMergePolicies(entry.MergePolicies); err != nil {
			return fmt.Errorf("branch policies for %s@%s: %w", entry.Repository, entry.Branch, err)
		}
	}

	for _, sub := range file.Subscriptions {
		if err := s.metadata.PutSubscription(sub); err != nil {
			return err
		}
	}
	for _, build := range file.Builds {
		if err := s.metadata.PutBuild(build); err != nil {
			return err
		}
	}
	for _, dc := range file.DefaultChannels {
		if err := s.metadata.PutDefaultChannel(dc); err != nil {
			return err
		}
	}
	for _, entry := range file.BranchPolicies {
		if err := s.metadata.PutBranchMergePolicies(
			entry.Repository, entry.Branch, entry.MergePolicies,
		); err != nil {
			return err
		}
	}

	logger.Infof(
		"imported %d subscriptions, %d builds, %d default channels",
		len(file.Subscriptions), len(file.Builds), len(file.DefaultChannels),
	)
	return nil
}
