package application_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rios0rios0/depflow/application"
	"github.com/rios0rios0/depflow/domain"
	"github.com/rios0rios0/depflow/policy"
	"github.com/rios0rios0/depflow/reconciler"
	testdoubles "github.com/rios0rios0/depflow/test"
)

const (
	sourceRepo = "https://github.com/org/source"
	targetRepo = "https://github.com/org/target"
	otherRepo  = "https://github.com/org/other"
)

type fixture struct {
	provider *testdoubles.SpyProvider
	state    *testdoubles.MemoryStateStore
	metadata *testdoubles.MemoryMetadataStore
	service  *application.Service
}

func newFixture() *fixture {
	provider := &testdoubles.SpyProvider{CreatePRResult: "https://github.com/org/target/pull/1"}
	provider.DefaultDependencies = []domain.DependencyDetail{
		{Name: "Lib.A", Version: "1.0.0", RepoURI: sourceRepo, Commit: "sha-old"},
	}
	state := testdoubles.NewMemoryStateStore()
	metadata := testdoubles.NewMemoryMetadataStore()
	manager := reconciler.NewManager(
		state, metadata, testdoubles.NewSpyScheduler(),
		&testdoubles.SingleProviderResolver{Provider: provider},
		policy.NewEvaluator("depflow"),
		time.Minute, time.Minute,
	)
	return &fixture{
		provider: provider,
		state:    state,
		metadata: metadata,
		service:  application.NewService(metadata, manager),
	}
}

func (f *fixture) addSubscription(id, source, channel string, enabled bool) {
	_ = f.metadata.PutSubscription(domain.Subscription{
		ID:               id,
		SourceRepository: source,
		TargetRepository: targetRepo,
		TargetBranch:     "main",
		Channel:          channel,
		Enabled:          enabled,
		Policy:           domain.SubscriptionPolicy{UpdateFrequency: domain.UpdateFrequencyEveryBuild},
	})
}

func (f *fixture) addBuild(id string) {
	_ = f.metadata.PutBuild(domain.Build{
		ID:         id,
		Repository: sourceRepo,
		Commit:     "sha-new",
		Number:     "42",
		Assets:     []domain.Asset{{Name: "Lib.A", Version: "1.1.0"}},
	})
}

func TestUpdateAssets(t *testing.T) {
	t.Parallel()

	t.Run("should reconcile the subscription against the build", func(t *testing.T) {
		t.Parallel()

		// given
		f := newFixture()
		f.addSubscription("s1", sourceRepo, "stable", true)
		f.addBuild("b1")

		// when
		outcome, err := f.service.UpdateAssets(context.Background(), "s1", "b1")

		// then
		require.NoError(t, err)
		assert.Equal(t, reconciler.OutcomeCreated, outcome.Kind)
		require.Len(t, f.provider.CommittedUpdates, 1)
		assert.Equal(t, "sha-new", f.provider.CommittedUpdates[0].Deps[0].Commit)
	})

	t.Run("should fail for an unknown subscription", func(t *testing.T) {
		t.Parallel()

		// given
		f := newFixture()
		f.addBuild("b1")

		// when
		_, err := f.service.UpdateAssets(context.Background(), "missing", "b1")

		// then
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("should fail for an unknown build", func(t *testing.T) {
		t.Parallel()

		// given
		f := newFixture()
		f.addSubscription("s1", sourceRepo, "stable", true)

		// when
		_, err := f.service.UpdateAssets(context.Background(), "s1", "missing")

		// then
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestProcessBuild(t *testing.T) {
	t.Parallel()

	t.Run("should fan out only to watching subscriptions", func(t *testing.T) {
		t.Parallel()

		// given
		f := newFixture()
		f.addBuild("b1")
		f.addSubscription("watching", sourceRepo, "stable", true)
		f.addSubscription("wrong-channel", sourceRepo, "nightly", true)
		f.addSubscription("wrong-source", otherRepo, "stable", true)
		f.addSubscription("disabled", sourceRepo, "stable", false)

		// when
		results, err := f.service.ProcessBuild(context.Background(), "b1", "stable")

		// then
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "watching", results[0].SubscriptionID)
		require.NoError(t, results[0].Err)
		assert.Equal(t, reconciler.OutcomeCreated, results[0].Outcome.Kind)
	})

	t.Run("should match channel and source case-insensitively", func(t *testing.T) {
		t.Parallel()

		// given
		f := newFixture()
		f.addBuild("b1")
		f.addSubscription("s1", "https://github.com/ORG/SOURCE", "STABLE", true)

		// when
		results, err := f.service.ProcessBuild(context.Background(), "b1", "stable")

		// then
		require.NoError(t, err)
		assert.Len(t, results, 1)
	})

	t.Run("should skip subscriptions with frequency none", func(t *testing.T) {
		t.Parallel()

		// given
		f := newFixture()
		f.addBuild("b1")
		_ = f.metadata.PutSubscription(domain.Subscription{
			ID:               "s1",
			SourceRepository: sourceRepo,
			TargetRepository: targetRepo,
			TargetBranch:     "main",
			Channel:          "stable",
			Enabled:          true,
			Policy:           domain.SubscriptionPolicy{UpdateFrequency: domain.UpdateFrequencyNone},
		})

		// when
		results, err := f.service.ProcessBuild(context.Background(), "b1", "stable")

		// then
		require.NoError(t, err)
		assert.Empty(t, results)
	})

	t.Run("should collect per-subscription errors without failing the batch", func(t *testing.T) {
		t.Parallel()

		// given
		f := newFixture()
		f.addBuild("b1")
		f.addSubscription("s1", sourceRepo, "stable", true)
		f.provider.CreateBranchErr = assert.AnError

		// when
		results, err := f.service.ProcessBuild(context.Background(), "b1", "stable")

		// then
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Error(t, results[0].Err)
	})

	t.Run("should fail for an unknown build", func(t *testing.T) {
		t.Parallel()

		// given
		f := newFixture()

		// when
		_, err := f.service.ProcessBuild(context.Background(), "missing", "stable")

		// then
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestSynchronize(t *testing.T) {
	t.Parallel()

	t.Run("should report an in-flight pull request", func(t *testing.T) {
		t.Parallel()

		// given
		f := newFixture()
		f.addSubscription("s1", sourceRepo, "stable", true)
		_ = f.state.SetInProgressPullRequest("s1", domain.InProgressPullRequest{
			URL: "https://github.com/org/target/pull/1",
		})
		f.provider.Status = domain.PullRequestOpen

		// when
		inFlight, err := f.service.Synchronize(context.Background(), "s1")

		// then
		require.NoError(t, err)
		assert.True(t, inFlight)
	})

	t.Run("should report no pull request for an idle unit", func(t *testing.T) {
		t.Parallel()

		// given
		f := newFixture()
		f.addSubscription("s1", sourceRepo, "stable", true)

		// when
		inFlight, err := f.service.Synchronize(context.Background(), "s1")

		// then
		require.NoError(t, err)
		assert.False(t, inFlight)
	})
}

func TestFlowGraph(t *testing.T) {
	t.Parallel()

	t.Run("should build the graph from stored metadata", func(t *testing.T) {
		t.Parallel()

		// given
		f := newFixture()
		_ = f.metadata.PutDefaultChannel(domain.DefaultChannel{
			Repository: sourceRepo, Branch: "main", ChannelName: "stable",
		})
		f.addSubscription("s1", sourceRepo, "stable", true)

		// when
		graph, err := f.service.FlowGraph("", false)

		// then
		require.NoError(t, err)
		assert.Len(t, graph.Edges, 1)
	})

	t.Run("should prune to a channel filter", func(t *testing.T) {
		t.Parallel()

		// given
		f := newFixture()
		_ = f.metadata.PutDefaultChannel(domain.DefaultChannel{
			Repository: sourceRepo, Branch: "main", ChannelName: "stable",
		})
		_ = f.metadata.PutDefaultChannel(domain.DefaultChannel{
			Repository: otherRepo, Branch: "main", ChannelName: "unrelated",
		})
		f.addSubscription("s1", sourceRepo, "stable", true)

		// when
		graph, err := f.service.FlowGraph("stable", false)

		// then
		require.NoError(t, err)
		require.Len(t, graph.Nodes, 1)
		assert.Equal(t, sourceRepo, graph.Nodes[0].Repository)
	})
}

func TestImportMetadata(t *testing.T) {
	t.Parallel()

	writeFile := func(t *testing.T, content string) string {
		t.Helper()
		path := filepath.Join(t.TempDir(), "metadata.yaml")
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
		return path
	}

	t.Run("should import every record kind", func(t *testing.T) {
		t.Parallel()

		// given
		f := newFixture()
		path := writeFile(t, `
subscriptions:
  - id: s1
    sourceRepository: https://github.com/org/source
    targetRepository: https://github.com/org/target
    targetBranch: main
    channel: stable
    enabled: true
    policy:
      updateFrequency: everyBuild
      mergePolicies:
        - name: Standard
builds:
  - id: b1
    repository: https://github.com/org/source
    commit: abc
    number: "42"
    assets:
      - name: Lib.A
        version: 1.1.0
defaultChannels:
  - repository: https://github.com/org/source
    branch: main
    channel: stable
branchPolicies:
  - repository: https://github.com/org/target
    branch: main
    mergePolicies:
      - name: AllChecksSuccessful
`)

		// when
		err := f.service.ImportMetadata(path)

		// then
		require.NoError(t, err)
		sub, err := f.metadata.GetSubscription("s1")
		require.NoError(t, err)
		assert.Equal(t, "stable", sub.Channel)
		build, err := f.metadata.GetBuild("b1")
		require.NoError(t, err)
		assert.Equal(t, "42", build.Number)
		channels, _ := f.metadata.ListDefaultChannels()
		assert.Len(t, channels, 1)
		policies, _ := f.metadata.GetBranchMergePolicies(targetRepo, "main")
		require.Len(t, policies, 1)
		assert.Equal(t, "AllChecksSuccessful", policies[0].Name)
	})

	t.Run("should reject invalid merge policies before writing anything", func(t *testing.T) {
		t.Parallel()

		// given
		f := newFixture()
		path := writeFile(t, `
subscriptions:
  - id: s1
    channel: stable
    policy:
      mergePolicies:
        - name: NoSuchPolicy
builds:
  - id: b1
`)

		// when
		err := f.service.ImportMetadata(path)

		// then
		require.Error(t, err)
		_, getErr := f.metadata.GetSubscription("s1")
		assert.ErrorIs(t, getErr, domain.ErrNotFound)
		_, buildErr := f.metadata.GetBuild("b1")
		assert.ErrorIs(t, buildErr, domain.ErrNotFound)
	})

	t.Run("should fail on a missing file", func(t *testing.T) {
		t.Parallel()

		// given
		f := newFixture()

		// when
		err := f.service.ImportMetadata(filepath.Join(t.TempDir(), "nope.yaml"))

		// then
		assert.Error(t, err)
	})
}
