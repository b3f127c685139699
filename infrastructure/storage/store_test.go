package storage_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rios0rios0/depflow/domain"
	"github.com/rios0rios0/depflow/infrastructure/storage"
)

func openStore(t *testing.T) *storage.Store {
	t.Helper()

	store, err := storage.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestPullRequestState(t *testing.T) {
	t.Parallel()

	t.Run("should report absence without an error", func(t *testing.T) {
		t.Parallel()

		// given
		store := openStore(t)

		// when
		_, ok, err := store.GetInProgressPullRequest("unit-1")

		// then
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("should round-trip the in-flight record", func(t *testing.T) {
		t.Parallel()

		// given
		store := openStore(t)
		pr := domain.InProgressPullRequest{
			URL: "https://github.com/org/repo/pull/1",
			ContainedSubscriptions: []domain.ContainedSubscription{
				{SubscriptionID: "s1", BuildID: "b1"},
			},
		}

		// when
		require.NoError(t, store.SetInProgressPullRequest("unit-1", pr))
		loaded, ok, err := store.GetInProgressPullRequest("unit-1")

		// then
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, pr, loaded)
	})

	t.Run("should remove the record", func(t *testing.T) {
		t.Parallel()

		// given
		store := openStore(t)
		require.NoError(t, store.SetInProgressPullRequest(
			"unit-1", domain.InProgressPullRequest{URL: "u"},
		))

		// when
		require.NoError(t, store.RemoveInProgressPullRequest("unit-1"))

		// then
		_, ok, err := store.GetInProgressPullRequest("unit-1")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestPendingUpdateQueue(t *testing.T) {
	t.Parallel()

	t.Run("should append updates in order and clear them", func(t *testing.T) {
		t.Parallel()

		// given
		store := openStore(t)
		first := domain.UpdateAssetsParameters{SubscriptionID: "s1", BuildID: "b1"}
		second := domain.UpdateAssetsParameters{SubscriptionID: "s1", BuildID: "b2"}

		// when
		require.NoError(t, store.AppendPendingUpdate("unit-1", first))
		require.NoError(t, store.AppendPendingUpdate("unit-1", second))
		queue, err := store.GetPendingUpdates("unit-1")

		// then
		require.NoError(t, err)
		require.Len(t, queue, 2)
		assert.Equal(t, "b1", queue[0].BuildID)
		assert.Equal(t, "b2", queue[1].BuildID)

		require.NoError(t, store.ClearPendingUpdates("unit-1"))
		queue, err = store.GetPendingUpdates("unit-1")
		require.NoError(t, err)
		assert.Empty(t, queue)
	})

	t.Run("should keep queues of different units apart", func(t *testing.T) {
		t.Parallel()

		// given
		store := openStore(t)
		require.NoError(t, store.AppendPendingUpdate(
			"unit-1", domain.UpdateAssetsParameters{BuildID: "b1"},
		))

		// when
		queue, err := store.GetPendingUpdates("unit-2")

		// then
		require.NoError(t, err)
		assert.Empty(t, queue)
	})
}

func TestSubscriptions(t *testing.T) {
	t.Parallel()

	t.Run("should wrap a missing subscription in ErrNotFound", func(t *testing.T) {
		t.Parallel()

		// given
		store := openStore(t)

		// when
		_, err := store.GetSubscription("missing")

		// then
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("should reject a subscription without an id", func(t *testing.T) {
		t.Parallel()

		// given
		store := openStore(t)

		// when
		err := store.PutSubscription(domain.Subscription{})

		// then
		assert.Error(t, err)
	})

	t.Run("should store and list subscriptions", func(t *testing.T) {
		t.Parallel()

		// given
		store := openStore(t)
		sub := domain.Subscription{
			ID:               "s1",
			SourceRepository: "https://github.com/org/source",
			TargetRepository: "https://github.com/org/target",
			TargetBranch:     "main",
			Channel:          "stable",
			Enabled:          true,
		}

		// when
		require.NoError(t, store.PutSubscription(sub))
		loaded, err := store.GetSubscription("s1")
		require.NoError(t, err)
		all, listErr := store.ListSubscriptions()

		// then
		assert.Equal(t, sub, loaded)
		require.NoError(t, listErr)
		assert.Len(t, all, 1)
	})

	t.Run("should record the applied build on the subscription", func(t *testing.T) {
		t.Parallel()

		// given
		store := openStore(t)
		require.NoError(t, store.PutSubscription(domain.Subscription{ID: "s1"}))

		// when
		require.NoError(t, store.MarkSubscriptionApplied("s1", "b7"))

		// then
		sub, err := store.GetSubscription("s1")
		require.NoError(t, err)
		assert.Equal(t, "b7", sub.LastAppliedBuildID)
	})

	t.Run("should fail to mark an unknown subscription applied", func(t *testing.T) {
		t.Parallel()

		// given
		store := openStore(t)

		// when
		err := store.MarkSubscriptionApplied("missing", "b1")

		// then
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestBuilds(t *testing.T) {
	t.Parallel()

	t.Run("should wrap a missing build in ErrNotFound", func(t *testing.T) {
		t.Parallel()

		// given
		store := openStore(t)

		// when
		_, err := store.GetBuild("missing")

		// then
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("should round-trip a build with its assets", func(t *testing.T) {
		t.Parallel()

		// given
		store := openStore(t)
		build := domain.Build{
			ID:         "b1",
			Repository: "https://github.com/org/source",
			Commit:     "abc",
			Number:     "42",
			Assets:     []domain.Asset{{Name: "Lib.A", Version: "1.0.0"}},
		}

		// when
		require.NoError(t, store.PutBuild(build))
		loaded, err := store.GetBuild("b1")

		// then
		require.NoError(t, err)
		assert.Equal(t, build, loaded)
	})
}

func TestDefaultChannels(t *testing.T) {
	t.Parallel()

	t.Run("should list stored default channels", func(t *testing.T) {
		t.Parallel()

		// given
		store := openStore(t)
		first := domain.DefaultChannel{
			Repository: "https://github.com/org/a", Branch: "main", ChannelName: "stable",
		}
		second := domain.DefaultChannel{
			Repository: "https://github.com/org/a", Branch: "main", ChannelName: "nightly",
		}

		// when
		require.NoError(t, store.PutDefaultChannel(first))
		require.NoError(t, store.PutDefaultChannel(second))
		channels, err := store.ListDefaultChannels()

		// then
		require.NoError(t, err)
		assert.ElementsMatch(t, []domain.DefaultChannel{first, second}, channels)
	})

	t.Run("should overwrite the same repository branch channel", func(t *testing.T) {
		t.Parallel()

		// given
		store := openStore(t)
		dc := domain.DefaultChannel{
			Repository: "https://github.com/org/a", Branch: "main", ChannelName: "stable",
		}

		// when
		require.NoError(t, store.PutDefaultChannel(dc))
		require.NoError(t, store.PutDefaultChannel(dc))
		channels, err := store.ListDefaultChannels()

		// then
		require.NoError(t, err)
		assert.Len(t, channels, 1)
	})
}

func TestBranchMergePolicies(t *testing.T) {
	t.Parallel()

	t.Run("should return nil for an unconfigured branch", func(t *testing.T) {
		t.Parallel()

		// given
		store := openStore(t)

		// when
		policies, err := store.GetBranchMergePolicies("https://github.com/org/a", "main")

		// then
		require.NoError(t, err)
		assert.Nil(t, policies)
	})

	t.Run("should look up policies regardless of repository casing", func(t *testing.T) {
		t.Parallel()

		// given
		store := openStore(t)
		policies := []domain.MergePolicyDefinition{{Name: "Standard"}}
		require.NoError(t, store.PutBranchMergePolicies(
			"https://github.com/ORG/A", "main", policies,
		))

		// when
		loaded, err := store.GetBranchMergePolicies("https://github.com/org/a", "main")

		// then
		require.NoError(t, err)
		assert.Equal(t, policies, loaded)
	})
}

func TestBranchUpdates(t *testing.T) {
	t.Parallel()

	t.Run("should return ErrNotFound before any action was recorded", func(t *testing.T) {
		t.Parallel()

		// given
		store := openStore(t)

		// when
		_, err := store.GetLatestBranchUpdate("https://github.com/org/a", "main")

		// then
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("should keep only the latest record per branch", func(t *testing.T) {
		t.Parallel()

		// given
		store := openStore(t)
		repo := "https://github.com/org/a"
		require.NoError(t, store.RecordBranchUpdate(repo, "main", domain.BranchUpdate{
			Action: "first", Success: true,
		}))

		// when
		require.NoError(t, store.RecordBranchUpdate(repo, "main", domain.BranchUpdate{
			Action: "second", Success: false,
		}))

		// then
		latest, err := store.GetLatestBranchUpdate(repo, "main")
		require.NoError(t, err)
		assert.Equal(t, "second", latest.Action)
		assert.False(t, latest.Success)
	})
}
