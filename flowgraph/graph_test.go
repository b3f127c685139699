package flowgraph_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rios0rios0/depflow/domain"
	"github.com/rios0rios0/depflow/flowgraph"
)

const (
	repoCore = "https://github.com/org/core"
	repoSDK  = "https://github.com/org/sdk"
	repoApp  = "https://github.com/org/app"
)

func enabledSubscription(id, source, target, channel string) domain.Subscription {
	return domain.Subscription{
		ID:               id,
		SourceRepository: source,
		TargetRepository: target,
		TargetBranch:     "main",
		Channel:          channel,
		Enabled:          true,
		Policy:           domain.SubscriptionPolicy{UpdateFrequency: domain.UpdateFrequencyEveryBuild},
	}
}

func TestBuild(t *testing.T) {
	t.Parallel()

	t.Run("should connect a publisher to its subscriber through a channel", func(t *testing.T) {
		t.Parallel()

		// given
		channels := []domain.DefaultChannel{
			{Repository: repoCore, Branch: "main", ChannelName: "stable"},
		}
		subscriptions := []domain.Subscription{
			enabledSubscription("s1", repoCore, repoSDK, "stable"),
		}

		// when
		graph := flowgraph.Build(channels, subscriptions)

		// then
		require.Len(t, graph.Edges, 1)
		assert.Equal(t, repoCore, graph.Edges[0].From.Repository)
		assert.Equal(t, repoSDK, graph.Edges[0].To.Repository)
		assert.Contains(t, graph.Edges[0].From.OutputChannels, "stable")
		assert.Contains(t, graph.Edges[0].To.InputChannels, "stable")
	})

	t.Run("should produce no edge when the channel has no default publisher", func(t *testing.T) {
		t.Parallel()

		// given
		subscriptions := []domain.Subscription{
			enabledSubscription("s1", repoCore, repoSDK, "stable"),
		}

		// when
		graph := flowgraph.Build(nil, subscriptions)

		// then
		assert.Empty(t, graph.Edges)
		require.Len(t, graph.Nodes, 1)
		assert.Equal(t, repoSDK, graph.Nodes[0].Repository)
	})

	t.Run("should match channel and repository case-insensitively", func(t *testing.T) {
		t.Parallel()

		// given
		channels := []domain.DefaultChannel{
			{Repository: strings.ToUpper(repoCore), Branch: "main", ChannelName: "Stable"},
		}
		subscriptions := []domain.Subscription{
			enabledSubscription("s1", repoCore, repoSDK, "STABLE"),
		}

		// when
		graph := flowgraph.Build(channels, subscriptions)

		// then
		assert.Len(t, graph.Edges, 1)
	})

	t.Run("should normalize refs/heads branches into one node", func(t *testing.T) {
		t.Parallel()

		// given
		channels := []domain.DefaultChannel{
			{Repository: repoCore, Branch: "refs/heads/main", ChannelName: "stable"},
			{Repository: repoCore, Branch: "main", ChannelName: "nightly"},
		}

		// when
		graph := flowgraph.Build(channels, nil)

		// then
		require.Len(t, graph.Nodes, 1)
		assert.Equal(t, "main", graph.Nodes[0].Branch)
		assert.ElementsMatch(t, []string{"stable", "nightly"}, graph.Nodes[0].OutputChannels)
	})

	t.Run("should seed additional defaults as publishers", func(t *testing.T) {
		t.Parallel()

		// given
		subscriptions := []domain.Subscription{
			enabledSubscription("s1", repoCore, repoSDK, "stable"),
		}
		extra := domain.DefaultChannel{Repository: repoCore, Branch: "main", ChannelName: "stable"}

		// when
		graph := flowgraph.Build(nil, subscriptions, extra)

		// then
		assert.Len(t, graph.Edges, 1)
	})
}

func TestPruneTo(t *testing.T) {
	t.Parallel()

	buildChain := func(sdkEnabled bool) *flowgraph.Graph {
		channels := []domain.DefaultChannel{
			{Repository: repoCore, Branch: "main", ChannelName: "core-stable"},
			{Repository: repoSDK, Branch: "main", ChannelName: "sdk-stable"},
			{Repository: repoApp, Branch: "main", ChannelName: "app-release"},
		}
		sdkSub := enabledSubscription("s1", repoCore, repoSDK, "core-stable")
		sdkSub.Enabled = sdkEnabled
		subscriptions := []domain.Subscription{
			sdkSub,
			enabledSubscription("s2", repoSDK, repoApp, "sdk-stable"),
		}
		return flowgraph.Build(channels, subscriptions)
	}

	t.Run("should keep the full upstream chain of the matching channel", func(t *testing.T) {
		t.Parallel()

		// given
		graph := buildChain(true)

		// when
		graph.PruneTo("app-release", false)

		// then
		assert.Len(t, graph.Nodes, 3)
		assert.Len(t, graph.Edges, 2)
	})

	t.Run("should stop traversal at disabled subscriptions", func(t *testing.T) {
		t.Parallel()

		// given
		graph := buildChain(false)

		// when
		graph.PruneTo("app-release", false)

		// then
		assert.Len(t, graph.Nodes, 2)
		assert.Len(t, graph.Edges, 1)
	})

	t.Run("should traverse disabled subscriptions when requested", func(t *testing.T) {
		t.Parallel()

		// given
		graph := buildChain(false)

		// when
		graph.PruneTo("app-release", true)

		// then
		assert.Len(t, graph.Nodes, 3)
		assert.Len(t, graph.Edges, 2)
	})

	t.Run("should drop branches not reaching the channel", func(t *testing.T) {
		t.Parallel()

		// given
		graph := buildChain(true)

		// when
		graph.PruneTo("sdk-stable", false)

		// then
		assert.Len(t, graph.Nodes, 2)
		assert.Len(t, graph.Edges, 1)
	})
}

func TestWriteGraphViz(t *testing.T) {
	t.Parallel()

	t.Run("should render nodes and edges in dot format", func(t *testing.T) {
		t.Parallel()

		// given
		channels := []domain.DefaultChannel{
			{Repository: repoCore, Branch: "main", ChannelName: "stable"},
		}
		subscriptions := []domain.Subscription{
			enabledSubscription("s1", repoCore, repoSDK, "stable"),
		}
		graph := flowgraph.Build(channels, subscriptions)

		// when
		var out strings.Builder
		err := graph.WriteGraphViz(&out)

		// then
		require.NoError(t, err)
		rendered := out.String()
		assert.Contains(t, rendered, "digraph repositoryGraph {")
		assert.Contains(t, rendered, "org/core")
		assert.Contains(t, rendered, "->")
	})
}

func TestSimpleRepoName(t *testing.T) {
	t.Parallel()

	t.Run("should strip known hosting prefixes", func(t *testing.T) {
		t.Parallel()

		assert.Equal(t, "org/core", flowgraph.SimpleRepoName("https://github.com/org/core"))
		assert.Equal(t, "group/proj", flowgraph.SimpleRepoName("https://gitlab.com/group/proj"))
		assert.Equal(
			t, "org/project/repo",
			flowgraph.SimpleRepoName("https://dev.azure.com/org/project/_git/repo"),
		)
	})
}
