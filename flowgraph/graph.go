// Package flowgraph builds the directed repo+branch graph connected by
// subscription edges, used by reporting tools to render overall dependency
// flow topology.
package flowgraph

import (
	"strings"

	"github.com/rios0rios0/depflow/domain"
)

// Node is one repo+branch vertex. Output channels are the channels the
// repository publishes to by default; input channels are the channels its
// subscriptions pull from.
type Node struct {
	Repository string
	Branch     string

	OutputChannels []string
	InputChannels  []string

	IncomingEdges []*Edge
	OutgoingEdges []*Edge
}

// Edge is a directed source→target flow carrying the originating subscription.
type Edge struct {
	From         *Node
	To           *Node
	Subscription domain.Subscription
}

// Graph is the full dependency flow graph. It is built fresh from the live
// subscription and default-channel sets on each query.
type Graph struct {
	Nodes []*Node
	Edges []*Edge

	nodesByKey map[string]*Node
}

// NormalizeBranch strips a leading refs/heads/ prefix so that node keys and
// branch comparisons are stable.
func NormalizeBranch(branch string) string {
	return strings.TrimPrefix(branch, "refs/heads/")
}

// Build constructs the graph from default channels and subscriptions.
// Additional defaults are seeded in as if they were registered default
// channels. A subscription whose channel has no matching default channel
// produces no edge: the source repository does not currently publish to that
// channel by default, so no flow can be drawn.
func Build(
	defaultChannels []domain.DefaultChannel,
	subscriptions []domain.Subscription,
	additionalDefaults ...domain.DefaultChannel,
) *Graph {
	graph := &Graph{nodesByKey: make(map[string]*Node)}

	channels := make([]domain.DefaultChannel, 0, len(defaultChannels)+len(additionalDefaults))
	channels = append(channels, defaultChannels...)
	channels = append(channels, additionalDefaults...)

	// Create all channel nodes first. The graph may contain disconnected
	// nodes, so every channel and every subscription is processed.
	for _, channel := range channels {
		node := graph.getOrCreateNode(channel.Repository, channel.Branch)
		node.OutputChannels = appendUnique(node.OutputChannels, channel.ChannelName)
	}

	for _, sub := range subscriptions {
		target := graph.getOrCreateNode(sub.TargetRepository, sub.TargetBranch)
		target.InputChannels = appendUnique(target.InputChannels, sub.Channel)

		// Translate the input channel + source repo into default channels,
		// each of which contributes a source node and an edge.
		for _, channel := range channels {
			if !strings.EqualFold(channel.ChannelName, sub.Channel) {
				continue
			}
			if !strings.EqualFold(channel.Repository, sub.SourceRepository) {
				continue
			}
			source := graph.getOrCreateNode(channel.Repository, channel.Branch)
			edge := &Edge{From: source, To: target, Subscription: sub}
			source.OutgoingEdges = append(source.OutgoingEdges, edge)
			target.IncomingEdges = append(target.IncomingEdges, edge)
			graph.Edges = append(graph.Edges, edge)
		}
	}

	return graph
}

func (g *Graph) getOrCreateNode(repo, branch string) *Node {
	normalized := NormalizeBranch(branch)
	key := strings.ToLower(repo + "@" + normalized)
	if node, ok := g.nodesByKey[key]; ok {
		return node
	}
	node := &Node{Repository: repo, Branch: normalized}
	g.nodesByKey[key] = node
	g.Nodes = append(g.Nodes, node)
	return node
}

// PruneTo reduces the graph to the subgraph that can reach a node publishing
// to a channel whose name contains the given substring (case-insensitive),
// following incoming edges backwards. When includeDisabled is false, edges of
// disabled subscriptions and subscriptions with update frequency "none" are
// not traversed and are dropped from the result.
func (g *Graph) PruneTo(channelSubstring string, includeDisabled bool) {
	reached := make(map[*Node]bool)
	keptEdges := make(map[*Edge]bool)

	var visit func(node *Node)
	visit = func(node *Node) {
		if reached[node] {
			return
		}
		reached[node] = true
		for _, edge := range node.IncomingEdges {
			if !includeDisabled && !edgeFlows(edge) {
				continue
			}
			keptEdges[edge] = true
			visit(edge.From)
		}
	}

	for _, node := range g.Nodes {
		if matchesChannel(node.OutputChannels, channelSubstring) {
			visit(node)
		}
	}

	nodes := g.Nodes[:0]
	for _, node := range g.Nodes {
		if !reached[node] {
			key := strings.ToLower(node.Repository + "@" + node.Branch)
			delete(g.nodesByKey, key)
			continue
		}
		node.IncomingEdges = filterEdges(node.IncomingEdges, keptEdges)
		node.OutgoingEdges = filterEdges(node.OutgoingEdges, keptEdges)
		nodes = append(nodes, node)
	}
	g.Nodes = nodes

	edges := g.Edges[:0]
	for _, edge := range g.Edges {
		if keptEdges[edge] {
			edges = append(edges, edge)
		}
	}
	g.Edges = edges
}

func edgeFlows(edge *Edge) bool {
	return edge.Subscription.Enabled &&
		edge.Subscription.Policy.UpdateFrequency != domain.UpdateFrequencyNone
}

func matchesChannel(channels []string, substring string) bool {
	for _, channel := range channels {
		if strings.Contains(strings.ToLower(channel), strings.ToLower(substring)) {
			return true
		}
	}
	return false
}

func filterEdges(edges []*Edge, kept map[*Edge]bool) []*Edge {
	result := edges[:0]
	for _, edge := range edges {
		if kept[edge] {
			result = append(result, edge)
		}
	}
	return result
}

func appendUnique(values []string, value string) []string {
	for _, v := range values {
		if strings.EqualFold(v, value) {
			return values
		}
	}
	return append(values, value)
}
