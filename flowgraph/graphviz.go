package flowgraph

import (
	"fmt"
	"io"
	"strings"
)

// WriteGraphViz renders the graph in graphviz (dot) format, one record node
// per repo+branch labeled with the simplified repository name.
func (g *Graph) WriteGraphViz(w io.Writer) error {
	if _, err := fmt.Fprintln(w, "digraph repositoryGraph {"); err != nil {
		return err
	}
	if _, err := fmt.Fprintln(w, "    node [shape=record]"); err != nil {
		return err
	}

	for _, node := range g.Nodes {
		line := fmt.Sprintf(
			"    %s[label=\"%s\\n%s\"];",
			graphVizNodeName(node), SimpleRepoName(node.Repository), node.Branch,
		)
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}

	for _, edge := range g.Edges {
		line := fmt.Sprintf(
			"    %s -> %s",
			graphVizNodeName(edge.From), graphVizNodeName(edge.To),
		)
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}

	_, err := fmt.Fprintln(w, "}")
	return err
}

// SimpleRepoName strips known hosting prefixes from a repository URL,
// leaving the org/repo form used in titles and graph labels.
func SimpleRepoName(repoURI string) string {
	name := repoURI
	for _, prefix := range []string{
		"https://github.com/",
		"https://gitlab.com/",
		"https://dev.azure.com/",
	} {
		name = strings.TrimPrefix(name, prefix)
	}
	return strings.ReplaceAll(name, "_git/", "")
}

func graphVizNodeName(node *Node) string {
	sanitize := func(s string) string {
		return strings.Map(func(r rune) rune {
			switch {
			case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
				return r
			default:
				return '_'
			}
		}, s)
	}
	return sanitize(SimpleRepoName(node.Repository)) + "_" + sanitize(node.Branch)
}
