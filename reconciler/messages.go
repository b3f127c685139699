package reconciler

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rios0rios0/depflow/domain"
	"github.com/rios0rios0/depflow/flowgraph"
	"github.com/rios0rios0/depflow/policy"
	"github.com/rios0rios0/depflow/resolver"
)

const titleBudget = 80

// computeTitle builds the pull request title from the subscriptions the pull
// request currently carries. Source repository names are joined while the
// title stays within budget; beyond that only the count is shown.
func computeTitle(
	targetBranch string,
	contained []domain.ContainedSubscription,
	lookup func(id string) (domain.Subscription, error),
) string {
	if len(contained) == 0 {
		return fmt.Sprintf("[%s] Update dependencies to ensure coherency", targetBranch)
	}

	seen := make(map[string]bool)
	var repos []string
	for _, cs := range contained {
		sub, err := lookup(cs.SubscriptionID)
		if err != nil {
			continue
		}
		name := flowgraph.SimpleRepoName(sub.SourceRepository)
		if seen[strings.ToLower(name)] {
			continue
		}
		seen[strings.ToLower(name)] = true
		repos = append(repos, name)
	}

	if len(repos) > 0 {
		sort.Strings(repos)
		title := fmt.Sprintf("[%s] Update dependencies from %s", targetBranch, strings.Join(repos, ", "))
		if len(title) <= titleBudget {
			return title
		}
	}
	return fmt.Sprintf(
		"[%s] Update dependencies from %d repositories", targetBranch, len(contained),
	)
}

// commitMessage renders the message for one work item's commit.
func commitMessage(sourceRepo, buildNumber string, deps []domain.DependencyDetail) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Update dependencies from %s build %s\n", sourceRepo, buildNumber)
	for _, dep := range deps {
		fmt.Fprintf(&b, "\n- %s - %s", dep.Name, dep.Version)
	}
	return b.String()
}

// coherencyCommitMessage renders the message for the synthetic coherency
// commit, grouping the moved dependencies by their origin repository.
func coherencyCommitMessage(deps []domain.DependencyDetail) string {
	groups := make(map[string][]domain.DependencyDetail)
	var order []string
	for _, dep := range deps {
		key := dep.RepoURI
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], dep)
	}

	var b strings.Builder
	b.WriteString("Coherency updates\n")
	for _, repo := range order {
		fmt.Fprintf(&b, "\nFrom %s:\n", repo)
		for _, dep := range groups[repo] {
			fmt.Fprintf(&b, "- %s - %s\n", dep.Name, dep.Version)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// describeWorkItems renders the description section for freshly applied work
// items. On update the section is appended to the existing description so the
// pull request keeps a record of every batch it absorbed.
func describeWorkItems(
	items []resolver.WorkItem,
	buildInfo func(buildID string) (repo, number, commit string),
) string {
	var b strings.Builder
	for _, item := range items {
		if item.Update.IsCoherencyUpdate {
			b.WriteString("## Coherency Updates\n\n")
			b.WriteString("These updates ensure that dependencies stay consistent with their declared parents.\n\n")
			for _, dep := range item.Dependencies {
				fmt.Fprintf(&b, "- **%s**: %s\n", dep.Name, dep.Version)
			}
			b.WriteString("\n")
			continue
		}

		repo, number, commit := buildInfo(item.Update.BuildID)
		fmt.Fprintf(&b, "## From %s\n", repo)
		fmt.Fprintf(&b, "- **Build**: %s\n", number)
		fmt.Fprintf(&b, "- **Commit**: %s\n", commit)
		b.WriteString("- **Updates**:\n")
		for _, dep := range item.Dependencies {
			fmt.Fprintf(&b, "  - **%s**: %s\n", dep.Name, dep.Version)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// renderStatusComment formats the merge policy evaluation into the single
// status comment maintained on the pull request.
func renderStatusComment(result policy.EvaluationResult) string {
	var b strings.Builder
	b.WriteString("## Auto-Merge Status\n")
	if result.Succeeded() {
		b.WriteString("All merge policies have succeeded. This pull request will be merged.\n")
	} else {
		b.WriteString("This pull request has not been merged because the following merge policies have not completed.\n")
	}
	writePolicyBullets(&b, result)
	return b.String()
}

// mergedStatusComment is the final status comment left on a pull request the
// engine just merged.
func mergedStatusComment(result policy.EvaluationResult) string {
	var b strings.Builder
	b.WriteString("## Auto-Merge Status\n")
	b.WriteString("This pull request has been merged because the following merge policies have succeeded.\n")
	writePolicyBullets(&b, result)
	return b.String()
}

// writePolicyBullets renders one bullet per policy, ordered by policy name so
// successive comment edits diff cleanly.
func writePolicyBullets(b *strings.Builder, result policy.EvaluationResult) {
	results := append([]policy.Result(nil), result.Results...)
	sort.SliceStable(results, func(i, j int) bool {
		return policyName(results[i]) < policyName(results[j])
	})

	for _, r := range results {
		name := policyName(r)
		switch {
		case r.Success == nil:
			fmt.Fprintf(b, "- ❓ **%s** Pending - %s\n", name, r.Message)
		case *r.Success:
			fmt.Fprintf(b, "- ✔️ **%s** Succeeded - %s\n", name, r.Message)
		default:
			fmt.Fprintf(b, "- ❌ **%s** Failed - %s\n", name, r.Message)
		}
	}
}

func policyName(r policy.Result) string {
	if r.Policy != nil {
		return r.Policy.Name
	}
	return "Unknown policy"
}
