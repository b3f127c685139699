package policy

import (
	"context"
	"fmt"
	"strings"

	"github.com/rios0rios0/depflow/domain"
)

// allChecksSuccessfulPolicy passes when every non-ignored check on the pull
// request head has succeeded.
type allChecksSuccessfulPolicy struct{}

func (p *allChecksSuccessfulPolicy) Name() string { return AllChecksSuccessfulName }

func (p *allChecksSuccessfulPolicy) Evaluate(
	ctx context.Context,
	target Target,
	def domain.MergePolicyDefinition,
) (Result, error) {
	ignored, err := ignoreChecksList(def)
	if err != nil {
		return Result{}, err
	}

	checks, err := target.Provider.GetPullRequestChecks(ctx, target.URL)
	if err != nil {
		return Result{}, fmt.Errorf("failed to retrieve checks for %q: %w", target.URL, err)
	}

	var pendingChecks, failedChecks []string
	considered := 0
	for _, check := range checks {
		if containsFold(ignored, check.Name) {
			continue
		}
		considered++
		switch check.Status {
		case domain.CheckPending:
			pendingChecks = append(pendingChecks, check.Name)
		case domain.CheckFailed:
			failedChecks = append(failedChecks, check.Name)
		}
	}

	switch {
	case len(failedChecks) > 0:
		return fail("Unsuccessful checks: " + strings.Join(failedChecks, ", ")), nil
	case len(pendingChecks) > 0:
		return pending("Waiting on checks: " + strings.Join(pendingChecks, ", ")), nil
	case considered == 0:
		return pending("No checks have been reported yet"), nil
	default:
		return pass("All checks successful"), nil
	}
}

// noRequestedChangesPolicy fails when any review has requested changes.
type noRequestedChangesPolicy struct{}

func (p *noRequestedChangesPolicy) Name() string { return NoRequestedChangesName }

func (p *noRequestedChangesPolicy) Evaluate(
	ctx context.Context,
	target Target,
	_ domain.MergePolicyDefinition,
) (Result, error) {
	reviews, err := target.Provider.GetPullRequestReviews(ctx, target.URL)
	if err != nil {
		return Result{}, fmt.Errorf("failed to retrieve reviews for %q: %w", target.URL, err)
	}

	for _, review := range reviews {
		if review.State == domain.ReviewChangesRequested {
			return fail("There are reviews that have requested changes"), nil
		}
	}
	return pass("No reviews have requested changes"), nil
}

// noExtraCommitsPolicy fails when the pull request contains commits that were
// not authored by the engine.
type noExtraCommitsPolicy struct{}

func (p *noExtraCommitsPolicy) Name() string { return NoExtraCommitsName }

func (p *noExtraCommitsPolicy) Evaluate(
	ctx context.Context,
	target Target,
	_ domain.MergePolicyDefinition,
) (Result, error) {
	commits, err := target.Provider.GetPullRequestCommits(ctx, target.URL)
	if err != nil {
		return Result{}, fmt.Errorf("failed to retrieve commits for %q: %w", target.URL, err)
	}

	var foreign []string
	for _, commit := range commits {
		if !strings.EqualFold(commit.Author, target.BotAuthor) {
			foreign = append(foreign, commit.Author)
		}
	}
	if len(foreign) > 0 {
		return fail("Commits were pushed by: " + strings.Join(foreign, ", ")), nil
	}
	return pass("No extra commits on the pull request"), nil
}

// standardPolicy bundles AllChecksSuccessful, NoRequestedChanges and
// NoExtraCommits into one definition.
type standardPolicy struct {
	evaluator *Evaluator
}

func (p *standardPolicy) Name() string { return StandardName }

func (p *standardPolicy) Evaluate(
	ctx context.Context,
	target Target,
	_ domain.MergePolicyDefinition,
) (Result, error) {
	parts := []string{AllChecksSuccessfulName, NoRequestedChangesName, NoExtraCommitsName}

	anyPending := false
	for _, name := range parts {
		impl := p.evaluator.policies[strings.ToLower(name)]
		result, err := impl.Evaluate(ctx, target, domain.MergePolicyDefinition{Name: name})
		if err != nil {
			return Result{}, err
		}
		if result.Success == nil {
			anyPending = true
			continue
		}
		if !*result.Success {
			return fail(result.Message), nil
		}
	}
	if anyPending {
		return pending("Waiting on standard policies"), nil
	}
	return pass("Standard policies succeeded"), nil
}

func containsFold(values []string, name string) bool {
	for _, v := range values {
		if strings.EqualFold(v, name) {
			return true
		}
	}
	return false
}
