package policy

import (
	"context"
	"strings"

	"github.com/rios0rios0/depflow/domain"
)

// Result is the outcome of a single merge policy. Success is nil while the
// policy cannot yet decide (e.g. checks still running).
type Result struct {
	Policy  *domain.MergePolicyDefinition
	Success *bool
	Message string
}

// EvaluationResult aggregates per-policy results for one pull request.
type EvaluationResult struct {
	Results []Result
}

// Succeeded reports that every policy decided and passed.
func (e EvaluationResult) Succeeded() bool {
	if len(e.Results) == 0 {
		return false
	}
	for _, r := range e.Results {
		if r.Success == nil || !*r.Success {
			return false
		}
	}
	return true
}

// Failed reports that at least one policy decided against merging.
func (e EvaluationResult) Failed() bool {
	for _, r := range e.Results {
		if r.Success != nil && !*r.Success {
			return true
		}
	}
	return false
}

// Pending reports that at least one policy has not decided and none failed.
func (e EvaluationResult) Pending() bool {
	if e.Failed() {
		return false
	}
	for _, r := range e.Results {
		if r.Success == nil {
			return true
		}
	}
	return false
}

// Target is the evaluation context handed to each policy: the pull request
// and the provider to inspect it through.
type Target struct {
	URL       string
	Provider  domain.Provider
	BotAuthor string
}

// MergePolicy is one named policy implementation.
type MergePolicy interface {
	Name() string
	Evaluate(ctx context.Context, target Target, def domain.MergePolicyDefinition) (Result, error)
}

// Evaluator runs a list of pre-validated merge policy definitions against a
// pull request.
type Evaluator struct {
	botAuthor string
	policies  map[string]MergePolicy
}

// NewEvaluator creates an evaluator with all built-in policies registered.
// botAuthor is the commit author the engine uses, consulted by NoExtraCommits.
func NewEvaluator(botAuthor string) *Evaluator {
	e := &Evaluator{
		botAuthor: botAuthor,
		policies:  make(map[string]MergePolicy),
	}
	e.register(&allChecksSuccessfulPolicy{})
	e.register(&noRequestedChangesPolicy{})
	e.register(&noExtraCommitsPolicy{})
	e.register(&standardPolicy{evaluator: e})
	return e
}

func (e *Evaluator) register(p MergePolicy) {
	e.policies[strings.ToLower(p.Name())] = p
}

// Evaluate runs each definition against the pull request. Definitions are
// assumed pre-validated; a name that still cannot be resolved yields a failed
// result rather than an error so that a misconfigured subscription blocks
// merging instead of crashing the loop.
func (e *Evaluator) Evaluate(
	ctx context.Context,
	prURL string,
	provider domain.Provider,
	definitions []domain.MergePolicyDefinition,
) (EvaluationResult, error) {
	target := Target{URL: prURL, Provider: provider, BotAuthor: e.botAuthor}

	results := make([]Result, 0, len(definitions))
	for i := range definitions {
		def := definitions[i]
		impl, ok := e.policies[strings.ToLower(def.Name)]
		if !ok {
			failed := false
			results = append(results, Result{
				Success: &failed,
				Message: "Unknown merge policy '" + def.Name + "'",
			})
			continue
		}

		result, err := impl.Evaluate(ctx, target, def)
		if err != nil {
			return EvaluationResult{}, err
		}
		result.Policy = &def
		results = append(results, result)
	}

	return EvaluationResult{Results: results}, nil
}

func pass(message string) Result {
	ok := true
	return Result{Success: &ok, Message: message}
}

func fail(message string) Result {
	ok := false
	return Result{Success: &ok, Message: message}
}

func pending(message string) Result {
	return Result{Message: message}
}
