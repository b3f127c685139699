package domain

import "context"

// PullRequestStatus is the lifecycle state of a pull request as observed on
// the hosting provider.
type PullRequestStatus string

const (
	PullRequestOpen   PullRequestStatus = "open"
	PullRequestMerged PullRequestStatus = "merged"
	PullRequestClosed PullRequestStatus = "closed"
)

// MergeResult is the explicit outcome of a merge attempt. A merge conflict is
// expected and non-fatal; anything else wrong is reported through the error
// return.
type MergeResult string

const (
	MergeResultMerged   MergeResult = "merged"
	MergeResultConflict MergeResult = "conflict"
)

// PullRequest is the mutable content of a pull request on the provider.
type PullRequest struct {
	Title       string
	Description string
	BaseBranch  string
	HeadBranch  string
}

// CheckStatus is the tri-state result of a single PR check.
type CheckStatus string

const (
	CheckPending   CheckStatus = "pending"
	CheckSucceeded CheckStatus = "succeeded"
	CheckFailed    CheckStatus = "failed"
)

// Check is one status check attached to a pull request head.
type Check struct {
	Name   string
	Status CheckStatus
}

// ReviewState is the decision carried by a pull request review.
type ReviewState string

const (
	ReviewApproved         ReviewState = "approved"
	ReviewChangesRequested ReviewState = "changesRequested"
	ReviewCommented        ReviewState = "commented"
)

// Review is one review on a pull request.
type Review struct {
	Author string
	State  ReviewState
}

// Commit is one commit on a pull request head branch.
type Commit struct {
	Sha    string
	Author string
}

// Provider abstracts a Git hosting service (GitHub, GitLab, etc.) for
// everything the reconciliation engine needs: branch and pull request
// management, status inspection, and dependency manifest access.
type Provider interface {
	// Name returns the provider identifier (e.g. "github", "gitlab").
	Name() string

	// MatchesURL returns true if the given repository URL belongs to this provider.
	MatchesURL(url string) bool

	// GetPullRequestStatus returns the open/merged/closed state of a pull request.
	GetPullRequestStatus(ctx context.Context, url string) (PullRequestStatus, error)

	// GetPullRequest returns the current content of a pull request.
	GetPullRequest(ctx context.Context, url string) (*PullRequest, error)

	// CreateNewBranch creates newBranch from the head of baseBranch.
	CreateNewBranch(ctx context.Context, repoURI, baseBranch, newBranch string) error

	// DeleteBranch removes a branch. Used as compensation when pull request
	// creation does not complete.
	DeleteBranch(ctx context.Context, repoURI, branch string) error

	// CreatePullRequest opens a pull request and returns its URL.
	CreatePullRequest(ctx context.Context, repoURI string, pr PullRequest) (string, error)

	// UpdatePullRequest rewrites the title and description of an open pull request.
	UpdatePullRequest(ctx context.Context, url string, pr PullRequest) error

	// MergePullRequest attempts to merge. A conflict is reported as
	// MergeResultConflict with a nil error.
	MergePullRequest(ctx context.Context, url string) (MergeResult, error)

	// CreateOrUpdateStatusComment upserts the engine's single status comment
	// on the pull request.
	CreateOrUpdateStatusComment(ctx context.Context, url, message string) error

	// GetPullRequestChecks returns the checks attached to the pull request head.
	GetPullRequestChecks(ctx context.Context, url string) ([]Check, error)

	// GetPullRequestReviews returns the reviews on the pull request.
	GetPullRequestReviews(ctx context.Context, url string) ([]Review, error)

	// GetPullRequestCommits returns the commits on the pull request head branch.
	GetPullRequestCommits(ctx context.Context, url string) ([]Commit, error)

	// GetDependencies reads the dependency manifest of a repository at the
	// given branch or commit.
	GetDependencies(ctx context.Context, repoURI, ref string) ([]DependencyDetail, error)

	// CommitUpdates applies dependency updates to the manifest on the given
	// branch as a single commit with the given message.
	CommitUpdates(ctx context.Context, repoURI, branch string, deps []DependencyDetail, message string) error
}

// ProviderResolver selects the provider responsible for a repository URL.
type ProviderResolver interface {
	ForRepository(repoURI string) (Provider, error)
}
