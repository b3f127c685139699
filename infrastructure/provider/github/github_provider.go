// Package github implements domain.Provider for GitHub repositories.
package github

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	gh "github.com/google/go-github/v66/github"
	"golang.org/x/oauth2"

	"github.com/rios0rios0/depflow/domain"
)

const (
	providerName = "github"
	perPage      = 100

	statusCommentMarker = "<!-- depflow-status -->"
)

// Provider implements domain.Provider against the GitHub REST API.
type Provider struct {
	client *gh.Client
}

// New creates a GitHub provider authenticated with the given token.
func New(token string) domain.Provider {
	httpClient := oauth2.NewClient(
		context.Background(),
		oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}),
	)
	return &Provider{client: gh.NewClient(httpClient)}
}

func (p *Provider) Name() string { return providerName }

func (p *Provider) MatchesURL(rawURL string) bool {
	return strings.Contains(rawURL, "github.com")
}

func (p *Provider) GetPullRequestStatus(
	ctx context.Context,
	url string,
) (domain.PullRequestStatus, error) {
	owner, repo, number, err := splitPullURL(url)
	if err != nil {
		return "", err
	}

	pr, _, err := p.client.PullRequests.Get(ctx, owner, repo, number)
	if err != nil {
		return "", fmt.Errorf("failed to get pull request %q: %w", url, err)
	}

	switch {
	case pr.GetMerged():
		return domain.PullRequestMerged, nil
	case pr.GetState() == "closed":
		return domain.PullRequestClosed, nil
	default:
		return domain.PullRequestOpen, nil
	}
}

func (p *Provider) GetPullRequest(ctx context.Context, url string) (*domain.PullRequest, error) {
	owner, repo, number, err := splitPullURL(url)
	if err != nil {
		return nil, err
	}

	pr, _, err := p.client.PullRequests.Get(ctx, owner, repo, number)
	if err != nil {
		return nil, fmt.Errorf("failed to get pull request %q: %w", url, err)
	}

	return &domain.PullRequest{
		Title:       pr.GetTitle(),
		Description: pr.GetBody(),
		BaseBranch:  pr.GetBase().GetRef(),
		HeadBranch:  pr.GetHead().GetRef(),
	}, nil
}

func (p *Provider) CreateNewBranch(ctx context.Context, repoURI, baseBranch, newBranch string) error {
	owner, repo, err := splitRepoURL(repoURI)
	if err != nil {
		return err
	}

	baseRef, _, err := p.client.Git.GetRef(ctx, owner, repo, "refs/heads/"+baseBranch)
	if err != nil {
		return fmt.Errorf("failed to get base branch ref: %w", err)
	}

	branchRef := "refs/heads/" + newBranch
	_, _, err = p.client.Git.CreateRef(ctx, owner, repo, &gh.Reference{
		Ref:    &branchRef,
		Object: &gh.GitObject{SHA: baseRef.Object.SHA},
	})
	if err != nil {
		return fmt.Errorf("failed to create branch %q: %w", newBranch, err)
	}
	return nil
}

func (p *Provider) DeleteBranch(ctx context.Context, repoURI, branch string) error {
	owner, repo, err := splitRepoURL(repoURI)
	if err != nil {
		return err
	}

	if _, err := p.client.Git.DeleteRef(ctx, owner, repo, "refs/heads/"+branch); err != nil {
		return fmt.Errorf("failed to delete branch %q: %w", branch, err)
	}
	return nil
}

func (p *Provider) CreatePullRequest(
	ctx context.Context,
	repoURI string,
	pull domain.PullRequest,
) (string, error) {
	owner, repo, err := splitRepoURL(repoURI)
	if err != nil {
		return "", err
	}

	maintainerCanModify := true
	pr, _, err := p.client.PullRequests.Create(ctx, owner, repo, &gh.NewPullRequest{
		Title:               &pull.Title,
		Head:                &pull.HeadBranch,
		Base:                &pull.BaseBranch,
		Body:                &pull.Description,
		MaintainerCanModify: &maintainerCanModify,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create pull request: %w", err)
	}

	return pr.GetHTMLURL(), nil
}

func (p *Provider) UpdatePullRequest(
	ctx context.Context,
	url string,
	pull domain.PullRequest,
) error {
	owner, repo, number, err := splitPullURL(url)
	if err != nil {
		return err
	}

	_, _, err = p.client.PullRequests.Edit(ctx, owner, repo, number, &gh.PullRequest{
		Title: &pull.Title,
		Body:  &pull.Description,
	})
	if err != nil {
		return fmt.Errorf("failed to update pull request %q: %w", url, err)
	}
	return nil
}

func (p *Provider) MergePullRequest(ctx context.Context, url string) (domain.MergeResult, error) {
	owner, repo, number, err := splitPullURL(url)
	if err != nil {
		return "", err
	}

	result, resp, err := p.client.PullRequests.Merge(
		ctx, owner, repo, number, "",
		&gh.PullRequestOptions{MergeMethod: "merge"},
	)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusMethodNotAllowed ||
			resp.StatusCode == http.StatusConflict) {
			return domain.MergeResultConflict, nil
		}
		return "", fmt.Errorf("failed to merge pull request %q: %w", url, err)
	}
	if !result.GetMerged() {
		return domain.MergeResultConflict, nil
	}
	return domain.MergeResultMerged, nil
}

func (p *Provider) CreateOrUpdateStatusComment(ctx context.Context, url, message string) error {
	owner, repo, number, err := splitPullURL(url)
	if err != nil {
		return err
	}

	body := statusCommentMarker + "\n" + message

	comments, _, err := p.client.Issues.ListComments(
		ctx, owner, repo, number,
		&gh.IssueListCommentsOptions{ListOptions: gh.ListOptions{PerPage: perPage}},
	)
	if err != nil {
		return fmt.Errorf("failed to list comments on %q: %w", url, err)
	}

	for _, comment := range comments {
		if !strings.Contains(comment.GetBody(), statusCommentMarker) {
			continue
		}
		_, _, err := p.client.Issues.EditComment(
			ctx, owner, repo, comment.GetID(), &gh.IssueComment{Body: &body},
		)
		if err != nil {
			return fmt.Errorf("failed to update status comment on %q: %w", url, err)
		}
		return nil
	}

	_, _, err = p.client.Issues.CreateComment(
		ctx, owner, repo, number, &gh.IssueComment{Body: &body},
	)
	if err != nil {
		return fmt.Errorf("failed to create status comment on %q: %w", url, err)
	}
	return nil
}

func (p *Provider) GetPullRequestChecks(ctx context.Context, url string) ([]domain.Check, error) {
	owner, repo, number, err := splitPullURL(url)
	if err != nil {
		return nil, err
	}

	pr, _, err := p.client.PullRequests.Get(ctx, owner, repo, number)
	if err != nil {
		return nil, fmt.Errorf("failed to get pull request %q: %w", url, err)
	}

	var checks []domain.Check
	opts := &gh.ListCheckRunsOptions{ListOptions: gh.ListOptions{PerPage: perPage}}
	for {
		runs, resp, err := p.client.Checks.ListCheckRunsForRef(
			ctx, owner, repo, pr.GetHead().GetSHA(), opts,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to list check runs for %q: %w", url, err)
		}

		for _, run := range runs.CheckRuns {
			checks = append(checks, domain.Check{
				Name:   run.GetName(),
				Status: checkStatus(run),
			})
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return checks, nil
}

func (p *Provider) GetPullRequestReviews(ctx context.Context, url string) ([]domain.Review, error) {
	owner, repo, number, err := splitPullURL(url)
	if err != nil {
		return nil, err
	}

	reviews, _, err := p.client.PullRequests.ListReviews(
		ctx, owner, repo, number,
		&gh.ListOptions{PerPage: perPage},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list reviews on %q: %w", url, err)
	}

	result := make([]domain.Review, 0, len(reviews))
	for _, review := range reviews {
		result = append(result, domain.Review{
			Author: review.GetUser().GetLogin(),
			State:  reviewState(review.GetState()),
		})
	}
	return result, nil
}

func (p *Provider) GetPullRequestCommits(ctx context.Context, url string) ([]domain.Commit, error) {
	owner, repo, number, err := splitPullURL(url)
	if err != nil {
		return nil, err
	}

	var commits []domain.Commit
	opts := &gh.ListOptions{PerPage: perPage}
	for {
		page, resp, err := p.client.PullRequests.ListCommits(ctx, owner, repo, number, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to list commits on %q: %w", url, err)
		}

		for _, commit := range page {
			commits = append(commits, domain.Commit{
				Sha:    commit.GetSHA(),
				Author: commit.GetCommit().GetAuthor().GetName(),
			})
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return commits, nil
}

func (p *Provider) GetDependencies(
	ctx context.Context,
	repoURI, ref string,
) ([]domain.DependencyDetail, error) {
	owner, repo, err := splitRepoURL(repoURI)
	if err != nil {
		return nil, err
	}

	fileContent, _, _, err := p.client.Repositories.GetContents(
		ctx, owner, repo, domain.ManifestPath,
		&gh.RepositoryContentGetOptions{Ref: ref},
	)
	if err != nil {
		return nil, fmt.Errorf(
			"failed to get %s from %s at %s: %w", domain.ManifestPath, repoURI, ref, err,
		)
	}
	if fileContent == nil {
		return nil, fmt.Errorf("%s in %s is not a file", domain.ManifestPath, repoURI)
	}

	content, err := fileContent.GetContent()
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", domain.ManifestPath, err)
	}
	return domain.ParseManifest([]byte(content))
}

func (p *Provider) CommitUpdates(
	ctx context.Context,
	repoURI, branch string,
	deps []domain.DependencyDetail,
	message string,
) error {
	owner, repo, err := splitRepoURL(repoURI)
	if err != nil {
		return err
	}

	fileContent, _, _, err := p.client.Repositories.GetContents(
		ctx, owner, repo, domain.ManifestPath,
		&gh.RepositoryContentGetOptions{Ref: branch},
	)
	if err != nil {
		return fmt.Errorf(
			"failed to get %s from %s at %s: %w", domain.ManifestPath, repoURI, branch, err,
		)
	}

	content, err := fileContent.GetContent()
	if err != nil {
		return fmt.Errorf("failed to decode %s: %w", domain.ManifestPath, err)
	}
	existing, err := domain.ParseManifest([]byte(content))
	if err != nil {
		return err
	}

	rendered, err := domain.RenderManifest(domain.ApplyUpdates(existing, deps))
	if err != nil {
		return err
	}

	_, _, err = p.client.Repositories.UpdateFile(ctx, owner, repo, domain.ManifestPath,
		&gh.RepositoryContentFileOptions{
			Message: &message,
			Content: rendered,
			SHA:     fileContent.SHA,
			Branch:  &branch,
		})
	if err != nil {
		return fmt.Errorf("failed to commit %s on %s: %w", domain.ManifestPath, branch, err)
	}
	return nil
}

func checkStatus(run *gh.CheckRun) domain.CheckStatus {
	if run.GetStatus() != "completed" {
		return domain.CheckPending
	}
	switch run.GetConclusion() {
	case "success", "neutral", "skipped":
		return domain.CheckSucceeded
	default:
		return domain.CheckFailed
	}
}

func reviewState(state string) domain.ReviewState {
	switch strings.ToUpper(state) {
	case "APPROVED":
		return domain.ReviewApproved
	case "CHANGES_REQUESTED":
		return domain.ReviewChangesRequested
	default:
		return domain.ReviewCommented
	}
}

func splitRepoURL(repoURI string) (owner, repo string, err error) {
	path := strings.TrimPrefix(repoURI, "https://github.com/")
	path = strings.TrimSuffix(strings.TrimSuffix(path, "/"), ".git")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("unrecognized github repository url: %q", repoURI)
	}
	return parts[0], parts[1], nil
}

func splitPullURL(url string) (owner, repo string, number int, err error) {
	path := strings.TrimPrefix(url, "https://github.com/")
	parts := strings.Split(strings.TrimSuffix(path, "/"), "/")
	if len(parts) != 4 || parts[2] != "pull" {
		return "", "", 0, fmt.Errorf("unrecognized github pull request url: %q", url)
	}
	number, err = strconv.Atoi(parts[3])
	if err != nil {
		return "", "", 0, fmt.Errorf("unrecognized github pull request url: %q", url)
	}
	return parts[0], parts[1], number, nil
}
