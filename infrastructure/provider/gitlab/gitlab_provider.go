// Package gitlab implements domain.Provider for GitLab repositories.
package gitlab

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	gl "gitlab.com/gitlab-org/api/client-go"

	"github.com/rios0rios0/depflow/domain"
)

const (
	providerName = "gitlab"
	perPage      = 100

	statusCommentMarker = "<!-- depflow-status -->"

	// GitLab exposes one head pipeline per merge request rather than
	// individual named checks.
	pipelineCheckName = "pipeline"
)

var errClientNotInitialized = errors.New("gitlab client not initialized")

// Provider implements domain.Provider against the GitLab API.
type Provider struct {
	token  string
	client *gl.Client
}

// New creates a GitLab provider with the given token.
func New(token string) domain.Provider {
	client, err := gl.NewClient(token)
	if err != nil {
		// Return a provider that will fail on use rather than panicking at construction
		return &Provider{token: token, client: nil}
	}
	return &Provider{token: token, client: client}
}

func (p *Provider) Name() string { return providerName }

func (p *Provider) MatchesURL(rawURL string) bool {
	return strings.Contains(rawURL, "gitlab.com")
}

func (p *Provider) GetPullRequestStatus(
	ctx context.Context,
	url string,
) (domain.PullRequestStatus, error) {
	mr, err := p.getMergeRequest(ctx, url)
	if err != nil {
		return "", err
	}

	switch mr.State {
	case "merged":
		return domain.PullRequestMerged, nil
	case "opened":
		return domain.PullRequestOpen, nil
	default:
		return domain.PullRequestClosed, nil
	}
}

func (p *Provider) GetPullRequest(ctx context.Context, url string) (*domain.PullRequest, error) {
	mr, err := p.getMergeRequest(ctx, url)
	if err != nil {
		return nil, err
	}

	return &domain.PullRequest{
		Title:       mr.Title,
		Description: mr.Description,
		BaseBranch:  mr.TargetBranch,
		HeadBranch:  mr.SourceBranch,
	}, nil
}

func (p *Provider) CreateNewBranch(ctx context.Context, repoURI, baseBranch, newBranch string) error {
	if p.client == nil {
		return errClientNotInitialized
	}
	pid, err := projectPath(repoURI)
	if err != nil {
		return err
	}

	_, _, err = p.client.Branches.CreateBranch(pid, &gl.CreateBranchOptions{
		Branch: gl.Ptr(newBranch),
		Ref:    gl.Ptr(baseBranch),
	}, gl.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to create branch %q: %w", newBranch, err)
	}
	return nil
}

func (p *Provider) DeleteBranch(ctx context.Context, repoURI, branch string) error {
	if p.client == nil {
		return errClientNotInitialized
	}
	pid, err := projectPath(repoURI)
	if err != nil {
		return err
	}

	if _, err := p.client.Branches.DeleteBranch(pid, branch, gl.WithContext(ctx)); err != nil {
		return fmt.Errorf("failed to delete branch %q: %w", branch, err)
	}
	return nil
}

func (p *Provider) CreatePullRequest(
	ctx context.Context,
	repoURI string,
	pull domain.PullRequest,
) (string, error) {
	if p.client == nil {
		return "", errClientNotInitialized
	}
	pid, err := projectPath(repoURI)
	if err != nil {
		return "", err
	}

	mr, _, err := p.client.MergeRequests.CreateMergeRequest(pid, &gl.CreateMergeRequestOptions{
		Title:              gl.Ptr(pull.Title),
		Description:        gl.Ptr(pull.Description),
		SourceBranch:       gl.Ptr(pull.HeadBranch),
		TargetBranch:       gl.Ptr(pull.BaseBranch),
		RemoveSourceBranch: gl.Ptr(true),
	}, gl.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("failed to create merge request: %w", err)
	}

	return mr.WebURL, nil
}

func (p *Provider) UpdatePullRequest(
	ctx context.Context,
	url string,
	pull domain.PullRequest,
) error {
	if p.client == nil {
		return errClientNotInitialized
	}
	pid, iid, err := splitMergeRequestURL(url)
	if err != nil {
		return err
	}

	_, _, err = p.client.MergeRequests.UpdateMergeRequest(pid, iid, &gl.UpdateMergeRequestOptions{
		Title:       gl.Ptr(pull.Title),
		Description: gl.Ptr(pull.Description),
	}, gl.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to update merge request %q: %w", url, err)
	}
	return nil
}

func (p *Provider) MergePullRequest(ctx context.Context, url string) (domain.MergeResult, error) {
	if p.client == nil {
		return "", errClientNotInitialized
	}
	pid, iid, err := splitMergeRequestURL(url)
	if err != nil {
		return "", err
	}

	_, resp, err := p.client.MergeRequests.AcceptMergeRequest(
		pid, iid, &gl.AcceptMergeRequestOptions{}, gl.WithContext(ctx),
	)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusMethodNotAllowed ||
			resp.StatusCode == http.StatusNotAcceptable ||
			resp.StatusCode == http.StatusConflict) {
			return domain.MergeResultConflict, nil
		}
		return "", fmt.Errorf("failed to merge %q: %w", url, err)
	}
	return domain.MergeResultMerged, nil
}

func (p *Provider) CreateOrUpdateStatusComment(ctx context.Context, url, message string) error {
	if p.client == nil {
		return errClientNotInitialized
	}
	pid, iid, err := splitMergeRequestURL(url)
	if err != nil {
		return err
	}

	body := statusCommentMarker + "\n" + message

	notes, _, err := p.client.Notes.ListMergeRequestNotes(pid, iid, &gl.ListMergeRequestNotesOptions{
		ListOptions: gl.ListOptions{PerPage: perPage},
	}, gl.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to list notes on %q: %w", url, err)
	}

	for _, note := range notes {
		if !strings.Contains(note.Body, statusCommentMarker) {
			continue
		}
		_, _, err := p.client.Notes.UpdateMergeRequestNote(pid, iid, note.ID,
			&gl.UpdateMergeRequestNoteOptions{Body: gl.Ptr(body)}, gl.WithContext(ctx))
		if err != nil {
			return fmt.Errorf("failed to update status note on %q: %w", url, err)
		}
		return nil
	}

	_, _, err = p.client.Notes.CreateMergeRequestNote(pid, iid,
		&gl.CreateMergeRequestNoteOptions{Body: gl.Ptr(body)}, gl.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to create status note on %q: %w", url, err)
	}
	return nil
}

func (p *Provider) GetPullRequestChecks(ctx context.Context, url string) ([]domain.Check, error) {
	mr, err := p.getMergeRequest(ctx, url)
	if err != nil {
		return nil, err
	}
	if mr.HeadPipeline == nil {
		return nil, nil
	}

	var status domain.CheckStatus
	switch mr.HeadPipeline.Status {
	case "success":
		status = domain.CheckSucceeded
	case "failed", "canceled":
		status = domain.CheckFailed
	default:
		status = domain.CheckPending
	}
	return []domain.Check{{Name: pipelineCheckName, Status: status}}, nil
}

// GetPullRequestReviews maps unresolved resolvable discussion threads to
// change requests, the closest GitLab equivalent of a blocking review.
func (p *Provider) GetPullRequestReviews(ctx context.Context, url string) ([]domain.Review, error) {
	if p.client == nil {
		return nil, errClientNotInitialized
	}
	pid, iid, err := splitMergeRequestURL(url)
	if err != nil {
		return nil, err
	}

	var reviews []domain.Review
	opts := &gl.ListMergeRequestDiscussionsOptions{ListOptions: gl.ListOptions{PerPage: perPage}}
	for {
		discussions, resp, err := p.client.Discussions.ListMergeRequestDiscussions(
			pid, iid, opts, gl.WithContext(ctx),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to list discussions on %q: %w", url, err)
		}

		for _, discussion := range discussions {
			for _, note := range discussion.Notes {
				if !note.Resolvable {
					continue
				}
				state := domain.ReviewCommented
				if !note.Resolved {
					state = domain.ReviewChangesRequested
				}
				reviews = append(reviews, domain.Review{
					Author: note.Author.Username,
					State:  state,
				})
			}
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return reviews, nil
}

func (p *Provider) GetPullRequestCommits(ctx context.Context, url string) ([]domain.Commit, error) {
	if p.client == nil {
		return nil, errClientNotInitialized
	}
	pid, iid, err := splitMergeRequestURL(url)
	if err != nil {
		return nil, err
	}

	var commits []domain.Commit
	opts := &gl.GetMergeRequestCommitsOptions{ListOptions: gl.ListOptions{PerPage: perPage}}
	for {
		page, resp, err := p.client.MergeRequests.GetMergeRequestCommits(
			pid, iid, opts, gl.WithContext(ctx),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to list commits on %q: %w", url, err)
		}

		for _, commit := range page {
			commits = append(commits, domain.Commit{
				Sha:    commit.ID,
				Author: commit.AuthorName,
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
	raw, err := p.readManifest(ctx, repoURI, ref)
	if err != nil {
		return nil, err
	}
	return domain.ParseManifest(raw)
}

func (p *Provider) CommitUpdates(
	ctx context.Context,
	repoURI, branch string,
	deps []domain.DependencyDetail,
	message string,
) error {
	if p.client == nil {
		return errClientNotInitialized
	}
	pid, err := projectPath(repoURI)
	if err != nil {
		return err
	}

	raw, err := p.readManifest(ctx, repoURI, branch)
	if err != nil {
		return err
	}
	existing, err := domain.ParseManifest(raw)
	if err != nil {
		return err
	}

	rendered, err := domain.RenderManifest(domain.ApplyUpdates(existing, deps))
	if err != nil {
		return err
	}

	action := gl.FileUpdate
	_, _, err = p.client.Commits.CreateCommit(pid, &gl.CreateCommitOptions{
		Branch:        gl.Ptr(branch),
		CommitMessage: gl.Ptr(message),
		Actions: []*gl.CommitActionOptions{{
			Action:   &action,
			FilePath: gl.Ptr(domain.ManifestPath),
			Content:  gl.Ptr(string(rendered)),
		}},
	}, gl.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to commit %s on %s: %w", domain.ManifestPath, branch, err)
	}
	return nil
}

func (p *Provider) readManifest(ctx context.Context, repoURI, ref string) ([]byte, error) {
	if p.client == nil {
		return nil, errClientNotInitialized
	}
	pid, err := projectPath(repoURI)
	if err != nil {
		return nil, err
	}

	raw, _, err := p.client.RepositoryFiles.GetRawFile(
		pid, domain.ManifestPath,
		&gl.GetRawFileOptions{Ref: gl.Ptr(ref)},
		gl.WithContext(ctx),
	)
	if err != nil {
		return nil, fmt.Errorf(
			"failed to get %s from %s at %s: %w", domain.ManifestPath, repoURI, ref, err,
		)
	}
	return raw, nil
}

func (p *Provider) getMergeRequest(ctx context.Context, url string) (*gl.MergeRequest, error) {
	if p.client == nil {
		return nil, errClientNotInitialized
	}
	pid, iid, err := splitMergeRequestURL(url)
	if err != nil {
		return nil, err
	}

	mr, _, err := p.client.MergeRequests.GetMergeRequest(
		pid, iid, &gl.GetMergeRequestsOptions{}, gl.WithContext(ctx),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get merge request %q: %w", url, err)
	}
	return mr, nil
}

func projectPath(repoURI string) (string, error) {
	path := strings.TrimPrefix(repoURI, "https://gitlab.com/")
	path = strings.TrimSuffix(strings.TrimSuffix(path, "/"), ".git")
	if path == "" || strings.HasPrefix(path, "https://") {
		return "", fmt.Errorf("unrecognized gitlab repository url: %q", repoURI)
	}
	return path, nil
}

func splitMergeRequestURL(url string) (pid string, iid int64, err error) {
	path := strings.TrimPrefix(url, "https://gitlab.com/")
	marker := "/-/merge_requests/"
	idx := strings.Index(path, marker)
	if idx < 0 {
		return "", 0, fmt.Errorf("unrecognized gitlab merge request url: %q", url)
	}

	iid, err = strconv.ParseInt(strings.TrimSuffix(path[idx+len(marker):], "/"), 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("unrecognized gitlab merge request url: %q", url)
	}
	return path[:idx], iid, nil
}
