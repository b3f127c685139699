// Package testdoubles provides test doubles (spies, stubs, dummies) for domain
// interfaces. These are hand-crafted implementations, no mock frameworks.
package testdoubles

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rios0rios0/depflow/domain"
)

// ---------------------------------------------------------------------------
// SpyProvider
// ---------------------------------------------------------------------------

// BranchCreation records one CreateNewBranch call.
type BranchCreation struct {
	RepoURI    string
	BaseBranch string
	NewBranch  string
}

// CommitRecord records one CommitUpdates call.
type CommitRecord struct {
	RepoURI string
	Branch  string
	Deps    []domain.DependencyDetail
	Message string
}

// SpyProvider implements domain.Provider as a configurable spy.
// Configure the response fields for the methods your test exercises,
// then inspect the call-tracking fields to verify behavior.
type SpyProvider struct {
	// --- identity ---
	ProviderName string
	// Host restricts MatchesURL; empty matches every URL.
	Host string

	// --- GetPullRequestStatus ---
	Status    domain.PullRequestStatus
	StatusErr error

	// --- GetPullRequest ---
	PR       *domain.PullRequest
	GetPRErr error

	// --- CreateNewBranch / DeleteBranch ---
	CreateBranchErr error
	DeleteBranchErr error
	// spy: calls received
	CreatedBranches []BranchCreation
	DeletedBranches []string

	// --- CreatePullRequest ---
	CreatePRResult string
	CreatePRErr    error
	// spy: inputs received
	CreatedPRs []domain.PullRequest

	// --- UpdatePullRequest ---
	UpdatePRErr error
	// spy: inputs received
	UpdatedPRs []domain.PullRequest

	// --- MergePullRequest ---
	MergeResult domain.MergeResult
	MergeErr    error
	MergeCalls  int

	// --- CreateOrUpdateStatusComment ---
	CommentErr error
	// spy: comments posted
	StatusComments []string

	// --- checks / reviews / commits ---
	Checks     []domain.Check
	ChecksErr  error
	Reviews    []domain.Review
	ReviewsErr error
	Commits    []domain.Commit
	CommitsErr error

	// --- GetDependencies ---
	// Dependencies is keyed by "repo@ref" (lowercase); DefaultDependencies is
	// returned when the key is absent.
	Dependencies        map[string][]domain.DependencyDetail
	DefaultDependencies []domain.DependencyDetail
	DependenciesErr     error

	// --- CommitUpdates ---
	CommitErr error
	// spy: commits received
	CommittedUpdates []CommitRecord
}

var _ domain.Provider = (*SpyProvider)(nil)

func (p *SpyProvider) Name() string {
	if p.ProviderName != "" {
		return p.ProviderName
	}
	return "spy"
}

func (p *SpyProvider) MatchesURL(url string) bool {
	if p.Host == "" {
		return true
	}
	return strings.Contains(url, p.Host)
}

func (p *SpyProvider) GetPullRequestStatus(
	_ context.Context,
	_ string,
) (domain.PullRequestStatus, error) {
	return p.Status, p.StatusErr
}

func (p *SpyProvider) GetPullRequest(_ context.Context, _ string) (*domain.PullRequest, error) {
	return p.PR, p.GetPRErr
}

func (p *SpyProvider) CreateNewBranch(
	_ context.Context,
	repoURI, baseBranch, newBranch string,
) error {
	p.CreatedBranches = append(p.CreatedBranches, BranchCreation{
		RepoURI:    repoURI,
		BaseBranch: baseBranch,
		NewBranch:  newBranch,
	})
	return p.CreateBranchErr
}

func (p *SpyProvider) DeleteBranch(_ context.Context, _, branch string) error {
	p.DeletedBranches = append(p.DeletedBranches, branch)
	return p.DeleteBranchErr
}

func (p *SpyProvider) CreatePullRequest(
	_ context.Context,
	_ string,
	pr domain.PullRequest,
) (string, error) {
	p.CreatedPRs = append(p.CreatedPRs, pr)
	return p.CreatePRResult, p.CreatePRErr
}

func (p *SpyProvider) UpdatePullRequest(
	_ context.Context,
	_ string,
	pr domain.PullRequest,
) error {
	p.UpdatedPRs = append(p.UpdatedPRs, pr)
	return p.UpdatePRErr
}

func (p *SpyProvider) MergePullRequest(_ context.Context, _ string) (domain.MergeResult, error) {
	p.MergeCalls++
	return p.MergeResult, p.MergeErr
}

func (p *SpyProvider) CreateOrUpdateStatusComment(_ context.Context, _, message string) error {
	p.StatusComments = append(p.StatusComments, message)
	return p.CommentErr
}

func (p *SpyProvider) GetPullRequestChecks(_ context.Context, _ string) ([]domain.Check, error) {
	return p.Checks, p.ChecksErr
}

func (p *SpyProvider) GetPullRequestReviews(_ context.Context, _ string) ([]domain.Review, error) {
	return p.Reviews, p.ReviewsErr
}

func (p *SpyProvider) GetPullRequestCommits(_ context.Context, _ string) ([]domain.Commit, error) {
	return p.Commits, p.CommitsErr
}

func (p *SpyProvider) GetDependencies(
	_ context.Context,
	repoURI, ref string,
) ([]domain.DependencyDetail, error) {
	if p.DependenciesErr != nil {
		return nil, p.DependenciesErr
	}
	if deps, ok := p.Dependencies[strings.ToLower(repoURI+"@"+ref)]; ok {
		return deps, nil
	}
	return p.DefaultDependencies, nil
}

func (p *SpyProvider) CommitUpdates(
	_ context.Context,
	repoURI, branch string,
	deps []domain.DependencyDetail,
	message string,
) error {
	p.CommittedUpdates = append(p.CommittedUpdates, CommitRecord{
		RepoURI: repoURI,
		Branch:  branch,
		Deps:    deps,
		Message: message,
	})
	return p.CommitErr
}

// SingleProviderResolver resolves every repository to one provider.
type SingleProviderResolver struct {
	Provider domain.Provider
}

var _ domain.ProviderResolver = (*SingleProviderResolver)(nil)

func (r *SingleProviderResolver) ForRepository(_ string) (domain.Provider, error) {
	return r.Provider, nil
}

// ---------------------------------------------------------------------------
// MemoryStateStore
// ---------------------------------------------------------------------------

// MemoryStateStore implements domain.StateStore in memory.
type MemoryStateStore struct {
	mu           sync.Mutex
	PullRequests map[string]domain.InProgressPullRequest
	Queues       map[string][]domain.UpdateAssetsParameters
}

var _ domain.StateStore = (*MemoryStateStore)(nil)

// NewMemoryStateStore creates an empty state store.
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{
		PullRequests: make(map[string]domain.InProgressPullRequest),
		Queues:       make(map[string][]domain.UpdateAssetsParameters),
	}
}

func (s *MemoryStateStore) GetInProgressPullRequest(
	unitKey string,
) (domain.InProgressPullRequest, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pr, ok := s.PullRequests[unitKey]
	return pr, ok, nil
}

func (s *MemoryStateStore) SetInProgressPullRequest(
	unitKey string,
	pr domain.InProgressPullRequest,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PullRequests[unitKey] = pr
	return nil
}

func (s *MemoryStateStore) RemoveInProgressPullRequest(unitKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.PullRequests, unitKey)
	return nil
}

func (s *MemoryStateStore) GetPendingUpdates(
	unitKey string,
) ([]domain.UpdateAssetsParameters, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.UpdateAssetsParameters(nil), s.Queues[unitKey]...), nil
}

func (s *MemoryStateStore) AppendPendingUpdate(
	unitKey string,
	update domain.UpdateAssetsParameters,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Queues[unitKey] = append(s.Queues[unitKey], update)
	return nil
}

func (s *MemoryStateStore) ClearPendingUpdates(unitKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.Queues, unitKey)
	return nil
}

// ---------------------------------------------------------------------------
// MemoryMetadataStore
// ---------------------------------------------------------------------------

// BranchUpdateRecord records one RecordBranchUpdate call.
type BranchUpdateRecord struct {
	Repo   string
	Branch string
	Update domain.BranchUpdate
}

// MemoryMetadataStore implements domain.MetadataStore in memory.
type MemoryMetadataStore struct {
	mu              sync.Mutex
	Subscriptions   map[string]domain.Subscription
	Builds          map[string]domain.Build
	DefaultChannels []domain.DefaultChannel
	BranchPolicies  map[string][]domain.MergePolicyDefinition
	BranchUpdates   []BranchUpdateRecord
}

var _ domain.MetadataStore = (*MemoryMetadataStore)(nil)

// NewMemoryMetadataStore creates an empty metadata store.
func NewMemoryMetadataStore() *MemoryMetadataStore {
	return &MemoryMetadataStore{
		Subscriptions:  make(map[string]domain.Subscription),
		Builds:         make(map[string]domain.Build),
		BranchPolicies: make(map[string][]domain.MergePolicyDefinition),
	}
}

func (s *MemoryMetadataStore) GetSubscription(id string) (domain.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.Subscriptions[id]
	if !ok {
		return domain.Subscription{}, fmt.Errorf("subscription %q: %w", id, domain.ErrNotFound)
	}
	return sub, nil
}

func (s *MemoryMetadataStore) PutSubscription(sub domain.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Subscriptions[sub.ID] = sub
	return nil
}

func (s *MemoryMetadataStore) ListSubscriptions() ([]domain.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	subs := make([]domain.Subscription, 0, len(s.Subscriptions))
	for _, sub := range s.Subscriptions {
		subs = append(subs, sub)
	}
	return subs, nil
}

func (s *MemoryMetadataStore) GetBuild(id string) (domain.Build, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	build, ok := s.Builds[id]
	if !ok {
		return domain.Build{}, fmt.Errorf("build %q: %w", id, domain.ErrNotFound)
	}
	return build, nil
}

func (s *MemoryMetadataStore) PutBuild(build domain.Build) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Builds[build.ID] = build
	return nil
}

func (s *MemoryMetadataStore) ListDefaultChannels() ([]domain.DefaultChannel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.DefaultChannel(nil), s.DefaultChannels...), nil
}

func (s *MemoryMetadataStore) PutDefaultChannel(dc domain.DefaultChannel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.DefaultChannels = append(s.DefaultChannels, dc)
	return nil
}

func (s *MemoryMetadataStore) MarkSubscriptionApplied(subscriptionID, buildID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.Subscriptions[subscriptionID]
	if !ok {
		return fmt.Errorf("subscription %q: %w", subscriptionID, domain.ErrNotFound)
	}
	sub.LastAppliedBuildID = buildID
	s.Subscriptions[subscriptionID] = sub
	return nil
}

func (s *MemoryMetadataStore) GetBranchMergePolicies(
	repo, branch string,
) ([]domain.MergePolicyDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.BranchPolicies[strings.ToLower(repo)+"|"+branch], nil
}

func (s *MemoryMetadataStore) PutBranchMergePolicies(
	repo, branch string,
	policies []domain.MergePolicyDefinition,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.BranchPolicies[strings.ToLower(repo)+"|"+branch] = policies
	return nil
}

func (s *MemoryMetadataStore) RecordBranchUpdate(
	repo, branch string,
	update domain.BranchUpdate,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.BranchUpdates = append(s.BranchUpdates, BranchUpdateRecord{
		Repo:   repo,
		Branch: branch,
		Update: update,
	})
	return nil
}

// ---------------------------------------------------------------------------
// SpyScheduler
// ---------------------------------------------------------------------------

// Reminder records one registered reminder.
type Reminder struct {
	Due    time.Duration
	Period time.Duration
	Fire   func(ctx context.Context)
}

// SpyScheduler implements domain.ReminderScheduler without timers; tests can
// trigger reminders manually through Fire.
type SpyScheduler struct {
	mu           sync.Mutex
	Registered   map[string]Reminder
	Unregistered []string
}

var _ domain.ReminderScheduler = (*SpyScheduler)(nil)

// NewSpyScheduler creates an empty scheduler spy.
func NewSpyScheduler() *SpyScheduler {
	return &SpyScheduler{Registered: make(map[string]Reminder)}
}

func (s *SpyScheduler) TryRegisterReminder(
	name string,
	due, period time.Duration,
	fire func(ctx context.Context),
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Registered[name] = Reminder{Due: due, Period: period, Fire: fire}
	return nil
}

func (s *SpyScheduler) TryUnregisterReminder(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.Registered, name)
	s.Unregistered = append(s.Unregistered, name)
	return nil
}

// Has reports whether a reminder with the given name is registered.
func (s *SpyScheduler) Has(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.Registered[name]
	return ok
}

// Fire invokes a registered reminder once.
func (s *SpyScheduler) Fire(ctx context.Context, name string) bool {
	s.mu.Lock()
	reminder, ok := s.Registered[name]
	s.mu.Unlock()
	if !ok {
		return false
	}
	reminder.Fire(ctx)
	return true
}
