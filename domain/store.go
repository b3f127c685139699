package domain

// StateStore is the durable per-unit state of the reconciliation engine:
// the single in-flight pull request and the pending-update queue. State must
// be written durably before the corresponding reminder is registered, and
// removed before the reminder is unregistered, so crash recovery always finds
// a consistent pair.
type StateStore interface {
	// GetInProgressPullRequest returns the persisted pull request for the
	// unit, or ok=false when none exists.
	GetInProgressPullRequest(unitKey string) (pr InProgressPullRequest, ok bool, err error)

	// SetInProgressPullRequest durably replaces the persisted pull request.
	SetInProgressPullRequest(unitKey string, pr InProgressPullRequest) error

	// RemoveInProgressPullRequest deletes the persisted pull request.
	// Removing an absent record is not an error.
	RemoveInProgressPullRequest(unitKey string) error

	// GetPendingUpdates returns the queued work items for the unit, oldest
	// first. An absent queue is an empty slice.
	GetPendingUpdates(unitKey string) ([]UpdateAssetsParameters, error)

	// AppendPendingUpdate durably appends one work item to the unit's queue.
	AppendPendingUpdate(unitKey string, update UpdateAssetsParameters) error

	// ClearPendingUpdates deletes the unit's queue.
	ClearPendingUpdates(unitKey string) error
}

// MetadataStore is the build-asset registry: subscriptions, builds, channels
// and the per-repository-branch audit trail.
type MetadataStore interface {
	// GetSubscription returns a subscription by id, or ErrNotFound.
	GetSubscription(id string) (Subscription, error)

	// PutSubscription inserts or replaces a subscription.
	PutSubscription(sub Subscription) error

	// ListSubscriptions returns all subscriptions.
	ListSubscriptions() ([]Subscription, error)

	// GetBuild returns a build by id, or ErrNotFound.
	GetBuild(id string) (Build, error)

	// PutBuild inserts or replaces a build.
	PutBuild(build Build) error

	// ListDefaultChannels returns all default channel declarations.
	ListDefaultChannels() ([]DefaultChannel, error)

	// PutDefaultChannel inserts a default channel declaration.
	PutDefaultChannel(dc DefaultChannel) error

	// MarkSubscriptionApplied records that the subscription is caught up to
	// the given build.
	MarkSubscriptionApplied(subscriptionID, buildID string) error

	// GetBranchMergePolicies returns the repository-level merge policies for
	// a target branch, used by batched units. An unset configuration is an
	// empty slice.
	GetBranchMergePolicies(repo, branch string) ([]MergePolicyDefinition, error)

	// PutBranchMergePolicies replaces the repository-level merge policies
	// for a target branch.
	PutBranchMergePolicies(repo, branch string, policies []MergePolicyDefinition) error

	// RecordBranchUpdate writes the audit record for the latest action
	// against a repository branch.
	RecordBranchUpdate(repo, branch string, update BranchUpdate) error
}
