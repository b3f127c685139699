package reconciler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	logger "github.com/sirupsen/logrus"

	"github.com/rios0rios0/depflow/domain"
	"github.com/rios0rios0/depflow/resolver"

	"github.com/rios0rios0/depflow/policy"
)

// target is the resolved destination of a unit: where pull requests go and
// which merge policies govern them.
type target struct {
	Repository    string
	Branch        string
	MergePolicies []domain.MergePolicyDefinition
}

// Reconciler drives the pull request state machine of one reconciliation
// unit. All entry points serialize on the unit mutex, so concurrent work for
// different units proceeds in parallel while a single unit is strictly
// ordered.
type Reconciler struct {
	unit Unit
	mu   sync.Mutex

	state     domain.StateStore
	metadata  domain.MetadataStore
	scheduler domain.ReminderScheduler
	providers domain.ProviderResolver
	resolver  *resolver.Resolver
	evaluator *policy.Evaluator

	checkPeriod  time.Duration
	updatePeriod time.Duration
}

// UpdateAssets applies one build-completion work item to the unit: it either
// creates a pull request, amends the in-flight one, or durably queues the
// item when the in-flight pull request cannot be touched.
func (r *Reconciler) UpdateAssets(
	ctx context.Context,
	update domain.UpdateAssetsParameters,
) (Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tgt, err := r.resolveTarget()
	if err != nil {
		return Outcome{}, err
	}

	outcome, err := r.updateAssets(ctx, tgt, update)
	action := fmt.Sprintf(
		"Update assets for subscription %s build %s", update.SubscriptionID, update.BuildID,
	)
	r.audit(tgt, "UpdateAssets", action, update, outcome, err)
	return outcome, err
}

func (r *Reconciler) updateAssets(
	ctx context.Context,
	tgt target,
	update domain.UpdateAssetsParameters,
) (Outcome, error) {
	pr, canUpdate, err := r.synchronize(ctx, tgt)
	if err != nil {
		return Outcome{}, err
	}

	if pr != nil {
		if !canUpdate {
			if err := r.state.AppendPendingUpdate(r.unit.Key(), update); err != nil {
				return Outcome{}, fmt.Errorf("failed to queue pending update: %w", err)
			}
			if err := r.scheduler.TryRegisterReminder(
				r.unit.updateReminderName(), r.updatePeriod, r.updatePeriod, r.fireUpdateReminder,
			); err != nil {
				return Outcome{}, err
			}
			return Outcome{
				Kind:    OutcomeQueued,
				Message: "in-flight pull request is not updatable, update queued",
			}, nil
		}
		return r.updatePullRequest(ctx, tgt, *pr, []domain.UpdateAssetsParameters{update})
	}

	return r.createPullRequest(ctx, tgt, []domain.UpdateAssetsParameters{update})
}

// SynchronizePullRequest re-examines the in-flight pull request: evaluates
// merge policies, maintains the status comment, merges when allowed, and
// cleans up state for merged or closed pull requests. It returns the pull
// request still in flight (nil when none) and whether it can be updated.
func (r *Reconciler) SynchronizePullRequest(
	ctx context.Context,
) (*domain.InProgressPullRequest, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tgt, err := r.resolveTarget()
	if err != nil {
		return nil, false, err
	}
	return r.synchronize(ctx, tgt)
}

func (r *Reconciler) synchronize(
	ctx context.Context,
	tgt target,
) (*domain.InProgressPullRequest, bool, error) {
	key := r.unit.Key()

	pr, ok, err := r.state.GetInProgressPullRequest(key)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		_ = r.scheduler.TryUnregisterReminder(r.unit.checkReminderName())
		return nil, false, nil
	}
	if pr.URL == "" {
		logger.Warnf("discarding corrupted pull request state for unit %s", key)
		if err := r.state.RemoveInProgressPullRequest(key); err != nil {
			return nil, false, err
		}
		_ = r.scheduler.TryUnregisterReminder(r.unit.checkReminderName())
		return nil, false, nil
	}

	provider, err := r.providers.ForRepository(pr.URL)
	if err != nil {
		return nil, false, err
	}

	status, err := provider.GetPullRequestStatus(ctx, pr.URL)
	if err != nil {
		return nil, false, fmt.Errorf("failed to check status of %q: %w", pr.URL, err)
	}

	switch status {
	case domain.PullRequestOpen:
		return r.synchronizeOpen(ctx, tgt, pr, provider)
	case domain.PullRequestMerged:
		return nil, false, r.completePullRequest(pr)
	default:
		// Closed without merging: the contained subscriptions were not
		// applied, so only the tracking state is dropped.
		if err := r.state.RemoveInProgressPullRequest(key); err != nil {
			return nil, false, err
		}
		_ = r.scheduler.TryUnregisterReminder(r.unit.checkReminderName())
		return nil, false, nil
	}
}

func (r *Reconciler) synchronizeOpen(
	ctx context.Context,
	tgt target,
	pr domain.InProgressPullRequest,
	provider domain.Provider,
) (*domain.InProgressPullRequest, bool, error) {
	if len(tgt.MergePolicies) == 0 {
		// Nothing gates the pull request, so it stays open for manual review
		// and remains freely updatable.
		return &pr, true, nil
	}

	result, err := r.evaluator.Evaluate(ctx, pr.URL, provider, tgt.MergePolicies)
	if err != nil {
		return nil, false, err
	}
	comment := renderStatusComment(result)

	if result.Succeeded() {
		merge, err := provider.MergePullRequest(ctx, pr.URL)
		if err != nil {
			return nil, false, fmt.Errorf("failed to merge %q: %w", pr.URL, err)
		}
		if merge == domain.MergeResultMerged {
			r.postStatusComment(ctx, provider, pr.URL, mergedStatusComment(result))
			return nil, false, r.completePullRequest(pr)
		}

		// Merge conflict. Expected when the target branch moved; the pull
		// request stays open and updatable until the conflict is resolved.
		comment += "\nThe pull request cannot be merged due to conflicts" +
			" and will be merged automatically once they are resolved.\n"
		r.postStatusComment(ctx, provider, pr.URL, comment)
		return &pr, true, nil
	}

	r.postStatusComment(ctx, provider, pr.URL, comment)
	if result.Failed() {
		// A failed policy does not freeze the pull request; new updates may
		// well fix the failure.
		return &pr, true, nil
	}
	return &pr, false, nil
}

func (r *Reconciler) postStatusComment(
	ctx context.Context,
	provider domain.Provider,
	url, comment string,
) {
	if err := provider.CreateOrUpdateStatusComment(ctx, url, comment); err != nil {
		logger.WithError(err).Warnf("failed to update status comment on %s", url)
	}
}

// completePullRequest handles a merged pull request: every contained
// subscription is marked caught up before the tracking state is dropped.
func (r *Reconciler) completePullRequest(pr domain.InProgressPullRequest) error {
	for _, cs := range pr.ContainedSubscriptions {
		if err := r.metadata.MarkSubscriptionApplied(cs.SubscriptionID, cs.BuildID); err != nil {
			logger.WithError(err).Warnf(
				"failed to mark subscription %s applied for build %s", cs.SubscriptionID, cs.BuildID,
			)
		}
	}
	if err := r.state.RemoveInProgressPullRequest(r.unit.Key()); err != nil {
		return err
	}
	_ = r.scheduler.TryUnregisterReminder(r.unit.checkReminderName())
	return nil
}

// ProcessPendingUpdates drains the durable queue accumulated while the
// in-flight pull request was not updatable. The whole batch is resolved in a
// single pass so the resulting pull request content is coherent.
func (r *Reconciler) ProcessPendingUpdates(ctx context.Context) (Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := r.unit.Key()

	queue, err := r.state.GetPendingUpdates(key)
	if err != nil {
		return Outcome{}, err
	}
	if len(queue) == 0 {
		_ = r.scheduler.TryUnregisterReminder(r.unit.updateReminderName())
		return Outcome{Kind: OutcomeNothingPending, Message: "no pending updates"}, nil
	}

	tgt, err := r.resolveTarget()
	if err != nil {
		return Outcome{}, err
	}

	outcome, err := r.processPendingUpdates(ctx, tgt, queue)
	action := fmt.Sprintf("Process %d pending updates", len(queue))
	r.audit(tgt, "ProcessPendingUpdates", action, queue, outcome, err)
	return outcome, err
}

func (r *Reconciler) processPendingUpdates(
	ctx context.Context,
	tgt target,
	queue []domain.UpdateAssetsParameters,
) (Outcome, error) {
	pr, canUpdate, err := r.synchronize(ctx, tgt)
	if err != nil {
		return Outcome{}, err
	}
	if pr != nil && !canUpdate {
		// The update reminder stays armed for the next attempt.
		return Outcome{
			Kind:    OutcomeBlocked,
			Message: "in-flight pull request is still not updatable",
		}, nil
	}

	var outcome Outcome
	if pr != nil {
		outcome, err = r.updatePullRequest(ctx, tgt, *pr, queue)
	} else {
		outcome, err = r.createPullRequest(ctx, tgt, queue)
	}
	if err != nil {
		return Outcome{}, err
	}

	if err := r.state.ClearPendingUpdates(r.unit.Key()); err != nil {
		return Outcome{}, fmt.Errorf("failed to clear pending updates: %w", err)
	}
	_ = r.scheduler.TryUnregisterReminder(r.unit.updateReminderName())
	return outcome, nil
}

func (r *Reconciler) createPullRequest(
	ctx context.Context,
	tgt target,
	updates []domain.UpdateAssetsParameters,
) (Outcome, error) {
	provider, err := r.providers.ForRepository(tgt.Repository)
	if err != nil {
		return Outcome{}, err
	}

	existing, err := provider.GetDependencies(ctx, tgt.Repository, tgt.Branch)
	if err != nil {
		return Outcome{}, fmt.Errorf(
			"failed to read dependencies of %s at %s: %w", tgt.Repository, tgt.Branch, err,
		)
	}

	items, err := r.resolver.RequiredUpdates(ctx, existing, updates, r.markCaughtUp)
	if err != nil {
		return Outcome{}, err
	}
	if len(items) == 0 {
		return Outcome{Kind: OutcomeNoChanges, Message: "target branch is already up to date"}, nil
	}

	headBranch := fmt.Sprintf("depflow-%s-%s", tgt.Branch, uuid.New().String())
	if err := provider.CreateNewBranch(ctx, tgt.Repository, tgt.Branch, headBranch); err != nil {
		return Outcome{}, fmt.Errorf("failed to create branch %s: %w", headBranch, err)
	}

	// The work branch must not outlive a failed creation attempt; it is only
	// kept once a pull request references it.
	created := false
	defer func() {
		if created {
			return
		}
		if err := provider.DeleteBranch(ctx, tgt.Repository, headBranch); err != nil {
			logger.WithError(err).Warnf("failed to delete abandoned branch %s", headBranch)
		}
	}()

	if err := r.commitWorkItems(ctx, provider, tgt.Repository, headBranch, items); err != nil {
		return Outcome{}, err
	}

	contained := foldContainedSubscriptions(nil, items)
	pull := domain.PullRequest{
		Title:       computeTitle(tgt.Branch, contained, r.metadata.GetSubscription),
		Description: describeWorkItems(items, r.buildInfo),
		BaseBranch:  tgt.Branch,
		HeadBranch:  headBranch,
	}

	url, err := provider.CreatePullRequest(ctx, tgt.Repository, pull)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to create pull request: %w", err)
	}
	created = true

	pr := domain.InProgressPullRequest{URL: url, ContainedSubscriptions: contained}
	if err := r.state.SetInProgressPullRequest(r.unit.Key(), pr); err != nil {
		return Outcome{}, fmt.Errorf("failed to persist pull request state: %w", err)
	}

	// State is durable before the reminder exists, so a crash in between
	// leaves a recoverable record rather than an orphaned reminder.
	if err := r.scheduler.TryRegisterReminder(
		r.unit.checkReminderName(), r.checkPeriod, r.checkPeriod, r.fireCheckReminder,
	); err != nil {
		return Outcome{}, err
	}

	return Outcome{Kind: OutcomeCreated, Message: url}, nil
}

func (r *Reconciler) updatePullRequest(
	ctx context.Context,
	tgt target,
	pr domain.InProgressPullRequest,
	updates []domain.UpdateAssetsParameters,
) (Outcome, error) {
	provider, err := r.providers.ForRepository(pr.URL)
	if err != nil {
		return Outcome{}, err
	}

	content, err := provider.GetPullRequest(ctx, pr.URL)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to read pull request %q: %w", pr.URL, err)
	}

	existing, err := provider.GetDependencies(ctx, tgt.Repository, content.HeadBranch)
	if err != nil {
		return Outcome{}, fmt.Errorf(
			"failed to read dependencies of %s at %s: %w", tgt.Repository, content.HeadBranch, err,
		)
	}

	items, err := r.resolver.RequiredUpdates(ctx, existing, updates, r.markCaughtUp)
	if err != nil {
		return Outcome{}, err
	}
	if len(items) == 0 {
		return Outcome{
			Kind:    OutcomeNoChanges,
			Message: "pull request already contains the requested updates",
		}, nil
	}

	if err := r.commitWorkItems(ctx, provider, tgt.Repository, content.HeadBranch, items); err != nil {
		return Outcome{}, err
	}

	pr.ContainedSubscriptions = foldContainedSubscriptions(pr.ContainedSubscriptions, items)
	updated := domain.PullRequest{
		Title:       computeTitle(tgt.Branch, pr.ContainedSubscriptions, r.metadata.GetSubscription),
		Description: content.Description + "\n" + describeWorkItems(items, r.buildInfo),
		BaseBranch:  content.BaseBranch,
		HeadBranch:  content.HeadBranch,
	}
	if err := provider.UpdatePullRequest(ctx, pr.URL, updated); err != nil {
		return Outcome{}, fmt.Errorf("failed to update pull request %q: %w", pr.URL, err)
	}

	if err := r.state.SetInProgressPullRequest(r.unit.Key(), pr); err != nil {
		return Outcome{}, fmt.Errorf("failed to persist pull request state: %w", err)
	}
	if err := r.scheduler.TryRegisterReminder(
		r.unit.checkReminderName(), r.checkPeriod, r.checkPeriod, r.fireCheckReminder,
	); err != nil {
		return Outcome{}, err
	}

	return Outcome{Kind: OutcomeUpdated, Message: pr.URL}, nil
}

func (r *Reconciler) commitWorkItems(
	ctx context.Context,
	provider domain.Provider,
	repoURI, branch string,
	items []resolver.WorkItem,
) error {
	for _, item := range items {
		var message string
		if item.Update.IsCoherencyUpdate {
			message = coherencyCommitMessage(item.Dependencies)
		} else {
			repo, number, _ := r.buildInfo(item.Update.BuildID)
			message = commitMessage(repo, number, item.Dependencies)
		}
		if err := provider.CommitUpdates(ctx, repoURI, branch, item.Dependencies, message); err != nil {
			return fmt.Errorf("failed to commit updates to %s: %w", branch, err)
		}
	}
	return nil
}

// resolveTarget determines where this unit's pull requests go. A non-batched
// unit whose subscription was deleted retires itself: reminders are dropped
// and durable state is cleared so the unit never fires again.
func (r *Reconciler) resolveTarget() (target, error) {
	if r.unit.Kind == UnitBatched {
		policies, err := r.metadata.GetBranchMergePolicies(r.unit.Repository, r.unit.Branch)
		if err != nil {
			return target{}, err
		}
		return target{
			Repository:    r.unit.Repository,
			Branch:        r.unit.Branch,
			MergePolicies: policies,
		}, nil
	}

	sub, err := r.metadata.GetSubscription(r.unit.SubscriptionID)
	if errors.Is(err, domain.ErrNotFound) {
		if retireErr := r.retire(); retireErr != nil {
			return target{}, retireErr
		}
		return target{}, fmt.Errorf(
			"subscription %s no longer exists: %w", r.unit.SubscriptionID, err,
		)
	}
	if err != nil {
		return target{}, err
	}

	return target{
		Repository:    sub.TargetRepository,
		Branch:        sub.TargetBranch,
		MergePolicies: sub.Policy.MergePolicies,
	}, nil
}

func (r *Reconciler) retire() error {
	key := r.unit.Key()
	_ = r.scheduler.TryUnregisterReminder(r.unit.checkReminderName())
	_ = r.scheduler.TryUnregisterReminder(r.unit.updateReminderName())
	if err := r.state.RemoveInProgressPullRequest(key); err != nil {
		return err
	}
	return r.state.ClearPendingUpdates(key)
}

func (r *Reconciler) markCaughtUp(subscriptionID, buildID string) error {
	return r.metadata.MarkSubscriptionApplied(subscriptionID, buildID)
}

func (r *Reconciler) buildInfo(buildID string) (repo, number, commit string) {
	build, err := r.metadata.GetBuild(buildID)
	if err != nil {
		logger.WithError(err).Warnf("failed to look up build %s", buildID)
		return "unknown repository", buildID, ""
	}
	return build.Repository, build.Number, build.Commit
}

func (r *Reconciler) fireCheckReminder(ctx context.Context) {
	if _, _, err := r.SynchronizePullRequest(ctx); err != nil {
		logger.WithError(err).Errorf("pull request check for unit %s failed", r.unit.Key())
	}
}

func (r *Reconciler) fireUpdateReminder(ctx context.Context) {
	if _, err := r.ProcessPendingUpdates(ctx); err != nil {
		logger.WithError(err).Errorf("pending update drain for unit %s failed", r.unit.Key())
	}
}

func (r *Reconciler) audit(
	tgt target,
	method, action string,
	arguments any,
	outcome Outcome,
	actionErr error,
) {
	if tgt.Repository == "" {
		return
	}

	message := outcome.Message
	if actionErr != nil {
		message = actionErr.Error()
	}
	payload, err := json.Marshal(arguments)
	if err != nil {
		payload = nil
	}

	update := domain.BranchUpdate{
		Action:    action,
		Message:   message,
		Method:    method,
		Arguments: string(payload),
		Success:   actionErr == nil,
	}
	if err := r.metadata.RecordBranchUpdate(tgt.Repository, tgt.Branch, update); err != nil {
		logger.WithError(err).Warnf(
			"failed to record branch update for %s@%s", tgt.Repository, tgt.Branch,
		)
	}
}

// foldContainedSubscriptions merges freshly applied work items into the
// contained-subscription list, replacing entries for re-delivered
// subscriptions so the list stays keyed by subscription id.
func foldContainedSubscriptions(
	existing []domain.ContainedSubscription,
	items []resolver.WorkItem,
) []domain.ContainedSubscription {
	result := append([]domain.ContainedSubscription(nil), existing...)
	for _, item := range items {
		if item.Update.IsCoherencyUpdate {
			continue
		}
		entry := domain.ContainedSubscription{
			SubscriptionID: item.Update.SubscriptionID,
			BuildID:        item.Update.BuildID,
		}
		replaced := false
		for i := range result {
			if result[i].SubscriptionID == entry.SubscriptionID {
				result[i] = entry
				replaced = true
				break
			}
		}
		if !replaced {
			result = append(result, entry)
		}
	}
	return result
}
