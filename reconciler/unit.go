// Package reconciler owns the pull request lifecycle for dependency updates:
// it creates, updates, evaluates and merges the single in-flight pull request
// of each reconciliation unit, with durable state and reminders to survive
// restarts.
package reconciler

import (
	"strings"

	"github.com/rios0rios0/depflow/domain"
)

// UnitKind discriminates the two reconciliation granularities.
type UnitKind string

const (
	// UnitNonBatched reconciles one subscription in isolation; target and
	// merge policies come from the subscription itself.
	UnitNonBatched UnitKind = "nonBatched"

	// UnitBatched reconciles every batchable subscription targeting the same
	// repository branch together; merge policies come from the
	// repository-branch configuration.
	UnitBatched UnitKind = "batched"
)

// Unit identifies one reconciliation unit. At most one pull request is ever
// in flight per unit.
type Unit struct {
	Kind UnitKind

	// SubscriptionID is set for non-batched units.
	SubscriptionID string

	// Repository and Branch are set for batched units.
	Repository string
	Branch     string
}

// NonBatchedUnit builds the unit for a single non-batchable subscription.
func NonBatchedUnit(subscriptionID string) Unit {
	return Unit{Kind: UnitNonBatched, SubscriptionID: subscriptionID}
}

// BatchedUnit builds the unit shared by all batchable subscriptions targeting
// a repository branch.
func BatchedUnit(repository, branch string) Unit {
	return Unit{Kind: UnitBatched, Repository: repository, Branch: branch}
}

// UnitFor maps a subscription to its reconciliation unit.
func UnitFor(sub domain.Subscription) Unit {
	if sub.Policy.Batchable {
		return BatchedUnit(sub.TargetRepository, sub.TargetBranch)
	}
	return NonBatchedUnit(sub.ID)
}

// Key is the stable identifier used for state records and reminder names.
func (u Unit) Key() string {
	if u.Kind == UnitBatched {
		return strings.ToLower(u.Repository) + "@" + u.Branch
	}
	return u.SubscriptionID
}

func (u Unit) checkReminderName() string {
	return "pullRequestCheck:" + u.Key()
}

func (u Unit) updateReminderName() string {
	return "pullRequestUpdate:" + u.Key()
}
