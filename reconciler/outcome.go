package reconciler

// OutcomeKind classifies the result of a top-level reconciliation action.
type OutcomeKind string

const (
	// OutcomeCreated means a new pull request was opened.
	OutcomeCreated OutcomeKind = "created"

	// OutcomeUpdated means the in-flight pull request was amended.
	OutcomeUpdated OutcomeKind = "updated"

	// OutcomeQueued means the work item was durably queued because the
	// in-flight pull request is not currently updatable.
	OutcomeQueued OutcomeKind = "queued"

	// OutcomeNoChanges means the target is already caught up.
	OutcomeNoChanges OutcomeKind = "noChanges"

	// OutcomeBlocked means queued updates could not be applied yet; the
	// update reminder stays armed.
	OutcomeBlocked OutcomeKind = "blocked"

	// OutcomeNothingPending means the pending queue was empty.
	OutcomeNothingPending OutcomeKind = "nothingPending"
)

// Outcome is the reported result of UpdateAssets or ProcessPendingUpdates.
type Outcome struct {
	Kind    OutcomeKind
	Message string
}
