// Package resolver computes the minimal set of dependency version updates a
// target repository needs for a batch of build-completion events, including
// the follow-up updates required to keep coherency links consistent.
package resolver

import (
	"context"
	"fmt"
	"strings"

	logger "github.com/sirupsen/logrus"
	"golang.org/x/mod/semver"

	"github.com/rios0rios0/depflow/domain"
)

// DependencyReader reads the dependency manifest of a repository at a branch
// or commit. The coherency pass uses it to look up what a parent build
// declares for its children.
type DependencyReader interface {
	GetDependencies(ctx context.Context, repoURI, ref string) ([]domain.DependencyDetail, error)
}

// WorkItem pairs one reconciliation work item with the dependency targets it
// resolves to in the target repository.
type WorkItem struct {
	Update       domain.UpdateAssetsParameters
	Dependencies []domain.DependencyDetail
}

// Resolver implements the two-pass required-update computation.
type Resolver struct {
	reader DependencyReader
}

// New creates a resolver reading parent manifests through the given reader.
func New(reader DependencyReader) *Resolver {
	return &Resolver{reader: reader}
}

// CaughtUpFunc records that a subscription needs no update for a build.
type CaughtUpFunc func(subscriptionID, buildID string) error

// RequiredUpdates runs both passes over a snapshot of the target's dependency
// set. The input slice is never mutated: updates are folded into a working
// copy. Non-coherency items appear in batch order; at most one coherency item
// is appended last. An item whose build requires no changes is reported
// through caughtUp and produces no work item. An empty result means no pull
// request action is needed.
func (r *Resolver) RequiredUpdates(
	ctx context.Context,
	existing []domain.DependencyDetail,
	batch []domain.UpdateAssetsParameters,
	caughtUp CaughtUpFunc,
) ([]WorkItem, error) {
	working := append([]domain.DependencyDetail(nil), existing...)

	var items []WorkItem
	for _, update := range batch {
		updates := RequiredNonCoherencyUpdates(update.SourceSha, update.Assets, working)
		if len(updates) == 0 {
			// Already caught up; record the build without a PR update.
			if caughtUp != nil && update.SubscriptionID != "" {
				if err := caughtUp(update.SubscriptionID, update.BuildID); err != nil {
					return nil, err
				}
			}
			continue
		}

		targets := updateTargets(updates)
		working = domain.ApplyUpdates(working, targets)
		items = append(items, WorkItem{Update: update, Dependencies: targets})
	}

	coherencyUpdates, err := r.RequiredCoherencyUpdates(ctx, working)
	if err != nil {
		return nil, err
	}
	if len(coherencyUpdates) > 0 {
		items = append(items, WorkItem{
			Update:       domain.UpdateAssetsParameters{IsCoherencyUpdate: true},
			Dependencies: updateTargets(coherencyUpdates),
		})
	}

	return items, nil
}

// RequiredNonCoherencyUpdates computes the direct version bumps a set of new
// assets implies for the given dependency set. Pinned dependencies and
// dependencies tied to a coherency parent are never bumped directly.
func RequiredNonCoherencyUpdates(
	sourceSha string,
	assets []domain.Asset,
	deps []domain.DependencyDetail,
) []domain.DependencyUpdate {
	var updates []domain.DependencyUpdate
	for _, dep := range deps {
		if dep.Pinned || dep.CoherentParentDependencyName != "" {
			continue
		}
		for _, asset := range assets {
			if !dep.HasName(asset.Name) {
				continue
			}
			if asset.Version == dep.Version && sourceSha == dep.Commit {
				break
			}
			if isDowngrade(dep.Version, asset.Version) {
				logger.Debugf(
					"Dependency %s moves backwards from %s to %s",
					dep.Name, dep.Version, asset.Version,
				)
			}
			to := dep
			to.Version = asset.Version
			to.Commit = sourceSha
			updates = append(updates, domain.DependencyUpdate{From: dep, To: to})
			break
		}
	}
	return updates
}

// RequiredCoherencyUpdates runs the global coherency check across an already
// updated dependency set, producing the moves required to keep every
// coherency-parent and common-child link consistent.
func (r *Resolver) RequiredCoherencyUpdates(
	ctx context.Context,
	deps []domain.DependencyDetail,
) ([]domain.DependencyUpdate, error) {
	manifests := newManifestCache(r.reader)

	var updates []domain.DependencyUpdate

	for _, dep := range deps {
		if dep.CoherentParentDependencyName == "" {
			continue
		}
		parent, ok := findDependency(deps, dep.CoherentParentDependencyName)
		if !ok {
			return nil, fmt.Errorf(
				"coherent parent %q of dependency %q is not in the dependency set",
				dep.CoherentParentDependencyName, dep.Name,
			)
		}

		declared, err := manifests.get(ctx, parent.RepoURI, parent.Commit)
		if err != nil {
			return nil, err
		}
		decl, ok := findDependency(declared, dep.Name)
		if !ok {
			// The parent build does not reference this dependency; nothing
			// pins its version.
			continue
		}
		if decl.Version == dep.Version && decl.Commit == dep.Commit {
			continue
		}

		to := dep
		to.Version = decl.Version
		to.Commit = decl.Commit
		to.RepoURI = decl.RepoURI
		updates = append(updates, domain.DependencyUpdate{From: dep, To: to})
	}

	commonChildUpdates, err := r.commonChildUpdates(ctx, deps, manifests)
	if err != nil {
		return nil, err
	}
	updates = append(updates, commonChildUpdates...)

	return updates, nil
}

// commonChildUpdates aligns a directly-referenced common child with the
// version its sibling dependencies agree on. When the siblings disagree the
// child is left alone; the subscription flow converges them first.
func (r *Resolver) commonChildUpdates(
	ctx context.Context,
	deps []domain.DependencyDetail,
	manifests *manifestCache,
) ([]domain.DependencyUpdate, error) {
	groups := make(map[string][]domain.DependencyDetail)
	for _, dep := range deps {
		if dep.CommonChildDependencyName == "" {
			continue
		}
		key := strings.ToLower(dep.CommonChildDependencyName)
		groups[key] = append(groups[key], dep)
	}

	var updates []domain.DependencyUpdate
	for _, members := range groups {
		childName := members[0].CommonChildDependencyName

		var agreed *domain.DependencyDetail
		consistent := true
		for _, member := range members {
			declared, err := manifests.get(ctx, member.RepoURI, member.Commit)
			if err != nil {
				return nil, err
			}
			decl, ok := findDependency(declared, childName)
			if !ok {
				consistent = false
				break
			}
			if agreed == nil {
				agreed = &decl
				continue
			}
			if decl.Version != agreed.Version || decl.Commit != agreed.Commit {
				consistent = false
				break
			}
		}
		if !consistent || agreed == nil {
			continue
		}

		child, ok := findDependency(deps, childName)
		if !ok {
			continue
		}
		if child.Version == agreed.Version && child.Commit == agreed.Commit {
			continue
		}

		to := child
		to.Version = agreed.Version
		to.Commit = agreed.Commit
		to.RepoURI = agreed.RepoURI
		updates = append(updates, domain.DependencyUpdate{From: child, To: to})
	}

	return updates, nil
}

func updateTargets(updates []domain.DependencyUpdate) []domain.DependencyDetail {
	targets := make([]domain.DependencyDetail, 0, len(updates))
	for _, update := range updates {
		targets = append(targets, update.To)
	}
	return targets
}

func findDependency(deps []domain.DependencyDetail, name string) (domain.DependencyDetail, bool) {
	for _, dep := range deps {
		if dep.HasName(name) {
			return dep, true
		}
	}
	return domain.DependencyDetail{}, false
}

func isDowngrade(current, incoming string) bool {
	c, i := canonicalVersion(current), canonicalVersion(incoming)
	if !semver.IsValid(c) || !semver.IsValid(i) {
		return false
	}
	return semver.Compare(i, c) < 0
}

func canonicalVersion(version string) string {
	if strings.HasPrefix(version, "v") {
		return version
	}
	return "v" + version
}

// manifestCache avoids refetching the same repo@commit manifest during a
// single coherency pass.
type manifestCache struct {
	reader    DependencyReader
	manifests map[string][]domain.DependencyDetail
}

func newManifestCache(reader DependencyReader) *manifestCache {
	return &manifestCache{
		reader:    reader,
		manifests: make(map[string][]domain.DependencyDetail),
	}
}

func (c *manifestCache) get(
	ctx context.Context,
	repoURI, ref string,
) ([]domain.DependencyDetail, error) {
	key := strings.ToLower(repoURI + "@" + ref)
	if deps, ok := c.manifests[key]; ok {
		return deps, nil
	}
	deps, err := c.reader.GetDependencies(ctx, repoURI, ref)
	if err != nil {
		return nil, fmt.Errorf("failed to read dependencies of %s at %s: %w", repoURI, ref, err)
	}
	c.manifests[key] = deps
	return deps, nil
}
