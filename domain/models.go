package domain

import (
	"errors"
	"fmt"
	"strings"
)

// DependencyType classifies a dependency within a target repository.
type DependencyType string

const (
	DependencyTypeProduct DependencyType = "Product"
	DependencyTypeToolset DependencyType = "Toolset"
)

// ErrNotFound is returned by stores when a requested record does not exist.
var ErrNotFound = errors.New("not found")

var errCoherencyConflict = errors.New(
	"common child and coherent parent restrictions cannot be combined")

// DependencyDetail is one entry of a target repository's dependency manifest.
// CoherentParentDependencyName and CommonChildDependencyName are mutually
// exclusive; use the setters or call Validate after unmarshalling.
type DependencyDetail struct {
	Name    string         `yaml:"name" json:"name"`
	Version string         `yaml:"version" json:"version"`
	RepoURI string         `yaml:"repoUri" json:"repoUri"`
	Commit  string         `yaml:"commit" json:"commit"`
	Pinned  bool           `yaml:"pinned,omitempty" json:"pinned,omitempty"`
	Type    DependencyType `yaml:"type,omitempty" json:"type,omitempty"`

	CoherentParentDependencyName string `yaml:"coherentParentDependency,omitempty" json:"coherentParentDependency,omitempty"`
	CommonChildDependencyName    string `yaml:"commonChildDependency,omitempty" json:"commonChildDependency,omitempty"`
}

// SetCoherentParent sets the coherency parent link.
func (d *DependencyDetail) SetCoherentParent(name string) error {
	if name != "" && d.CommonChildDependencyName != "" {
		return errCoherencyConflict
	}
	d.CoherentParentDependencyName = name
	return nil
}

// SetCommonChild sets the common child link.
func (d *DependencyDetail) SetCommonChild(name string) error {
	if name != "" && d.CoherentParentDependencyName != "" {
		return errCoherencyConflict
	}
	d.CommonChildDependencyName = name
	return nil
}

// Validate checks invariants that cannot be enforced by the type system,
// typically after unmarshalling a manifest.
func (d DependencyDetail) Validate() error {
	if d.Name == "" {
		return errors.New("dependency name is required")
	}
	if d.CoherentParentDependencyName != "" && d.CommonChildDependencyName != "" {
		return fmt.Errorf("dependency %q: %w", d.Name, errCoherencyConflict)
	}
	return nil
}

// HasName reports whether the dependency is identified by the given name.
// Dependency identity is case-insensitive within a manifest.
func (d DependencyDetail) HasName(name string) bool {
	return strings.EqualFold(d.Name, name)
}

// DependencyUpdate is a single directed version change computed by the
// resolver and applied by the commit step.
type DependencyUpdate struct {
	From DependencyDetail
	To   DependencyDetail
}

// Asset is a published build output (package or file) with a version.
type Asset struct {
	Name    string `yaml:"name" json:"name"`
	Version string `yaml:"version" json:"version"`
}

// UpdateFrequency controls the cadence of a subscription.
type UpdateFrequency string

const (
	UpdateFrequencyNone       UpdateFrequency = "none"
	UpdateFrequencyEveryBuild UpdateFrequency = "everyBuild"
	UpdateFrequencyEveryDay   UpdateFrequency = "everyDay"
	UpdateFrequencyTwiceDaily UpdateFrequency = "twiceDaily"
)

// MergePolicyDefinition names a merge policy and its configuration.
type MergePolicyDefinition struct {
	Name       string         `yaml:"name" json:"name"`
	Properties map[string]any `yaml:"properties,omitempty" json:"properties,omitempty"`
}

// SubscriptionPolicy is the update/merge policy attached to a subscription.
type SubscriptionPolicy struct {
	Batchable       bool                    `yaml:"batchable" json:"batchable"`
	UpdateFrequency UpdateFrequency         `yaml:"updateFrequency" json:"updateFrequency"`
	MergePolicies   []MergePolicyDefinition `yaml:"mergePolicies,omitempty" json:"mergePolicies,omitempty"`
}

// Subscription declares intent to pull dependency updates from a source
// repository/channel into a target repository/branch.
type Subscription struct {
	ID               string             `yaml:"id" json:"id"`
	SourceRepository string             `yaml:"sourceRepository" json:"sourceRepository"`
	TargetRepository string             `yaml:"targetRepository" json:"targetRepository"`
	TargetBranch     string             `yaml:"targetBranch" json:"targetBranch"`
	Channel          string             `yaml:"channel" json:"channel"`
	Policy           SubscriptionPolicy `yaml:"policy" json:"policy"`
	Enabled          bool               `yaml:"enabled" json:"enabled"`

	// LastAppliedBuildID tracks the most recent build this subscription
	// has been caught up to.
	LastAppliedBuildID string `yaml:"lastAppliedBuildId,omitempty" json:"lastAppliedBuildId,omitempty"`
}

// DefaultChannel declares that a repository branch publishes to a channel
// by default.
type DefaultChannel struct {
	Repository  string `yaml:"repository" json:"repository"`
	Branch      string `yaml:"branch" json:"branch"`
	ChannelName string `yaml:"channel" json:"channel"`
}

// Build is a completed producer build registered in the metadata store.
type Build struct {
	ID         string  `yaml:"id" json:"id"`
	Repository string  `yaml:"repository" json:"repository"`
	Commit     string  `yaml:"commit" json:"commit"`
	Number     string  `yaml:"number" json:"number"`
	Assets     []Asset `yaml:"assets,omitempty" json:"assets,omitempty"`
}

// ContainedSubscription records that a pull request carries updates for a
// subscription up to a given build.
type ContainedSubscription struct {
	SubscriptionID string `json:"subscriptionId"`
	BuildID        string `json:"buildId"`
}

// InProgressPullRequest is the durable record of the single in-flight pull
// request owned by a reconciliation unit.
type InProgressPullRequest struct {
	URL                    string                  `json:"url"`
	ContainedSubscriptions []ContainedSubscription `json:"containedSubscriptions"`
}

// UpdateAssetsParameters is a unit of reconciliation work, either applied
// immediately or queued while an in-flight pull request is not updatable.
type UpdateAssetsParameters struct {
	SubscriptionID string  `json:"subscriptionId"`
	BuildID        string  `json:"buildId"`
	SourceSha      string  `json:"sourceSha"`
	Assets         []Asset `json:"assets"`

	// IsCoherencyUpdate marks the synthetic work item appended by the
	// resolver's coherency pass; it carries no subscription id.
	IsCoherencyUpdate bool `json:"isCoherencyUpdate"`
}

// BranchUpdate is the per-repository-branch audit record written after every
// top-level reconciliation action.
type BranchUpdate struct {
	Action    string `json:"action"`
	Message   string `json:"message"`
	Method    string `json:"method,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	Success   bool   `json:"success"`
}
