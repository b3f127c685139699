package resolver_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rios0rios0/depflow/domain"
	"github.com/rios0rios0/depflow/resolver"
)

// stubReader serves parent manifests keyed by "repo@commit" (lowercase).
type stubReader struct {
	manifests map[string][]domain.DependencyDetail
	calls     int
}

func (r *stubReader) GetDependencies(
	_ context.Context,
	repoURI, ref string,
) ([]domain.DependencyDetail, error) {
	r.calls++
	return r.manifests[strings.ToLower(repoURI+"@"+ref)], nil
}

const (
	repoB = "https://github.com/org/b"
	repoC = "https://github.com/org/c"
)

func TestRequiredNonCoherencyUpdates(t *testing.T) {
	t.Parallel()

	t.Run("should bump a dependency whose asset version moved", func(t *testing.T) {
		t.Parallel()

		// given
		deps := []domain.DependencyDetail{
			{Name: "Lib.B", Version: "1.0.0", RepoURI: repoB, Commit: "old"},
		}
		assets := []domain.Asset{{Name: "lib.b", Version: "1.1.0"}}

		// when
		updates := resolver.RequiredNonCoherencyUpdates("new", assets, deps)

		// then
		require.Len(t, updates, 1)
		assert.Equal(t, "1.0.0", updates[0].From.Version)
		assert.Equal(t, "1.1.0", updates[0].To.Version)
		assert.Equal(t, "new", updates[0].To.Commit)
	})

	t.Run("should bump when only the source commit moved", func(t *testing.T) {
		t.Parallel()

		// given
		deps := []domain.DependencyDetail{
			{Name: "Lib.B", Version: "1.0.0", RepoURI: repoB, Commit: "old"},
		}
		assets := []domain.Asset{{Name: "Lib.B", Version: "1.0.0"}}

		// when
		updates := resolver.RequiredNonCoherencyUpdates("new", assets, deps)

		// then
		assert.Len(t, updates, 1)
	})

	t.Run("should skip pinned dependencies", func(t *testing.T) {
		t.Parallel()

		// given
		deps := []domain.DependencyDetail{
			{Name: "Lib.B", Version: "1.0.0", Commit: "old", Pinned: true},
		}
		assets := []domain.Asset{{Name: "Lib.B", Version: "2.0.0"}}

		// when
		updates := resolver.RequiredNonCoherencyUpdates("new", assets, deps)

		// then
		assert.Empty(t, updates)
	})

	t.Run("should skip dependencies tied to a coherent parent", func(t *testing.T) {
		t.Parallel()

		// given
		deps := []domain.DependencyDetail{
			{Name: "Lib.C", Version: "1.0.0", Commit: "old", CoherentParentDependencyName: "Lib.B"},
		}
		assets := []domain.Asset{{Name: "Lib.C", Version: "2.0.0"}}

		// when
		updates := resolver.RequiredNonCoherencyUpdates("new", assets, deps)

		// then
		assert.Empty(t, updates)
	})

	t.Run("should return nothing when everything matches", func(t *testing.T) {
		t.Parallel()

		// given
		deps := []domain.DependencyDetail{
			{Name: "Lib.B", Version: "1.0.0", Commit: "sha"},
		}
		assets := []domain.Asset{{Name: "Lib.B", Version: "1.0.0"}}

		// when
		updates := resolver.RequiredNonCoherencyUpdates("sha", assets, deps)

		// then
		assert.Empty(t, updates)
	})
}

func TestRequiredUpdates(t *testing.T) {
	t.Parallel()

	t.Run("should report a caught-up item instead of producing work", func(t *testing.T) {
		t.Parallel()

		// given
		r := resolver.New(&stubReader{})
		existing := []domain.DependencyDetail{
			{Name: "Lib.B", Version: "1.0.0", Commit: "sha"},
		}
		batch := []domain.UpdateAssetsParameters{{
			SubscriptionID: "s1",
			BuildID:        "b1",
			SourceSha:      "sha",
			Assets:         []domain.Asset{{Name: "Lib.B", Version: "1.0.0"}},
		}}
		var caughtUp []string

		// when
		items, err := r.RequiredUpdates(
			context.Background(), existing, batch,
			func(subscriptionID, buildID string) error {
				caughtUp = append(caughtUp, subscriptionID+"/"+buildID)
				return nil
			},
		)

		// then
		require.NoError(t, err)
		assert.Empty(t, items)
		assert.Equal(t, []string{"s1/b1"}, caughtUp)
	})

	t.Run("should not mutate the caller's dependency slice", func(t *testing.T) {
		t.Parallel()

		// given
		r := resolver.New(&stubReader{})
		existing := []domain.DependencyDetail{
			{Name: "Lib.B", Version: "1.0.0", Commit: "old"},
		}
		batch := []domain.UpdateAssetsParameters{{
			SubscriptionID: "s1",
			SourceSha:      "new",
			Assets:         []domain.Asset{{Name: "Lib.B", Version: "1.1.0"}},
		}}

		// when
		_, err := r.RequiredUpdates(context.Background(), existing, batch, nil)

		// then
		require.NoError(t, err)
		assert.Equal(t, "1.0.0", existing[0].Version)
	})

	t.Run("should fold earlier batch items into later computations", func(t *testing.T) {
		t.Parallel()

		// given
		r := resolver.New(&stubReader{})
		existing := []domain.DependencyDetail{
			{Name: "Lib.B", Version: "1.0.0", Commit: "old"},
		}
		bump := domain.UpdateAssetsParameters{
			SubscriptionID: "s1",
			SourceSha:      "new",
			Assets:         []domain.Asset{{Name: "Lib.B", Version: "1.1.0"}},
		}
		// the second delivery of the same content must be a no-op
		batch := []domain.UpdateAssetsParameters{bump, bump}

		// when
		items, err := r.RequiredUpdates(context.Background(), existing, batch, nil)

		// then
		require.NoError(t, err)
		assert.Len(t, items, 1)
	})

	t.Run("should append a single coherency item last", func(t *testing.T) {
		t.Parallel()

		// given: A's copy of Lib.C must follow what Lib.B's build declares
		reader := &stubReader{manifests: map[string][]domain.DependencyDetail{
			repoB + "@b-new": {
				{Name: "Lib.C", Version: "3.1.0", RepoURI: repoC, Commit: "c-new"},
			},
		}}
		r := resolver.New(reader)
		existing := []domain.DependencyDetail{
			{Name: "Lib.B", Version: "2.0.0", RepoURI: repoB, Commit: "b-old"},
			{
				Name: "Lib.C", Version: "3.0.0", RepoURI: repoC, Commit: "c-old",
				CoherentParentDependencyName: "Lib.B",
			},
		}
		batch := []domain.UpdateAssetsParameters{{
			SubscriptionID: "s1",
			SourceSha:      "b-new",
			Assets:         []domain.Asset{{Name: "Lib.B", Version: "2.1.0"}},
		}}

		// when
		items, err := r.RequiredUpdates(context.Background(), existing, batch, nil)

		// then
		require.NoError(t, err)
		require.Len(t, items, 2)
		assert.False(t, items[0].Update.IsCoherencyUpdate)
		assert.True(t, items[1].Update.IsCoherencyUpdate)
		require.Len(t, items[1].Dependencies, 1)
		assert.Equal(t, "Lib.C", items[1].Dependencies[0].Name)
		assert.Equal(t, "3.1.0", items[1].Dependencies[0].Version)
		assert.Equal(t, "c-new", items[1].Dependencies[0].Commit)
	})
}

func TestRequiredCoherencyUpdates(t *testing.T) {
	t.Parallel()

	t.Run("should error when the coherent parent is missing from the set", func(t *testing.T) {
		t.Parallel()

		// given
		r := resolver.New(&stubReader{})
		deps := []domain.DependencyDetail{
			{Name: "Lib.C", Version: "1.0.0", CoherentParentDependencyName: "Lib.B"},
		}

		// when
		_, err := r.RequiredCoherencyUpdates(context.Background(), deps)

		// then
		assert.Error(t, err)
	})

	t.Run("should leave a child alone when the parent build does not declare it", func(t *testing.T) {
		t.Parallel()

		// given
		reader := &stubReader{manifests: map[string][]domain.DependencyDetail{}}
		r := resolver.New(reader)
		deps := []domain.DependencyDetail{
			{Name: "Lib.B", Version: "2.0.0", RepoURI: repoB, Commit: "b1"},
			{Name: "Lib.C", Version: "1.0.0", CoherentParentDependencyName: "Lib.B"},
		}

		// when
		updates, err := r.RequiredCoherencyUpdates(context.Background(), deps)

		// then
		require.NoError(t, err)
		assert.Empty(t, updates)
	})

	t.Run("should align a common child when the group agrees", func(t *testing.T) {
		t.Parallel()

		// given: B and D both declare Lib.C at the same version; the direct
		// reference must follow
		repoD := "https://github.com/org/d"
		declared := []domain.DependencyDetail{
			{Name: "Lib.C", Version: "3.2.0", RepoURI: repoC, Commit: "c2"},
		}
		reader := &stubReader{manifests: map[string][]domain.DependencyDetail{
			repoB + "@b1": declared,
			repoD + "@d1": declared,
		}}
		r := resolver.New(reader)
		deps := []domain.DependencyDetail{
			{Name: "Lib.B", Version: "2.0.0", RepoURI: repoB, Commit: "b1", CommonChildDependencyName: "Lib.C"},
			{Name: "Lib.D", Version: "4.0.0", RepoURI: repoD, Commit: "d1", CommonChildDependencyName: "Lib.C"},
			{Name: "Lib.C", Version: "3.0.0", RepoURI: repoC, Commit: "c1"},
		}

		// when
		updates, err := r.RequiredCoherencyUpdates(context.Background(), deps)

		// then
		require.NoError(t, err)
		require.Len(t, updates, 1)
		assert.Equal(t, "Lib.C", updates[0].To.Name)
		assert.Equal(t, "3.2.0", updates[0].To.Version)
	})

	t.Run("should not move a common child when the group disagrees", func(t *testing.T) {
		t.Parallel()

		// given
		repoD := "https://github.com/org/d"
		reader := &stubReader{manifests: map[string][]domain.DependencyDetail{
			repoB + "@b1": {{Name: "Lib.C", Version: "3.2.0", RepoURI: repoC, Commit: "c2"}},
			repoD + "@d1": {{Name: "Lib.C", Version: "3.3.0", RepoURI: repoC, Commit: "c3"}},
		}}
		r := resolver.New(reader)
		deps := []domain.DependencyDetail{
			{Name: "Lib.B", Version: "2.0.0", RepoURI: repoB, Commit: "b1", CommonChildDependencyName: "Lib.C"},
			{Name: "Lib.D", Version: "4.0.0", RepoURI: repoD, Commit: "d1", CommonChildDependencyName: "Lib.C"},
			{Name: "Lib.C", Version: "3.0.0", RepoURI: repoC, Commit: "c1"},
		}

		// when
		updates, err := r.RequiredCoherencyUpdates(context.Background(), deps)

		// then
		require.NoError(t, err)
		assert.Empty(t, updates)
	})

	t.Run("should cache parent manifests within one pass", func(t *testing.T) {
		t.Parallel()

		// given
		reader := &stubReader{manifests: map[string][]domain.DependencyDetail{
			repoB + "@b1": {
				{Name: "Lib.C", Version: "3.1.0", RepoURI: repoC, Commit: "c2"},
				{Name: "Lib.E", Version: "5.1.0", RepoURI: repoC, Commit: "c2"},
			},
		}}
		r := resolver.New(reader)
		deps := []domain.DependencyDetail{
			{Name: "Lib.B", Version: "2.0.0", RepoURI: repoB, Commit: "b1"},
			{Name: "Lib.C", Version: "3.0.0", CoherentParentDependencyName: "Lib.B"},
			{Name: "Lib.E", Version: "5.0.0", CoherentParentDependencyName: "Lib.B"},
		}

		// when
		updates, err := r.RequiredCoherencyUpdates(context.Background(), deps)

		// then
		require.NoError(t, err)
		assert.Len(t, updates, 2)
		assert.Equal(t, 1, reader.calls)
	})
}
