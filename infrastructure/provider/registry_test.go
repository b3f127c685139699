package provider_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rios0rios0/depflow/domain"
	"github.com/rios0rios0/depflow/infrastructure/provider"
	testdoubles "github.com/rios0rios0/depflow/test"
)

func TestRegistry(t *testing.T) {
	t.Parallel()

	t.Run("should build a provider through its registered factory", func(t *testing.T) {
		t.Parallel()

		// given
		registry := provider.NewRegistry()
		var receivedToken string
		registry.Register("spy", func(token string) domain.Provider {
			receivedToken = token
			return &testdoubles.SpyProvider{ProviderName: "spy"}
		})

		// when
		p, err := registry.Get("spy", "secret")

		// then
		require.NoError(t, err)
		assert.Equal(t, "spy", p.Name())
		assert.Equal(t, "secret", receivedToken)
	})

	t.Run("should fail for an unknown provider type", func(t *testing.T) {
		t.Parallel()

		// given
		registry := provider.NewRegistry()

		// when
		_, err := registry.Get("bitbucket", "token")

		// then
		require.Error(t, err)
		assert.Contains(t, err.Error(), "bitbucket")
	})

	t.Run("should list registered names", func(t *testing.T) {
		t.Parallel()

		// given
		registry := provider.NewRegistry()
		registry.Register("github", func(string) domain.Provider { return &testdoubles.SpyProvider{} })
		registry.Register("gitlab", func(string) domain.Provider { return &testdoubles.SpyProvider{} })

		// when
		names := registry.Names()

		// then
		assert.ElementsMatch(t, []string{"github", "gitlab"}, names)
	})
}

func TestResolver(t *testing.T) {
	t.Parallel()

	t.Run("should select the provider matching the repository host", func(t *testing.T) {
		t.Parallel()

		// given
		github := &testdoubles.SpyProvider{ProviderName: "github", Host: "github.com"}
		gitlab := &testdoubles.SpyProvider{ProviderName: "gitlab", Host: "gitlab.com"}
		resolver := provider.NewResolver(github, gitlab)

		// when
		p, err := resolver.ForRepository("https://gitlab.com/group/project")

		// then
		require.NoError(t, err)
		assert.Equal(t, "gitlab", p.Name())
	})

	t.Run("should fail when no provider matches", func(t *testing.T) {
		t.Parallel()

		// given
		github := &testdoubles.SpyProvider{ProviderName: "github", Host: "github.com"}
		resolver := provider.NewResolver(github)

		// when
		_, err := resolver.ForRepository("https://bitbucket.org/org/repo")

		// then
		assert.Error(t, err)
	})
}
