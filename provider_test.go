package tramite

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStaticProvider(t *testing.T) {
	ctx := context.Background()
	p, err := NewStaticProvider(nil)
	require.NoError(t, err)

	users, err := p.FindUsers(ctx, map[string]string{"users": "alice, bob ,carol"})
	require.NoError(t, err)
	require.Equal(t, []string{"alice", "bob", "carol"}, users)

	ok, err := p.ValidateUser(ctx, "bob", map[string]string{"users": "alice,bob"})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = p.ValidateUser(ctx, "mallory", map[string]string{"users": "alice,bob"})
	require.NoError(t, err)
	require.False(t, ok)

	_, err = p.FindUsers(ctx, map[string]string{})
	require.Error(t, err)
}

func TestProviderRegistryLookup(t *testing.T) {
	r := NewProviderRegistry()

	// The static backend is registered out of the box.
	p, err := r.Hierarchy("static")
	require.NoError(t, err)
	require.NotNil(t, p)

	_, err = r.Hierarchy("ldap")
	require.ErrorIs(t, err, ErrMisconfiguredProvider)

	_, err = r.Auth("ldap")
	require.ErrorIs(t, err, ErrMisconfiguredProvider)
}

func TestProviderRegistryConfigureAndCache(t *testing.T) {
	r := NewProviderRegistry()

	var calls int
	var gotConfig map[string]any
	r.RegisterHierarchy("dir", func(config map[string]any) (HierarchyProvider, error) {
		calls++
		gotConfig = config
		return &StaticProvider{}, nil
	})
	r.Configure([]ProviderConfig{{Name: "dir", Params: map[string]any{"host": "dir.corp.mx"}}})

	first, err := r.Hierarchy("dir")
	require.NoError(t, err)
	second, err := r.Hierarchy("dir")
	require.NoError(t, err)
	require.Same(t, first, second)
	require.Equal(t, 1, calls)
	require.Equal(t, "dir.corp.mx", gotConfig["host"])
}

func TestProviderRegistryFactoryFailure(t *testing.T) {
	r := NewProviderRegistry()
	r.RegisterHierarchy("broken", func(map[string]any) (HierarchyProvider, error) {
		return nil, fmt.Errorf("cannot connect")
	})

	_, err := r.Hierarchy("broken")
	require.ErrorIs(t, err, ErrMisconfiguredProvider)
	require.Contains(t, err.Error(), "cannot connect")
}
