package localcache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latticehq/hostd/pkg/types"
)

func openTestStore(t *testing.T) *BoltStore {
	t.Helper()
	s, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestClaimsRoundTrip(t *testing.T) {
	s := openTestStore(t)
	c := &types.Claims{Subject: "Mxxxx", Kind: types.ClaimKindComponent, Name: "echo"}

	require.NoError(t, s.PutClaims(c))

	got, err := s.GetClaims("Mxxxx")
	require.NoError(t, err)
	assert.Equal(t, "echo", got.Name)

	all, err := s.ListClaims()
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, s.DeleteClaims("Mxxxx"))
	_, err = s.GetClaims("Mxxxx")
	assert.Error(t, err)
}

func TestComponentSpecRoundTrip(t *testing.T) {
	s := openTestStore(t)
	spec := &types.ComponentSpec{ImageReference: "oci://echo:0.1.0"}

	require.NoError(t, s.PutComponentSpec("echo", spec))

	got, err := s.GetComponentSpec("echo")
	require.NoError(t, err)
	assert.Equal(t, "oci://echo:0.1.0", got.ImageReference)

	all, err := s.ListComponentSpecs()
	require.NoError(t, err)
	assert.Contains(t, all, "echo")

	require.NoError(t, s.DeleteComponentSpec("echo"))
	_, err = s.GetComponentSpec("echo")
	assert.Error(t, err)
}

func TestLinkRoundTrip(t *testing.T) {
	s := openTestStore(t)
	link := &types.Link{SourceID: "Msrc", TargetID: "Vtgt", Namespace: "wasi", Package: "keyvalue", Name: "default"}

	require.NoError(t, s.PutLink(link))

	all, err := s.ListLinks()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "Vtgt", all[0].TargetID)

	require.NoError(t, s.DeleteLink(link.KeyFromSource()))
	all, err = s.ListLinks()
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestConfigEntryRoundTrip(t *testing.T) {
	s := openTestStore(t)
	entry := &types.ConfigEntry{Name: "echo-cfg", Values: map[string]string{"LOG_LEVEL": "debug"}}

	require.NoError(t, s.PutConfigEntry(entry))

	got, err := s.GetConfigEntry("echo-cfg")
	require.NoError(t, err)
	assert.Equal(t, "debug", got.Values["LOG_LEVEL"])

	require.NoError(t, s.DeleteConfigEntry("echo-cfg"))
	_, err = s.GetConfigEntry("echo-cfg")
	assert.Error(t, err)
}
