package linktable

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latticehq/hostd/pkg/types"
)

func sampleLink() *types.Link {
	return &types.Link{
		SourceID:   "Msrc",
		TargetID:   "Vtgt",
		Namespace:  "wasi",
		Package:    "keyvalue",
		Interfaces: []string{"store"},
		Name:       "default",
	}
}

func TestPutIsIdempotent(t *testing.T) {
	table := New()
	link := sampleLink()

	require.Equal(t, Added, table.Put(link))
	require.Equal(t, Unchanged, table.Put(sampleLink()))
}

func TestPutDifferentLinkSameKeyReplaces(t *testing.T) {
	table := New()
	link := sampleLink()
	require.Equal(t, Added, table.Put(link))

	changed := sampleLink()
	changed.Interfaces = []string{"store", "atomics"}
	require.Equal(t, Added, table.Put(changed))

	got, ok := table.Get(link.KeyFromSource())
	require.True(t, ok)
	assert.True(t, cmp.Equal(changed.Interfaces, got.Interfaces))

	targets := table.LinksForTarget("Vtgt")
	require.Len(t, targets, 1, "replacing a link must not leave a stale target-index entry")
}

func TestDeleteReturnsRemovedLinkOrNil(t *testing.T) {
	table := New()
	link := sampleLink()
	table.Put(link)

	removed := table.Delete(link.KeyFromSource())
	require.NotNil(t, removed)
	assert.Equal(t, link.TargetID, removed.TargetID)

	assert.Nil(t, table.Delete(link.KeyFromSource()))
}

func TestLinksForSourceAndTargetAreClones(t *testing.T) {
	table := New()
	link := sampleLink()
	table.Put(link)

	bySource := table.LinksForSource("Msrc")
	bySource[0] = nil // mutating the returned slice must not affect the table

	got, ok := table.Get(link.KeyFromSource())
	require.True(t, ok)
	assert.NotNil(t, got)

	byTarget := table.LinksForTarget("Vtgt")
	require.Len(t, byTarget, 1)
}

func TestMultipleLinksFromSameSourceDifferentNames(t *testing.T) {
	table := New()
	a := sampleLink()
	b := sampleLink()
	b.Name = "secondary"

	require.Equal(t, Added, table.Put(a))
	require.Equal(t, Added, table.Put(b))

	assert.Len(t, table.LinksForSource("Msrc"), 2)
}
