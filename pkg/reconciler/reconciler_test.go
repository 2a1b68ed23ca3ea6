package reconciler

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latticehq/hostd/pkg/bus"
	"github.com/latticehq/hostd/pkg/claims"
	"github.com/latticehq/hostd/pkg/linktable"
	"github.com/latticehq/hostd/pkg/types"
)

type fakeNotifier struct {
	puts    []string
	deletes []string
}

func (f *fakeNotifier) LinkPut(ctx context.Context, providerID string, link *types.Link) error {
	f.puts = append(f.puts, providerID)
	return nil
}

func (f *fakeNotifier) LinkDelete(ctx context.Context, providerID string, key types.LinkKey) error {
	f.deletes = append(f.deletes, providerID)
	return nil
}

type fakeProviderLookup struct {
	providers map[string]bool
}

func (f *fakeProviderLookup) IsProvider(id string) bool { return f.providers[id] }

type fakeObserver struct {
	notifyCh chan struct{}
	puts    []string
	deletes []string
	snapshotPuts int
}

func newFakeObserver() *fakeObserver {
	return &fakeObserver{notifyCh: make(chan struct{}, 64)}
}

func (f *fakeObserver) OnComponentPut(ctx context.Context, id string, spec *types.ComponentSpec, snapshot bool) {
	f.puts = append(f.puts, id)
	if snapshot {
		f.snapshotPuts++
	}
	f.notifyCh <- struct{}{}
}

func (f *fakeObserver) OnComponentDelete(ctx context.Context, id string, snapshot bool) {
	f.deletes = append(f.deletes, id)
	f.notifyCh <- struct{}{}
}

func waitForN(t *testing.T, ch chan struct{}, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-ch:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for observer event %d/%d", i+1, n)
		}
	}
}

func TestReconcilerAppliesComponentPutAndDiffsLinks(t *testing.T) {
	b := bus.NewMemory()
	defer b.Close()

	links := linktable.New()
	claimsStore := claims.NewStore(b)
	notifier := &fakeNotifier{}
	providers := &fakeProviderLookup{providers: map[string]bool{"Vkvredis": true}}
	observer := newFakeObserver()

	r := New(b, "", claimsStore, links, notifier, providers, observer)
	require.NoError(t, r.Start(context.Background()))
	defer r.Stop()

	spec := &types.ComponentSpec{
		ImageReference: "oci://example/echo:1.0.0",
		Links: []*types.Link{
			{TargetID: "Vkvredis", Namespace: "wasi", Package: "keyvalue", Name: "default"},
		},
	}
	data, err := json.Marshal(spec)
	require.NoError(t, err)
	require.NoError(t, b.KVPut(context.Background(), "COMPONENT_Mecho", data))

	waitForN(t, observer.notifyCh, 1)

	got, ok := r.Spec("Mecho")
	require.True(t, ok)
	assert.Equal(t, "oci://example/echo:1.0.0", got.ImageReference)

	linksForSource := links.LinksForSource("Mecho")
	require.Len(t, linksForSource, 1)
	assert.Equal(t, "Vkvredis", linksForSource[0].TargetID)
	assert.Equal(t, []string{"Vkvredis"}, notifier.puts)
}

func TestReconcilerDiffRemovesStaleLinks(t *testing.T) {
	b := bus.NewMemory()
	defer b.Close()

	links := linktable.New()
	claimsStore := claims.NewStore(b)
	notifier := &fakeNotifier{}
	providers := &fakeProviderLookup{providers: map[string]bool{"Vkvredis": true, "Vhttp": true}}
	observer := newFakeObserver()

	r := New(b, "", claimsStore, links, notifier, providers, observer)
	require.NoError(t, r.Start(context.Background()))
	defer r.Stop()

	put := func(spec *types.ComponentSpec) {
		data, err := json.Marshal(spec)
		require.NoError(t, err)
		require.NoError(t, b.KVPut(context.Background(), "COMPONENT_Mecho", data))
	}

	put(&types.ComponentSpec{Links: []*types.Link{
		{TargetID: "Vkvredis", Namespace: "wasi", Package: "keyvalue", Name: "default"},
	}})
	waitForN(t, observer.notifyCh, 1)

	put(&types.ComponentSpec{Links: []*types.Link{
		{TargetID: "Vhttp", Namespace: "wasi", Package: "http", Name: "default"},
	}})
	waitForN(t, observer.notifyCh, 1)

	linksForSource := links.LinksForSource("Mecho")
	require.Len(t, linksForSource, 1)
	assert.Equal(t, "Vhttp", linksForSource[0].TargetID)
	assert.Equal(t, []string{"Vkvredis", "Vhttp"}, notifier.puts)
	assert.Equal(t, []string{"Vkvredis"}, notifier.deletes)
}

func TestReconcilerAppliesClaimsPutToStore(t *testing.T) {
	b := bus.NewMemory()
	defer b.Close()

	links := linktable.New()
	claimsStore := claims.NewStore(b)
	observer := newFakeObserver()

	r := New(b, "", claimsStore, links, nil, nil, observer)
	require.NoError(t, r.Start(context.Background()))
	defer r.Stop()

	c := &types.Claims{Subject: "Mecho", Kind: types.ClaimKindComponent, Name: "echo"}
	data, err := json.Marshal(c)
	require.NoError(t, err)
	require.NoError(t, b.KVPut(context.Background(), "CLAIMS_Mecho", data))

	require.Eventually(t, func() bool {
		_, ok := claimsStore.Get("Mecho")
		return ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestReconcilerSnapshotReplaySuppressesLifecycleFlag(t *testing.T) {
	b := bus.NewMemory()

	spec := &types.ComponentSpec{ImageReference: "oci://example/pre-seeded:1.0.0"}
	data, err := json.Marshal(spec)
	require.NoError(t, err)
	require.NoError(t, b.KVPut(context.Background(), "COMPONENT_Mpreseeded", data))

	links := linktable.New()
	claimsStore := claims.NewStore(b)
	observer := newFakeObserver()

	r := New(b, "", claimsStore, links, nil, nil, observer)
	require.NoError(t, r.Start(context.Background()))
	defer r.Stop()
	defer b.Close()

	waitForN(t, observer.notifyCh, 1)
	assert.Equal(t, 1, observer.snapshotPuts)
}

func TestReconcilerIgnoresLegacyLinkdefAndReservedRefmap(t *testing.T) {
	b := bus.NewMemory()
	defer b.Close()

	links := linktable.New()
	claimsStore := claims.NewStore(b)
	observer := newFakeObserver()
	r := New(b, "", claimsStore, links, nil, nil, observer)
	require.NoError(t, r.Start(context.Background()))
	defer r.Stop()

	require.NoError(t, b.KVPut(context.Background(), "LINKDEF_abc123", []byte("{}")))
	require.NoError(t, b.KVPut(context.Background(), "REFMAP_abc123", []byte("{}")))

	// Neither should reach the component observer; a subsequent real
	// component put should still be the only observed event.
	spec := &types.ComponentSpec{}
	data, err := json.Marshal(spec)
	require.NoError(t, err)
	require.NoError(t, b.KVPut(context.Background(), "COMPONENT_Mecho", data))
	waitForN(t, observer.notifyCh, 1)
	assert.Equal(t, []string{"Mecho"}, observer.puts)
}
