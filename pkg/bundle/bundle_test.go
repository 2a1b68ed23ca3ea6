package bundle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latticehq/hostd/pkg/bus"
	"github.com/latticehq/hostd/pkg/security"
	"github.com/latticehq/hostd/pkg/types"
)

func TestPutGetRoundTrip(t *testing.T) {
	b := bus.NewMemory()
	defer b.Close()
	bd := New(b, "CONFIG_")
	ctx := context.Background()

	require.NoError(t, bd.Put(ctx, &types.ConfigEntry{Name: "echo-cfg", Values: map[string]string{"LOG_LEVEL": "debug"}}))

	got, ok := bd.Get("echo-cfg")
	require.True(t, ok)
	assert.Equal(t, "debug", got["LOG_LEVEL"])
}

func TestWatchYieldsSnapshotThenChanges(t *testing.T) {
	b := bus.NewMemory()
	defer b.Close()
	bd := New(b, "CONFIG_")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, bd.Put(ctx, &types.ConfigEntry{Name: "echo-cfg", Values: map[string]string{"A": "1"}}))
	require.NoError(t, bd.Run(ctx))

	ch := bd.Watch(ctx, "echo-cfg")
	snapshot := <-ch
	assert.Equal(t, "1", snapshot["A"])

	require.NoError(t, bd.Put(ctx, &types.ConfigEntry{Name: "echo-cfg", Values: map[string]string{"A": "2"}}))

	select {
	case next := <-ch:
		assert.Equal(t, "2", next["A"])
	case <-time.After(time.Second):
		t.Fatal("watcher never observed the update")
	}
}

func TestWatchYieldsEmptyMapOnDelete(t *testing.T) {
	b := bus.NewMemory()
	defer b.Close()
	bd := New(b, "CONFIG_")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, bd.Put(ctx, &types.ConfigEntry{Name: "echo-cfg", Values: map[string]string{"A": "1"}}))
	require.NoError(t, bd.Run(ctx))

	ch := bd.Watch(ctx, "echo-cfg")
	<-ch // snapshot

	require.NoError(t, bd.Delete(ctx, "echo-cfg"))

	select {
	case next := <-ch:
		assert.Empty(t, next)
	case <-time.After(time.Second):
		t.Fatal("watcher never observed the delete")
	}
}

func TestWatchOfUnknownNameYieldsEmptySnapshot(t *testing.T) {
	b := bus.NewMemory()
	defer b.Close()
	bd := New(b, "CONFIG_")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := bd.Watch(ctx, "never-created")
	snapshot := <-ch
	assert.Empty(t, snapshot)
}

func TestSecretsBundleStoresCiphertextOnTheBus(t *testing.T) {
	b := bus.NewMemory()
	defer b.Close()
	ctx := context.Background()

	sealer, err := security.NewAESGCMSealer(security.DeriveSealKey("test-lattice"))
	require.NoError(t, err)

	bd := NewSecrets(b, "SECRETS_", sealer)
	require.NoError(t, bd.Put(ctx, &types.ConfigEntry{Name: "db", Values: map[string]string{"password": "hunter2"}}))

	raw, ok, err := b.KVGet(ctx, "SECRETS_db")
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotContains(t, string(raw), "hunter2")

	got, ok := bd.Get("db")
	require.True(t, ok)
	assert.Equal(t, "hunter2", got["password"])
}

func TestSecretsBundleWatchOpensSealedUpdates(t *testing.T) {
	b := bus.NewMemory()
	defer b.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sealer, err := security.NewAESGCMSealer(security.DeriveSealKey("test-lattice"))
	require.NoError(t, err)

	bd := NewSecrets(b, "SECRETS_", sealer)
	require.NoError(t, bd.Put(ctx, &types.ConfigEntry{Name: "db", Values: map[string]string{"password": "hunter2"}}))
	require.NoError(t, bd.Run(ctx))

	ch := bd.Watch(ctx, "db")
	snapshot := <-ch
	assert.Equal(t, "hunter2", snapshot["password"])

	require.NoError(t, bd.Put(ctx, &types.ConfigEntry{Name: "db", Values: map[string]string{"password": "rotated"}}))

	select {
	case next := <-ch:
		assert.Equal(t, "rotated", next["password"])
	case <-time.After(time.Second):
		t.Fatal("watcher never observed the sealed update")
	}
}
