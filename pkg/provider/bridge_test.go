package provider

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	goruntime "runtime"
	"testing"
	"time"

	"github.com/nats-io/nkeys"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latticehq/hostd/pkg/bus"
	"github.com/latticehq/hostd/pkg/claims"
	"github.com/latticehq/hostd/pkg/types"
)

func buildArchive(t *testing.T, subject, binContent string) []byte {
	t.Helper()
	issuer, err := nkeys.CreateAccount()
	require.NoError(t, err)
	seed, err := issuer.Seed()
	require.NoError(t, err)

	claim := &types.Claims{Subject: subject, Kind: types.ClaimKindProvider, Name: "kv-redis"}
	require.NoError(t, claims.Sign(claim, string(seed)))

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "claims.jwt", Mode: 0o600, Size: int64(len(claim.EncodedJWT))}))
	_, err = tw.Write([]byte(claim.EncodedJWT))
	require.NoError(t, err)

	name := goruntime.GOARCH + "-" + goruntime.GOOS + ".bin"
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Mode: 0o700, Size: int64(len(binContent))}))
	_, err = tw.Write([]byte(binContent))
	require.NoError(t, err)

	require.NoError(t, tw.Close())
	return buf.Bytes()
}

func TestLoadArchiveSelectsMatchingBinary(t *testing.T) {
	tarBytes := buildArchive(t, "Vkvredis", "#!/bin/sh\nexit 0\n")

	a, err := LoadArchive(bytes.NewReader(tarBytes), "Vkvredis")
	require.NoError(t, err)
	assert.Equal(t, "kv-redis", a.Claims.Name)

	bin, err := a.Binary(goruntime.GOARCH, goruntime.GOOS)
	require.NoError(t, err)
	assert.Contains(t, string(bin), "exit 0")

	_, err = a.Binary("bogus", "bogus")
	assert.Error(t, err)
}

func TestLoadArchiveRejectsSubjectMismatch(t *testing.T) {
	tarBytes := buildArchive(t, "Vkvredis", "#!/bin/sh\nexit 0\n")

	_, err := LoadArchive(bytes.NewReader(tarBytes), "Vwrongsubject")
	assert.Error(t, err)
}

func publishProviderStarted(t *testing.T, b bus.Bus, lattice, providerID string) {
	t.Helper()
	data, err := json.Marshal(providerStartedData{ProviderID: providerID})
	require.NoError(t, err)
	env, err := json.Marshal(eventEnvelope{Type: "com.wasmcloud.lattice.provider_started", Data: data})
	require.NoError(t, err)
	require.NoError(t, b.Publish(context.Background(), eventsSubject(lattice), env))
}

func TestBridgeStartSucceedsOnHandshake(t *testing.T) {
	b := bus.NewMemory()
	defer b.Close()

	br := New(b, "L", "host-1", t.TempDir(), time.Second)
	tarBytes := buildArchive(t, "Vkvredis", "#!/bin/sh\nsleep 2\n")
	archive, err := LoadArchive(bytes.NewReader(tarBytes), "Vkvredis")
	require.NoError(t, err)

	go func() {
		time.Sleep(50 * time.Millisecond)
		publishProviderStarted(t, b, "L", "Vkvredis")
	}()

	info, err := br.Start(context.Background(), archive, "default", "nats://localhost:4222", nil, nil, "")
	require.NoError(t, err)
	assert.Equal(t, "Vkvredis", info.ID)
	assert.Equal(t, types.ProviderHealthHealthy, info.Health)

	require.NoError(t, br.Stop(context.Background(), "Vkvredis", 100*time.Millisecond))
}

func TestBridgeStartFailsWhenHandshakeTimesOut(t *testing.T) {
	b := bus.NewMemory()
	defer b.Close()

	br := New(b, "L", "host-1", t.TempDir(), 50*time.Millisecond)
	tarBytes := buildArchive(t, "Vslowprovider", "#!/bin/sh\nsleep 5\n")
	archive, err := LoadArchive(bytes.NewReader(tarBytes), "Vslowprovider")
	require.NoError(t, err)

	_, err = br.Start(context.Background(), archive, "default", "nats://localhost:4222", nil, nil, "")
	assert.Error(t, err)

	_, ok := br.Get("Vslowprovider")
	assert.False(t, ok)
}

func TestBridgeLinkPutAwaitsAck(t *testing.T) {
	b := bus.NewMemory()
	defer b.Close()

	br := New(b, "L", "host-1", t.TempDir(), time.Second)
	tarBytes := buildArchive(t, "Vkvredis", "#!/bin/sh\nsleep 2\n")
	archive, err := LoadArchive(bytes.NewReader(tarBytes), "Vkvredis")
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		publishProviderStarted(t, b, "L", "Vkvredis")
	}()
	_, err = br.Start(context.Background(), archive, "default", "nats://localhost:4222", nil, nil, "")
	require.NoError(t, err)
	defer br.Stop(context.Background(), "Vkvredis", 100*time.Millisecond)

	subject := rpcPrefix("L", "Vkvredis", "default") + ".linkdefs.put"
	_, err = b.Subscribe(context.Background(), subject, func(m *bus.Msg) {
		ack, _ := json.Marshal(ackEnvelope{Accepted: true})
		b.Publish(context.Background(), m.Reply, ack)
	})
	require.NoError(t, err)

	link := &types.Link{SourceID: "Msrc", TargetID: "Vkvredis", Namespace: "wasi", Package: "keyvalue", Name: "default"}
	require.NoError(t, br.LinkPut(context.Background(), "Vkvredis", link))
}
