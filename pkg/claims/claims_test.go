package claims

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nkeys"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latticehq/hostd/pkg/bus"
	"github.com/latticehq/hostd/pkg/types"
)

func issuerSeed(t *testing.T) string {
	t.Helper()
	kp, err := nkeys.CreateAccount()
	require.NoError(t, err)
	seed, err := kp.Seed()
	require.NoError(t, err)
	return string(seed)
}

func TestSignAndDecodeRoundTrip(t *testing.T) {
	seed := issuerSeed(t)
	subjectKP, err := nkeys.CreatePair(nkeys.PrefixByte('M'))
	require.NoError(t, err)
	subject, err := subjectKP.PublicKey()
	require.NoError(t, err)

	claim := &types.Claims{
		Subject:      subject,
		Kind:         types.ClaimKindComponent,
		Name:         "echo",
		Version:      "1.2.0",
		Revision:     7,
		CallAlias:    "echo-alias",
		Capabilities: []string{"wasi:keyvalue"},
	}

	token, err := Sign(claim, seed)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	decoded, err := Decode(token, subject)
	require.NoError(t, err)
	assert.Equal(t, "echo", decoded.Name)
	assert.Equal(t, types.ClaimKindComponent, decoded.Kind)
	assert.Equal(t, int64(7), decoded.Revision)
	assert.Equal(t, []string{"wasi:keyvalue"}, decoded.Capabilities)
}

func TestDecodeRejectsSubjectMismatch(t *testing.T) {
	seed := issuerSeed(t)
	subjectKP, err := nkeys.CreatePair(nkeys.PrefixByte('M'))
	require.NoError(t, err)
	subject, err := subjectKP.PublicKey()
	require.NoError(t, err)

	token, err := Sign(&types.Claims{Subject: subject, Kind: types.ClaimKindComponent, Name: "echo"}, seed)
	require.NoError(t, err)

	_, err = Decode(token, "Mdifferent")
	require.Error(t, err)
}

func TestStorePutGetDelete(t *testing.T) {
	b := bus.NewMemory()
	defer b.Close()
	store := NewStore(b)
	ctx := context.Background()

	claim := &types.Claims{Subject: "Mxyz", Kind: types.ClaimKindComponent, Name: "echo"}
	require.NoError(t, store.Put(ctx, claim))

	got, ok := store.Get("Mxyz")
	require.True(t, ok)
	assert.Equal(t, "echo", got.Name)

	require.NoError(t, store.Delete(ctx, "Mxyz"))
	_, ok = store.Get("Mxyz")
	assert.False(t, ok)
}

func TestStoreWatchSyncsCacheFromBus(t *testing.T) {
	b := bus.NewMemory()
	defer b.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	writer := NewStore(b)
	require.NoError(t, writer.Put(ctx, &types.Claims{Subject: "Mabc", Kind: types.ClaimKindComponent, Name: "pre-existing"}))

	reader := NewStore(b)
	require.NoError(t, reader.Watch(ctx))

	require.Eventually(t, func() bool {
		_, ok := reader.Get("Mabc")
		return ok
	}, time.Second, 10*time.Millisecond)
}
