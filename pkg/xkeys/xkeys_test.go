package xkeys

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealOpenRoundTrip(t *testing.T) {
	sender, err := Generate()
	require.NoError(t, err)
	recipient, err := Generate()
	require.NoError(t, err)

	recipientPub, err := recipient.PublicKey()
	require.NoError(t, err)
	senderPub, err := sender.PublicKey()
	require.NoError(t, err)

	sealed, err := sender.Seal([]byte("invocation payload"), recipientPub)
	require.NoError(t, err)

	opened, err := recipient.Open(sealed, senderPub)
	require.NoError(t, err)
	assert.Equal(t, "invocation payload", string(opened))
}

func TestOpenFailsForWrongRecipient(t *testing.T) {
	sender, err := Generate()
	require.NoError(t, err)
	recipient, err := Generate()
	require.NoError(t, err)
	eavesdropper, err := Generate()
	require.NoError(t, err)

	recipientPub, err := recipient.PublicKey()
	require.NoError(t, err)
	senderPub, err := sender.PublicKey()
	require.NoError(t, err)

	sealed, err := sender.Seal([]byte("secret"), recipientPub)
	require.NoError(t, err)

	_, err = eavesdropper.Open(sealed, senderPub)
	assert.Error(t, err)
}

func TestFromSeedReconstructsSameKey(t *testing.T) {
	original, err := Generate()
	require.NoError(t, err)
	seed, err := original.Seed()
	require.NoError(t, err)
	originalPub, err := original.PublicKey()
	require.NoError(t, err)

	restored, err := FromSeed(seed)
	require.NoError(t, err)
	restoredPub, err := restored.PublicKey()
	require.NoError(t, err)

	assert.Equal(t, originalPub, restoredPub)
}
