package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startEmbeddedNats(t *testing.T) string {
	t.Helper()
	opts := &natsserver.Options{Port: -1, JetStream: true, StoreDir: t.TempDir()}
	s, err := natsserver.NewServer(opts)
	require.NoError(t, err)
	go s.Start()
	if !s.ReadyForConnections(4 * time.Second) {
		t.Fatalf("embedded nats server failed to start")
	}
	t.Cleanup(s.Shutdown)
	return s.ClientURL()
}

func TestNatsBusPublishSubscribe(t *testing.T) {
	url := startEmbeddedNats(t)
	b, err := NewNats(context.Background(), NatsConfig{URL: url, BucketName: "TESTDATA"})
	require.NoError(t, err)
	defer b.Close()

	var mu sync.Mutex
	var got string
	done := make(chan struct{})

	sub, err := b.Subscribe(context.Background(), "wasmbus.evt.default", func(msg *Msg) {
		mu.Lock()
		got = string(msg.Data)
		mu.Unlock()
		close(done)
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.NoError(t, b.Publish(context.Background(), "wasmbus.evt.default", []byte("hello")))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler was never called")
	}
	mu.Lock()
	assert.Equal(t, "hello", got)
	mu.Unlock()
}

func TestNatsBusKVPutGetKeys(t *testing.T) {
	url := startEmbeddedNats(t)
	b, err := NewNats(context.Background(), NatsConfig{URL: url, BucketName: "TESTDATA2"})
	require.NoError(t, err)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, b.KVPut(ctx, "CLAIMS_M1", []byte("one")))

	value, ok, err := b.KVGet(ctx, "CLAIMS_M1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "one", string(value))

	keys, err := b.KVKeys(ctx, "CLAIMS_")
	require.NoError(t, err)
	assert.Contains(t, keys, "CLAIMS_M1")
}
