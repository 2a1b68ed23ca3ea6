package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBusPublishSubscribe(t *testing.T) {
	b := NewMemory()
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
	case <-time.After(time.Second):
		t.Fatal("handler was never called")
	}

	mu.Lock()
	assert.Equal(t, "hello", got)
	mu.Unlock()
}

func TestMemoryBusRequestReply(t *testing.T) {
	b := NewMemory()
	defer b.Close()

	sub, err := b.Subscribe(context.Background(), "wasmbus.rpc.default.M1.echo.call", func(msg *Msg) {
		b.Publish(context.Background(), msg.Reply, append([]byte("echo:"), msg.Data...))
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	reply, err := b.Request(context.Background(), "wasmbus.rpc.default.M1.echo.call", []byte("ping"), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "echo:ping", string(reply))
}

func TestMemoryBusRequestFailsWhenNoResponder(t *testing.T) {
	b := NewMemory()
	defer b.Close()

	_, err := b.Request(context.Background(), "wasmbus.rpc.default.nobody.call", nil, 50*time.Millisecond)
	require.Error(t, err)
}

func TestMemoryBusQueueSubscribeFansOutOnce(t *testing.T) {
	b := NewMemory()
	defer b.Close()

	var mu sync.Mutex
	counts := map[int]int{}
	for i := 0; i < 3; i++ {
		i := i
		_, err := b.QueueSubscribe(context.Background(), "wasmbus.rpc.default.V1.default.op", "V1-group", func(msg *Msg) {
			mu.Lock()
			counts[i]++
			mu.Unlock()
		})
		require.NoError(t, err)
	}

	for i := 0; i < 5; i++ {
		require.NoError(t, b.Publish(context.Background(), "wasmbus.rpc.default.V1.default.op", []byte("x")))
	}
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	total := counts[0] + counts[1] + counts[2]
	mu.Unlock()
	assert.Equal(t, 5, total, "each publish is delivered to exactly one queue group member")
}

func TestMemoryBusKVWatchDeliversSnapshotThenChanges(t *testing.T) {
	b := NewMemory()
	defer b.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, b.KVPut(ctx, "CLAIMS_M1", []byte("one")))

	events, err := b.KVWatch(ctx, "CLAIMS_")
	require.NoError(t, err)

	snapshot := <-events
	assert.Equal(t, KVPut, snapshot.Op)
	assert.Equal(t, "CLAIMS_M1", snapshot.Key)

	require.NoError(t, b.KVPut(ctx, "CLAIMS_M2", []byte("two")))
	change := <-events
	assert.Equal(t, "CLAIMS_M2", change.Key)

	require.NoError(t, b.KVDelete(ctx, "CLAIMS_M1"))
	del := <-events
	assert.Equal(t, KVDelete, del.Op)
	assert.Equal(t, "CLAIMS_M1", del.Key)
}

func TestMemoryBusKVGetMissing(t *testing.T) {
	b := NewMemory()
	defer b.Close()
	_, ok, err := b.KVGet(context.Background(), "CLAIMS_missing")
	require.NoError(t, err)
	assert.False(t, ok)
}
