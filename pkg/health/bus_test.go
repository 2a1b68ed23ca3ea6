package health

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latticehq/hostd/pkg/bus"
)

func TestBusCheckerHealthyWhenSubjectReplies(t *testing.T) {
	b := bus.NewMemory()
	defer b.Close()

	sub, err := b.Subscribe(context.Background(), "wasmbus.rpc.default.Vkvredis.default.health", func(m *bus.Msg) {
		b.Publish(context.Background(), m.Reply, []byte("ok"))
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	checker := NewBusChecker(b, "wasmbus.rpc.default.Vkvredis.default.health", time.Second)
	result := checker.Check(context.Background())
	assert.True(t, result.Healthy)
	assert.Equal(t, CheckTypeBus, checker.Type())
}

func TestBusCheckerUnhealthyWhenNoSubscriber(t *testing.T) {
	b := bus.NewMemory()
	defer b.Close()

	checker := NewBusChecker(b, "wasmbus.rpc.default.Vghost.default.health", 100*time.Millisecond)
	result := checker.Check(context.Background())
	assert.False(t, result.Healthy)
}
