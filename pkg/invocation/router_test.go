package invocation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latticehq/hostd/pkg/bus"
	"github.com/latticehq/hostd/pkg/errs"
	"github.com/latticehq/hostd/pkg/linktable"
	"github.com/latticehq/hostd/pkg/types"
	"github.com/latticehq/hostd/pkg/xkeys"
)

type fakeTarget struct {
	lastOperation string
	lastPayload   []byte
	result        []byte
	err           error
}

func (f *fakeTarget) Invoke(ctx context.Context, operation string, payload []byte) ([]byte, error) {
	f.lastOperation = operation
	f.lastPayload = payload
	return f.result, f.err
}

func TestRouterInvokeShortCircuitsLocalTarget(t *testing.T) {
	r := New(bus.NewMemory(), "L", linktable.New(), time.Second)
	target := &fakeTarget{result: []byte("pong")}
	r.RegisterLocal("Mtarget", target)

	resp, err := r.Invoke(context.Background(), "Msource", "Mtarget", "wasi:keyvalue", "Get", []byte("key"))
	require.NoError(t, err)
	assert.Equal(t, []byte("pong"), resp)
	assert.Equal(t, "wasi:keyvalue.Get", target.lastOperation)
}

func TestRouterInvokeOverBusRoundTrips(t *testing.T) {
	b := bus.NewMemory()
	defer b.Close()
	r := New(b, "L", linktable.New(), time.Second)

	subject := r.Subject("Mtarget", "wasi:keyvalue", "Get")
	_, err := b.Subscribe(context.Background(), subject, func(m *bus.Msg) {
		header, payload, err := DecodeEnvelope(m.Data)
		if err != nil {
			return
		}
		assert.Equal(t, "Msource", header[headerSourceID])
		assert.Equal(t, []byte("key"), payload)
		b.Publish(context.Background(), m.Reply, []byte("value"))
	})
	require.NoError(t, err)

	resp, err := r.Invoke(context.Background(), "Msource", "Mtarget", "wasi:keyvalue", "Get", []byte("key"))
	require.NoError(t, err)
	assert.Equal(t, []byte("value"), resp)
}

func TestRouterInvokeNoSubscriberIsNotRouted(t *testing.T) {
	b := bus.NewMemory()
	defer b.Close()
	r := New(b, "L", linktable.New(), 50*time.Millisecond)

	_, err := r.Invoke(context.Background(), "Msource", "Mtarget", "wasi:keyvalue", "Get", []byte("key"))
	require.Error(t, err)
	assert.Equal(t, errs.KindNotRouted, errs.KindOf(err))
}

func TestRouterInvokeSealsPayloadWhenBothEndpointsAdvertiseXKeys(t *testing.T) {
	b := bus.NewMemory()
	defer b.Close()
	r := New(b, "L", linktable.New(), time.Second)

	recipient, err := xkeys.Generate()
	require.NoError(t, err)
	recipientPub, err := recipient.PublicKey()
	require.NoError(t, err)

	r.RegisterXKey("Msource", "does-not-matter-if-nonempty")
	r.RegisterXKey("Mtarget", recipientPub)

	subject := r.Subject("Mtarget", "wasi:keyvalue", "Get")
	var capturedPayload []byte
	var capturedSenderPub string
	_, err = b.Subscribe(context.Background(), subject, func(m *bus.Msg) {
		header, payload, err := DecodeEnvelope(m.Data)
		if err != nil {
			return
		}
		capturedPayload = payload
		capturedSenderPub = header[headerXKeySender]
		b.Publish(context.Background(), m.Reply, []byte("ack"))
	})
	require.NoError(t, err)

	_, err = r.Invoke(context.Background(), "Msource", "Mtarget", "wasi:keyvalue", "Get", []byte("plaintext"))
	require.NoError(t, err)

	assert.NotEqual(t, []byte("plaintext"), capturedPayload)
	require.NotEmpty(t, capturedSenderPub)

	opened, err := recipient.Open(capturedPayload, capturedSenderPub)
	require.NoError(t, err)
	assert.Equal(t, []byte("plaintext"), opened)
}

func TestRouterDispatchResolvesLinkAndForwards(t *testing.T) {
	b := bus.NewMemory()
	defer b.Close()
	links := linktable.New()
	links.Put(&types.Link{SourceID: "Mcomp", TargetID: "Vkvredis", Namespace: "wasi", Package: "keyvalue", Name: "default"})
	r := New(b, "L", links, time.Second)

	subject := r.Subject("Vkvredis", "wasi:keyvalue", "Get")
	_, err := b.Subscribe(context.Background(), subject, func(m *bus.Msg) {
		_, payload, err := DecodeEnvelope(m.Data)
		if err != nil {
			return
		}
		assert.Equal(t, []byte("key"), payload)
		b.Publish(context.Background(), m.Reply, []byte("value"))
	})
	require.NoError(t, err)

	resp, err := r.Dispatch(context.Background(), "Mcomp", "wasi:keyvalue", "Get", []byte("key"))
	require.NoError(t, err)
	assert.Equal(t, []byte("value"), resp)
}

func TestRouterDispatchUnboundNamespaceIsUnauthorized(t *testing.T) {
	r := New(bus.NewMemory(), "L", linktable.New(), time.Second)
	_, err := r.Dispatch(context.Background(), "Mcomp", "wasi:keyvalue", "Get", []byte("key"))
	require.Error(t, err)
	assert.Equal(t, errs.KindUnauthorizedOrUnbound, errs.KindOf(err))
}

func TestTraceContextRoundTrips(t *testing.T) {
	ctx := WithTraceContext(context.Background(), "00-trace-id-01")
	tp, ok := TraceContextFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "00-trace-id-01", tp)

	_, ok = TraceContextFromContext(context.Background())
	assert.False(t, ok)
}

func TestEnvelopeRoundTrips(t *testing.T) {
	header := map[string]string{"source_id": "Msource", "traceparent": "tp"}
	framed, err := EncodeEnvelope(header, []byte("payload"))
	require.NoError(t, err)

	gotHeader, gotPayload, err := DecodeEnvelope(framed)
	require.NoError(t, err)
	assert.Equal(t, header, gotHeader)
	assert.Equal(t, []byte("payload"), gotPayload)
}
