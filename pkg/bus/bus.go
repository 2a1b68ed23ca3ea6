// Package bus defines the lattice message bus contract (§4.1): publish,
// request/reply, subscribe, queue-group subscribe, and a watchable
// key/value store. Two implementations are provided: a NATS-backed bus
// for real deployments (pkg/bus's nats.go) and an in-memory bus for
// unit tests that don't need a running NATS server.
package bus

import (
	"context"
	"time"

	"github.com/latticehq/hostd/pkg/errs"
)

// KVOp distinguishes the three kinds of change a watcher can observe.
type KVOp string

const (
	KVPut    KVOp = "put"
	KVDelete KVOp = "delete"
	KVPurge  KVOp = "purge"
)

// KVEvent is one entry delivered by a kv_watch stream. Snapshot is
// true for events delivered during the initial replay of existing
// keys under the watched prefix, and false for events reflecting a
// live change made after the watch was established — callers that
// must not react to startup state (e.g. the reconciler, spec.md
// §4.8) use this to suppress lifecycle side effects during replay.
type KVEvent struct {
	Key      string
	Op       KVOp
	Value    []byte
	Snapshot bool
}

// Msg is an inbound message delivered to a Subscribe/QueueSubscribe
// handler, carrying enough to reply if the sender used Request.
type Msg struct {
	Subject string
	Reply   string
	Data    []byte
	Header  map[string]string
}

// Handler processes one inbound message.
type Handler func(msg *Msg)

// Subscription can be cancelled by the caller; Unsubscribe must be
// safe to call more than once.
type Subscription interface {
	Unsubscribe() error
}

// Bus is the lattice transport and watchable-KV contract described in
// spec.md §4.1. Every method that crosses the wire can fail with an
// *errs.Error of kind errs.KindBusUnavailable or errs.KindTimeout.
//
// Guarantees: a single connection per host; reconnection is automatic
// and transparent to callers; subscriptions survive reconnects.
type Bus interface {
	Publish(ctx context.Context, subject string, payload []byte) error
	Request(ctx context.Context, subject string, payload []byte, timeout time.Duration) ([]byte, error)
	Subscribe(ctx context.Context, subject string, handler Handler) (Subscription, error)
	QueueSubscribe(ctx context.Context, subject, group string, handler Handler) (Subscription, error)

	KVGet(ctx context.Context, key string) ([]byte, bool, error)
	KVPut(ctx context.Context, key string, value []byte) error
	KVDelete(ctx context.Context, key string) error
	// KVWatch delivers the current snapshot of keys under prefix as Put
	// events, immediately followed by live changes, in one ordered
	// stream per watcher, until ctx is cancelled.
	KVWatch(ctx context.Context, prefix string) (<-chan KVEvent, error)
	KVKeys(ctx context.Context, prefix string) ([]string, error)

	Close() error
}

func timeoutErr(subject string) error {
	return errs.Timeout("no reply on subject " + subject + " within deadline")
}

func unavailableErr(cause error) error {
	return errs.Wrap(errs.KindBusUnavailable, "bus transport failed", cause)
}
