package bus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/latticehq/hostd/pkg/log"
)

// NatsConfig configures the NATS-backed Bus implementation.
type NatsConfig struct {
	URL        string
	SeedFile   string // nkeys seed file for authentication, optional
	BucketName string // JetStream KV bucket backing kv_* operations
}

// NatsBus implements Bus over a single *nats.Conn plus a JetStream KV
// bucket for the kv_* operations, mirroring mcpany-core's nats bus
// package (one connection, generic Publish/Subscribe/SubscribeOnce) but
// extended with the watchable KV contract spec.md §4.1 requires.
type NatsBus struct {
	conn *nats.Conn
	js   jetstream.JetStream
	kv   jetstream.KeyValue
}

// NewNats dials the NATS server described by cfg and binds (creating if
// absent) the JetStream KV bucket used for kv_* operations.
func NewNats(ctx context.Context, cfg NatsConfig) (*NatsBus, error) {
	opts := []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Logger.Warn().Err(err).Msg("bus disconnected, reconnecting")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Logger.Info().Str("url", c.ConnectedUrl()).Msg("bus reconnected")
		}),
	}
	if cfg.SeedFile != "" {
		opt, err := nats.NkeyOptionFromSeed(cfg.SeedFile)
		if err != nil {
			return nil, unavailableErr(fmt.Errorf("loading nkey seed: %w", err))
		}
		opts = append(opts, opt)
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, unavailableErr(fmt.Errorf("connecting to %s: %w", cfg.URL, err))
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, unavailableErr(fmt.Errorf("creating jetstream context: %w", err))
	}

	bucket := cfg.BucketName
	if bucket == "" {
		bucket = "LATTICEDATA"
	}
	kv, err := js.KeyValue(ctx, bucket)
	if errors.Is(err, jetstream.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{Bucket: bucket})
	}
	if err != nil {
		conn.Close()
		return nil, unavailableErr(fmt.Errorf("binding kv bucket %s: %w", bucket, err))
	}

	return &NatsBus{conn: conn, js: js, kv: kv}, nil
}

func (b *NatsBus) Publish(_ context.Context, subject string, payload []byte) error {
	if err := b.conn.Publish(subject, payload); err != nil {
		return unavailableErr(err)
	}
	return nil
}

func (b *NatsBus) Request(ctx context.Context, subject string, payload []byte, timeout time.Duration) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	reply, err := b.conn.RequestWithContext(reqCtx, subject, payload)
	if err != nil {
		if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
			return nil, timeoutErr(subject)
		}
		if errors.Is(err, nats.ErrNoResponders) {
			return nil, unavailableErr(fmt.Errorf("no subscriber for %s", subject))
		}
		return nil, unavailableErr(err)
	}
	return reply.Data, nil
}

type natsSub struct {
	sub *nats.Subscription
}

func (s *natsSub) Unsubscribe() error {
	if s.sub == nil {
		return nil
	}
	return s.sub.Unsubscribe()
}

func toMsg(m *nats.Msg) *Msg {
	hdr := make(map[string]string, len(m.Header))
	for k := range m.Header {
		hdr[k] = m.Header.Get(k)
	}
	return &Msg{Subject: m.Subject, Reply: m.Reply, Data: m.Data, Header: hdr}
}

func (b *NatsBus) Subscribe(_ context.Context, subject string, handler Handler) (Subscription, error) {
	sub, err := b.conn.Subscribe(subject, func(m *nats.Msg) { handler(toMsg(m)) })
	if err != nil {
		return nil, unavailableErr(err)
	}
	return &natsSub{sub: sub}, nil
}

func (b *NatsBus) QueueSubscribe(_ context.Context, subject, group string, handler Handler) (Subscription, error) {
	sub, err := b.conn.QueueSubscribe(subject, group, func(m *nats.Msg) { handler(toMsg(m)) })
	if err != nil {
		return nil, unavailableErr(err)
	}
	return &natsSub{sub: sub}, nil
}

func (b *NatsBus) KVGet(ctx context.Context, key string) ([]byte, bool, error) {
	entry, err := b.kv.Get(ctx, kvSafeKey(key))
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, unavailableErr(err)
	}
	return entry.Value(), true, nil
}

func (b *NatsBus) KVPut(ctx context.Context, key string, value []byte) error {
	if _, err := b.kv.Put(ctx, kvSafeKey(key), value); err != nil {
		return unavailableErr(err)
	}
	return nil
}

func (b *NatsBus) KVDelete(ctx context.Context, key string) error {
	if err := b.kv.Delete(ctx, kvSafeKey(key)); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return unavailableErr(err)
	}
	return nil
}

func (b *NatsBus) KVKeys(ctx context.Context, prefix string) ([]string, error) {
	lister, err := b.kv.ListKeys(ctx)
	if err != nil {
		return nil, unavailableErr(err)
	}
	var keys []string
	for key := range lister.Keys() {
		if strings.HasPrefix(key, kvSafeKey(prefix)) {
			keys = append(keys, kvUnsafeKey(key))
		}
	}
	return keys, nil
}

// KVWatch delivers the existing snapshot under prefix as Put events and
// then live changes, closing the channel when ctx is cancelled.
func (b *NatsBus) KVWatch(ctx context.Context, prefix string) (<-chan KVEvent, error) {
	watcher, err := b.kv.Watch(ctx, kvSafeKey(prefix)+"*")
	if err != nil {
		return nil, unavailableErr(err)
	}

	out := make(chan KVEvent, 64)
	go func() {
		defer close(out)
		defer watcher.Stop()
		replaying := true
		for {
			select {
			case <-ctx.Done():
				return
			case entry, ok := <-watcher.Updates():
				if !ok {
					return
				}
				if entry == nil {
					// nil marks end-of-initial-snapshot in the jetstream API; no event to emit.
					replaying = false
					continue
				}
				ev := KVEvent{Key: kvUnsafeKey(entry.Key()), Value: entry.Value(), Snapshot: replaying}
				switch entry.Operation() {
				case jetstream.KeyValuePut:
					ev.Op = KVPut
				case jetstream.KeyValueDelete:
					ev.Op = KVDelete
				case jetstream.KeyValuePurge:
					ev.Op = KVPurge
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (b *NatsBus) Close() error {
	b.conn.Drain()
	return nil
}

// kvSafeKey replaces every '/' in key with '_'. The persisted key
// layout in spec.md §6.4 (e.g. CLAIMS_<subject>) contains no '/', so
// this is a no-op for those keys; '.' is left unchanged.
// kvUnsafeKey does not reverse the replacement.
func kvSafeKey(key string) string {
	return strings.ReplaceAll(key, "/", "_")
}

func kvUnsafeKey(key string) string {
	return key
}
