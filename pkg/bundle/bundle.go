// Package bundle implements the config bundle described in spec.md
// §4.4: named, watchable configuration maps backed by the bus KV
// store, plus a parallel secrets bundle (§6.4's SECRETS_<lattice>
// bucket) whose values never cross log or trace boundaries.
package bundle

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/latticehq/hostd/pkg/bus"
	"github.com/latticehq/hostd/pkg/log"
	"github.com/latticehq/hostd/pkg/security"
	"github.com/latticehq/hostd/pkg/types"
)

// Bundle holds named configuration maps, locally cached from the bus's
// CONFIG_ prefix and kept current by a background watch. When sealer
// is non-nil (the SECRETS_ bucket), every value this Bundle writes to
// or reads from the bus is sealed/opened with it, so the bus KV store
// only ever holds ciphertext for secrets (spec.md §6.4).
type Bundle struct {
	b      bus.Bus
	prefix string
	sealer security.Sealer

	mu       sync.RWMutex
	entries  map[string]map[string]string
	watchers map[string][]chan map[string]string
}

// New creates a Bundle keyed under keyPrefix (e.g. "CONFIG_" for
// regular config), storing values in the bus KV as plain JSON.
func New(b bus.Bus, keyPrefix string) *Bundle {
	return newBundle(b, keyPrefix, nil)
}

// NewSecrets creates a Bundle keyed under keyPrefix (e.g. "SECRETS_")
// whose values are sealed with sealer before they reach the bus KV
// store and opened on read, so secret plaintext never crosses the bus
// or its persistence layer.
func NewSecrets(b bus.Bus, keyPrefix string, sealer security.Sealer) *Bundle {
	return newBundle(b, keyPrefix, sealer)
}

func newBundle(b bus.Bus, keyPrefix string, sealer security.Sealer) *Bundle {
	return &Bundle{
		b:        b,
		prefix:   keyPrefix,
		sealer:   sealer,
		entries:  make(map[string]map[string]string),
		watchers: make(map[string][]chan map[string]string),
	}
}

func (bd *Bundle) key(name string) string {
	return bd.prefix + name
}

// Get returns the locally cached map for name, if any.
func (bd *Bundle) Get(name string) (map[string]string, bool) {
	bd.mu.RLock()
	defer bd.mu.RUnlock()
	m, ok := bd.entries[name]
	if !ok {
		return nil, false
	}
	return cloneMap(m), true
}

// Put writes entry under name and updates the local cache.
func (bd *Bundle) Put(ctx context.Context, entry *types.ConfigEntry) error {
	data, err := json.Marshal(entry.Values)
	if err != nil {
		return err
	}
	if bd.sealer != nil {
		data, err = bd.sealer.Seal(data)
		if err != nil {
			return err
		}
	}
	if err := bd.b.KVPut(ctx, bd.key(entry.Name), data); err != nil {
		return err
	}
	bd.mu.Lock()
	bd.entries[entry.Name] = cloneMap(entry.Values)
	bd.mu.Unlock()
	return nil
}

// Delete removes name from the bus and the local cache; any watcher of
// name receives an empty map, per spec.md §4.4.
func (bd *Bundle) Delete(ctx context.Context, name string) error {
	if err := bd.b.KVDelete(ctx, bd.key(name)); err != nil {
		return err
	}
	bd.mu.Lock()
	delete(bd.entries, name)
	bd.mu.Unlock()
	return nil
}

// Watch returns a channel that yields the current value of name and
// then every subsequent change, until ctx is cancelled. If name is
// later deleted the channel receives an empty map. Channels with no
// receiver are abandoned on ctx cancellation (garbage collected).
func (bd *Bundle) Watch(ctx context.Context, name string) <-chan map[string]string {
	ch := make(chan map[string]string, 8)

	bd.mu.Lock()
	if current, ok := bd.entries[name]; ok {
		ch <- cloneMap(current)
	} else {
		ch <- map[string]string{}
	}
	bd.watchers[name] = append(bd.watchers[name], ch)
	bd.mu.Unlock()

	go func() {
		<-ctx.Done()
		bd.mu.Lock()
		defer bd.mu.Unlock()
		list := bd.watchers[name]
		for i, c := range list {
			if c == ch {
				bd.watchers[name] = append(list[:i], list[i+1:]...)
				break
			}
		}
		close(ch)
	}()

	return ch
}

// Run consumes the bus's watch on this bundle's prefix, refreshing the
// local cache and notifying Watch()ers, until ctx is cancelled.
// Deserialization errors are logged and the channel holds its previous
// value, per spec.md §4.4.
func (bd *Bundle) Run(ctx context.Context) error {
	events, err := bd.b.KVWatch(ctx, bd.prefix)
	if err != nil {
		return err
	}

	go func() {
		for ev := range events {
			name := ev.Key[len(bd.prefix):]
			switch ev.Op {
			case bus.KVDelete, bus.KVPurge:
				bd.mu.Lock()
				delete(bd.entries, name)
				watchers := append([]chan map[string]string(nil), bd.watchers[name]...)
				bd.mu.Unlock()
				for _, ch := range watchers {
					ch <- map[string]string{}
				}
			case bus.KVPut:
				raw := ev.Value
				if bd.sealer != nil {
					opened, err := bd.sealer.Open(raw)
					if err != nil {
						log.Logger.Error().Err(err).Str("name", name).Msg("failed to open sealed config entry, keeping previous value")
						continue
					}
					raw = opened
				}
				var values map[string]string
				if err := json.Unmarshal(raw, &values); err != nil {
					log.Logger.Error().Err(err).Str("name", name).Msg("undecodable config entry, keeping previous value")
					continue
				}
				bd.mu.Lock()
				bd.entries[name] = values
				watchers := append([]chan map[string]string(nil), bd.watchers[name]...)
				bd.mu.Unlock()
				for _, ch := range watchers {
					ch <- cloneMap(values)
				}
			}
		}
	}()
	return nil
}

func cloneMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
