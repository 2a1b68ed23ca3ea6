package reconciler

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/latticehq/hostd/pkg/bus"
	"github.com/latticehq/hostd/pkg/claims"
	"github.com/latticehq/hostd/pkg/linktable"
	"github.com/latticehq/hostd/pkg/log"
	"github.com/latticehq/hostd/pkg/types"
)

const componentPrefix = "COMPONENT"
const claimsPrefix = "CLAIMS"
const linkdefPrefix = "LINKDEF"
const refmapPrefix = "REFMAP"

// LinkNotifier forwards link acceptance/removal to a running provider
// process, per spec.md §4.6's link propagation. *provider.Bridge
// satisfies this structurally.
type LinkNotifier interface {
	LinkPut(ctx context.Context, providerID string, link *types.Link) error
	LinkDelete(ctx context.Context, providerID string, key types.LinkKey) error
}

// ProviderLookup reports whether id is a running provider, so the
// reconciler knows which side(s) of a link to notify.
type ProviderLookup interface {
	IsProvider(id string) bool
}

// ComponentObserver is notified after a component spec change has
// been fully applied to the link table, so pkg/host can react (it
// redeploys an already-loaded component whose image reference changed). snapshot is true while
// processing the initial KV replay.
type ComponentObserver interface {
	OnComponentPut(ctx context.Context, id string, spec *types.ComponentSpec, snapshot bool)
	OnComponentDelete(ctx context.Context, id string, snapshot bool)
}

// Reconciler is the lattice-wide KV dispatch table of spec.md §4.8.
type Reconciler struct {
	b          bus.Bus
	dataPrefix string
	claimsStore *claims.Store
	links      *linktable.Table
	notifier   LinkNotifier
	providers  ProviderLookup
	observer   ComponentObserver

	mu    sync.Mutex
	specs map[string]*types.ComponentSpec

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Reconciler. notifier, providers and observer may be
// nil (a reconciler with no component observer still keeps the link
// table and claims store correct; it just has nothing to tell about
// component lifecycle).
func New(b bus.Bus, dataPrefix string, claimsStore *claims.Store, links *linktable.Table, notifier LinkNotifier, providers ProviderLookup, observer ComponentObserver) *Reconciler {
	return &Reconciler{
		b:           b,
		dataPrefix:  dataPrefix,
		claimsStore: claimsStore,
		links:       links,
		notifier:    notifier,
		providers:   providers,
		observer:    observer,
		specs:       make(map[string]*types.ComponentSpec),
	}
}

// Start begins the lattice-wide KV watch. Events are applied serially
// by a single goroutine in delivery order.
func (r *Reconciler) Start(ctx context.Context) error {
	watchCtx, cancel := context.WithCancel(ctx)

	events, err := r.b.KVWatch(watchCtx, r.dataPrefix)
	if err != nil {
		cancel()
		return err
	}

	r.cancel = cancel
	r.done = make(chan struct{})

	go func() {
		defer close(r.done)
		for ev := range events {
			r.apply(ctx, ev)
		}
	}()

	log.Logger.Info().Str("prefix", r.dataPrefix).Msg("reconciler watch started")
	return nil
}

// Stop cancels the watch and waits for the dispatch goroutine to
// drain its remaining buffered events.
func (r *Reconciler) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.done
}

// Spec returns the reconciler's current view of a component's desired
// spec, if any.
func (r *Reconciler) Spec(id string) (*types.ComponentSpec, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.specs[id]
	return s, ok
}

func (r *Reconciler) apply(ctx context.Context, ev bus.KVEvent) {
	token, rest, found := strings.Cut(ev.Key, "_")
	if !found {
		log.Logger.Warn().Str("key", ev.Key).Msg("reconciler: key has no recognized prefix")
		return
	}

	switch token {
	case componentPrefix:
		r.applyComponent(ctx, rest, ev)
	case claimsPrefix:
		r.applyClaims(ctx, rest, ev)
	case linkdefPrefix:
		log.Logger.Debug().Str("key", ev.Key).Msg("reconciler: ignoring legacy LINKDEF key")
	case refmapPrefix:
		log.Logger.Debug().Str("key", ev.Key).Msg("reconciler: REFMAP key reserved, no handler yet")
	default:
		log.Logger.Warn().Str("key", ev.Key).Str("prefix", token).Msg("reconciler: unrecognized key prefix")
	}
}

func (r *Reconciler) applyClaims(ctx context.Context, subject string, ev bus.KVEvent) {
	switch ev.Op {
	case bus.KVDelete, bus.KVPurge:
		r.claimsStore.ApplyDelete(subject)
	case bus.KVPut:
		if err := r.claimsStore.ApplyPut(subject, ev.Value); err != nil {
			log.Logger.Error().Err(err).Str("subject", subject).Msg("reconciler: rejecting invalid claims put")
		}
	}
}

func (r *Reconciler) applyComponent(ctx context.Context, id string, ev bus.KVEvent) {
	switch ev.Op {
	case bus.KVDelete, bus.KVPurge:
		r.mu.Lock()
		delete(r.specs, id)
		r.mu.Unlock()

		// spec.md §4.8: deleting a spec does not stop a running
		// component; it only stops being reconciled toward.
		if r.observer != nil {
			r.observer.OnComponentDelete(ctx, id, ev.Snapshot)
		}

	case bus.KVPut:
		var spec types.ComponentSpec
		if err := json.Unmarshal(ev.Value, &spec); err != nil {
			log.Logger.Error().Err(err).Str("component_id", id).Msg("reconciler: undecodable component spec, skipping")
			return
		}

		r.mu.Lock()
		prev := r.specs[id]
		r.specs[id] = &spec
		r.mu.Unlock()

		r.diffLinks(ctx, id, prev, &spec)

		if r.observer != nil {
			r.observer.OnComponentPut(ctx, id, &spec, ev.Snapshot)
		}
	}
}

// diffLinks applies the link-table and provider-notification side
// effects of replacing prev with next for component id. Links present
// in next but not prev are added (and bound providers notified);
// links present in prev but absent from next are removed (and bound
// providers notified of the removal).
func (r *Reconciler) diffLinks(ctx context.Context, id string, prev, next *types.ComponentSpec) {
	prevByKey := make(map[types.LinkKey]*types.Link)
	if prev != nil {
		for _, l := range prev.Links {
			l.SourceID = id
			prevByKey[l.KeyFromSource()] = l
		}
	}

	nextByKey := make(map[types.LinkKey]*types.Link)
	for _, l := range next.Links {
		l.SourceID = id
		nextByKey[l.KeyFromSource()] = l
	}

	for key, l := range nextByKey {
		if old, ok := prevByKey[key]; ok && old.Equal(l) {
			continue
		}
		// Materialize to bound providers before the link becomes
		// visible to routing, per spec.md §3's link-materialization
		// invariant.
		r.notifyLink(ctx, l, true)
		r.links.Put(l)
	}

	for key, l := range prevByKey {
		if _, stillPresent := nextByKey[key]; stillPresent {
			continue
		}
		r.links.Delete(key)
		r.notifyLink(ctx, l, false)
	}
}

func (r *Reconciler) notifyLink(ctx context.Context, l *types.Link, added bool) {
	if r.notifier == nil || r.providers == nil {
		return
	}
	for _, providerID := range []string{l.SourceID, l.TargetID} {
		if !r.providers.IsProvider(providerID) {
			continue
		}
		var err error
		if added {
			err = r.notifier.LinkPut(ctx, providerID, l)
		} else {
			err = r.notifier.LinkDelete(ctx, providerID, l.KeyFromSource())
		}
		if err != nil {
			log.Logger.Warn().Err(err).Str("provider_id", providerID).
				Bool("added", added).Msg("reconciler: provider did not ack link change")
		}
	}
}
