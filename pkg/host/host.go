// Package host wires together the bus client, claims store, link
// table, config bundles, local cache, component runtime, provider
// bridge, invocation router, reconciler, event broker, control server
// and metrics collector into the single process described throughout
// spec.md §4 and exposed on the bus per §6. Host is the concrete type
// that satisfies pkg/control.Host and pkg/metrics.Source.
package host

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/latticehq/hostd/pkg/bundle"
	"github.com/latticehq/hostd/pkg/bus"
	"github.com/latticehq/hostd/pkg/claims"
	"github.com/latticehq/hostd/pkg/config"
	"github.com/latticehq/hostd/pkg/control"
	"github.com/latticehq/hostd/pkg/events"
	"github.com/latticehq/hostd/pkg/invocation"
	"github.com/latticehq/hostd/pkg/linktable"
	"github.com/latticehq/hostd/pkg/localcache"
	"github.com/latticehq/hostd/pkg/log"
	"github.com/latticehq/hostd/pkg/metrics"
	"github.com/latticehq/hostd/pkg/provider"
	"github.com/latticehq/hostd/pkg/reconciler"
	"github.com/latticehq/hostd/pkg/runtime"
	"github.com/latticehq/hostd/pkg/security"
	"github.com/latticehq/hostd/pkg/types"
)

// dataPrefix is empty because the reconciler watches the whole KV
// keyspace: COMPONENT_, CLAIMS_, LINKDEF_, and REFMAP_ keys share no
// common prefix beyond the bucket itself (see reconciler.New's tests).
const dataPrefix = ""
const configPrefix = "CONFIG_"
const secretsPrefix = "SECRETS_"

// componentEntry is a loaded component's instance plus the bookkeeping
// Inventory reports that *runtime.Instance doesn't itself carry
// (image reference, desired instance count, revision).
type componentEntry struct {
	instance     *runtime.Instance
	imageRef     string
	revision     int64
	maxInstances int
}

// providerEntry mirrors a running provider's Inventory-facing metadata
// that *provider.Bridge's bookkeeping doesn't carry (image reference,
// display name, revision); the running-process state itself lives in
// the bridge.
type providerEntry struct {
	imageRef string
	name     string
	revision int64
}

// Host is one lattice member process.
type Host struct {
	id        string
	lattice   string
	labels    map[string]string
	startedAt time.Time
	cfg       *config.HostConfig

	b          bus.Bus
	claimsStore *claims.Store
	links      *linktable.Table
	configBndl *bundle.Bundle
	secretsBndl *bundle.Bundle
	localCache localcache.Store
	rt         *runtime.Runtime
	bridge     *provider.Bridge
	router     *invocation.Router
	rec        *reconciler.Reconciler
	eventBroker *events.Broker
	controlSrv *control.Server
	collector  *metrics.Collector
	fetcher    Fetcher

	mu         sync.RWMutex
	components map[string]*componentEntry
	providers  map[string]*providerEntry

	cancel context.CancelFunc
}

// New builds a Host from cfg. It does not yet talk to the bus or spawn
// anything; call Start for that.
func New(cfg *config.HostConfig, b bus.Bus, localCache localcache.Store, fetcher Fetcher) (*Host, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	hostID := cfg.HostID
	if hostID == "" {
		return nil, fmt.Errorf("host_id must be set before starting a host")
	}
	if fetcher == nil {
		fetcher = LocalFileFetcher{}
	}

	sealKey := security.DeriveSealKey(cfg.Lattice)
	if cfg.SecretsPassphrase != "" {
		sealKey = security.DeriveSealKey(cfg.SecretsPassphrase)
	}
	sealer, err := security.NewAESGCMSealer(sealKey)
	if err != nil {
		return nil, err
	}

	links := linktable.New()
	claimsStore := claims.NewStore(b)
	configBndl := bundle.New(b, configPrefix)
	secretsBndl := bundle.NewSecrets(b, secretsPrefix, sealer)
	rt := runtime.New()
	bridge := provider.New(b, cfg.Lattice, hostID, cfg.DataDir, cfg.ProviderHandshakeTimeout)
	router := invocation.New(b, cfg.Lattice, links, 5*time.Second)
	eventBroker := events.NewBroker(b, cfg.Lattice, hostID)

	h := &Host{
		id:          hostID,
		lattice:     cfg.Lattice,
		labels:      cfg.Labels,
		startedAt:   time.Now(),
		cfg:         cfg,
		b:           b,
		claimsStore: claimsStore,
		links:       links,
		configBndl:  configBndl,
		secretsBndl: secretsBndl,
		localCache:  localCache,
		rt:          rt,
		bridge:      bridge,
		router:      router,
		eventBroker: eventBroker,
		fetcher:     fetcher,
		components:  make(map[string]*componentEntry),
		providers:   make(map[string]*providerEntry),
	}

	h.rec = reconciler.New(b, dataPrefix, claimsStore, links, bridge, h, h)
	h.controlSrv = control.NewServer(b, cfg.Lattice, h)
	h.collector = metrics.NewCollector(h)

	return h, nil
}

// HostID returns this host's stable identifier.
func (h *Host) HostID() string { return h.id }

// Labels returns this host's placement labels, consulted by auction
// verbs (spec.md §4.9).
func (h *Host) Labels() map[string]string { return h.labels }

// Start brings every subsystem online: the config/secrets bundle
// watches, the reconciler's lattice-wide KV watch, the control
// protocol server, and the metrics collector. It does not block.
func (h *Host) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	h.cancel = cancel

	if err := h.configBndl.Run(runCtx); err != nil {
		cancel()
		return err
	}
	if err := h.secretsBndl.Run(runCtx); err != nil {
		cancel()
		return err
	}
	if err := h.rec.Start(runCtx); err != nil {
		cancel()
		return err
	}
	if err := h.controlSrv.Start(runCtx); err != nil {
		cancel()
		return err
	}
	h.collector.Start()

	log.Logger.Info().Str("host_id", h.id).Str("lattice", h.lattice).Msg("host started")
	return nil
}

// Shutdown drains every loaded component, stops every running
// provider, and tears down every background loop, in the order that
// lets in-flight invocations finish before their targets disappear
// (spec.md §5's concurrency model: components drain before providers
// that back their capability calls are stopped).
func (h *Host) Shutdown(ctx context.Context, grace time.Duration) error {
	h.mu.Lock()
	componentIDs := make([]string, 0, len(h.components))
	for id := range h.components {
		componentIDs = append(componentIDs, id)
	}
	providerIDs := make([]string, 0, len(h.providers))
	for id := range h.providers {
		providerIDs = append(providerIDs, id)
	}
	h.mu.Unlock()

	for _, id := range componentIDs {
		h.unloadComponent(id, grace)
	}
	for _, id := range providerIDs {
		if err := h.bridge.Stop(ctx, id, grace); err != nil {
			log.Logger.Warn().Err(err).Str("provider_id", id).Msg("host: provider did not stop cleanly")
		}
	}

	h.collector.Stop()
	h.controlSrv.Stop()
	h.rec.Stop()
	if h.cancel != nil {
		h.cancel()
	}
	if err := h.rt.Close(ctx); err != nil {
		log.Logger.Warn().Err(err).Msg("host: runtime compilation cache close failed")
	}
	if err := h.localCache.Close(); err != nil {
		log.Logger.Warn().Err(err).Msg("host: local cache close failed")
	}

	log.Logger.Info().Str("host_id", h.id).Msg("host shut down")
	return nil
}

// StopHost implements control.Host: a graceful shutdown with the
// requester's deadline as the drain grace period.
func (h *Host) StopHost(ctx context.Context, deadline time.Duration) error {
	if deadline <= 0 {
		deadline = 10 * time.Second
	}
	return h.Shutdown(ctx, deadline)
}

// IsProvider implements reconciler.ProviderLookup.
func (h *Host) IsProvider(id string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.providers[id]
	return ok
}

// ClaimsStore exposes the claims store for callers that provision
// identities directly (claims distribution sits outside the control
// protocol's verb set per spec.md §4.9).
func (h *Host) ClaimsStore() *claims.Store { return h.claimsStore }

// Reconciler exposes the reconciler for read-only inspection of
// converged component specs.
func (h *Host) Reconciler() *reconciler.Reconciler { return h.rec }

// ConfigBundle exposes the watched, non-secret configuration bundle.
func (h *Host) ConfigBundle() *bundle.Bundle { return h.configBndl }
