package host

import (
	"context"

	"github.com/latticehq/hostd/pkg/errs"
	"github.com/latticehq/hostd/pkg/log"
	"github.com/latticehq/hostd/pkg/provider"
	"github.com/latticehq/hostd/pkg/xkeys"
)

// StartProvider implements control.Host: fetch the archive, spawn the
// provider process, and seed it with every link already on file for
// its id before it starts serving capability calls (spec.md §4.6's
// startup handshake includes initial links so a freshly started
// provider never races the reconciler's own link-put notifications).
func (h *Host) StartProvider(ctx context.Context, id, imageRef, linkName string, configNames []string) error {
	h.mu.Lock()
	_, already := h.providers[id]
	h.mu.Unlock()
	if already {
		return errs.New(errs.KindConflict, "provider "+id+" is already running")
	}

	claim, ok := h.claimsStore.Get(id)
	if !ok {
		return errs.New(errs.KindUnauthorizedOrUnbound, "no claims on file for provider "+id)
	}

	rc, err := h.fetcher.FetchProviderArchive(ctx, imageRef)
	if err != nil {
		return err
	}
	defer rc.Close()

	archive, err := provider.LoadArchive(rc, claim.Subject)
	if err != nil {
		return err
	}

	keys, err := xkeys.Generate()
	if err != nil {
		return errs.Wrap(errs.KindProviderStartup, "generate provider xkey", err)
	}
	pub, err := keys.PublicKey()
	if err != nil {
		return errs.Wrap(errs.KindProviderStartup, "derive provider xkey public key", err)
	}

	initialLinks := append(h.links.LinksForSource(id), h.links.LinksForTarget(id)...)

	info, err := h.bridge.Start(ctx, archive, linkName, h.cfg.BusURL, initialLinks, configNames, pub)
	if err != nil {
		return err
	}

	h.router.RegisterXKey(id, pub)

	h.mu.Lock()
	h.providers[id] = &providerEntry{
		imageRef: imageRef,
		name:     claim.Name,
		revision: claim.Revision,
	}
	h.mu.Unlock()

	log.Logger.Info().Str("provider_id", id).Int("pid", info.Process).Msg("provider started")
	return nil
}

// StopProvider implements control.Host.
func (h *Host) StopProvider(ctx context.Context, id, linkName string) error {
	h.mu.Lock()
	_, ok := h.providers[id]
	if ok {
		delete(h.providers, id)
	}
	h.mu.Unlock()
	if !ok {
		return errs.NotFound("provider " + id + " is not running")
	}

	return h.bridge.Stop(ctx, id, h.cfg.ComponentMaxExecutionTime)
}

// ProviderCounts implements metrics.Source.
func (h *Host) ProviderCounts() map[string]int {
	counts := make(map[string]int)
	for _, rp := range h.bridge.List() {
		counts[string(rp.Health)]++
	}
	return counts
}
