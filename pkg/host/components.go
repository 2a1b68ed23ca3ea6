package host

import (
	"bytes"
	"context"
	"time"

	"github.com/latticehq/hostd/pkg/errs"
	"github.com/latticehq/hostd/pkg/log"
	"github.com/latticehq/hostd/pkg/runtime"
	"github.com/latticehq/hostd/pkg/types"
)

// ScaleComponent implements control.Host. count is trigger/bookkeeping
// semantics, not a literal instance pool: scaling from zero loads a
// single runtime.Instance (which already bounds its own concurrency
// via maxConcurrent), scaling to zero drains and unloads it, and
// scaling between two nonzero counts only updates the inventory's
// MaxInstances field (spec.md §3, "Components are loaded on first
// invocation or on explicit scale-up; unloaded when scale reaches zero
// or on explicit stop").
func (h *Host) ScaleComponent(ctx context.Context, id, imageRef string, count int, configNames []string) error {
	h.mu.Lock()
	existing, loaded := h.components[id]
	h.mu.Unlock()

	if count <= 0 {
		if loaded {
			h.unloadComponent(id, h.cfg.ComponentMaxExecutionTime)
		}
		return nil
	}

	if loaded {
		h.mu.Lock()
		existing.maxInstances = count
		existing.imageRef = imageRef
		h.mu.Unlock()
		return nil
	}

	return h.loadComponent(ctx, id, imageRef, count, configNames)
}

// UpdateComponent implements control.Host: a live component id is
// repointed at a new image reference by unloading the old instance and
// loading the new one in its place, preserving its desired instance
// count. spec.md leaves zero-downtime swap out of scope; this is the
// stop-the-world redeploy the reconciler's component-spec diff path
// already assumes when ImageReference changes.
func (h *Host) UpdateComponent(ctx context.Context, id, newImageRef string) error {
	h.mu.Lock()
	existing, ok := h.components[id]
	h.mu.Unlock()
	if !ok {
		return errs.NotFound("component " + id + " is not loaded")
	}

	count := existing.maxInstances
	h.unloadComponent(id, h.cfg.ComponentMaxExecutionTime)
	return h.loadComponent(ctx, id, newImageRef, count, nil)
}

func (h *Host) loadComponent(ctx context.Context, id, imageRef string, count int, configNames []string) error {
	claim, ok := h.claimsStore.Get(id)
	if !ok {
		return errs.New(errs.KindUnauthorizedOrUnbound, "no claims on file for component "+id)
	}

	moduleBytes, err := h.fetcher.FetchComponent(ctx, imageRef)
	if err != nil {
		return err
	}
	if err := h.rt.Validate(ctx, moduleBytes); err != nil {
		return errs.Wrap(errs.KindGuestError, "validating component image for "+id, err)
	}

	var instance *runtime.Instance
	if isComponentModel(moduleBytes) {
		instance = runtime.NewComponentInstance(id, claim, h.rt, moduleBytes, h.router,
			h.cfg.ComponentMaxConcurrent, h.cfg.ComponentMaxExecutionTime)
	} else {
		instance = runtime.NewLegacyInstance(id, claim, h.rt, moduleBytes, h.router,
			h.cfg.ComponentMaxConcurrent, h.cfg.ComponentMaxExecutionTime, 2, 16)
	}
	instance.Ready()

	h.router.RegisterLocal(id, instance)

	h.mu.Lock()
	h.components[id] = &componentEntry{
		instance:     instance,
		imageRef:     imageRef,
		revision:     claim.Revision,
		maxInstances: count,
	}
	h.mu.Unlock()

	log.Logger.Info().Str("component_id", id).Str("image_ref", imageRef).Msg("component loaded")
	return nil
}

func (h *Host) unloadComponent(id string, grace time.Duration) {
	h.mu.Lock()
	entry, ok := h.components[id]
	if ok {
		delete(h.components, id)
	}
	h.mu.Unlock()
	if !ok {
		return
	}

	h.router.UnregisterLocal(id)
	entry.instance.Drain(grace)
	log.Logger.Info().Str("component_id", id).Msg("component unloaded")
}

// OnComponentPut implements reconciler.ComponentObserver. During the
// initial snapshot replay components are not eagerly loaded (spec.md
// §3's "loaded on first invocation or on explicit scale-up"); only a
// live update after startup redeploys an already-loaded component to
// track its new spec.
func (h *Host) OnComponentPut(ctx context.Context, id string, spec *types.ComponentSpec, snapshot bool) {
	if snapshot {
		return
	}
	h.mu.Lock()
	entry, loaded := h.components[id]
	h.mu.Unlock()
	if !loaded {
		return
	}
	if entry.imageRef == spec.ImageReference {
		return
	}
	if err := h.UpdateComponent(ctx, id, spec.ImageReference); err != nil {
		log.Logger.Error().Err(err).Str("component_id", id).Msg("failed to redeploy component after spec change")
	}
}

// OnComponentDelete implements reconciler.ComponentObserver. A loaded
// component keeps running after its spec is deleted; the host only
// logs a warning.
func (h *Host) OnComponentDelete(ctx context.Context, id string, snapshot bool) {
	h.mu.RLock()
	_, loaded := h.components[id]
	h.mu.RUnlock()
	if loaded {
		log.Logger.Warn().Str("component_id", id).Msg("component spec deleted while component is running; leaving it running")
	}
}

// ComponentCounts implements metrics.Source.
func (h *Host) ComponentCounts() map[string]int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	counts := make(map[string]int)
	for _, entry := range h.components {
		counts[string(entry.instance.State())]++
	}
	return counts
}

// isComponentModel distinguishes a component-model binary from a
// legacy core module by its custom "component-type" section marker,
// mirroring the sniff spec.md §6.2/§6.3 describe as the load-time
// dispatch point between the two ABIs.
func isComponentModel(moduleBytes []byte) bool {
	return bytes.Contains(moduleBytes[:min(len(moduleBytes), 4096)], []byte("component-type"))
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
