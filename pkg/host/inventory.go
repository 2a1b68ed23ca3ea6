package host

import (
	"context"
	"time"

	"github.com/latticehq/hostd/pkg/types"
)

// Inventory implements control.Host, answering the
// control.host.inventory verb (spec.md §6.6).
func (h *Host) Inventory(ctx context.Context) (*types.Inventory, error) {
	h.mu.RLock()
	components := make(map[string]types.ComponentSummary, len(h.components))
	for id, entry := range h.components {
		components[id] = types.ComponentSummary{
			ID:           id,
			ImageRef:     entry.imageRef,
			Revision:     entry.revision,
			MaxInstances: entry.maxInstances,
		}
	}
	providerMeta := make(map[string]providerEntry, len(h.providers))
	for id, entry := range h.providers {
		providerMeta[id] = *entry
	}
	h.mu.RUnlock()

	providers := make(map[string]types.ProviderSummary, len(providerMeta))
	for _, rp := range h.bridge.List() {
		meta, ok := providerMeta[rp.ID]
		summary := types.ProviderSummary{ID: rp.ID}
		if ok {
			summary.ImageRef = meta.imageRef
			summary.Name = meta.name
			summary.Revision = meta.revision
		}
		providers[rp.ID] = summary
	}

	return &types.Inventory{
		Host: types.HostInfo{
			ID:        h.id,
			Uptime:    time.Since(h.startedAt),
			Labels:    h.labels,
			StartedAt: h.startedAt,
		},
		Components: components,
		Providers:  providers,
	}, nil
}

// LinkCount implements metrics.Source.
func (h *Host) LinkCount() int {
	return h.links.Len()
}
