package host

import (
	"context"
	"encoding/json"

	"github.com/latticehq/hostd/pkg/types"
)

const componentKeyPrefix = "COMPONENT_"

// PutLink implements control.Host. Links live embedded in a
// component's spec (spec.md §4.8's diff walks ComponentSpec.Links, not
// a standalone key), so adding one reads the source id's current spec,
// appends or replaces the link by key, and writes the spec back; the
// reconciler's own KV watch does the rest (link-table update, bound
// provider notification).
func (h *Host) PutLink(ctx context.Context, link *types.Link) error {
	spec := h.specFor(link.SourceID)

	key := link.KeyFromSource()
	replaced := false
	for i, l := range spec.Links {
		if l.KeyFromSource() == key {
			spec.Links[i] = link
			replaced = true
			break
		}
	}
	if !replaced {
		spec.Links = append(spec.Links, link)
	}

	return h.putComponentSpec(ctx, link.SourceID, spec)
}

// DeleteLink implements control.Host.
func (h *Host) DeleteLink(ctx context.Context, key types.LinkKey) error {
	spec := h.specFor(key.SourceID)

	kept := spec.Links[:0]
	for _, l := range spec.Links {
		if l.KeyFromSource() != key {
			kept = append(kept, l)
		}
	}
	spec.Links = kept

	return h.putComponentSpec(ctx, key.SourceID, spec)
}

// specFor returns the source id's known spec, or an empty one with
// just an ImageReference carried over so a link-first control call
// (spec.md §8's "Link-first" scenario) doesn't clobber an image
// reference it never saw.
func (h *Host) specFor(id string) *types.ComponentSpec {
	if existing, ok := h.rec.Spec(id); ok {
		clone := *existing
		clone.Links = append([]*types.Link(nil), existing.Links...)
		return &clone
	}
	h.mu.RLock()
	entry, loaded := h.components[id]
	h.mu.RUnlock()
	imageRef := ""
	if loaded {
		imageRef = entry.imageRef
	}
	return &types.ComponentSpec{ImageReference: imageRef}
}

func (h *Host) putComponentSpec(ctx context.Context, id string, spec *types.ComponentSpec) error {
	data, err := json.Marshal(spec)
	if err != nil {
		return err
	}
	return h.b.KVPut(ctx, componentKeyPrefix+id, data)
}

// PutConfig implements control.Host.
func (h *Host) PutConfig(ctx context.Context, name string, values map[string]string) error {
	return h.configBndl.Put(ctx, &types.ConfigEntry{Name: name, Values: values})
}

// DeleteConfig implements control.Host.
func (h *Host) DeleteConfig(ctx context.Context, name string) error {
	return h.configBndl.Delete(ctx, name)
}
