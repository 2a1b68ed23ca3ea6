// Package linktable implements the link table described in spec.md
// §4.3: two indexes (by source, by target) kept consistent under a
// single read/write lock, with idempotent put and cloned-slice reads
// so callers never hold the table lock across I/O.
package linktable

import (
	"sync"

	"github.com/latticehq/hostd/pkg/types"
)

// PutResult reports what Put did.
type PutResult string

const (
	Added     PutResult = "added"
	Unchanged PutResult = "unchanged"
)

// Table is the link table: by_source[source_id] and by_target[target_id]
// both point at the same underlying *types.Link values.
type Table struct {
	mu       sync.RWMutex
	bySource map[string]map[types.LinkKey]*types.Link
	byTarget map[string][]*types.Link
}

func New() *Table {
	return &Table{
		bySource: make(map[string]map[types.LinkKey]*types.Link),
		byTarget: make(map[string][]*types.Link),
	}
}

// Put inserts link, or reports Unchanged if an equal link is already
// present at the same key. Idempotent per spec.md §4.3.
func (t *Table) Put(link *types.Link) PutResult {
	key := link.KeyFromSource()

	t.mu.Lock()
	defer t.mu.Unlock()

	existing, ok := t.bySource[link.SourceID][key]
	if ok && existing.Equal(link) {
		return Unchanged
	}
	if ok {
		t.removeFromTargetLocked(existing)
	}

	if t.bySource[link.SourceID] == nil {
		t.bySource[link.SourceID] = make(map[types.LinkKey]*types.Link)
	}
	t.bySource[link.SourceID][key] = link
	t.byTarget[link.TargetID] = append(t.byTarget[link.TargetID], link)
	return Added
}

// Delete removes the link identified by key, returning it, or nil if
// no such link existed.
func (t *Table) Delete(key types.LinkKey) *types.Link {
	t.mu.Lock()
	defer t.mu.Unlock()

	bySource, ok := t.bySource[key.SourceID]
	if !ok {
		return nil
	}
	link, ok := bySource[key]
	if !ok {
		return nil
	}
	delete(bySource, key)
	if len(bySource) == 0 {
		delete(t.bySource, key.SourceID)
	}
	t.removeFromTargetLocked(link)
	return link
}

// removeFromTargetLocked must be called with t.mu held for writing.
func (t *Table) removeFromTargetLocked(link *types.Link) {
	list := t.byTarget[link.TargetID]
	for i, l := range list {
		if l == link {
			t.byTarget[link.TargetID] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(t.byTarget[link.TargetID]) == 0 {
		delete(t.byTarget, link.TargetID)
	}
}

// LinksForSource returns a cloned slice of the links sourced from id.
func (t *Table) LinksForSource(id string) []*types.Link {
	t.mu.RLock()
	defer t.mu.RUnlock()

	bySource := t.bySource[id]
	out := make([]*types.Link, 0, len(bySource))
	for _, l := range bySource {
		out = append(out, l)
	}
	return out
}

// LinksForTarget returns a cloned slice of the links targeting id.
func (t *Table) LinksForTarget(id string) []*types.Link {
	t.mu.RLock()
	defer t.mu.RUnlock()

	list := t.byTarget[id]
	out := make([]*types.Link, len(list))
	copy(out, list)
	return out
}

// Get returns the link at key, if any.
func (t *Table) Get(key types.LinkKey) (*types.Link, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	l, ok := t.bySource[key.SourceID][key]
	return l, ok
}

// Len returns the total number of links in the table, for metrics.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, links := range t.bySource {
		n += len(links)
	}
	return n
}
