// Package overlay keeps the set of on-screen markers consistent with the
// latest frame's detections.
package overlay

import (
	"github.com/antonstocut/personseeker/internal/geometry"
	"github.com/antonstocut/personseeker/internal/probe"
)

// Overlay is one displayed marker. Label is empty when no distance is known.
type Overlay struct {
	ID       string              `json:"id"`
	Rect     geometry.ScreenRect `json:"rect"`
	Label    string              `json:"label,omitempty"`
	Distance probe.Estimate      `json:"distance"`
}

// Changes is the diff produced by one reconciliation.
type Changes struct {
	Added   []Overlay `json:"added"`
	Updated []Overlay `json:"updated"`
	Removed []Overlay `json:"removed"`
}

// Empty reports whether nothing was added, updated or removed.
func (c Changes) Empty() bool {
	return len(c.Added) == 0 && len(c.Updated) == 0 && len(c.Removed) == 0
}

// Reconciler owns the live id -> overlay mapping. It is not safe for
// concurrent use; a single goroutine applies every frame.
type Reconciler struct {
	active map[string]Overlay
	order  []string
}

// NewReconciler returns an empty reconciler.
func NewReconciler() *Reconciler {
	return &Reconciler{active: make(map[string]Overlay)}
}

// Reconcile replaces the active set with current. Entries with rects that
// cannot be displayed are skipped, and for duplicate ids the first entry
// wins. Added and Updated follow input order, Removed follows the previous
// active order.
func (r *Reconciler) Reconcile(current []Overlay) Changes {
	var changes Changes

	next := make(map[string]Overlay, len(current))
	order := make([]string, 0, len(current))
	for _, o := range current {
		if !o.Rect.Displayable() {
			continue
		}
		if _, dup := next[o.ID]; dup {
			continue
		}
		next[o.ID] = o
		order = append(order, o.ID)

		if _, existed := r.active[o.ID]; existed {
			changes.Updated = append(changes.Updated, o)
		} else {
			changes.Added = append(changes.Added, o)
		}
	}

	for _, id := range r.order {
		if _, kept := next[id]; !kept {
			changes.Removed = append(changes.Removed, r.active[id])
		}
	}

	r.active = next
	r.order = order
	return changes
}

// ClearAll removes every active overlay and returns them as removed.
func (r *Reconciler) ClearAll() Changes {
	var changes Changes
	for _, id := range r.order {
		changes.Removed = append(changes.Removed, r.active[id])
	}
	r.active = make(map[string]Overlay)
	r.order = nil
	return changes
}

// Active returns the live overlays in the order they were last supplied.
func (r *Reconciler) Active() []Overlay {
	out := make([]Overlay, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.active[id])
	}
	return out
}

// Get returns the live overlay for id.
func (r *Reconciler) Get(id string) (Overlay, bool) {
	o, ok := r.active[id]
	return o, ok
}

// Len returns the number of live overlays.
func (r *Reconciler) Len() int { return len(r.order) }
