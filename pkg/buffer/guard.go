package buffer

import "pagedb/pkg/storage/page"

// BasicGuard is a scoped handle on one pinned frame. Constructing it pins
// the frame; Drop unpins it. It carries no latch of its own — ReadGuard and
// WriteGuard add that. Guards are not safe to copy: copy a BasicGuard and
// both copies will unpin on Drop, double-unpinning the frame. Treat them as
// move-only, the way the teacher's callers treat every `defer
// bpm.UnpinPage(...)` as owned by exactly one call site.
type BasicGuard struct {
	pool  *Manager
	frame *page.Frame
	id    page.ID
	dirty bool
	live  bool
}

func newBasicGuard(pool *Manager, frame *page.Frame) *BasicGuard {
	return &BasicGuard{pool: pool, frame: frame, id: frame.ID(), live: true}
}

// PageID returns the id of the guarded page.
func (g *BasicGuard) PageID() page.ID { return g.id }

// Data returns a read-only view of the page bytes.
func (g *BasicGuard) Data() []byte { return g.frame.Data[:] }

// DataMut returns a mutable view of the page bytes and marks the frame
// dirty: any guard that took a mutable view is assumed to have written
// through it.
func (g *BasicGuard) DataMut() []byte {
	g.dirty = true
	return g.frame.Data[:]
}

// MarkDirty forces the dirty flag even if the caller never asked for
// DataMut (e.g. a caller that mutated bytes obtained before calling Drop).
func (g *BasicGuard) MarkDirty() { g.dirty = true }

// Node returns a codec view over this guard's bytes, mutable.
func (g *BasicGuard) Node() *page.Node { return page.NewNode(g.frame) }

// Header returns a header-page codec view over this guard's bytes.
func (g *BasicGuard) Header() *page.HeaderPage { return page.NewHeaderPage(g.frame) }

// Drop releases the guard: unpins the frame, OR-merging the dirty flag.
// Idempotent — dropping an already-dropped (or moved-from) guard is a
// no-op, matching the "moved-from guard is inert" invariant of spec §4.3.
func (g *BasicGuard) Drop() {
	if !g.live {
		return
	}
	g.live = false
	g.pool.unpin(g.id, g.dirty)
}

// ReadGuard holds a frame pinned and its reader latch held for its
// lifetime. At most one WriteGuard, or any number of ReadGuards, exist for
// a frame at once.
type ReadGuard struct {
	basic *BasicGuard
}

func newReadGuard(basic *BasicGuard) *ReadGuard {
	basic.frame.Latch.RLock()
	return &ReadGuard{basic: basic}
}

func (g *ReadGuard) PageID() page.ID { return g.basic.PageID() }

func (g *ReadGuard) Data() []byte { return g.basic.Data() }

func (g *ReadGuard) Node() *page.Node { return g.basic.Node() }

func (g *ReadGuard) Header() *page.HeaderPage { return g.basic.Header() }

// Drop releases the reader latch, then unpins. Order matters: spec §5
// requires latch release strictly before unpin so a page can never be
// evicted while a reader still holds its latch.
func (g *ReadGuard) Drop() {
	if g.basic == nil || !g.basic.live {
		return
	}
	g.basic.frame.Latch.RUnlock()
	g.basic.Drop()
}

// WriteGuard holds a frame pinned and its writer latch held exclusively.
type WriteGuard struct {
	basic *BasicGuard
}

func newWriteGuard(basic *BasicGuard) *WriteGuard {
	basic.frame.Latch.Lock()
	return &WriteGuard{basic: basic}
}

func (g *WriteGuard) PageID() page.ID { return g.basic.PageID() }

func (g *WriteGuard) Data() []byte { return g.basic.Data() }

func (g *WriteGuard) DataMut() []byte { return g.basic.DataMut() }

func (g *WriteGuard) MarkDirty() { g.basic.MarkDirty() }

func (g *WriteGuard) Node() *page.Node { return page.NewNode(g.basic.frame) }

func (g *WriteGuard) Header() *page.HeaderPage { return page.NewHeaderPage(g.basic.frame) }

func (g *WriteGuard) Drop() {
	if g.basic == nil || !g.basic.live {
		return
	}
	g.basic.frame.Latch.Unlock()
	g.basic.Drop()
}
