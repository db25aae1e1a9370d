// Package replacer implements the LRU-K eviction policy the buffer pool
// consults once its free list is exhausted (spec §4.1).
package replacer

import (
	"container/list"
	"sync"

	"github.com/cockroachdb/errors"
)

// FrameID identifies a buffer pool frame (an index into its frame array),
// distinct from a page id.
type FrameID int

// AccessKind tags why a frame was touched. The eviction algorithm itself
// only cares about the logical timestamp (spec §4.1); the kind is carried
// through unused, the way the original course project threads an
// AccessType parameter for future instrumentation without the replacer
// branching on it.
type AccessKind int

const (
	AccessUnknown AccessKind = iota
	AccessLookup
	AccessScan
	AccessIndex
)

type node struct {
	fid        FrameID
	history    []int64 // FIFO, oldest first, bounded to k entries
	evictable  bool
	inHistory  bool // true once history has k samples (lives in the full-history list)
	fifoElem   *list.Element
	sortedElem *list.Element
}

func (n *node) oldest() int64 {
	return n.history[0]
}

func (n *node) pushAccess(ts int64, k int) {
	n.history = append(n.history, ts)
	if len(n.history) > k {
		n.history = n.history[1:]
	}
	n.inHistory = len(n.history) >= k
}

// LRUK tracks access history for the buffer pool's frames and picks
// eviction victims: among evictable frames with fewer than K samples
// ("young"), oldest-first-seen; otherwise the evictable frame with the
// largest backward-K distance.
//
// Internal structure mirrors original_source/src/buffer/lru_k_replacer.cpp:
// two ordered lists (young FIFO, full-history sorted by backward-K
// distance) plus a hash index from frame id to its list cursor. The
// history list is kept sorted by oldest-sample timestamp ascending, which
// is equivalent to sorting by backward-K distance descending since every
// full-history frame's distance is `now - oldest` and `now` advances
// uniformly for all of them — so front-to-back is already victim priority
// order and no distance needs recomputing on eviction.
type LRUK struct {
	mu sync.Mutex

	k         int
	clock     int64 // logical counter; spec §4.1 forbids wall-clock time here
	nodes     map[FrameID]*node
	young     *list.List // FIFO of *node, front = earliest entered young
	history   *list.List // sorted ascending by oldest timestamp, front = largest backward-K distance
	evictable int
}

// New creates a replacer that will track at most k recent accesses per
// frame.
func New(k int) *LRUK {
	return &LRUK{
		k:       k,
		nodes:   make(map[FrameID]*node),
		young:   list.New(),
		history: list.New(),
	}
}

// RecordAccess appends the current logical timestamp to frame's history.
func (r *LRUK) RecordAccess(frame FrameID, kind AccessKind) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.clock++
	n, ok := r.nodes[frame]
	if !ok {
		n = &node{fid: frame}
		n.pushAccess(r.clock, r.k)
		if n.inHistory {
			// k == 1: a single sample is already a full history.
			r.insertSorted(n)
		} else {
			n.fifoElem = r.young.PushBack(n)
		}
		r.nodes[frame] = n
		return
	}

	wasHistory := n.inHistory
	n.pushAccess(r.clock, r.k)

	if !wasHistory && n.inHistory {
		// promoted: move from young to sorted history list.
		r.young.Remove(n.fifoElem)
		n.fifoElem = nil
		r.insertSorted(n)
	} else if n.inHistory {
		// still in history but its oldest sample advanced: reposition.
		r.history.Remove(n.sortedElem)
		r.insertSorted(n)
	}
}

func (r *LRUK) insertSorted(n *node) {
	for e := r.history.Front(); e != nil; e = e.Next() {
		other := e.Value.(*node)
		if n.oldest() < other.oldest() {
			n.sortedElem = r.history.InsertBefore(n, e)
			return
		}
	}
	n.sortedElem = r.history.PushBack(n)
}

// SetEvictable marks frame as evictable or not. The frame must already be
// tracked (a prior RecordAccess).
func (r *LRUK) SetEvictable(frame FrameID, evictable bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.nodes[frame]
	if !ok {
		return errors.Newf("replacer: frame %d is not tracked", frame)
	}
	if n.evictable == evictable {
		return nil
	}
	n.evictable = evictable
	if evictable {
		r.evictable++
	} else {
		r.evictable--
	}
	return nil
}

// Evict removes and returns the chosen victim frame, or (0, false) if no
// frame is currently evictable.
func (r *LRUK) Evict() (FrameID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.evictable == 0 {
		return 0, false
	}

	if n := findEvictable(r.young); n != nil {
		r.young.Remove(n.fifoElem)
		delete(r.nodes, n.fid)
		r.evictable--
		return n.fid, true
	}
	if n := findEvictable(r.history); n != nil {
		r.history.Remove(n.sortedElem)
		delete(r.nodes, n.fid)
		r.evictable--
		return n.fid, true
	}
	return 0, false
}

func findEvictable(l *list.List) *node {
	for e := l.Front(); e != nil; e = e.Next() {
		n := e.Value.(*node)
		if n.evictable {
			return n
		}
	}
	return nil
}

// Remove drops tracking state for frame. It is an error to remove a frame
// that is currently non-evictable; removing an untracked frame is a no-op.
func (r *LRUK) Remove(frame FrameID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.nodes[frame]
	if !ok {
		return nil
	}
	if !n.evictable {
		return errors.Newf("replacer: frame %d is not evictable, cannot remove", frame)
	}
	if n.fifoElem != nil {
		r.young.Remove(n.fifoElem)
	}
	if n.sortedElem != nil {
		r.history.Remove(n.sortedElem)
	}
	delete(r.nodes, frame)
	r.evictable--
	return nil
}

// Size returns the number of currently evictable frames.
func (r *LRUK) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.evictable
}
