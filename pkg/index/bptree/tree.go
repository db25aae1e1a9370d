// Package bptree implements a concurrent, disk-backed B+-tree index on
// top of the buffer pool: point lookup, insert with propagating split,
// delete with propagating merge/redistribute, and a forward iterator
// (spec §4.4, §4.5).
//
// Concurrency uses latch crabbing: each descent carries a stack of held
// write guards rather than parent pointers stored in nodes (grounded in
// original_source's b_plus_tree.cpp Context.write_set_ pattern, a
// deliberate departure from nihil-sum-minidb's ParentID-in-node design).
// A node fetched during descent is checked for safety immediately; if
// it can absorb the pending mutation without itself requiring a
// structural change, every ancestor held so far (including the header
// page) is released, since none of them can now be touched by this
// operation. Unsafe nodes stay on the stack so a split or merge can
// propagate up through them.
package bptree

import (
	"sync"

	"github.com/cockroachdb/errors"

	"pagedb/pkg/buffer"
	"pagedb/pkg/storage/page"
)

// Tree is a handle onto one B+-tree index living in a buffer pool. The
// header page at HeaderID is the sole persisted pointer to the current
// root; it never moves once allocated, so a Tree can be reopened from a
// catalog entry that only remembers the header id.
type Tree struct {
	pool        *buffer.Manager
	headerID    page.ID
	cmp         page.Comparator
	leafMax     int32
	internalMax int32

	// rootSwapMu is the "root-swap interlock" spec §5's shared-resource
	// policy lists as distinct from the header page's own latch: it
	// brackets the statements that actually install a new root id, kept
	// separate from the header's WriteGuard so a future caller that reads
	// RootID() under only a read latch during a swap (a case today's
	// single-writer-per-header-latch discipline already excludes, but
	// which this policy is written to also rule out structurally) still
	// cannot observe a torn root-id update.
	rootSwapMu sync.Mutex
}

// NewTree allocates a fresh header page and an empty tree.
func NewTree(pool *buffer.Manager, cmp page.Comparator, leafMax, internalMax int32) (*Tree, error) {
	id, guard, ok := pool.NewPage()
	if !ok {
		return nil, errors.New("bptree: cannot allocate header page")
	}
	guard.Header().SetRootID(page.InvalidID)
	guard.MarkDirty()
	guard.Drop()

	return &Tree{pool: pool, headerID: id, cmp: cmp, leafMax: leafMax, internalMax: internalMax}, nil
}

// OpenTree reattaches to a tree whose header page already exists.
func OpenTree(pool *buffer.Manager, headerID page.ID, cmp page.Comparator, leafMax, internalMax int32) *Tree {
	return &Tree{pool: pool, headerID: headerID, cmp: cmp, leafMax: leafMax, internalMax: internalMax}
}

// HeaderID returns the page id a caller should persist to reopen this tree.
func (t *Tree) HeaderID() page.ID { return t.headerID }

func unwindDrop(stack []*buffer.WriteGuard) {
	for _, g := range stack {
		g.Drop()
	}
}

// GetValue looks up key, crabbing hand-over-hand with read latches: a
// child is latched before its parent is released, so a concurrent
// writer can never observe a torn path.
func (t *Tree) GetValue(key page.Key) (page.RecordID, bool) {
	header, ok := t.pool.FetchPageRead(t.headerID)
	if !ok {
		return page.RecordID{}, false
	}
	rootID := header.Header().RootID()
	header.Drop()
	if rootID == page.InvalidID {
		return page.RecordID{}, false
	}

	cur, ok := t.pool.FetchPageRead(rootID)
	if !ok {
		return page.RecordID{}, false
	}
	for {
		node := cur.Node()
		if node.IsLeaf() {
			idx, found := node.FindLeaf(t.cmp, key)
			if !found {
				cur.Drop()
				return page.RecordID{}, false
			}
			rid := node.ValueAt(idx)
			cur.Drop()
			return rid, true
		}
		childID := node.ChildAt(node.ChildIndex(t.cmp, key))
		next, ok := t.pool.FetchPageRead(childID)
		cur.Drop()
		if !ok {
			return page.RecordID{}, false
		}
		cur = next
	}
}

// isInsertSafe reports whether n can absorb one more entry without
// exceeding its configured capacity.
func isInsertSafe(n *page.Node) bool {
	return !n.IsFull()
}

func (t *Tree) pushOrResetInsert(stack []*buffer.WriteGuard, g *buffer.WriteGuard) []*buffer.WriteGuard {
	if isInsertSafe(g.Node()) {
		unwindDrop(stack)
		return []*buffer.WriteGuard{g}
	}
	return append(stack, g)
}

// Insert adds (key, rid). It returns false, nil if key is already present.
func (t *Tree) Insert(key page.Key, rid page.RecordID) (bool, error) {
	header, ok := t.pool.FetchPageWrite(t.headerID)
	if !ok {
		return false, errors.New("bptree: cannot fetch header page")
	}
	stack := []*buffer.WriteGuard{header}

	rootID := header.Header().RootID()
	if rootID == page.InvalidID {
		leafID, leafGuard, ok := t.pool.NewPageGuardedWrite()
		if !ok {
			unwindDrop(stack)
			return false, errors.New("bptree: cannot allocate root leaf")
		}
		leafGuard.Node().InitLeaf(t.leafMax)
		leafGuard.Node().InsertLeaf(t.cmp, key, rid)
		leafGuard.MarkDirty()
		t.rootSwapMu.Lock()
		header.Header().SetRootID(leafID)
		t.rootSwapMu.Unlock()
		header.MarkDirty()
		leafGuard.Drop()
		header.Drop()
		return true, nil
	}

	cur, ok := t.pool.FetchPageWrite(rootID)
	if !ok {
		unwindDrop(stack)
		return false, errors.New("bptree: cannot fetch root page")
	}
	stack = t.pushOrResetInsert(stack, cur)
	cur = stack[len(stack)-1]

	for {
		node := cur.Node()
		if node.IsLeaf() {
			break
		}
		childID := node.ChildAt(node.ChildIndex(t.cmp, key))
		child, ok := t.pool.FetchPageWrite(childID)
		if !ok {
			unwindDrop(stack)
			return false, errors.New("bptree: cannot fetch child page")
		}
		stack = t.pushOrResetInsert(stack, child)
		cur = stack[len(stack)-1]
	}

	leaf := cur.Node()
	if !leaf.InsertLeaf(t.cmp, key, rid) {
		unwindDrop(stack)
		return false, nil
	}
	cur.MarkDirty()

	if leaf.Size() <= leaf.MaxSize() {
		unwindDrop(stack)
		return true, nil
	}

	return true, t.splitLeafAndPropagate(stack)
}

func appendEntry(dst, src *page.Node, srcIdx int32) {
	dst.ShiftInsertSlot(dst.Size())
	dst.CopyEntryFrom(dst.Size()-1, src, srcIdx)
}

// splitLeaf carves the upper half of an overflowing leaf into a new page,
// linking it into the leaf chain, and returns the separator key that must
// be inserted into the parent along with the new page's id.
func (t *Tree) splitLeaf(guard *buffer.WriteGuard) (page.Key, page.ID, error) {
	node := guard.Node()
	max := node.MaxSize()
	size := node.Size()
	splitIdx := (max + 1) / 2

	newID, newGuard, ok := t.pool.NewPageGuardedWrite()
	if !ok {
		return 0, page.InvalidID, errors.New("bptree: cannot allocate leaf split page")
	}
	newNode := newGuard.Node()
	newNode.InitLeaf(max)

	newSize := size - splitIdx
	newNode.SetSize(newSize)
	for i := int32(0); i < newSize; i++ {
		newNode.CopyEntryFrom(i, node, splitIdx+i)
	}
	node.SetSize(splitIdx)

	newNode.SetNextLeafID(node.NextLeafID())
	node.SetNextLeafID(newID)

	separator := newNode.KeyAt(0)

	newGuard.MarkDirty()
	guard.MarkDirty()
	newGuard.Drop()
	return separator, newID, nil
}

// splitInternal is splitLeaf's counterpart for an overflowing internal
// node: the key at the split point is promoted to the parent rather than
// duplicated, since an internal node's slot-0 key is unused padding.
func (t *Tree) splitInternal(guard *buffer.WriteGuard) (page.Key, page.ID, error) {
	node := guard.Node()
	max := node.MaxSize()
	size := node.Size()
	splitIdx := (max + 1) / 2

	newID, newGuard, ok := t.pool.NewPageGuardedWrite()
	if !ok {
		return 0, page.InvalidID, errors.New("bptree: cannot allocate internal split page")
	}
	newNode := newGuard.Node()
	newNode.InitInternal(max)

	promoteKey := node.KeyAt(splitIdx)

	newSize := size - splitIdx
	newNode.SetSize(newSize)
	for i := int32(0); i < newSize; i++ {
		newNode.CopyEntryFrom(i, node, splitIdx+i)
	}
	node.SetSize(splitIdx)

	newGuard.MarkDirty()
	guard.MarkDirty()
	newGuard.Drop()
	return promoteKey, newID, nil
}

func (t *Tree) splitLeafAndPropagate(stack []*buffer.WriteGuard) error {
	leafGuard := stack[len(stack)-1]
	ancestors := stack[:len(stack)-1]

	separator, newLeafID, err := t.splitLeaf(leafGuard)
	leafGuard.Drop()
	if err != nil {
		unwindDrop(ancestors)
		return err
	}
	return t.insertIntoParent(ancestors, separator, newLeafID)
}

// insertIntoParent installs (key, rightID) as a new separator/child pair.
// ancestors[len-1] is the immediate parent, unless ancestors has shrunk to
// just the header page (stack[0] released everything else because the
// split has propagated all the way up), in which case the split node was
// the root itself: a fresh root is allocated over the old root and the new
// sibling. A single-element ancestors slice does not by itself mean the
// header — the root itself can be the sole entry when it was found
// insert-safe and the header was released early (Insert's
// pushOrResetInsert); that case must fall through to the general path
// below and insert into the root like any other internal parent.
func (t *Tree) insertIntoParent(ancestors []*buffer.WriteGuard, key page.Key, rightID page.ID) error {
	if len(ancestors) == 1 && ancestors[0].PageID() == t.headerID {
		header := ancestors[0]
		oldRootID := header.Header().RootID()

		newRootID, newRootGuard, ok := t.pool.NewPageGuardedWrite()
		if !ok {
			header.Drop()
			return errors.New("bptree: cannot allocate new root")
		}
		root := newRootGuard.Node()
		root.InitInternal(t.internalMax)
		root.SetSize(2)
		root.SetChildAt(0, oldRootID)
		root.SetKeyAt(1, key)
		root.SetChildAt(1, rightID)
		newRootGuard.MarkDirty()

		t.rootSwapMu.Lock()
		header.Header().SetRootID(newRootID)
		t.rootSwapMu.Unlock()
		header.MarkDirty()
		newRootGuard.Drop()
		header.Drop()
		return nil
	}

	parentGuard := ancestors[len(ancestors)-1]
	parent := parentGuard.Node()
	parent.InsertInternal(t.cmp, key, rightID)
	parentGuard.MarkDirty()

	if parent.Size() <= parent.MaxSize() {
		unwindDrop(ancestors)
		return nil
	}

	promoted, newSiblingID, err := t.splitInternal(parentGuard)
	parentGuard.Drop()
	if err != nil {
		unwindDrop(ancestors[:len(ancestors)-1])
		return err
	}
	return t.insertIntoParent(ancestors[:len(ancestors)-1], promoted, newSiblingID)
}

// isDeleteSafe reports whether removing one entry from n cannot, by
// itself, force a merge or root adjustment. The root is exempt from the
// usual min-occupancy floor, so it gets its own, stricter thresholds:
// a leaf root can drop to a single entry before emptying out matters, and
// an internal root can drop to two children before a cascading merge
// beneath it could shrink it to one (spec §4.4's root exemption).
func isDeleteSafe(n *page.Node, isRoot bool) bool {
	if isRoot {
		if n.IsLeaf() {
			return n.Size() > 1
		}
		return n.Size() > 2
	}
	return n.Size() > n.MinSize()
}

func (t *Tree) pushOrResetDelete(stack []*buffer.WriteGuard, g *buffer.WriteGuard, isRoot bool) []*buffer.WriteGuard {
	if isDeleteSafe(g.Node(), isRoot) {
		unwindDrop(stack)
		return []*buffer.WriteGuard{g}
	}
	return append(stack, g)
}

// Delete removes key. It returns false, nil if key is absent.
func (t *Tree) Delete(key page.Key) (bool, error) {
	header, ok := t.pool.FetchPageWrite(t.headerID)
	if !ok {
		return false, errors.New("bptree: cannot fetch header page")
	}
	stack := []*buffer.WriteGuard{header}

	rootID := header.Header().RootID()
	if rootID == page.InvalidID {
		unwindDrop(stack)
		return false, nil
	}

	cur, ok := t.pool.FetchPageWrite(rootID)
	if !ok {
		unwindDrop(stack)
		return false, errors.New("bptree: cannot fetch root page")
	}
	stack = t.pushOrResetDelete(stack, cur, true)
	cur = stack[len(stack)-1]

	for {
		node := cur.Node()
		if node.IsLeaf() {
			break
		}
		childID := node.ChildAt(node.ChildIndex(t.cmp, key))
		child, ok := t.pool.FetchPageWrite(childID)
		if !ok {
			unwindDrop(stack)
			return false, errors.New("bptree: cannot fetch child page")
		}
		stack = t.pushOrResetDelete(stack, child, false)
		cur = stack[len(stack)-1]
	}

	leaf := cur.Node()
	idx, found := leaf.FindLeaf(t.cmp, key)
	if !found {
		unwindDrop(stack)
		return false, nil
	}
	leaf.RemoveAt(idx)
	cur.MarkDirty()

	if err := t.rebalance(stack); err != nil {
		return false, err
	}
	return true, nil
}

// rebalance repairs underflow at stack's last node, recursing upward as
// merges cascade. stack[0] is the header page iff it is still held; that
// happens exactly when it might still need updating (spec §4.4).
func (t *Tree) rebalance(stack []*buffer.WriteGuard) error {
	cur := stack[len(stack)-1]
	node := cur.Node()
	headerHeld := stack[0].PageID() == t.headerID

	isRoot := (headerHeld && len(stack) == 2) || (!headerHeld && len(stack) == 1)
	if isRoot {
		return t.adjustRoot(stack, cur, node)
	}

	if node.Size() >= node.MinSize() {
		unwindDrop(stack)
		return nil
	}

	parentGuard := stack[len(stack)-2]
	parent := parentGuard.Node()
	myIndex := parent.IndexOfChild(cur.PageID())

	if myIndex > 0 {
		leftID := parent.ChildAt(myIndex - 1)
		leftGuard, ok := t.pool.FetchPageWrite(leftID)
		if !ok {
			unwindDrop(stack)
			return errors.New("bptree: cannot fetch left sibling")
		}
		left := leftGuard.Node()
		if left.Size() > left.MinSize() {
			t.borrowFromLeft(parent, myIndex, left, node)
			leftGuard.MarkDirty()
			cur.MarkDirty()
			parentGuard.MarkDirty()
			leftGuard.Drop()
			unwindDrop(stack)
			return nil
		}

		t.mergeSiblings(left, node, parent.KeyAt(myIndex))
		leftGuard.MarkDirty()
		parent.RemoveAt(myIndex)
		parentGuard.MarkDirty()
		leftGuard.Drop()

		emptiedID := cur.PageID()
		cur.Drop()
		t.pool.DeletePage(emptiedID)

		return t.rebalance(stack[:len(stack)-1])
	}

	rightID := parent.ChildAt(myIndex + 1)
	rightGuard, ok := t.pool.FetchPageWrite(rightID)
	if !ok {
		unwindDrop(stack)
		return errors.New("bptree: cannot fetch right sibling")
	}
	right := rightGuard.Node()
	if right.Size() > right.MinSize() {
		t.borrowFromRight(parent, myIndex, node, right)
		cur.MarkDirty()
		rightGuard.MarkDirty()
		parentGuard.MarkDirty()
		rightGuard.Drop()
		unwindDrop(stack)
		return nil
	}

	t.mergeSiblings(node, right, parent.KeyAt(myIndex+1))
	cur.MarkDirty()
	parent.RemoveAt(myIndex + 1)
	parentGuard.MarkDirty()

	emptiedID := rightGuard.PageID()
	rightGuard.Drop()
	t.pool.DeletePage(emptiedID)

	cur.Drop()
	return t.rebalance(stack[:len(stack)-1])
}

// mergeSiblings folds right's entries onto the end of left. sepKey is
// ignored for a leaf merge (keys are exact and need no promotion); for an
// internal merge it is the parent's separator between left and right,
// which becomes the key of right's first child now that child is no
// longer in slot 0 (where internal keys are unused padding).
func (t *Tree) mergeSiblings(left, right *page.Node, sepKey page.Key) {
	if left.IsLeaf() {
		for i := int32(0); i < right.Size(); i++ {
			appendEntry(left, right, i)
		}
		left.SetNextLeafID(right.NextLeafID())
		return
	}

	left.ShiftInsertSlot(left.Size())
	left.SetKeyAt(left.Size()-1, sepKey)
	left.SetChildAt(left.Size()-1, right.ChildAt(0))
	for i := int32(1); i < right.Size(); i++ {
		appendEntry(left, right, i)
	}
}

func (t *Tree) borrowFromLeft(parent *page.Node, myIndex int32, left, cur *page.Node) {
	if cur.IsLeaf() {
		lastIdx := left.Size() - 1
		cur.ShiftInsertSlot(0)
		cur.CopyEntryFrom(0, left, lastIdx)
		left.RemoveAt(lastIdx)
		parent.SetKeyAt(myIndex, cur.KeyAt(0))
		return
	}
	lastIdx := left.Size() - 1
	cur.ShiftInsertSlot(0)
	cur.SetKeyAt(1, parent.KeyAt(myIndex))
	cur.SetChildAt(0, left.ChildAt(lastIdx))
	parent.SetKeyAt(myIndex, left.KeyAt(lastIdx))
	left.RemoveAt(lastIdx)
}

func (t *Tree) borrowFromRight(parent *page.Node, myIndex int32, cur, right *page.Node) {
	if cur.IsLeaf() {
		appendEntry(cur, right, 0)
		right.RemoveAt(0)
		parent.SetKeyAt(myIndex+1, right.KeyAt(0))
		return
	}
	cur.ShiftInsertSlot(cur.Size())
	cur.SetKeyAt(cur.Size()-1, parent.KeyAt(myIndex+1))
	cur.SetChildAt(cur.Size()-1, right.ChildAt(0))
	parent.SetKeyAt(myIndex+1, right.KeyAt(1))
	right.RemoveAt(0)
}

// adjustRoot handles the two root-only shrink cases: a leaf root emptied
// out entirely, or an internal root collapsed to a single child that
// should be promoted in its place.
func (t *Tree) adjustRoot(stack []*buffer.WriteGuard, cur *buffer.WriteGuard, node *page.Node) error {
	headerHeld := stack[0].PageID() == t.headerID
	rest := stack[:len(stack)-1]

	if node.IsLeaf() {
		if node.Size() != 0 {
			cur.Drop()
			unwindDrop(rest)
			return nil
		}
		if !headerHeld {
			cur.Drop()
			unwindDrop(rest)
			return errors.New("bptree: root leaf emptied without header latch")
		}
		header := rest[0]
		t.rootSwapMu.Lock()
		header.Header().SetRootID(page.InvalidID)
		t.rootSwapMu.Unlock()
		header.MarkDirty()
		emptiedID := cur.PageID()
		cur.Drop()
		t.pool.DeletePage(emptiedID)
		header.Drop()
		return nil
	}

	if node.Size() != 1 {
		cur.Drop()
		unwindDrop(rest)
		return nil
	}
	if !headerHeld {
		cur.Drop()
		unwindDrop(rest)
		return errors.New("bptree: root internal collapsed without header latch")
	}
	header := rest[0]
	onlyChild := node.ChildAt(0)
	t.rootSwapMu.Lock()
	header.Header().SetRootID(onlyChild)
	t.rootSwapMu.Unlock()
	header.MarkDirty()
	emptiedID := cur.PageID()
	cur.Drop()
	t.pool.DeletePage(emptiedID)
	header.Drop()
	return nil
}
