package bptree

import "pagedb/pkg/storage/page"

// Iterator walks a tree's leaves in key order, holding a read latch on at
// most one leaf page at a time. It is not safe for concurrent use by
// multiple goroutines, and it does not observe a consistent snapshot
// across concurrent structural modifications: a split or merge that
// occurs after the iterator's current leaf is released can change what
// Next sees next, the same "no isolation beyond a single leaf" contract
// original_source's index iterator makes.
type Iterator struct {
	tree   *Tree
	leaf   *pageReadHandle
	slot   int32
	ended  bool
}

type pageReadHandle struct {
	guard interface {
		PageID() page.ID
		Node() *page.Node
		Drop()
	}
}

// Begin positions an iterator at the first entry of the tree.
func (t *Tree) Begin() *Iterator {
	header, ok := t.pool.FetchPageRead(t.headerID)
	if !ok {
		return &Iterator{tree: t, ended: true}
	}
	rootID := header.Header().RootID()
	header.Drop()
	if rootID == page.InvalidID {
		return &Iterator{tree: t, ended: true}
	}

	cur, ok := t.pool.FetchPageRead(rootID)
	if !ok {
		return &Iterator{tree: t, ended: true}
	}
	for {
		node := cur.Node()
		if node.IsLeaf() {
			break
		}
		childID := node.ChildAt(0)
		next, ok := t.pool.FetchPageRead(childID)
		cur.Drop()
		if !ok {
			return &Iterator{tree: t, ended: true}
		}
		cur = next
	}

	if cur.Node().Size() == 0 {
		cur.Drop()
		return &Iterator{tree: t, ended: true}
	}
	return &Iterator{tree: t, leaf: &pageReadHandle{guard: cur}, slot: 0}
}

// BeginAt positions an iterator at the first entry with key >= key.
func (t *Tree) BeginAt(key page.Key) *Iterator {
	header, ok := t.pool.FetchPageRead(t.headerID)
	if !ok {
		return &Iterator{tree: t, ended: true}
	}
	rootID := header.Header().RootID()
	header.Drop()
	if rootID == page.InvalidID {
		return &Iterator{tree: t, ended: true}
	}

	cur, ok := t.pool.FetchPageRead(rootID)
	if !ok {
		return &Iterator{tree: t, ended: true}
	}
	for {
		node := cur.Node()
		if node.IsLeaf() {
			break
		}
		childID := node.ChildAt(node.ChildIndex(t.cmp, key))
		next, ok := t.pool.FetchPageRead(childID)
		cur.Drop()
		if !ok {
			return &Iterator{tree: t, ended: true}
		}
		cur = next
	}

	node := cur.Node()
	slot, _ := node.FindLeaf(t.cmp, key)
	it := &Iterator{tree: t, leaf: &pageReadHandle{guard: cur}, slot: slot}
	it.skipToValidSlot()
	return it
}

// skipToValidSlot advances across empty/exhausted leaves until it or the
// end of the tree is reached.
func (it *Iterator) skipToValidSlot() {
	for !it.ended && it.leaf != nil {
		node := it.leaf.guard.Node()
		if it.slot < node.Size() {
			return
		}
		nextID := node.NextLeafID()
		it.leaf.guard.Drop()
		it.leaf = nil
		if nextID == page.InvalidID {
			it.ended = true
			return
		}
		next, ok := it.tree.pool.FetchPageRead(nextID)
		if !ok {
			it.ended = true
			return
		}
		it.leaf = &pageReadHandle{guard: next}
		it.slot = 0
	}
}

// End reports whether the iterator has been exhausted.
func (it *Iterator) End() bool {
	return it.ended
}

// Key returns the key at the iterator's current position. Must not be
// called once End() is true.
func (it *Iterator) Key() page.Key {
	return it.leaf.guard.Node().KeyAt(it.slot)
}

// Value returns the record id at the iterator's current position.
func (it *Iterator) Value() page.RecordID {
	return it.leaf.guard.Node().ValueAt(it.slot)
}

// Next advances to the following entry.
func (it *Iterator) Next() {
	if it.ended {
		return
	}
	it.slot++
	it.skipToValidSlot()
}

// Equal reports whether it and other denote the same position: the
// header page id stands in as the tree-identity token, so iterators from
// different trees never compare equal, and two ended iterators over the
// same tree compare equal regardless of how each reached the end.
func (it *Iterator) Equal(other *Iterator) bool {
	if other == nil {
		return false
	}
	if it.tree.headerID != other.tree.headerID {
		return false
	}
	if it.ended || other.ended {
		return it.ended == other.ended
	}
	return it.leaf.guard.PageID() == other.leaf.guard.PageID() && it.slot == other.slot
}

// Close releases any latch the iterator is holding. Safe to call more
// than once, and required if a caller abandons an iterator before End().
func (it *Iterator) Close() {
	if it.leaf != nil {
		it.leaf.guard.Drop()
		it.leaf = nil
	}
	it.ended = true
}
