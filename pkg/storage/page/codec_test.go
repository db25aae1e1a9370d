package page

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLeafNodeInsertAndLookup(t *testing.T) {
	f := &Frame{}
	n := NewNode(f)
	n.InitLeaf(4)

	assert.True(t, n.IsLeaf())
	assert.Equal(t, int32(0), n.Size())

	assert.True(t, n.InsertLeaf(DefaultComparator, 5, RecordID{PageID: 1, Slot: 0}))
	assert.True(t, n.InsertLeaf(DefaultComparator, 1, RecordID{PageID: 1, Slot: 1}))
	assert.True(t, n.InsertLeaf(DefaultComparator, 3, RecordID{PageID: 1, Slot: 2}))

	assert.Equal(t, int32(3), n.Size())
	assert.Equal(t, Key(1), n.KeyAt(0))
	assert.Equal(t, Key(3), n.KeyAt(1))
	assert.Equal(t, Key(5), n.KeyAt(2))

	idx, found := n.FindLeaf(DefaultComparator, 3)
	assert.True(t, found)
	assert.Equal(t, RecordID{PageID: 1, Slot: 2}, n.ValueAt(idx))

	assert.False(t, n.InsertLeaf(DefaultComparator, 3, RecordID{PageID: 9, Slot: 9}))
}

func TestLeafNodeRemove(t *testing.T) {
	f := &Frame{}
	n := NewNode(f)
	n.InitLeaf(4)
	for _, k := range []Key{1, 2, 3} {
		n.InsertLeaf(DefaultComparator, k, RecordID{PageID: ID(k)})
	}

	idx, found := n.FindLeaf(DefaultComparator, 2)
	assert.True(t, found)
	n.RemoveAt(idx)

	assert.Equal(t, int32(2), n.Size())
	_, found = n.FindLeaf(DefaultComparator, 2)
	assert.False(t, found)
	assert.Equal(t, Key(1), n.KeyAt(0))
	assert.Equal(t, Key(3), n.KeyAt(1))
}

func TestInternalNodeChildIndex(t *testing.T) {
	f := &Frame{}
	n := NewNode(f)
	n.InitInternal(4)
	n.SetSize(1)
	n.SetChildAt(0, 100)

	n.InsertInternal(DefaultComparator, 10, 200)
	n.InsertInternal(DefaultComparator, 20, 300)

	assert.Equal(t, int32(0), n.ChildIndex(DefaultComparator, 5))
	assert.Equal(t, int32(1), n.ChildIndex(DefaultComparator, 10))
	assert.Equal(t, int32(1), n.ChildIndex(DefaultComparator, 15))
	assert.Equal(t, int32(2), n.ChildIndex(DefaultComparator, 25))
	assert.Equal(t, ID(100), n.ChildAt(0))
	assert.Equal(t, ID(200), n.ChildAt(1))
	assert.Equal(t, ID(300), n.ChildAt(2))
}

func TestHeaderPageRoundTrip(t *testing.T) {
	f := &Frame{}
	h := NewHeaderPage(f)
	h.SetRootID(42)
	assert.Equal(t, ID(42), h.RootID())
}

func TestMaxEntriesFitsPage(t *testing.T) {
	leafHeader, leafStride := leafHeaderSize, leafEntrySize
	assert.LessOrEqual(t, leafHeader+int(MaxEntries(KindLeaf))*leafStride, PageSize)

	internalHeader, internalStride := internalHeaderSize, internalEntrySize
	assert.LessOrEqual(t, internalHeader+int(MaxEntries(KindInternal))*internalStride, PageSize)
}
