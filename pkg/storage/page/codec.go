package page

import "encoding/binary"

// Kind tags a B+-tree node page as leaf or internal. Stored in the page's
// own header so a node's shape can be recovered from its bytes alone,
// without a side table.
type Kind uint32

const (
	KindLeaf     Kind = 0
	KindInternal Kind = 1
)

// Key is the fixed-width, totally-ordered key type stored in every node
// page slot. Non-unique or variable-length keys are explicitly out of
// scope (spec Non-goals); a fixed 8-byte key keeps every slot a fixed
// stride, which is what makes position-based paging possible.
type Key = int64

// Comparator orders two keys, returning <0, 0, or >0 the way bytes.Compare
// does. Kept as a plug-in function (rather than assuming Key's natural
// ordering) so callers can supply their own total order.
type Comparator func(a, b Key) int

// DefaultComparator orders keys numerically.
func DefaultComparator(a, b Key) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// RecordID locates a tuple: the page holding it and its slot within that
// page. Leaves store one per key.
type RecordID struct {
	PageID ID
	Slot   uint32
}

const recordIDSize = 8 // 4 bytes PageID + 4 bytes Slot

func (r RecordID) encode(dst []byte) {
	binary.LittleEndian.PutUint32(dst[0:4], uint32(r.PageID))
	binary.LittleEndian.PutUint32(dst[4:8], r.Slot)
}

func decodeRecordID(src []byte) RecordID {
	return RecordID{
		PageID: ID(binary.LittleEndian.Uint32(src[0:4])),
		Slot:   binary.LittleEndian.Uint32(src[4:8]),
	}
}

// Common node header, shared by leaf and internal pages:
//
//	0  page_kind  u32
//	4  size       u32
//	8  max_size   u32
//	12 ...        (leaf: next_leaf_id u32, then entries; internal: entries)
const (
	offKind       = 0
	offSize       = 4
	offMaxSize    = 8
	offNextLeafID = 12

	leafHeaderSize     = 16
	internalHeaderSize = 12

	leafEntrySize     = 8 + recordIDSize // key + record id
	internalEntrySize = 8 + 4            // key (ignored at slot 0) + child page id
)

// HeaderPage is the one-page-per-index root pointer described in spec §3/§6:
// offset 0 stores the current root page id.
type HeaderPage struct {
	Data []byte
}

func NewHeaderPage(f *Frame) *HeaderPage {
	return &HeaderPage{Data: f.Data[:]}
}

func (h *HeaderPage) RootID() ID {
	return ID(binary.LittleEndian.Uint32(h.Data[0:4]))
}

func (h *HeaderPage) SetRootID(id ID) {
	binary.LittleEndian.PutUint32(h.Data[0:4], uint32(id))
}

// Node is a tagged view over a frame's bytes: leaf or internal, selected at
// runtime by the page_kind field. There is no separate leaf/internal Go
// type hierarchy; every accessor below either applies uniformly or asserts
// on IsLeaf(), matching the "sum type keyed by a tag field" approach spec §9
// calls for over raw pointer casts.
type Node struct {
	Data []byte
}

func NewNode(f *Frame) *Node {
	return &Node{Data: f.Data[:]}
}

func (n *Node) Kind() Kind {
	return Kind(binary.LittleEndian.Uint32(n.Data[offKind : offKind+4]))
}

func (n *Node) setKind(k Kind) {
	binary.LittleEndian.PutUint32(n.Data[offKind:offKind+4], uint32(k))
}

func (n *Node) IsLeaf() bool { return n.Kind() == KindLeaf }

func (n *Node) Size() int32 {
	return int32(binary.LittleEndian.Uint32(n.Data[offSize : offSize+4]))
}

func (n *Node) SetSize(size int32) {
	binary.LittleEndian.PutUint32(n.Data[offSize:offSize+4], uint32(size))
}

func (n *Node) MaxSize() int32 {
	return int32(binary.LittleEndian.Uint32(n.Data[offMaxSize : offMaxSize+4]))
}

func (n *Node) setMaxSize(max int32) {
	binary.LittleEndian.PutUint32(n.Data[offMaxSize:offMaxSize+4], uint32(max))
}

// MinSize is ceil(max/2); the root is exempt from this floor (spec §4.4).
func (n *Node) MinSize() int32 {
	max := n.MaxSize()
	return (max + 1) / 2
}

func (n *Node) NextLeafID() ID {
	return ID(binary.LittleEndian.Uint32(n.Data[offNextLeafID : offNextLeafID+4]))
}

func (n *Node) SetNextLeafID(id ID) {
	binary.LittleEndian.PutUint32(n.Data[offNextLeafID:offNextLeafID+4], uint32(id))
}

// InitLeaf formats the page as an empty leaf with the given max size.
func (n *Node) InitLeaf(maxSize int32) {
	n.setKind(KindLeaf)
	n.SetSize(0)
	n.setMaxSize(maxSize)
	n.SetNextLeafID(InvalidID)
}

// InitInternal formats the page as an empty internal node with the given
// max size.
func (n *Node) InitInternal(maxSize int32) {
	n.setKind(KindInternal)
	n.SetSize(0)
	n.setMaxSize(maxSize)
}

func (n *Node) headerSize() int {
	if n.IsLeaf() {
		return leafHeaderSize
	}
	return internalHeaderSize
}

func (n *Node) entrySize() int {
	if n.IsLeaf() {
		return leafEntrySize
	}
	return internalEntrySize
}

func (n *Node) offsetOf(i int32) int {
	return n.headerSize() + int(i)*n.entrySize()
}

// KeyAt returns the key stored at slot i. For an internal node, slot 0's
// key is padding and must not be compared against.
func (n *Node) KeyAt(i int32) Key {
	off := n.offsetOf(i)
	return int64(binary.LittleEndian.Uint64(n.Data[off : off+8]))
}

func (n *Node) SetKeyAt(i int32, key Key) {
	off := n.offsetOf(i)
	binary.LittleEndian.PutUint64(n.Data[off:off+8], uint64(key))
}

// ValueAt returns the record id stored at slot i of a leaf node.
func (n *Node) ValueAt(i int32) RecordID {
	off := n.offsetOf(i) + 8
	return decodeRecordID(n.Data[off : off+recordIDSize])
}

func (n *Node) SetValueAt(i int32, rid RecordID) {
	off := n.offsetOf(i) + 8
	rid.encode(n.Data[off : off+recordIDSize])
}

// ChildAt returns the child page id stored at slot i of an internal node.
func (n *Node) ChildAt(i int32) ID {
	off := n.offsetOf(i) + 8
	return ID(binary.LittleEndian.Uint32(n.Data[off : off+4]))
}

func (n *Node) SetChildAt(i int32, id ID) {
	off := n.offsetOf(i) + 8
	binary.LittleEndian.PutUint32(n.Data[off:off+4], uint32(id))
}

// IsFull reports whether the node has no room left for a direct insert.
func (n *Node) IsFull() bool {
	return n.Size() >= n.MaxSize()
}

func (n *Node) shiftRight(from int32) {
	entry := n.entrySize()
	size := n.Size()
	src := n.offsetOf(from)
	dst := n.offsetOf(from + 1)
	copy(n.Data[dst:dst+int(size-from)*entry], n.Data[src:src+int(size-from)*entry])
}

func (n *Node) shiftLeft(from int32) {
	entry := n.entrySize()
	size := n.Size()
	dst := n.offsetOf(from)
	src := n.offsetOf(from + 1)
	copy(n.Data[dst:dst+int(size-from-1)*entry], n.Data[src:src+int(size-from-1)*entry])
}

// FindLeaf returns the slot index of key in a leaf node and true; if key is
// absent, it returns the slot where key would be inserted and false.
func (n *Node) FindLeaf(cmp Comparator, key Key) (int32, bool) {
	size := n.Size()
	lo, hi := int32(0), size
	for lo < hi {
		mid := (lo + hi) / 2
		if cmp(n.KeyAt(mid), key) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < size && cmp(n.KeyAt(lo), key) == 0 {
		return lo, true
	}
	return lo, false
}

// InsertLeaf places (key, rid) into a leaf node in sorted position. Returns
// false without modification if key is already present.
func (n *Node) InsertLeaf(cmp Comparator, key Key, rid RecordID) bool {
	idx, found := n.FindLeaf(cmp, key)
	if found {
		return false
	}
	size := n.Size()
	n.SetSize(size + 1)
	if idx < size {
		n.shiftRight(idx)
	}
	n.SetKeyAt(idx, key)
	n.SetValueAt(idx, rid)
	return true
}

// ShiftInsertSlot grows the node by one slot at position i, shifting later
// entries right. Callers fill the new slot with SetKeyAt/SetValueAt/
// SetChildAt or CopyEntryFrom. Passing i == Size() appends.
func (n *Node) ShiftInsertSlot(i int32) {
	size := n.Size()
	n.SetSize(size + 1)
	if i < size {
		n.shiftRight(i)
	}
}

// RemoveAt deletes the entry at slot i, shifting later entries left.
func (n *Node) RemoveAt(i int32) {
	size := n.Size()
	if i < 0 || i >= size {
		return
	}
	if i < size-1 {
		n.shiftLeft(i)
	}
	n.SetSize(size - 1)
}

// ChildIndex returns the index of the child that must be descended into to
// find key, using the invariant that child i covers [key[i], key[i+1]).
func (n *Node) ChildIndex(cmp Comparator, key Key) int32 {
	size := n.Size()
	lo, hi := int32(1), size
	for lo < hi {
		mid := (lo + hi) / 2
		if cmp(n.KeyAt(mid), key) <= 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo - 1
}

// InsertInternal places (key, childID) into an internal node in sorted
// position (slots 1..size-1 are ordered; slot 0 never moves).
func (n *Node) InsertInternal(cmp Comparator, key Key, childID ID) {
	size := n.Size()
	idx := int32(1)
	for idx < size {
		if cmp(n.KeyAt(idx), key) > 0 {
			break
		}
		idx++
	}
	n.SetSize(size + 1)
	if idx < size {
		n.shiftRight(idx)
	}
	n.SetKeyAt(idx, key)
	n.SetChildAt(idx, childID)
}

// IndexOfChild finds the slot holding childID, or -1.
func (n *Node) IndexOfChild(childID ID) int32 {
	size := n.Size()
	for i := int32(0); i < size; i++ {
		if n.ChildAt(i) == childID {
			return i
		}
	}
	return -1
}

// CopyEntryFrom copies slot src of other into slot dst of n, preserving
// whichever value type the kind implies.
func (n *Node) CopyEntryFrom(dst int32, other *Node, src int32) {
	n.SetKeyAt(dst, other.KeyAt(src))
	if n.IsLeaf() {
		n.SetValueAt(dst, other.ValueAt(src))
	} else {
		n.SetChildAt(dst, other.ChildAt(src))
	}
}

// MaxEntries returns how many entries of this node's kind fit in one page.
func MaxEntries(k Kind) int32 {
	if k == KindLeaf {
		return int32((PageSize - leafHeaderSize) / leafEntrySize)
	}
	return int32((PageSize - internalHeaderSize) / internalEntrySize)
}
