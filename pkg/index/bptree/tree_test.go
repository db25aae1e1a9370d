package bptree

import (
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pagedb/pkg/buffer"
	"pagedb/pkg/storage/disk"
	"pagedb/pkg/storage/page"
)

func newTestPool(t *testing.T, poolSize int) (*buffer.Manager, func()) {
	t.Helper()
	dbFile := "test_" + t.Name() + ".db"
	os.Remove(dbFile)

	dm, err := disk.NewFileManager(dbFile)
	require.NoError(t, err)
	sched := disk.NewScheduler(dm)
	pool := buffer.NewManager(dm, sched, poolSize, 2)

	cleanup := func() {
		sched.Stop()
		dm.Close()
		os.Remove(dbFile)
	}
	return pool, cleanup
}

func rid(n int64) page.RecordID {
	return page.RecordID{PageID: page.ID(n), Slot: uint32(n)}
}

func TestTreeInsertAndGetValue(t *testing.T) {
	pool, cleanup := newTestPool(t, 32)
	defer cleanup()

	tree, err := NewTree(pool, page.DefaultComparator, 4, 3)
	require.NoError(t, err)

	for i := int64(1); i <= 10; i++ {
		ok, err := tree.Insert(i, rid(i))
		require.NoError(t, err)
		assert.True(t, ok)
	}

	for i := int64(1); i <= 10; i++ {
		got, ok := tree.GetValue(i)
		require.True(t, ok, "key %d should be present", i)
		assert.Equal(t, rid(i), got)
	}

	_, ok := tree.GetValue(999)
	assert.False(t, ok)
}

func TestTreeRejectsDuplicateInsert(t *testing.T) {
	pool, cleanup := newTestPool(t, 32)
	defer cleanup()

	tree, err := NewTree(pool, page.DefaultComparator, 4, 3)
	require.NoError(t, err)

	ok, err := tree.Insert(5, rid(5))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = tree.Insert(5, rid(50))
	require.NoError(t, err)
	assert.False(t, ok)

	got, _ := tree.GetValue(5)
	assert.Equal(t, rid(5), got)
}

func TestTreeInsertThenDeleteMostKeys(t *testing.T) {
	pool, cleanup := newTestPool(t, 32)
	defer cleanup()

	tree, err := NewTree(pool, page.DefaultComparator, 4, 3)
	require.NoError(t, err)

	for i := int64(1); i <= 10; i++ {
		_, err := tree.Insert(i, rid(i))
		require.NoError(t, err)
	}

	for _, k := range []int64{10, 9, 8, 7} {
		ok, err := tree.Delete(k)
		require.NoError(t, err)
		assert.True(t, ok, "delete %d", k)
	}

	for _, k := range []int64{10, 9, 8, 7} {
		_, ok := tree.GetValue(k)
		assert.False(t, ok, "key %d should be gone", k)
	}
	for _, k := range []int64{1, 2, 3, 4, 5, 6} {
		got, ok := tree.GetValue(k)
		require.True(t, ok, "key %d should remain", k)
		assert.Equal(t, rid(k), got)
	}

	ok, err := tree.Delete(999)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTreeDeleteDownToEmpty(t *testing.T) {
	pool, cleanup := newTestPool(t, 32)
	defer cleanup()

	tree, err := NewTree(pool, page.DefaultComparator, 4, 3)
	require.NoError(t, err)

	for i := int64(1); i <= 20; i++ {
		_, err := tree.Insert(i, rid(i))
		require.NoError(t, err)
	}
	for i := int64(1); i <= 20; i++ {
		ok, err := tree.Delete(i)
		require.NoError(t, err)
		assert.True(t, ok)
	}

	it := tree.Begin()
	assert.True(t, it.End())

	_, err = tree.Insert(1, rid(1))
	require.NoError(t, err)
	got, ok := tree.GetValue(1)
	require.True(t, ok)
	assert.Equal(t, rid(1), got)
}

func TestTreeIteratorWalksInOrder(t *testing.T) {
	pool, cleanup := newTestPool(t, 32)
	defer cleanup()

	tree, err := NewTree(pool, page.DefaultComparator, 4, 3)
	require.NoError(t, err)

	keys := []int64{5, 3, 8, 1, 9, 2, 7, 4, 6, 10}
	for _, k := range keys {
		_, err := tree.Insert(k, rid(k))
		require.NoError(t, err)
	}

	var seen []int64
	for it := tree.Begin(); !it.End(); it.Next() {
		seen = append(seen, it.Key())
	}
	assert.Equal(t, []int64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, seen)
}

func TestTreeIteratorBeginAtSkipsLowerKeys(t *testing.T) {
	pool, cleanup := newTestPool(t, 32)
	defer cleanup()

	tree, err := NewTree(pool, page.DefaultComparator, 4, 3)
	require.NoError(t, err)

	for i := int64(1); i <= 10; i++ {
		_, err := tree.Insert(i, rid(i))
		require.NoError(t, err)
	}

	var seen []int64
	for it := tree.BeginAt(6); !it.End(); it.Next() {
		seen = append(seen, it.Key())
	}
	assert.Equal(t, []int64{6, 7, 8, 9, 10}, seen)
}

// TestTreeSplitAfterSafeRootEarlyRelease exercises the exact shape a safe
// (non-full) root creates: the header is released early during descent,
// leaving a length-one ancestor stack whose sole entry is the root's own
// guard, not the header. Regression coverage for insertIntoParent
// mistaking that guard for the header and corrupting the root.
func TestTreeSplitAfterSafeRootEarlyRelease(t *testing.T) {
	pool, cleanup := newTestPool(t, 64)
	defer cleanup()

	tree, err := NewTree(pool, page.DefaultComparator, 4, 3)
	require.NoError(t, err)

	const n = 30
	for i := int64(1); i <= n; i++ {
		ok, err := tree.Insert(i, rid(i))
		require.NoError(t, err)
		assert.True(t, ok, "insert %d", i)
	}

	for i := int64(1); i <= n; i++ {
		got, ok := tree.GetValue(i)
		require.True(t, ok, "key %d should be reachable", i)
		assert.Equal(t, rid(i), got)
	}

	var seen []int64
	for it := tree.Begin(); !it.End(); it.Next() {
		seen = append(seen, it.Key())
	}
	want := make([]int64, n)
	for i := range want {
		want[i] = int64(i + 1)
	}
	assert.Equal(t, want, seen, "leaf chain must stay in order after a split above a safely-released root")
}

func TestTreeIteratorEqual(t *testing.T) {
	pool, cleanup := newTestPool(t, 32)
	defer cleanup()

	tree, err := NewTree(pool, page.DefaultComparator, 4, 3)
	require.NoError(t, err)
	other, err := NewTree(pool, page.DefaultComparator, 4, 3)
	require.NoError(t, err)

	for i := int64(1); i <= 5; i++ {
		_, err := tree.Insert(i, rid(i))
		require.NoError(t, err)
		_, err = other.Insert(i, rid(i))
		require.NoError(t, err)
	}

	a := tree.BeginAt(3)
	b := tree.BeginAt(3)
	assert.True(t, a.Equal(b), "same tree, same key should compare equal")

	b.Next()
	assert.False(t, a.Equal(b), "advancing one iterator should break equality")
	a.Next()
	assert.True(t, a.Equal(b))

	cross := other.BeginAt(3)
	assert.False(t, a.Equal(cross), "iterators from different trees must never compare equal")

	for !a.End() {
		a.Next()
	}
	for !b.End() {
		b.Next()
	}
	assert.True(t, a.Equal(b), "two ended iterators over the same tree compare equal")
	assert.False(t, a.Equal(nil))
}

func TestTreeConcurrentInsertsAcrossDisjointRanges(t *testing.T) {
	pool, cleanup := newTestPool(t, 64)
	defer cleanup()

	tree, err := NewTree(pool, page.DefaultComparator, 4, 3)
	require.NoError(t, err)

	const perWorker = 100
	const workers = 10

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			base := int64(w * perWorker)
			for i := int64(0); i < perWorker; i++ {
				_, err := tree.Insert(base+i, rid(base+i))
				assert.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()

	for i := int64(0); i < perWorker*workers; i++ {
		got, ok := tree.GetValue(i)
		require.True(t, ok, "key %d missing after concurrent insert", i)
		assert.Equal(t, rid(i), got)
	}
}

func TestTreeReopenPreservesData(t *testing.T) {
	pool, cleanup := newTestPool(t, 32)
	defer cleanup()

	tree, err := NewTree(pool, page.DefaultComparator, 4, 3)
	require.NoError(t, err)
	for i := int64(1); i <= 5; i++ {
		_, err := tree.Insert(i, rid(i))
		require.NoError(t, err)
	}

	reopened := OpenTree(pool, tree.HeaderID(), page.DefaultComparator, 4, 3)
	got, ok := reopened.GetValue(3)
	require.True(t, ok)
	assert.Equal(t, rid(3), got)
}
