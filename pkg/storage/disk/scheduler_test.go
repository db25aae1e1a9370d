package disk

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pagedb/pkg/storage/page"
)

func TestSchedulerWriteThenRead(t *testing.T) {
	dbFile := "test_scheduler.db"
	os.Remove(dbFile)
	defer os.Remove(dbFile)

	dm, err := NewFileManager(dbFile)
	require.NoError(t, err)
	defer dm.Close()

	sched := NewScheduler(dm)
	defer sched.Stop()

	id := dm.AllocatePage()

	var writeBuf [page.PageSize]byte
	copy(writeBuf[:], "scheduled write")
	writeDone := make(chan Result, 1)
	sched.Schedule(Request{IsWrite: true, PageID: id, Buffer: &writeBuf, Done: writeDone})
	res := <-writeDone
	require.True(t, res.Success)

	var readBuf [page.PageSize]byte
	readDone := make(chan Result, 1)
	sched.Schedule(Request{IsWrite: false, PageID: id, Buffer: &readBuf, Done: readDone})
	res = <-readDone
	require.True(t, res.Success)
	assert.Equal(t, "scheduled write", string(readBuf[:len("scheduled write")]))
}

func TestSchedulerPreservesPerPageWriteOrder(t *testing.T) {
	dbFile := "test_scheduler_order.db"
	os.Remove(dbFile)
	defer os.Remove(dbFile)

	dm, err := NewFileManager(dbFile)
	require.NoError(t, err)
	defer dm.Close()

	sched := NewScheduler(dm)
	defer sched.Stop()

	id := dm.AllocatePage()

	const n = 50
	for i := 0; i < n; i++ {
		var buf [page.PageSize]byte
		buf[0] = byte(i)
		done := make(chan Result, 1)
		sched.Schedule(Request{IsWrite: true, PageID: id, Buffer: &buf, Done: done})
		require.True(t, (<-done).Success)
	}

	var out [page.PageSize]byte
	done := make(chan Result, 1)
	sched.Schedule(Request{IsWrite: false, PageID: id, Buffer: &out, Done: done})
	require.True(t, (<-done).Success)
	assert.Equal(t, byte(n-1), out[0])
}
