// Package buffer implements the buffer pool manager: the cache mapping
// page ids to frames, and the scoped page guards built on top of it
// (spec §4.3).
package buffer

import (
	"sync"

	"github.com/cockroachdb/errors"

	"pagedb/pkg/buffer/replacer"
	"pagedb/pkg/storage/disk"
	"pagedb/pkg/storage/page"
)

// Manager owns the frame array and the page-table mapping. A single mutex
// serializes mutations of the page table, free list, replacer bookkeeping,
// and id allocator (spec §4.3, §5); it does not protect page bytes, which
// is what each Frame's own latch is for.
//
// This implementation holds the pool mutex across the (synchronous)
// disk-scheduler round trip rather than dropping it mid-fetch, which spec
// §4.3 explicitly permits for non-async disk backends. See DESIGN.md.
type Manager struct {
	mu sync.Mutex

	diskMgr   disk.Manager
	scheduler *disk.Scheduler
	frames    []*page.Frame
	replacer  *replacer.LRUK
	freeList  []int
	pageTable map[page.ID]int
}

// NewManager builds an N-frame pool backed by diskMgr, using scheduler for
// I/O and an LRU-K replacer configured with the given k.
func NewManager(diskMgr disk.Manager, scheduler *disk.Scheduler, poolSize int, k int) *Manager {
	frames := make([]*page.Frame, poolSize)
	freeList := make([]int, poolSize)
	for i := range frames {
		frames[i] = &page.Frame{}
		frames[i].SetID(page.InvalidID)
		freeList[i] = i
	}
	return &Manager{
		diskMgr:   diskMgr,
		scheduler: scheduler,
		frames:    frames,
		replacer:  replacer.New(k),
		freeList:  freeList,
		pageTable: make(map[page.ID]int),
	}
}

// getUsableFrame implements spec §4.3's "Usable-frame algorithm": prefer
// the free list, else ask the replacer to evict, writing the victim back
// first if it is dirty. Caller must hold m.mu.
func (m *Manager) getUsableFrame() (int, error) {
	if n := len(m.freeList); n > 0 {
		fid := m.freeList[n-1]
		m.freeList = m.freeList[:n-1]
		return fid, nil
	}

	fid, ok := m.replacer.Evict()
	if !ok {
		return 0, errNoUsableFrame
	}

	frame := m.frames[fid]
	if frame.IsDirty() {
		if err := m.writeBack(frame); err != nil {
			// Dirty write-back failure is fatal: the invariant "durable >=
			// acknowledged" forbids silently losing acknowledged writes
			// (spec §7).
			panic(errors.Wrapf(err, "buffer: fatal write-back failure for page %d", frame.ID()))
		}
	}

	delete(m.pageTable, frame.ID())
	return int(fid), nil
}

func (m *Manager) writeBack(frame *page.Frame) error {
	done := make(chan disk.Result, 1)
	buf := frame.Data
	m.scheduler.Schedule(disk.Request{IsWrite: true, PageID: frame.ID(), Buffer: &buf, Done: done})
	res := <-done
	if res.Success {
		frame.SetDirty(false)
	}
	return res.Err
}

var errNoUsableFrame = errors.New("buffer: no usable frame (pool exhausted)")

// NewPage allocates a fresh page id, installs it into a usable frame
// zero-initialized, and returns it pinned via a basic guard.
func (m *Manager) NewPage() (page.ID, *BasicGuard, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	fid, err := m.getUsableFrame()
	if err != nil {
		return page.InvalidID, nil, false
	}

	id := m.diskMgr.AllocatePage()
	frame := m.frames[fid]
	frame.Reset()
	frame.SetID(id)
	frame.SetPinCount(1)
	// A freshly allocated id has never been written to disk. Mark it dirty
	// immediately so an evict-before-mutate still writes it back and
	// extends the file to cover its offset (spec §8 scenario 1).
	frame.SetDirty(true)

	m.pageTable[id] = fid
	m.replacer.RecordAccess(replacer.FrameID(fid), replacer.AccessIndex)
	_ = m.replacer.SetEvictable(replacer.FrameID(fid), false)

	return id, newBasicGuard(m, frame), true
}

// fetch is the shared cache-hit/cache-miss path behind FetchPageBasic/Read/Write.
func (m *Manager) fetch(id page.ID) (*page.Frame, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if fid, ok := m.pageTable[id]; ok {
		frame := m.frames[fid]
		frame.SetPinCount(frame.PinCount() + 1)
		m.replacer.RecordAccess(replacer.FrameID(fid), replacer.AccessLookup)
		_ = m.replacer.SetEvictable(replacer.FrameID(fid), false)
		return frame, true
	}

	fid, err := m.getUsableFrame()
	if err != nil {
		return nil, false
	}

	frame := m.frames[fid]
	frame.Reset()
	frame.SetID(id)
	frame.SetPinCount(1)

	done := make(chan disk.Result, 1)
	m.scheduler.Schedule(disk.Request{IsWrite: false, PageID: id, Buffer: &frame.Data, Done: done})
	res := <-done
	if !res.Success {
		// Cold-read failure: do not install into the page table, return the
		// frame to the free list (spec §5, §7).
		frame.Reset()
		m.freeList = append(m.freeList, fid)
		return nil, false
	}

	m.pageTable[id] = fid
	m.replacer.RecordAccess(replacer.FrameID(fid), replacer.AccessLookup)
	_ = m.replacer.SetEvictable(replacer.FrameID(fid), false)
	return frame, true
}

// FetchPageBasic fetches id, pinned, with no page-level latch held.
func (m *Manager) FetchPageBasic(id page.ID) (*BasicGuard, bool) {
	frame, ok := m.fetch(id)
	if !ok {
		return nil, false
	}
	return newBasicGuard(m, frame), true
}

// FetchPageRead fetches id, pinned, with its reader latch held.
func (m *Manager) FetchPageRead(id page.ID) (*ReadGuard, bool) {
	frame, ok := m.fetch(id)
	if !ok {
		return nil, false
	}
	return newReadGuard(newBasicGuard(m, frame)), true
}

// FetchPageWrite fetches id, pinned, with its writer latch held.
func (m *Manager) FetchPageWrite(id page.ID) (*WriteGuard, bool) {
	frame, ok := m.fetch(id)
	if !ok {
		return nil, false
	}
	return newWriteGuard(newBasicGuard(m, frame)), true
}

// NewPageGuardedWrite is a convenience matching FetchPageWrite's shape for
// a freshly allocated page.
func (m *Manager) NewPageGuardedWrite() (page.ID, *WriteGuard, bool) {
	id, basic, ok := m.NewPage()
	if !ok {
		return page.InvalidID, nil, false
	}
	return id, newWriteGuard(basic), true
}

// unpin is called by guards on Drop. Exported behavior mirrors
// spec §4.3's UnpinPage contract; kept unexported since guards are the only
// sanctioned way to reach it (spec §9: "expose no raw latch/unpin API on
// the public surface").
func (m *Manager) unpin(id page.ID, dirty bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	fid, ok := m.pageTable[id]
	if !ok {
		return false
	}
	frame := m.frames[fid]
	if frame.PinCount() <= 0 {
		return false
	}

	frame.SetPinCount(frame.PinCount() - 1)
	if dirty {
		frame.SetDirty(true) // OR-merge: once dirty, stays dirty until flush (spec §9)
	}
	if frame.PinCount() == 0 {
		_ = m.replacer.SetEvictable(replacer.FrameID(fid), true)
	}
	return true
}

// Flush writes id back synchronously if resident, clearing its dirty flag.
func (m *Manager) Flush(id page.ID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	fid, ok := m.pageTable[id]
	if !ok {
		return false
	}
	frame := m.frames[fid]
	done := make(chan disk.Result, 1)
	buf := frame.Data
	m.scheduler.Schedule(disk.Request{IsWrite: true, PageID: id, Buffer: &buf, Done: done})
	res := <-done
	if res.Success {
		frame.SetDirty(false)
	}
	return res.Success
}

// FlushAll flushes every resident page, dirty or not.
func (m *Manager) FlushAll() {
	m.mu.Lock()
	ids := make([]page.ID, 0, len(m.pageTable))
	for id := range m.pageTable {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.Flush(id)
	}
}

// DeletePage purges id from the pool and frees its id for reuse. Fails if
// the page is resident and pinned.
func (m *Manager) DeletePage(id page.ID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	fid, ok := m.pageTable[id]
	if !ok {
		m.diskMgr.DeallocatePage(id)
		return true
	}

	frame := m.frames[fid]
	if frame.PinCount() > 0 {
		return false
	}

	delete(m.pageTable, id)
	_ = m.replacer.Remove(replacer.FrameID(fid))
	frame.Reset()
	m.freeList = append(m.freeList, fid)
	m.diskMgr.DeallocatePage(id)
	return true
}
