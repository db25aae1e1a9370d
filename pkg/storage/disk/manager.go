// Package disk implements the durable byte-addressable page store the
// buffer pool reads from and writes back to, plus a request-queue
// scheduler in front of it (spec §4.2).
package disk

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/cockroachdb/errors"

	"pagedb/pkg/storage/page"
)

// Manager performs raw, synchronous reads and writes against a single
// database file, and hands out page ids. Grounded in
// nihil-sum-minidb/pkg/storage/disk/disk_manager.go; generalized with an
// id-recycle queue so DeallocatePage'd ids are reused, per spec §4.3.
type Manager interface {
	ReadPage(id page.ID, dst *[page.PageSize]byte) error
	WritePage(id page.ID, src *[page.PageSize]byte) error
	AllocatePage() page.ID
	DeallocatePage(id page.ID)
	Close() error
}

type FileManager struct {
	mu         sync.Mutex
	file       *os.File
	nextID     page.ID
	freeIDs    []page.ID
}

// NewFileManager opens (creating if necessary) the database file at path
// and recovers nextID from its current size.
func NewFileManager(path string) (*FileManager, error) {
	if dir := filepath.Dir(path); dir != "." {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, errors.Wrap(err, "disk: create data directory")
			}
		}
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "disk: open database file")
	}

	info, err := f.Stat()
	if err != nil {
		return nil, errors.Wrap(err, "disk: stat database file")
	}

	return &FileManager{
		file:   f,
		nextID: page.ID(info.Size() / page.PageSize),
	}, nil
}

func (m *FileManager) Close() error {
	return m.file.Close()
}

// ReadPage reads id's bytes into dst. An id allocated but never written
// (the file has not yet been extended to cover its offset) reads back as
// an all-zero page rather than erroring — AllocatePage hands out ids
// ahead of any write, so a short/EOF read at or past the current file
// size is expected, not corruption.
func (m *FileManager) ReadPage(id page.ID, dst *[page.PageSize]byte) error {
	offset := int64(id) * page.PageSize
	n, err := m.file.ReadAt(dst[:], offset)
	if err != nil && err != io.EOF {
		return errors.Wrapf(err, "disk: read page %d", id)
	}
	if n < page.PageSize {
		for i := n; i < page.PageSize; i++ {
			dst[i] = 0
		}
	}
	return nil
}

func (m *FileManager) WritePage(id page.ID, src *[page.PageSize]byte) error {
	offset := int64(id) * page.PageSize
	if _, err := m.file.WriteAt(src[:], offset); err != nil {
		return errors.Wrapf(err, "disk: write page %d", id)
	}
	return nil
}

// AllocatePage hands out a recycled id if one is free, otherwise mints a
// new one. Matches spec §4.3's "ID allocation" rule.
func (m *FileManager) AllocatePage() page.ID {
	m.mu.Lock()
	defer m.mu.Unlock()

	if n := len(m.freeIDs); n > 0 {
		id := m.freeIDs[n-1]
		m.freeIDs = m.freeIDs[:n-1]
		return id
	}
	id := m.nextID
	m.nextID++
	return id
}

func (m *FileManager) DeallocatePage(id page.ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.freeIDs = append(m.freeIDs, id)
}
