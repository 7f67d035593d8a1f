// Package mempool implements the shareable, memfd-backed memory blocks used
// to carry buffer-pool storage between the core and its clients over
// SCM_RIGHTS. A Pool hands out Blocks; a Block can be mapped repeatedly at
// different offsets, and overlapping maps share one underlying mmap so that
// pointer arithmetic across maps of the same block stays consistent.
package mempool

import (
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	mgerrors "github.com/alxayo/mediagraph-core/internal/errors"
)

// Flags mirror the allocation flags a caller passes to Pool.Alloc.
type Flags uint32

const (
	// WithFD requests an fd-backed (memfd) block suitable for SCM_RIGHTS.
	// Without it the block is private process memory with no fd.
	WithFD Flags = 1 << iota
	// ReadWrite maps the block PROT_READ|PROT_WRITE; without it maps are
	// PROT_READ only.
	ReadWrite
	// Seal applies F_SEAL_SHRINK|F_SEAL_GROW|F_SEAL_SEAL once the block's
	// final size is fixed, matching the source's sealed-memfd convention.
	Seal
)

// Block is one allocated memory region, optionally backed by a memfd.
type Block struct {
	id    uint32
	fd    int // -1 if not fd-backed
	size  int
	flags Flags

	mu      sync.Mutex
	data    []byte // non-nil once mapped
	mapRefs int    // number of live MemMaps referencing data
}

// ID returns the block's pool-local identifier.
func (b *Block) ID() uint32 { return b.id }

// FD returns the block's file descriptor and true if it is fd-backed.
// The fd is owned by the Block; callers passing it across SCM_RIGHTS must
// not close it themselves.
func (b *Block) FD() (int, bool) {
	if b.fd < 0 {
		return 0, false
	}
	return b.fd, true
}

// Size returns the block's total size in bytes.
func (b *Block) Size() int { return b.size }

// MemMap is a mapped sub-range of a Block: {block, offset, length, ptr}.
type MemMap struct {
	Block  *Block
	Offset int
	Length int
	Ptr    unsafe.Pointer
	Tag    [64]byte
}

// Pool allocates Blocks and tracks their mappings. The zero value is not
// usable; construct with New.
type Pool struct {
	mu     sync.Mutex
	blocks map[uint32]*Block
	nextID uint32
}

// New returns an empty Pool.
func New() *Pool {
	return &Pool{blocks: make(map[uint32]*Block), nextID: 1}
}

// Alloc creates a new Block of size bytes with the given flags. When
// WithFD is set the block is backed by a sealed memfd suitable for passing
// to a peer over SCM_RIGHTS.
func (p *Pool) Alloc(size int, flags Flags) (*Block, error) {
	if size <= 0 {
		return nil, mgerrors.NewAllocError("mempool.alloc", fmt.Errorf("invalid size %d", size))
	}

	fd := -1
	if flags&WithFD != 0 {
		var err error
		fd, err = unix.MemfdCreate("mediagraph-block", unix.MFD_CLOEXEC|unix.MFD_ALLOW_SEALING)
		if err != nil {
			return nil, mgerrors.NewAllocError("mempool.alloc", fmt.Errorf("memfd_create: %w", err))
		}
		if err := unix.Ftruncate(fd, int64(size)); err != nil {
			unix.Close(fd)
			return nil, mgerrors.NewAllocError("mempool.alloc", fmt.Errorf("ftruncate: %w", err))
		}
		if flags&Seal != 0 {
			if _, err := unix.FcntlInt(uintptr(fd), unix.F_ADD_SEALS,
				unix.F_SEAL_SHRINK|unix.F_SEAL_GROW|unix.F_SEAL_SEAL); err != nil {
				unix.Close(fd)
				return nil, mgerrors.NewAllocError("mempool.alloc", fmt.Errorf("add seals: %w", err))
			}
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	b := &Block{id: p.nextID, fd: fd, size: size, flags: flags}
	p.nextID++
	p.blocks[b.id] = b
	return b, nil
}

// Block looks up a previously allocated block by id.
func (p *Pool) Block(id uint32) (*Block, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.blocks[id]
	return b, ok
}

// Map returns a MemMap covering [offset, offset+length) of the block
// identified by blockID. Repeated maps of overlapping ranges on the same
// block share one underlying mmap: the invariant under test is that two
// maps on the same block, regardless of their individual offsets, yield
// pointers whose difference equals the difference of their offsets.
func (p *Pool) Map(blockID uint32, offset, length int) (*MemMap, error) {
	b, ok := p.Block(blockID)
	if !ok {
		return nil, mgerrors.NewAllocError("mempool.map", fmt.Errorf("unknown block %d", blockID))
	}
	if offset < 0 || length <= 0 || offset+length > b.size {
		return nil, mgerrors.NewAllocError("mempool.map",
			fmt.Errorf("range [%d,%d) out of bounds for block of size %d", offset, offset+length, b.size))
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.data == nil {
		data, err := b.mapWhole()
		if err != nil {
			return nil, err
		}
		b.data = data
	}
	b.mapRefs++

	ptr := unsafe.Add(unsafe.Pointer(&b.data[0]), offset)
	return &MemMap{Block: b, Offset: offset, Length: length, Ptr: ptr}, nil
}

// mapWhole mmaps the entire block once. Caller must hold b.mu.
func (b *Block) mapWhole() ([]byte, error) {
	prot := unix.PROT_READ
	if b.flags&ReadWrite != 0 {
		prot |= unix.PROT_WRITE
	}
	if b.fd < 0 {
		// Anonymous, non-fd-backed block: private memory.
		data, err := unix.Mmap(-1, 0, b.size, prot, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
		if err != nil {
			return nil, mgerrors.NewAllocError("mempool.map", fmt.Errorf("mmap anon: %w", err))
		}
		return data, nil
	}
	data, err := unix.Mmap(b.fd, 0, b.size, prot, unix.MAP_SHARED)
	if err != nil {
		return nil, mgerrors.NewAllocError("mempool.map", fmt.Errorf("mmap: %w", err))
	}
	return data, nil
}

// Unmap releases one reference to m's underlying mapping. When the last
// reference on a Block's mapping drops, the mapping is munmap'd; when the
// block itself is later released via Pool.Release its fd is closed.
func (p *Pool) Unmap(m *MemMap) error {
	b := m.Block
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.mapRefs == 0 {
		return nil
	}
	b.mapRefs--
	if b.mapRefs == 0 && b.data != nil {
		if err := unix.Munmap(b.data); err != nil {
			return mgerrors.NewAllocError("mempool.unmap", err)
		}
		b.data = nil
	}
	return nil
}

// Release frees a Block entirely: it must have no outstanding maps. The fd,
// if any, is closed.
func (p *Pool) Release(id uint32) error {
	p.mu.Lock()
	b, ok := p.blocks[id]
	if ok {
		delete(p.blocks, id)
	}
	p.mu.Unlock()
	if !ok {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.mapRefs > 0 {
		return mgerrors.NewAllocError("mempool.release", fmt.Errorf("block %d has %d live maps", id, b.mapRefs))
	}
	if b.data != nil {
		unix.Munmap(b.data)
		b.data = nil
	}
	if b.fd >= 0 {
		unix.Close(b.fd)
		b.fd = -1
	}
	return nil
}
