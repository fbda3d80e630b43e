// Package heap implements a best-fit, eagerly coalescing allocator over a
// fixed, caller-supplied byte buffer. Block bookkeeping lives in-band inside
// the buffer; the arena never allocates from the Go heap after construction.
package heap

import (
	"fmt"
	"math"
	"unsafe"

	"go.uber.org/zap"
)

type options struct {
	Log       *zap.SugaredLogger
	Enter     func()
	Exit      func()
	SelfCheck bool
}

func newOptions() *options {
	return &options{
		Log: zap.NewNop().Sugar(),
	}
}

// ArenaOption is a function that configures the arena.
type ArenaOption func(*options)

// WithLog sets the logger for the arena.
func WithLog(log *zap.SugaredLogger) ArenaOption {
	return func(o *options) {
		o.Log = log
	}
}

// WithCriticalSection brackets every public arena operation with the given
// enter/exit hooks. Both must be provided for the bracket to apply.
func WithCriticalSection(enter, exit func()) ArenaOption {
	return func(o *options) {
		o.Enter = enter
		o.Exit = exit
	}
}

// WithSelfCheck enables the pool integrity check after each allocation. A
// failed check rolls the allocation back and the allocation reports failure.
func WithSelfCheck() ArenaOption {
	return func(o *options) {
		o.SelfCheck = true
	}
}

// Arena is a best-fit free-list allocator operating over a fixed byte
// region. The caller owns the backing buffer; the arena only ever hands out
// sub-slices of it.
//
// The arena assumes a single logical executor. Hosts with preempting
// contexts supply critical-section hooks via WithCriticalSection.
type Arena struct {
	buf       []byte
	usable    uint32
	head      uint32
	enter     func()
	exit      func()
	selfCheck bool
	allocs    int
	log       *zap.SugaredLogger
}

// New initializes an arena over buf. The usable size is len(buf) rounded
// down to the word size and must fit at least one header plus one word; the
// whole region starts out as a single free block.
func New(buf []byte, options ...ArenaOption) (*Arena, error) {
	opts := newOptions()
	for _, o := range options {
		o(opts)
	}

	if len(buf) > math.MaxInt32 {
		return nil, fmt.Errorf("buffer of %d bytes exceeds the addressable arena size", len(buf))
	}

	usable := uint32(len(buf)) &^ (wordSize - 1)
	if usable < headerSize+wordSize {
		return nil, fmt.Errorf("buffer of %d bytes is too small: need at least %d", len(buf), headerSize+wordSize)
	}

	m := &Arena{
		buf:       buf,
		usable:    usable,
		head:      0,
		enter:     opts.Enter,
		exit:      opts.Exit,
		selfCheck: opts.SelfCheck,
		log:       opts.Log,
	}

	m.setBlockInfo(m.head, false, usable-headerSize)
	m.setBlockPrev(m.head, nilBlock)
	m.setBlockNext(m.head, nilBlock)

	m.log.Infow("initialized heap arena",
		zap.Int("size", len(buf)),
		zap.Uint32("usable", usable),
	)

	return m, nil
}

// Initialized reports whether the arena has a backing buffer.
func (m *Arena) Initialized() bool {
	return m != nil && m.buf != nil
}

// Allocate returns a word-aligned payload of n bytes, or nil when no free
// block fits. The payload is not zeroed.
func (m *Arena) Allocate(n int) []byte {
	if m.enter != nil && m.exit != nil {
		m.enter()
		defer m.exit()
	}

	return m.allocate(n)
}

func (m *Arena) allocate(n int) []byte {
	if n <= 0 || n > math.MaxInt32 {
		return nil
	}

	need := alignUp(uint32(n))
	off, ok := m.findBestFit(need)
	if !ok {
		m.log.Debugw("allocation failed",
			zap.Int("size", n),
			zap.Uint32("max_free", m.maxFreeBlock()),
		)
		return nil
	}

	m.allocateBlock(off, need)

	if m.selfCheck && !m.checkPool() {
		m.log.Errorw("heap pool corrupted, rolling back allocation",
			zap.Uint32("offset", off),
			zap.Int("size", n),
		)
		m.freeBlock(off)
		return nil
	}

	m.allocs++
	start := int(off) + headerSize
	return m.buf[start : start+n : start+int(need)]
}

// Free returns a payload previously obtained from the arena to the free
// list, merging it with free neighbours. A nil payload is a no-op; payloads
// the arena does not recognize are ignored.
func (m *Arena) Free(p []byte) {
	if m.enter != nil && m.exit != nil {
		m.enter()
		defer m.exit()
	}

	m.free(p)
}

func (m *Arena) free(p []byte) {
	if p == nil {
		return
	}

	off, ok := m.blockOf(p)
	if !ok {
		m.log.Warnw("free of an address the arena does not own", zap.Int("len", len(p)))
		return
	}

	m.freeBlock(off)
	m.allocs--
}

// Reallocate resizes a payload. Shrinking returns the original payload
// untouched; growing allocates a new block, copies the old payload and frees
// it. Reallocate(nil, n) allocates; Reallocate(p, 0) frees and returns nil.
func (m *Arena) Reallocate(p []byte, n int) []byte {
	if m.enter != nil && m.exit != nil {
		m.enter()
		defer m.exit()
	}

	if p == nil {
		return m.allocate(n)
	}
	if n <= 0 {
		m.free(p)
		return nil
	}

	off, ok := m.blockOf(p)
	if !ok {
		return nil
	}

	_, size := m.blockInfo(off)
	start := int(off) + headerSize

	if n <= math.MaxInt32 && alignUp(uint32(n)) <= size {
		return m.buf[start : start+n : start+int(size)]
	}

	grown := m.allocate(n)
	if grown == nil {
		return nil
	}

	copy(grown, m.buf[start:start+int(size)])
	m.freeBlock(off)
	m.allocs--

	return grown
}

// Callocate allocates a zero-filled payload for count elements of size
// bytes each. Requests whose total does not fit 32 bits are rejected.
func (m *Arena) Callocate(count, size int) []byte {
	if m.enter != nil && m.exit != nil {
		m.enter()
		defer m.exit()
	}

	if count <= 0 || size <= 0 {
		return nil
	}

	total := uint64(count) * uint64(size)
	if total > math.MaxUint32 {
		return nil
	}

	p := m.allocate(int(total))
	if p == nil {
		return nil
	}

	clear(p[:cap(p)])
	return p
}

// MaxFreeBlockSize returns the payload size of the largest free block.
func (m *Arena) MaxFreeBlockSize() int {
	if m.enter != nil && m.exit != nil {
		m.enter()
		defer m.exit()
	}

	return int(m.maxFreeBlock())
}

func (m *Arena) maxFreeBlock() uint32 {
	max := uint32(0)
	for off := m.head; off != nilBlock; off = m.blockNext(off) {
		if occupied, size := m.blockInfo(off); !occupied && size > max {
			max = size
		}
	}
	return max
}

// Contains reports whether the payload points into the arena region.
func (m *Arena) Contains(p []byte) bool {
	if len(p) == 0 || m.buf == nil {
		return false
	}

	base := uintptr(unsafe.Pointer(unsafe.SliceData(m.buf)))
	ptr := uintptr(unsafe.Pointer(unsafe.SliceData(p)))
	return ptr >= base && ptr < base+uintptr(m.usable)
}

// Stats is a point-in-time snapshot of the arena state.
type Stats struct {
	// Allocations is the number of live allocations.
	Allocations int
	// Blocks is the number of blocks in the list, free and occupied.
	Blocks int
	// FreeBytes is the total free payload.
	FreeBytes int
	// MaxFreeBlock is the largest contiguous free payload.
	MaxFreeBlock int
}

func (m Stats) String() string {
	return fmt.Sprintf("{allocs: %d, blocks: %d, free: %d, max_free: %d}",
		m.Allocations, m.Blocks, m.FreeBytes, m.MaxFreeBlock)
}

// Stats returns statistics of the current state of the arena.
func (m *Arena) Stats() Stats {
	if m.enter != nil && m.exit != nil {
		m.enter()
		defer m.exit()
	}

	stats := Stats{Allocations: m.allocs}
	for off := m.head; off != nilBlock; off = m.blockNext(off) {
		occupied, size := m.blockInfo(off)
		stats.Blocks++
		if !occupied {
			stats.FreeBytes += int(size)
			if int(size) > stats.MaxFreeBlock {
				stats.MaxFreeBlock = int(size)
			}
		}
	}

	return stats
}

// LogPool logs every block in the pool.
func (m *Arena) LogPool() {
	if m.enter != nil && m.exit != nil {
		m.enter()
		defer m.exit()
	}

	for off := m.head; off != nilBlock; off = m.blockNext(off) {
		occupied, size := m.blockInfo(off)
		m.log.Infow("heap block",
			zap.Uint32("offset", off),
			zap.Bool("occupied", occupied),
			zap.Uint32("size", size),
			zap.Uint32("next", m.blockNext(off)),
		)
	}
}
