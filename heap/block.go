package heap

import (
	"encoding/binary"
	"unsafe"
)

const (
	// headerSize is the in-band block header footprint. The header carries
	// an info word (occupied bit + 31-bit payload size) and the prev/next
	// block offsets; it is padded so that every payload stays word-aligned.
	headerSize = 16

	// wordSize is the payload alignment. Payload sizes are always a
	// multiple of it.
	wordSize = 8

	// nilBlock marks an absent prev/next reference.
	nilBlock = ^uint32(0)

	occupiedBit = uint32(1) << 31
	sizeMask    = occupiedBit - 1
)

func alignUp(n uint32) uint32 {
	return (n + wordSize - 1) &^ (wordSize - 1)
}

// Block headers live inside the arena buffer itself, immediately preceding
// each payload. Offsets are relative to the buffer start, so the layout
// survives the buffer being handed around as a slice.

func (m *Arena) blockInfo(off uint32) (occupied bool, size uint32) {
	info := binary.LittleEndian.Uint32(m.buf[off:])
	return info&occupiedBit != 0, info & sizeMask
}

func (m *Arena) setBlockInfo(off uint32, occupied bool, size uint32) {
	info := size & sizeMask
	if occupied {
		info |= occupiedBit
	}
	binary.LittleEndian.PutUint32(m.buf[off:], info)
}

func (m *Arena) blockPrev(off uint32) uint32 {
	return binary.LittleEndian.Uint32(m.buf[off+4:])
}

func (m *Arena) setBlockPrev(off, prev uint32) {
	binary.LittleEndian.PutUint32(m.buf[off+4:], prev)
}

func (m *Arena) blockNext(off uint32) uint32 {
	return binary.LittleEndian.Uint32(m.buf[off+8:])
}

func (m *Arena) setBlockNext(off, next uint32) {
	binary.LittleEndian.PutUint32(m.buf[off+8:], next)
}

// blockOf maps a payload slice previously returned by the arena back to its
// block header offset. Slices pointing outside the arena, into the middle of
// a payload, or at a block that is not live resolve to false.
func (m *Arena) blockOf(p []byte) (uint32, bool) {
	if len(p) == 0 {
		return 0, false
	}

	base := uintptr(unsafe.Pointer(unsafe.SliceData(m.buf)))
	ptr := uintptr(unsafe.Pointer(unsafe.SliceData(p)))
	if ptr < base+headerSize || ptr >= base+uintptr(m.usable) {
		return 0, false
	}

	off := uint32(ptr-base) - headerSize

	// Blocks are ordered by address, so the walk can stop early.
	for b := m.head; b != nilBlock; b = m.blockNext(b) {
		if b == off {
			occupied, _ := m.blockInfo(b)
			return off, occupied
		}
		if b > off {
			break
		}
	}

	return 0, false
}

// freeBlock marks the block free and eagerly coalesces: the upper neighbour
// is absorbed first, then the lower neighbour absorbs the result.
func (m *Arena) freeBlock(off uint32) {
	_, size := m.blockInfo(off)
	m.setBlockInfo(off, false, size)

	if next := m.blockNext(off); next != nilBlock {
		if occupied, nextSize := m.blockInfo(next); !occupied {
			size += nextSize + headerSize
			newNext := m.blockNext(next)
			m.setBlockInfo(off, false, size)
			m.setBlockNext(off, newNext)
			if newNext != nilBlock {
				m.setBlockPrev(newNext, off)
			}
		}
	}

	if prev := m.blockPrev(off); prev != nilBlock {
		if occupied, prevSize := m.blockInfo(prev); !occupied {
			next := m.blockNext(off)
			m.setBlockInfo(prev, false, prevSize+size+headerSize)
			m.setBlockNext(prev, next)
			if next != nilBlock {
				m.setBlockPrev(next, prev)
			}
		}
	}
}

// findBestFit returns the smallest free block whose payload fits need bytes,
// breaking early on an exact match.
func (m *Arena) findBestFit(need uint32) (uint32, bool) {
	best := nilBlock
	bestSize := ^uint32(0)

	for off := m.head; off != nilBlock; off = m.blockNext(off) {
		occupied, size := m.blockInfo(off)
		if occupied || size < need {
			continue
		}
		if size < bestSize {
			best = off
			bestSize = size
			if size == need {
				break
			}
		}
	}

	return best, best != nilBlock
}

// allocateBlock claims the block at off for need payload bytes, splitting a
// remainder block off when it can hold a header plus at least one word.
func (m *Arena) allocateBlock(off, need uint32) {
	_, size := m.blockInfo(off)
	next := m.blockNext(off)

	if size >= need+headerSize+wordSize {
		rem := off + headerSize + need
		m.setBlockInfo(rem, false, size-need-headerSize)
		m.setBlockPrev(rem, off)
		m.setBlockNext(rem, next)
		if next != nilBlock {
			m.setBlockPrev(next, rem)
		}
		m.setBlockNext(off, rem)
		size = need
	}

	m.setBlockInfo(off, true, size)
}

// checkPool verifies the accounting invariant: payload sizes plus one header
// per block must cover the usable region exactly.
func (m *Arena) checkPool() bool {
	total := uint32(0)
	blocks := uint32(0)
	for off := m.head; off != nilBlock; off = m.blockNext(off) {
		_, size := m.blockInfo(off)
		total += size
		blocks++
	}
	return total+blocks*headerSize == m.usable
}
