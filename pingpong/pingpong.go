// Package pingpong implements a two-slot double buffer for single-writer,
// single-reader handoff. The writer and the reader always target different
// slots, so neither blocks the other and no locking is needed inside the
// buffer itself.
package pingpong

// Buffer is a two-slot double buffer. The zero value is unusable; call Init
// with the two slot regions first.
type Buffer struct {
	slot       [2][]byte
	writeIndex int
	readIndex  int
	writable   bool
	readable   bool
}

// Init points the buffer at its two slot regions. Both slots start empty:
// the buffer is writable and there is nothing to read.
func (m *Buffer) Init(buf0, buf1 []byte) {
	m.slot[0] = buf0
	m.slot[1] = buf1
	m.writeIndex = 0
	m.readIndex = 0
	m.writable = true
	m.readable = false
}

// WriteBuf returns the slot currently assigned for writing.
func (m *Buffer) WriteBuf() ([]byte, bool) {
	if !m.writable {
		return nil, false
	}
	return m.slot[m.writeIndex], true
}

// FinishWrite commits the written slot: it becomes the next read slot and
// the write index flips to the other slot.
func (m *Buffer) FinishWrite() {
	m.readIndex = m.writeIndex
	m.writeIndex ^= 1
	m.readable = true
}

// ReadBuf returns the most recently committed slot. It fails when nothing
// has been committed since the last FinishRead.
func (m *Buffer) ReadBuf() ([]byte, bool) {
	if !m.readable {
		return nil, false
	}
	return m.slot[m.readIndex], true
}

// FinishRead releases the read slot, invalidating it until the next commit.
func (m *Buffer) FinishRead() {
	m.readable = false
}
