package link

import "fmt"

// PacketBuffer is a fixed-capacity accumulation buffer with a write cursor
type PacketBuffer struct {
	data   []byte
	cursor int
}

// NewPacketBuffer creates a buffer holding up to capacity bytes
func NewPacketBuffer(capacity int) *PacketBuffer {
	return &PacketBuffer{data: make([]byte, capacity)}
}

// Reset rewinds the write cursor; stored bytes are not cleared
func (b *PacketBuffer) Reset() {
	b.cursor = 0
}

// Append copies p at the write cursor. It fails without writing when p does
// not fit in the free space.
func (b *PacketBuffer) Append(p []byte) error {
	if len(p) > b.Free() {
		return fmt.Errorf("%w: append %d bytes with %d free", ErrBufferOverflow, len(p), b.Free())
	}
	b.cursor += copy(b.data[b.cursor:], p)
	return nil
}

// Len returns the write cursor
func (b *PacketBuffer) Len() int {
	return b.cursor
}

// Free returns the bytes left before the buffer is full
func (b *PacketBuffer) Free() int {
	return len(b.data) - b.cursor
}

// Cap returns the buffer capacity
func (b *PacketBuffer) Cap() int {
	return len(b.data)
}

// Bytes returns the accumulated bytes. The slice aliases the buffer and is
// only valid until the next Reset or Append.
func (b *PacketBuffer) Bytes() []byte {
	return b.data[:b.cursor]
}

// tail returns the writable region after the cursor, limited to n bytes
func (b *PacketBuffer) tail(n int) []byte {
	if n > b.Free() {
		n = b.Free()
	}
	return b.data[b.cursor : b.cursor+n]
}

// commit advances the cursor after a direct write into tail
func (b *PacketBuffer) commit(n int) {
	b.cursor += n
}
