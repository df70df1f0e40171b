package link

import (
	"bytes"
	"errors"
	"testing"
)

func TestPacketBufferAppend(t *testing.T) {
	tests := []struct {
		name     string
		capacity int
		chunks   [][]byte
		wantLen  int
		wantErr  bool
	}{
		{
			name:     "single chunk",
			capacity: 192,
			chunks:   [][]byte{bytes.Repeat([]byte{1}, 30)},
			wantLen:  30,
		},
		{
			name:     "exact fill",
			capacity: 192,
			chunks: [][]byte{
				bytes.Repeat([]byte{1}, 64),
				bytes.Repeat([]byte{2}, 64),
				bytes.Repeat([]byte{3}, 64),
			},
			wantLen: 192,
		},
		{
			name:     "overflow rejected",
			capacity: 64,
			chunks: [][]byte{
				bytes.Repeat([]byte{1}, 60),
				bytes.Repeat([]byte{2}, 5),
			},
			wantLen: 60,
			wantErr: true,
		},
		{
			name:     "empty append",
			capacity: 8,
			chunks:   [][]byte{{}},
			wantLen:  0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewPacketBuffer(tt.capacity)
			var err error
			for _, c := range tt.chunks {
				if err = b.Append(c); err != nil {
					break
				}
			}

			if (err != nil) != tt.wantErr {
				t.Fatalf("Append() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, ErrBufferOverflow) {
				t.Errorf("Append() error = %v, want ErrBufferOverflow", err)
			}
			if b.Len() != tt.wantLen {
				t.Errorf("Len() = %d, want %d", b.Len(), tt.wantLen)
			}
			if b.Free() != b.Cap()-b.Len() {
				t.Errorf("Free() = %d, want Cap()-Len() = %d", b.Free(), b.Cap()-b.Len())
			}
		})
	}
}

func TestPacketBufferReset(t *testing.T) {
	b := NewPacketBuffer(16)
	if err := b.Append([]byte("hello")); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if !bytes.Equal(b.Bytes(), []byte("hello")) {
		t.Errorf("Bytes() = %q, want %q", b.Bytes(), "hello")
	}

	b.Reset()
	if b.Len() != 0 || b.Free() != 16 {
		t.Errorf("after Reset: Len() = %d, Free() = %d", b.Len(), b.Free())
	}
	if len(b.Bytes()) != 0 {
		t.Errorf("after Reset: Bytes() has %d bytes", len(b.Bytes()))
	}
}

func TestPacketBufferTailIsBounded(t *testing.T) {
	b := NewPacketBuffer(10)
	b.commit(len(b.tail(6)))
	if got := len(b.tail(30)); got != 4 {
		t.Errorf("tail(30) length = %d, want 4", got)
	}
}
