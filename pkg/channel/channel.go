// Package channel implements the bidirectional byte-stream abstraction
// (§4.2): a loopback TCP socket and a POSIX named pipe, both satisfying the
// same Channel interface so the broker never needs to know which transport
// backs a given worker.
package channel

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/prism-community/workersup/pkg/framing"
)

// Channel is a bidirectional, framed byte stream to a single worker.
type Channel interface {
	Open() error
	SendBytes(data []byte) error
	ReceiveBytes(buf []byte) (int, error)
	SendMessage(payload []byte) error
	ReceiveMessage() ([]byte, error)
	Close() error
	IsOpen() bool
}

// base holds the read/write plumbing shared by every concrete channel: given
// a live io.ReadWriteCloser, it implements framed send/receive and idempotent
// close. Concrete types embed base and are responsible only for producing
// the underlying stream in their own Open.
type base struct {
	mu     sync.Mutex
	rw     io.ReadWriteCloser
	open   bool
	closed bool
}

func (b *base) setStream(rw io.ReadWriteCloser) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rw = rw
	b.open = true
}

func (b *base) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open && !b.closed
}

func (b *base) stream() (io.ReadWriteCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.open || b.closed || b.rw == nil {
		return nil, fmt.Errorf("channel: not open")
	}
	return b.rw, nil
}

func (b *base) SendBytes(data []byte) error {
	rw, err := b.stream()
	if err != nil {
		return err
	}
	_, err = rw.Write(data)
	return err
}

func (b *base) ReceiveBytes(buf []byte) (int, error) {
	rw, err := b.stream()
	if err != nil {
		return 0, err
	}
	return io.ReadFull(rw, buf)
}

func (b *base) SendMessage(payload []byte) error {
	framed, err := framing.Frame(payload)
	if err != nil {
		return err
	}
	return b.SendBytes(framed)
}

func (b *base) ReceiveMessage() ([]byte, error) {
	header := make([]byte, framing.LengthPrefixSize)
	if _, err := b.ReceiveBytes(header); err != nil {
		return nil, fmt.Errorf("channel: reading frame header: %w", err)
	}
	n := binary.BigEndian.Uint32(header)
	if n > framing.MaxFrameLength {
		b.Close()
		return nil, fmt.Errorf("channel: declared frame length %d exceeds cap %d", n, framing.MaxFrameLength)
	}
	payload := make([]byte, n)
	if n > 0 {
		if _, err := b.ReceiveBytes(payload); err != nil {
			return nil, fmt.Errorf("channel: reading frame body: %w", err)
		}
	}
	return payload, nil
}

func (b *base) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	b.open = false
	if b.rw != nil {
		return b.rw.Close()
	}
	return nil
}
