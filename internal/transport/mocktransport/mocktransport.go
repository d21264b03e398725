// Package mocktransport provides an in-memory transport.Endpoints for
// tests across the session, pipeline, and pit packages, so none of
// them need a real USB device to exercise the protocol engine.
package mocktransport

import (
	"context"
	"sync"
	"time"
)

// Endpoints is a scriptable, thread-safe transport.Endpoints. OnSend
// and OnRecv, when set, are invoked with a 0-based call sequence
// number and may inspect/produce bytes or return an error.
type Endpoints struct {
	mu      sync.Mutex
	Sent    [][]byte
	OnSend  func(seq int, buf []byte) error
	OnRecv  func(seq int, buf []byte) (int, error)
	sendSeq int
	recvSeq int
}

// New returns an Endpoints with no scripted behavior: sends succeed
// and record their payload, receives return zero bytes.
func New() *Endpoints {
	return &Endpoints{}
}

func (m *Endpoints) Send(ctx context.Context, buf []byte, timeout time.Duration) error {
	m.mu.Lock()
	cp := append([]byte(nil), buf...)
	m.Sent = append(m.Sent, cp)
	seq := m.sendSeq
	m.sendSeq++
	fn := m.OnSend
	m.mu.Unlock()
	if fn != nil {
		return fn(seq, cp)
	}
	return nil
}

func (m *Endpoints) Recv(ctx context.Context, buf []byte, timeout time.Duration) (int, error) {
	m.mu.Lock()
	seq := m.recvSeq
	m.recvSeq++
	fn := m.OnRecv
	m.mu.Unlock()
	if fn == nil {
		return 0, nil
	}
	// Race fn against ctx so a scripted callback that blocks
	// indefinitely (simulating a device that never acks) can still be
	// cancelled the way ReadContext would be on real hardware.
	type result struct {
		n   int
		err error
	}
	done := make(chan result, 1)
	go func() {
		n, err := fn(seq, buf)
		done <- result{n, err}
	}()
	select {
	case r := <-done:
		return r.n, r.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}
