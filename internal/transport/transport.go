// Package transport provides the bulk send/receive primitives the
// session and pipeline layers build on: a synchronous request/response
// pair over an already-claimed bulk endpoint pair, and an asynchronous
// transfer primitive used by the pipelined sender to keep multiple
// chunks in flight.
package transport

import (
	"context"
	"sync"
	"time"

	"github.com/ddiss/lthor/internal/flasherr"
)

// DefaultControlTimeout is used for handshake bytes, control packets,
// and out-transfers.
const DefaultControlTimeout = 4000 * time.Millisecond

// DefaultDataTimeout is used for data-response in-transfers, twice the
// control default because the device may pause longer between chunks.
const DefaultDataTimeout = 8000 * time.Millisecond

// Endpoints abstracts an already-opened bulk IN/OUT endpoint pair.
// The core never performs enumeration, VID/PID matching, or interface
// claiming; it is handed a live Endpoints value.
type Endpoints interface {
	// Send writes buf to the OUT endpoint, blocking at most timeout.
	// A short write is reported as an IoError.
	Send(ctx context.Context, buf []byte, timeout time.Duration) error
	// Recv reads into buf from the IN endpoint, blocking at most
	// timeout, and returns the count read. A short read is not an error
	// at this level: Recv (the package function) rejects it, RecvPartial
	// accepts it.
	Recv(ctx context.Context, buf []byte, timeout time.Duration) (int, error)
}

// Send wraps ep.Send with a bound context derived from timeout.
func Send(ctx context.Context, ep Endpoints, buf []byte, timeout time.Duration) error {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := ep.Send(cctx, buf, timeout); err != nil {
		return flasherr.Wrap(flasherr.IoError, err, "bulk send %d bytes", len(buf))
	}
	return nil
}

// Recv wraps ep.Recv with a bound context derived from timeout and
// requires the full buffer to be filled.
func Recv(ctx context.Context, ep Endpoints, buf []byte, timeout time.Duration) (int, error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	n, err := ep.Recv(cctx, buf, timeout)
	if err != nil {
		return n, flasherr.Wrap(flasherr.IoError, err, "bulk recv into %d-byte buffer", len(buf))
	}
	if n != len(buf) {
		return n, flasherr.New(flasherr.IoError, "short read: got %d, want %d", n, len(buf))
	}
	return n, nil
}

// RecvPartial is like Recv but tolerates a short read (used by the PIT
// dump path, which bounds the count it asks for to data_left).
func RecvPartial(ctx context.Context, ep Endpoints, buf []byte, timeout time.Duration) (int, error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	n, err := ep.Recv(cctx, buf, timeout)
	if err != nil {
		return n, flasherr.Wrap(flasherr.IoError, err, "bulk recv into %d-byte buffer", len(buf))
	}
	return n, nil
}

// TransferKind tags which half of a chunk a completion belongs to.
type TransferKind int

const (
	// KindOut tags the body (out) transfer of a chunk.
	KindOut TransferKind = iota
	// KindIn tags the data-response (in) transfer of a chunk.
	KindIn
)

// TransferResult is what an AsyncTransfer reports on completion.
type TransferResult struct {
	ChunkIndex int
	Kind       TransferKind
	N          int
	Err        error
	Cancelled  bool
}

// Sequencer enforces submission-order execution of transfers that
// share it. A real bulk endpoint has a single underlying queue: even
// when several transfers are submitted from concurrent goroutines,
// the host controller runs them in the order they were handed off,
// never in whatever order the submitting goroutines happen to be
// scheduled. Submit* reserves a ticket synchronously, before spawning
// the goroutine that performs the transfer, so ticket order always
// matches call order; the goroutine then waits its turn.
type Sequencer struct {
	mu      sync.Mutex
	cond    *sync.Cond
	next    uint64
	current uint64
}

// NewSequencer returns a ready-to-use Sequencer.
func NewSequencer() *Sequencer {
	s := &Sequencer{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// ticket reserves the next slot in line.
func (s *Sequencer) ticket() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.next
	s.next++
	return t
}

// wait blocks until every earlier ticket has called done.
func (s *Sequencer) wait(ticket uint64) {
	s.mu.Lock()
	for s.current != ticket {
		s.cond.Wait()
	}
	s.mu.Unlock()
}

// done releases the next ticket to run.
func (s *Sequencer) done() {
	s.mu.Lock()
	s.current++
	s.cond.Broadcast()
	s.mu.Unlock()
}

// AsyncTransfer runs a single bulk transfer on its own goroutine and
// reports exactly one TransferResult on results, tagged with
// chunkIndex and kind. Cancel requests the transfer stop; it is safe
// to call Cancel after the transfer has already completed. This is
// the Go-idiomatic replacement for a callback-based completion model:
// each transfer owns the goroutine that runs it, and the driver loop
// that consumes results is the only reader, so no lock guards the
// chunk state the results mutate.
type AsyncTransfer struct {
	chunkIndex int
	kind       TransferKind
	cancel     context.CancelFunc
	done       chan struct{}
}

// SubmitSend starts an out-transfer in the background, reporting its
// result on results tagged with chunkIndex/KindOut. If seq is
// non-nil, the transfer waits its turn on seq before the underlying
// write runs, so concurrently-submitted out-transfers reach ep.Send in
// the order SubmitSend was called, matching a real bulk endpoint's
// single in-order queue.
func SubmitSend(ctx context.Context, ep Endpoints, buf []byte, timeout time.Duration, chunkIndex int, results chan<- TransferResult, seq *Sequencer) *AsyncTransfer {
	cctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	t := &AsyncTransfer{chunkIndex: chunkIndex, kind: KindOut, cancel: cancel, done: done}
	var myTicket uint64
	if seq != nil {
		myTicket = seq.ticket()
	}
	go func() {
		defer close(done)
		if seq != nil {
			seq.wait(myTicket)
		}
		err := Send(cctx, ep, buf, timeout)
		if seq != nil {
			seq.done()
		}
		results <- TransferResult{
			ChunkIndex: chunkIndex,
			Kind:       KindOut,
			N:          len(buf),
			Err:        err,
			Cancelled:  cctx.Err() == context.Canceled,
		}
	}()
	return t
}

// SubmitRecv starts an in-transfer in the background, reporting its
// result on results tagged with chunkIndex/KindIn. seq behaves as in
// SubmitSend, applied to the endpoint's in-transfer queue.
func SubmitRecv(ctx context.Context, ep Endpoints, buf []byte, timeout time.Duration, chunkIndex int, results chan<- TransferResult, seq *Sequencer) *AsyncTransfer {
	cctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	t := &AsyncTransfer{chunkIndex: chunkIndex, kind: KindIn, cancel: cancel, done: done}
	var myTicket uint64
	if seq != nil {
		myTicket = seq.ticket()
	}
	go func() {
		defer close(done)
		if seq != nil {
			seq.wait(myTicket)
		}
		n, err := Recv(cctx, ep, buf, timeout)
		if seq != nil {
			seq.done()
		}
		results <- TransferResult{
			ChunkIndex: chunkIndex,
			Kind:       KindIn,
			N:          n,
			Err:        err,
			Cancelled:  cctx.Err() == context.Canceled,
		}
	}()
	return t
}

// Cancel requests the transfer stop. It does not block for the
// transfer's result to appear on the results channel.
func (t *AsyncTransfer) Cancel() {
	t.cancel()
}

// Cleanup blocks until the transfer's goroutine has exited. Callers
// must not free buffers the transfer reads or writes until Cleanup (or
// the transfer's own completion) has returned — freeing earlier is a
// use-after-free exactly as it would be in the synchronous C engine
// this model replaces.
func (t *AsyncTransfer) Cleanup() {
	<-t.done
}
