// Package pipeline implements the windowed, three-chunk-in-flight bulk
// body sender (§4.5). This is the core of the engine: it overlaps an
// out-transfer (body) and an in-transfer (data-response ack) per
// chunk so that USB turnaround latency is hidden, validates that each
// chunk is acknowledged in strictly increasing sequence order, and
// unwinds cleanly on the first error or on cancellation.
//
// The upstream C engine recovers the owning chunk from a transfer
// struct via container_of and drives everything from libusb callbacks
// on one thread. This port keeps the single-driver-thread invariant
// but replaces the pointer trick with a channel: each chunk's
// out-transfer and in-transfer run on their own goroutine and report a
// tagged transport.TransferResult on one shared channel; a single
// driver loop (the goroutine that calls Send) is the only reader of
// that channel and the only writer of chunk/window state, so nothing
// here needs a lock. A transport.Sequencer per direction keeps the
// concurrently-submitted out-transfers (and, separately, in-transfers)
// running in submission order, matching the single in-order queue a
// real bulk endpoint has.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/ddiss/lthor/internal/flasherr"
	"github.com/ddiss/lthor/internal/proto"
	"github.com/ddiss/lthor/internal/source"
	"github.com/ddiss/lthor/internal/transport"
)

const windowSize = 3

// ProgressFunc is invoked after each chunk is acknowledged, with bytes
// sent so far, bytes remaining, and the chunk number just acked.
type ProgressFunc func(sent, left int64, chunkNumber int32)

// Options configures a Send call.
type Options struct {
	ControlTimeout time.Duration // out-transfer timeout; default transport.DefaultControlTimeout
	DataTimeout    time.Duration // in-transfer timeout; default transport.DefaultDataTimeout
	OnProgress     ProgressFunc
	Log            *slog.Logger
}

// chunk is a window slot: the per-chunk state described in §4.5's
// "Per-chunk state" (useful_size, chunk_number, two completion flags)
// plus the wire buffers this slot's transfers read/write. A slot is
// reused across the successive chunk numbers assigned to it by
// schedule-next.
type chunk struct {
	bodyBuf      []byte
	respBuf      []byte
	usefulSize   int
	chunkNumber  int32
	dataFinished bool
	respFinished bool
	live         bool // primed and not yet fully cleaned up
	outXfer      *transport.AsyncTransfer
	inXfer       *transport.AsyncTransfer
}

// engine holds everything the driver loop and its callbacks touch.
// Exactly one goroutine (the one running Send) ever reads or writes
// engine's fields or its chunks, so none of it needs a lock — the
// no-locking invariant from §5 and §9.
type engine struct {
	ctx  context.Context
	ep   transport.Endpoints
	src  source.Source
	unit int
	opts Options

	chunks  []*chunk
	results chan transport.TransferResult
	outSeq  *transport.Sequencer
	inSeq   *transport.Sequencer

	dataLeft        int64
	dataInProgress  int64
	dataSent        int64
	nextChunkNumber int32
	completed       bool
	ret             error
}

// Send uploads totalLength bytes read from src over ep in windowed
// chunks of size unit (the transfer unit negotiated by file_info).
// It implements §4.5 in full: priming up to three chunks, the driver
// loop, the out/in-transfer completion logic, schedule-next, and
// cancellation unwind.
func Send(ctx context.Context, ep transport.Endpoints, src source.Source, totalLength int64, unit int, opts Options) error {
	if opts.ControlTimeout == 0 {
		opts.ControlTimeout = transport.DefaultControlTimeout
	}
	if opts.DataTimeout == 0 {
		opts.DataTimeout = transport.DefaultDataTimeout
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if unit <= 0 {
		return flasherr.New(flasherr.InvalidArgument, "transfer unit must be positive, got %d", unit)
	}

	e := &engine{
		ctx:             ctx,
		ep:              ep,
		src:             src,
		unit:            unit,
		opts:            opts,
		dataLeft:        totalLength,
		nextChunkNumber: 1,
		results:         make(chan transport.TransferResult, windowSize*2),
		outSeq:          transport.NewSequencer(),
		inSeq:           transport.NewSequencer(),
	}
	for i := 0; i < windowSize; i++ {
		e.chunks = append(e.chunks, &chunk{bodyBuf: make([]byte, unit), respBuf: make([]byte, proto.DataRespPktSize)})
	}

	// Edge case: empty body. No chunks primed, immediate success.
	if e.dataLeft == 0 {
		return nil
	}

	primed := 0
	for i := 0; i < windowSize && e.dataLeft-e.dataInProgress > 0; i++ {
		if err := e.primeChunk(e.chunks[i]); err != nil {
			e.ret = err
			e.cancelAndDrain(e.chunks[:primed])
			return e.ret
		}
		primed++
	}

	e.driveLoop()

	if e.dataInProgress != 0 {
		// Driver loop exited with work still outstanding: cancel
		// everything live and drain cancellation completions before
		// freeing any buffer.
		e.cancelAndDrain(e.chunks)
		if e.ret == nil {
			e.ret = flasherr.New(flasherr.IoError, "pipeline exited with data still in flight")
		}
		return e.ret
	}

	return e.ret
}

// primeChunk reads the next slice from the source into c's body
// buffer, zero-pads the tail, assigns the next sequence number, and
// submits the out-transfer then the in-transfer.
func (e *engine) primeChunk(c *chunk) error {
	toRead := e.dataLeft - e.dataInProgress
	if toRead <= 0 {
		return flasherr.New(flasherr.InvalidArgument, "no data left to prime a chunk with")
	}
	useful := int(toRead)
	if useful > e.unit {
		useful = e.unit
	}

	n, err := readFull(e.src, c.bodyBuf[:useful])
	if err != nil {
		return flasherr.Wrap(flasherr.IoError, err, "read chunk body")
	}
	if n != useful {
		return flasherr.New(flasherr.InvalidArgument, "source returned %d bytes, wanted %d", n, useful)
	}
	for i := useful; i < len(c.bodyBuf); i++ {
		c.bodyBuf[i] = 0
	}
	for i := range c.respBuf {
		c.respBuf[i] = 0
	}

	c.usefulSize = useful
	c.chunkNumber = e.nextChunkNumber
	e.nextChunkNumber++
	c.dataFinished = false
	c.respFinished = false
	c.live = true

	idx := e.slotIndex(c)
	c.outXfer = transport.SubmitSend(e.ctx, e.ep, c.bodyBuf, e.opts.ControlTimeout, idx, e.results, e.outSeq)
	c.inXfer = transport.SubmitRecv(e.ctx, e.ep, c.respBuf, e.opts.DataTimeout, idx, e.results, e.inSeq)

	e.dataInProgress += int64(useful)
	return nil
}

// slotIndex returns c's fixed position in e.chunks, used to tag its
// transfers' completions so the driver loop can route them back
// regardless of which chunk number currently occupies the slot.
func (e *engine) slotIndex(c *chunk) int {
	for i, s := range e.chunks {
		if s == c {
			return i
		}
	}
	return -1
}

func readFull(src source.Source, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := src.Read(buf[total:])
		total += n
		if err != nil {
			if total == len(buf) {
				return total, nil
			}
			return total, err
		}
		if n == 0 {
			break
		}
	}
	return total, nil
}

// driveLoop pumps completions off e.results until e.completed is set,
// dispatching each to its slot by index. This is the single goroutine
// that mutates chunk/engine state.
func (e *engine) driveLoop() {
	for !e.completed {
		res := <-e.results
		if res.ChunkIndex < 0 || res.ChunkIndex >= len(e.chunks) {
			continue
		}
		c := e.chunks[res.ChunkIndex]
		switch res.Kind {
		case transport.KindOut:
			e.onDataTransferFinished(c, res)
		case transport.KindIn:
			e.onRespTransferFinished(c, res)
		}
	}
}

// onDataTransferFinished is data_transfer_finished: mark
// data_finished; if the engine already failed or this transfer was
// cancelled, stop; if the out-transfer itself failed, record ret and
// stop scheduling (but let the paired in-transfer's own completion
// still run: completed here only means "stop scheduling new work",
// per the open question in §9, not "drain complete"); else, if the
// paired in-transfer already finished, try to schedule the next chunk.
func (e *engine) onDataTransferFinished(c *chunk, res transport.TransferResult) {
	c.dataFinished = true

	if res.Cancelled || e.ret != nil {
		return
	}
	if res.Err != nil {
		e.ret = res.Err
		e.completed = true
		return
	}
	if c.respFinished {
		e.checkNextChunk(c)
	}
}

// onRespTransferFinished is resp_transfer_finished: mark resp_finished,
// decrement data_in_progress. If cancelled or the engine already
// failed, finish only once no data is left in progress. If the
// in-transfer itself failed or the sequence number does not match,
// record the (first, sticky) error and complete. Otherwise advance
// data_sent/data_left, report progress, and — once both callbacks for
// this chunk have fired — try to schedule the next chunk.
func (e *engine) onRespTransferFinished(c *chunk, res transport.TransferResult) {
	c.respFinished = true
	e.dataInProgress -= int64(c.usefulSize)

	if res.Cancelled || e.ret != nil {
		if e.dataInProgress == 0 {
			e.completed = true
		}
		return
	}
	if res.Err != nil {
		e.ret = res.Err
		e.completed = true
		return
	}

	dr, err := proto.DecodeDataResponse(c.respBuf)
	if err != nil {
		e.ret = err
		e.completed = true
		return
	}
	if dr.Cnt != c.chunkNumber {
		e.ret = flasherr.New(flasherr.FramingError, "chunk number mismatch: got cnt=%d, want %d", dr.Cnt, c.chunkNumber)
		e.completed = true
		return
	}

	e.dataSent += int64(c.usefulSize)
	e.dataLeft -= int64(c.usefulSize)
	if e.opts.OnProgress != nil {
		e.opts.OnProgress(e.dataSent, e.dataLeft, c.chunkNumber)
	}

	if c.dataFinished {
		e.checkNextChunk(c)
	}
}

// checkNextChunk is check_next_chunk: if more data remains to be
// queued, prime the next chunk into this now-free slot; a priming
// failure becomes the sticky error and completes the engine. If
// nothing remains to queue and nothing is still in progress, this is
// a clean finish.
func (e *engine) checkNextChunk(c *chunk) {
	if e.dataLeft-e.dataInProgress > 0 {
		if err := e.primeChunk(c); err != nil {
			e.ret = err
			e.completed = true
		}
		return
	}
	if e.dataInProgress == 0 {
		e.completed = true
	}
}

// cancelAndDrain cancels both transfers of every chunk in chunks and
// pumps the driver loop once more (with completed reset) to drain
// their cancellation completions, then marks every chunk not live.
// Buffers are never reused or handed to a new transfer while this is
// running: every live chunk's transfers are outstanding goroutines
// whose completion this function waits out before returning.
func (e *engine) cancelAndDrain(chunks []*chunk) {
	pending := 0
	for _, c := range chunks {
		if !c.live {
			continue
		}
		c.outXfer.Cancel()
		c.inXfer.Cancel()
		// Only transfers whose completion the driver loop has not yet
		// observed are still outstanding on e.results.
		if !c.dataFinished {
			pending++
		}
		if !c.respFinished {
			pending++
		}
	}
	if pending == 0 {
		for _, c := range chunks {
			c.live = false
		}
		return
	}

	e.completed = false
	for pending > 0 {
		res := <-e.results
		pending--
		if res.ChunkIndex >= 0 && res.ChunkIndex < len(e.chunks) {
			e.chunks[res.ChunkIndex].live = false
		}
	}

	for _, c := range chunks {
		if c.outXfer != nil {
			c.outXfer.Cleanup()
		}
		if c.inXfer != nil {
			c.inXfer.Cleanup()
		}
		c.live = false
	}
}
