package pipeline

import (
	"bytes"
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ddiss/lthor/internal/flasherr"
	"github.com/ddiss/lthor/internal/transport/mocktransport"
)

// fakeSource is a minimal in-memory source.Source over a byte slice.
type fakeSource struct {
	data []byte
	pos  int
}

func (f *fakeSource) Next() (bool, error)      { return true, nil }
func (f *fakeSource) Name() string             { return "img" }
func (f *fakeSource) Length() int64            { return int64(len(f.data)) }
func (f *fakeSource) TotalSize() (int64, error) { return int64(len(f.data)), nil }
func (f *fakeSource) Close() error             { return nil }
func (f *fakeSource) Read(buf []byte) (int, error) {
	n := copy(buf, f.data[f.pos:])
	f.pos += n
	return n, nil
}

func TestWindowedSenderOrderingAndZeroPad(t *testing.T) {
	const unit = 1024
	total := 3000
	data := make([]byte, total)
	for i := range data {
		data[i] = byte(i % 251)
	}
	src := &fakeSource{data: data}

	ep := mocktransport.New()
	ep.OnRecv = func(seq int, buf []byte) (int, error) {
		// in-transfers are sequencer-ordered the same as out-transfers,
		// so seq (0-based call order) always matches chunk_number-1 here.
		for i := range buf {
			buf[i] = 0
		}
		buf[4] = byte(seq + 1)
		return 8, nil
	}

	var progressed []int32
	var progMu sync.Mutex
	err := Send(context.Background(), ep, src, int64(total), unit, Options{
		OnProgress: func(sent, left int64, chunkNumber int32) {
			progMu.Lock()
			progressed = append(progressed, chunkNumber)
			progMu.Unlock()
		},
	})
	require.NoError(t, err)

	require.Len(t, ep.Sent, 3)
	assert.Len(t, ep.Sent[0], unit)
	assert.Len(t, ep.Sent[1], unit)
	assert.Len(t, ep.Sent[2], unit)
	// Final chunk: 3000 - 2*1024 = 952 useful bytes, zero-padded to 1024.
	last := ep.Sent[2]
	assert.True(t, bytes.Equal(last[952:], make([]byte, unit-952)))

	assert.ElementsMatch(t, []int32{1, 2, 3}, progressed)
}

func TestSequenceMismatchFails(t *testing.T) {
	const unit = 1024
	total := 2048
	src := &fakeSource{data: make([]byte, total)}

	ep := mocktransport.New()
	ep.OnRecv = func(seq int, buf []byte) (int, error) {
		buf[0] = 0
		// Always ack with cnt = seq+2, i.e. one off from the true chunk number.
		buf[4] = byte(seq + 2)
		return 8, nil
	}

	err := Send(context.Background(), ep, src, int64(total), unit, Options{})
	require.Error(t, err)
	assert.True(t, flasherr.Is(err, flasherr.FramingError))
}

func TestEmptyBodySucceedsImmediately(t *testing.T) {
	ep := mocktransport.New()
	src := &fakeSource{data: nil}
	err := Send(context.Background(), ep, src, 0, 1024, Options{})
	require.NoError(t, err)
	assert.Empty(t, ep.Sent)
}

// TestThirdChunkRecvFailureCancelsTheOthers is property #7: a window
// of three chunks in flight, the third chunk's in-transfer fails, and
// the other two in-flight chunks are cancelled rather than left to
// time out or leak.
func TestThirdChunkRecvFailureCancelsTheOthers(t *testing.T) {
	const unit = 1024
	total := unit * 6 // six chunks: all three window slots fill at once

	unblock := make(chan struct{})
	t.Cleanup(func() { close(unblock) })

	ep := mocktransport.New()
	ep.OnRecv = func(seq int, buf []byte) (int, error) {
		if seq < 2 {
			// Chunks one and two are acked normally; their slots are
			// refilled with chunks four and five.
			for i := range buf {
				buf[i] = 0
			}
			buf[4] = byte(seq + 1)
			return 8, nil
		}
		if seq == 2 {
			return 0, context.DeadlineExceeded
		}
		// Chunks four and five, queued behind chunk three, never get a
		// chance to complete normally: they are still pending when
		// chunk three's failure unwinds the window, and are cancelled.
		<-unblock
		return 0, context.Canceled
	}

	src := &fakeSource{data: make([]byte, total)}
	err := Send(context.Background(), ep, src, int64(total), unit, Options{})
	require.Error(t, err)
	assert.True(t, flasherr.Is(err, flasherr.IoError))
}
