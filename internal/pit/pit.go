// Package pit implements the Odin PIT dump receiver (§4.6): a simple
// pull loop that reads the device's partition table into a sink, as
// opposed to the pipelined, windowed sender used for flashing.
package pit

import (
	"context"
	"log/slog"
	"time"

	"github.com/ddiss/lthor/internal/flasherr"
	"github.com/ddiss/lthor/internal/proto"
	"github.com/ddiss/lthor/internal/session"
	"github.com/ddiss/lthor/internal/source"
	"github.com/ddiss/lthor/internal/transport"
)

// transferUnit is the PIT pull loop's own chunk size. It is fixed at
// 500 bytes regardless of the transfer unit negotiated by start-session
// for file flashing; the two are unrelated.
const transferUnit = 500

// tailReadTimeout bounds the empty bulk-in some bootloaders expect
// before end-pit-dump.
const tailReadTimeout = 1 * time.Millisecond

// ProgressFunc is invoked after each PIT chunk is received, with bytes
// received so far and bytes remaining.
type ProgressFunc func(received, left int64)

// Options configures Receive.
type Options struct {
	OnProgress ProgressFunc
	Log        *slog.Logger
}

// Receive drives the full PIT dump sequence against an Odin session
// already past its handshake: start-pit-dump, the PART pull loop,
// the tail empty-read quirk, and XFER_END. sink is pre-sized to the
// total length the device reports and then written sequentially.
func Receive(ctx context.Context, sess *session.Session, sink source.Sink, opts Options) (int64, error) {
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if sess.Flavor() != session.Odin {
		return 0, flasherr.New(flasherr.Unsupported, "PIT dump is only defined for the Odin protocol")
	}

	totalLen, err := sess.StartPITDump(ctx)
	if err != nil {
		return 0, err
	}
	if err := sink.SetLength(int64(totalLen)); err != nil {
		return 0, flasherr.Wrap(flasherr.IoError, err, "pre-size PIT sink to %d bytes", totalLen)
	}

	ep := sess.Endpoints()
	ctrlTimeout := sess.ControlTimeout()
	dataTimeout := sess.DataTimeout()

	dataLeft := int64(totalLen)
	received := int64(0)
	buf := make([]byte, transferUnit)

	for partOff := int32(0); dataLeft > 0; partOff++ {
		req, err := proto.PackPIT(proto.PITPart, partOff)
		if err != nil {
			return received, err
		}
		if err := transport.Send(ctx, ep, req, ctrlTimeout); err != nil {
			return received, err
		}

		want := transferUnit
		if int64(want) > dataLeft {
			want = int(dataLeft)
		}
		n, err := transport.RecvPartial(ctx, ep, buf[:want], dataTimeout)
		if err != nil {
			return received, err
		}
		if _, err := sink.Write(buf[:n]); err != nil {
			return received, flasherr.Wrap(flasherr.IoError, err, "write PIT chunk to sink")
		}

		received += int64(n)
		dataLeft -= int64(n)
		if opts.OnProgress != nil {
			opts.OnProgress(received, dataLeft)
		}
		opts.Log.Debug("pit part received", "part_off", partOff, "n", n, "left", dataLeft)
	}

	// Bootloader quirk: some devices (Galaxy Tab S2) require a
	// zero-length bulk-in with a short timeout before they will
	// process end-pit-dump; others (Galaxy S8) do not. The result,
	// including any timeout, is ignored either way.
	_, _ = transport.RecvPartial(ctx, ep, buf[:0], tailReadTimeout)

	endReq, err := proto.PackPIT(proto.PITXferEnd, 0)
	if err != nil {
		return received, err
	}
	if err := transport.Send(ctx, ep, endReq, ctrlTimeout); err != nil {
		return received, err
	}

	return received, nil
}
