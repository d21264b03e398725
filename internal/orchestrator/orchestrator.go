// Package orchestrator drives a full flashing run (§4.7): it sizes
// every source before touching the device, opens the device only once
// the run is known to be within the protocol's size limits, then
// walks start-session, each source's entries, end-session, and
// reboot.
package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/ddiss/lthor/internal/flasherr"
	"github.com/ddiss/lthor/internal/metrics"
	"github.com/ddiss/lthor/internal/pipeline"
	"github.com/ddiss/lthor/internal/session"
	"github.com/ddiss/lthor/internal/source"
	"github.com/ddiss/lthor/internal/transport"
)

// MaxImageSize is the largest total image size the Thor/Odin wire
// protocol can express; anything larger is rejected before the device
// is even opened.
const MaxImageSize = 4*GiB - 1*KiB

// WarnImageSize is the point above which some bootloaders are known to
// struggle; a run above this size proceeds, but logs a warning.
const WarnImageSize = 2*GiB - 1*KiB

const (
	KiB = 1024
	MiB = 1024 * KiB
	GiB = 1024 * MiB
)

// Entry pairs a source with the data type it is flashed as.
type Entry struct {
	Src      source.Source
	DataType int32 // proto.BinaryTypeNormal or proto.BinaryTypePIT
}

// ProgressFunc is invoked after every chunk of every entry, with the
// current entry's name, bytes sent/left for the whole run, and
// instantaneous/average throughput in MB/s.
type ProgressFunc func(entryName string, sent, left int64, instMBps, avgMBps float64)

// DeviceOpener opens the USB device and claims its bulk endpoints. It
// is called only after every entry's size has been validated, per
// the size-before-open ordering the module requires.
type DeviceOpener func(ctx context.Context) (transport.Endpoints, error)

// Options configures Run.
type Options struct {
	Flavor         session.Flavor
	ControlTimeout time.Duration
	DataTimeout    time.Duration
	OnProgress     ProgressFunc
	Log            *slog.Logger
	Metrics        *metrics.Registry // default metrics.Noop()
}

// throughput tracks the monotonic-clock bookkeeping report_progress
// in the original driver used: an overall average and the
// instantaneous rate since the previous sample.
type throughput struct {
	start      time.Time
	lastSample time.Time
	lastSent   int64
}

func newThroughput() *throughput {
	now := time.Now()
	return &throughput{start: now, lastSample: now}
}

func (tp *throughput) sample(sent int64) (inst, avg float64) {
	now := time.Now()
	if elapsed := now.Sub(tp.start).Seconds(); elapsed > 0 {
		avg = float64(sent) / elapsed / MiB
	}
	if d := now.Sub(tp.lastSample).Seconds(); d > 0 {
		inst = float64(sent-tp.lastSent) / d / MiB
	}
	tp.lastSample = now
	tp.lastSent = sent
	return inst, avg
}

// Run sizes every entry, rejects the run if it exceeds MaxImageSize,
// warns if it exceeds WarnImageSize, opens the device via open, then
// drives the full session: handshake, start-session, each entry's
// file_info/file_start/body/file_end, end-session, reboot.
func Run(ctx context.Context, open DeviceOpener, entries []Entry, opts Options) error {
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Noop()
	}
	runStart := time.Now()
	recordErr := func(err error) error {
		if err != nil {
			kind, _ := flasherr.KindOf(err)
			opts.Metrics.TransferErrors.WithLabelValues(kind.String()).Inc()
		}
		opts.Metrics.SessionDuration.Observe(time.Since(runStart).Seconds())
		return err
	}

	total := int64(0)
	for _, e := range entries {
		n, err := e.Src.TotalSize()
		if err != nil {
			return recordErr(flasherr.Wrap(flasherr.IoError, err, "size entry %q", e.Src.Name()))
		}
		total += n
	}

	if total > MaxImageSize {
		return recordErr(flasherr.New(flasherr.Unsupported, "total image size %d exceeds the %d-byte protocol limit", total, MaxImageSize))
	}
	if total > WarnImageSize {
		opts.Log.Warn("image size exceeds 2 GiB; not all bootloaders support this", "total_bytes", total)
	}

	ep, err := open(ctx)
	if err != nil {
		return recordErr(flasherr.Wrap(flasherr.IoError, err, "open device"))
	}

	sess := session.New(ep, opts.Flavor, session.Options{
		ControlTimeout: opts.ControlTimeout,
		DataTimeout:    opts.DataTimeout,
		Logger:         opts.Log,
	})
	if err := sess.Handshake(ctx); err != nil {
		return recordErr(err)
	}
	if err := sess.StartSession(ctx, total); err != nil {
		return recordErr(err)
	}

	tp := newThroughput()
	priorSent := int64(0)

	for _, e := range entries {
		for {
			more, err := e.Src.Next()
			if err != nil {
				return recordErr(flasherr.Wrap(flasherr.IoError, err, "advance entry in %q", e.Src.Name()))
			}
			if !more {
				break
			}

			name := e.Src.Name()
			length := e.Src.Length()
			opts.Log.Info("sending entry", "name", name, "length", length, "data_type", e.DataType)

			if err := sess.FileInfo(ctx, e.DataType, length, name); err != nil {
				return recordErr(err)
			}
			if err := sess.FileStart(ctx); err != nil {
				return recordErr(err)
			}

			entryPriorSent := priorSent
			lastEntrySent := int64(0)
			err = pipeline.Send(ctx, sess.Endpoints(), e.Src, length, sess.Unit(), pipeline.Options{
				ControlTimeout: opts.ControlTimeout,
				DataTimeout:    opts.DataTimeout,
				Log:            opts.Log,
				OnProgress: func(entrySent, entryLeft int64, chunkNumber int32) {
					opts.Metrics.BytesTransferred.Add(float64(entrySent - lastEntrySent))
					lastEntrySent = entrySent
					opts.Metrics.ChunksAcked.Inc()
					if opts.OnProgress == nil {
						return
					}
					overallSent := entryPriorSent + entrySent
					inst, avg := tp.sample(overallSent)
					opts.OnProgress(name, overallSent, total-overallSent, inst, avg)
				},
			})
			if err != nil {
				return recordErr(err)
			}
			priorSent += length

			if err := sess.FileEnd(ctx); err != nil {
				return recordErr(err)
			}
		}
	}

	if err := sess.EndSession(ctx); err != nil {
		// A broken bootloader's missing RQT_DL_EXIT response is a
		// known condition, logged but not fatal to the reboot step.
		opts.Log.Warn("end-session did not complete cleanly", "err", err)
	}

	return recordErr(sess.Reboot(ctx))
}
