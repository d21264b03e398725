// Package source defines the uniform byte-stream view the session and
// pipeline layers consume, and the raw-file and tar adapters that
// implement it. A source iterates entries (advance, name, length,
// read); a sink additionally supports writing (used only by the Odin
// PIT dump receiver).
package source

import "io"

// Source is a sequence of named, length-known byte streams. Callers
// advance through entries with Next; TotalSize sums the length of
// every entry, for progress reporting only.
type Source interface {
	// Next advances to the next entry, returning false when exhausted.
	Next() (bool, error)
	// Name returns the current entry's name (UTF-8, expected to fit in
	// 31 bytes plus a NUL terminator on the wire).
	Name() string
	// Length returns the current entry's length in bytes.
	Length() int64
	// Read reads into buf from the current entry, like io.Reader.
	Read(buf []byte) (int, error)
	// TotalSize sums the length of all entries. It is computed once,
	// when the source is opened, and does not shrink as entries are
	// consumed; it is for progress display only.
	TotalSize() (int64, error)
	// Close releases any underlying file handles.
	Close() error
}

// Sink is a single destination that can be pre-sized and written
// sequentially. Only a raw-file sink is required by this module (the
// Odin PIT dump receiver).
type Sink interface {
	// SetLength pre-sizes (or truncates) the destination.
	SetLength(n int64) error
	// Write appends buf, like io.Writer.
	Write(buf []byte) (int, error)
	Close() error
}

var _ io.Reader = Source(nil)
var _ io.Writer = Sink(nil)
