package source

import (
	"os"
	"path/filepath"

	"github.com/ddiss/lthor/internal/flasherr"
)

// RawFile is a Source exposing exactly one entry: the file at path,
// named by its basename.
type RawFile struct {
	path    string
	f       *os.File
	size    int64
	started bool
	done    bool
}

// NewRawFile opens path and stats its size without reading it.
func NewRawFile(path string) (*RawFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, flasherr.Wrap(flasherr.IoError, err, "open %s", path)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, flasherr.Wrap(flasherr.IoError, err, "stat %s", path)
	}
	return &RawFile{path: path, f: f, size: fi.Size()}, nil
}

func (r *RawFile) Next() (bool, error) {
	if r.started {
		r.done = true
		return false, nil
	}
	r.started = true
	return true, nil
}

func (r *RawFile) Name() string { return filepath.Base(r.path) }
func (r *RawFile) Length() int64 { return r.size }

func (r *RawFile) Read(buf []byte) (int, error) {
	return r.f.Read(buf)
}

func (r *RawFile) TotalSize() (int64, error) {
	return r.size, nil
}

func (r *RawFile) Close() error {
	return r.f.Close()
}

// RawFileSink is a Sink writing sequentially to a newly created file
// at path, used by the Odin PIT dump receiver.
type RawFileSink struct {
	f *os.File
}

// NewRawFileSink creates (truncating) the file at path.
func NewRawFileSink(path string) (*RawFileSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, flasherr.Wrap(flasherr.IoError, err, "create %s", path)
	}
	return &RawFileSink{f: f}, nil
}

func (s *RawFileSink) SetLength(n int64) error {
	if err := s.f.Truncate(n); err != nil {
		return flasherr.Wrap(flasherr.IoError, err, "truncate to %d bytes", n)
	}
	return nil
}

func (s *RawFileSink) Write(buf []byte) (int, error) {
	return s.f.Write(buf)
}

func (s *RawFileSink) Close() error {
	return s.f.Close()
}
