package source

import (
	"archive/tar"
	"io"
	"os"

	"github.com/ddiss/lthor/internal/flasherr"
)

// Tar is a Source over a tar archive's regular-file members, one
// entry per member. Because a tar stream is not seekable, the archive
// is opened twice: once in NewTar to pre-scan every member's size for
// TotalSize, once more internally to stream entries in order as Next
// is called.
type Tar struct {
	path string

	total int64

	f   *os.File
	tr  *tar.Reader
	cur *tar.Header
}

// NewTar opens path, pre-scans it for the total size of its regular
// file members, then reopens it to stream from the beginning. Stdin
// ("-") cannot be opened twice, so its total is reported as unknown
// (0) rather than pre-scanned.
func NewTar(path string) (*Tar, error) {
	var total int64
	if path != "-" {
		var err error
		total, err = scanTarTotal(path)
		if err != nil {
			return nil, err
		}
	}

	f, err := openTarInput(path)
	if err != nil {
		return nil, err
	}

	return &Tar{path: path, total: total, f: f, tr: tar.NewReader(f)}, nil
}

func openTarInput(path string) (*os.File, error) {
	if path == "-" {
		return os.Stdin, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, flasherr.Wrap(flasherr.IoError, err, "open tar %s", path)
	}
	return f, nil
}

func scanTarTotal(path string) (int64, error) {
	f, err := openTarInput(path)
	if err != nil {
		return 0, err
	}
	if path != "-" {
		defer f.Close()
	}
	tr := tar.NewReader(f)
	var total int64
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, flasherr.Wrap(flasherr.Unsupported, err, "scan tar %s", path)
		}
		if hdr.Typeflag == tar.TypeReg {
			total += hdr.Size
		}
	}
	return total, nil
}

func (t *Tar) Next() (bool, error) {
	for {
		hdr, err := t.tr.Next()
		if err == io.EOF {
			t.cur = nil
			return false, nil
		}
		if err != nil {
			return false, flasherr.Wrap(flasherr.Unsupported, err, "read tar entry")
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		t.cur = hdr
		return true, nil
	}
}

func (t *Tar) Name() string {
	if t.cur == nil {
		return ""
	}
	return t.cur.Name
}

func (t *Tar) Length() int64 {
	if t.cur == nil {
		return 0
	}
	return t.cur.Size
}

func (t *Tar) Read(buf []byte) (int, error) {
	return t.tr.Read(buf)
}

func (t *Tar) TotalSize() (int64, error) {
	return t.total, nil
}

func (t *Tar) Close() error {
	if t.path == "-" {
		return nil
	}
	return t.f.Close()
}
