package logging

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
)

// Transcript mirrors every host-console line (spec C9) to a file on
// disk, rotating and gzip-compressing the rolled-over segment once it
// crosses maxBytes. Rotation uses klauspost/compress's gzip
// implementation for the archived segment, the same library the
// teacher's go.mod pulls in for asset packing.
type Transcript struct {
	mu       sync.Mutex
	path     string
	maxBytes int64
	file     *os.File
	size     int64
}

// OpenTranscript opens (creating if necessary) the transcript file at
// path, rotating at maxBytes.
func OpenTranscript(path string, maxBytes int64) (*Transcript, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening transcript: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat transcript: %w", err)
	}
	return &Transcript{
		path:     path,
		maxBytes: maxBytes,
		file:     f,
		size:     info.Size(),
	}, nil
}

// Write appends line (with a trailing newline) to the transcript,
// rotating first if the file has grown past maxBytes.
func (t *Transcript) Write(line string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.size >= t.maxBytes {
		if err := t.rotateLocked(); err != nil {
			return err
		}
	}

	n, err := io.WriteString(t.file, line+"\n")
	t.size += int64(n)
	return err
}

// Close closes the underlying file.
func (t *Transcript) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.file.Close()
}

func (t *Transcript) rotateLocked() error {
	if err := t.file.Close(); err != nil {
		return fmt.Errorf("closing transcript before rotation: %w", err)
	}

	rotated := fmt.Sprintf("%s.%s.gz", t.path, time.Now().UTC().Format("20060102T150405"))
	if err := gzipFile(t.path, rotated); err != nil {
		return fmt.Errorf("compressing rotated transcript: %w", err)
	}
	if err := os.Remove(t.path); err != nil {
		return fmt.Errorf("removing rotated transcript: %w", err)
	}

	f, err := os.OpenFile(t.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("reopening transcript after rotation: %w", err)
	}
	t.file = f
	t.size = 0
	return nil
}

func gzipFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	gw := gzip.NewWriter(out)
	if _, err := io.Copy(gw, in); err != nil {
		gw.Close()
		return err
	}
	return gw.Close()
}
