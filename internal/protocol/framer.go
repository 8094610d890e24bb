// Package protocol implements the line framer (spec component C1): a
// UTF-8, newline-terminated text frame reader/writer over any
// io.ReadWriter, with CRLF normalization and an oversize-line guard.
//
// The read side is grounded on the teacher's bufio.Reader line-tailing
// loop in internal/collector/rawlogtailer.go, adapted from polling a
// log file to blocking reads off a live connection.
package protocol

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

// MinBufferSize is the minimum per-session read buffer window spec §4.1
// requires (at least 2 KiB).
const MinBufferSize = 2048

// MaxLineLength bounds a single frame. A line that exceeds this without
// a newline fails with ErrProtocolViolation.
const MaxLineLength = 64 * 1024

// ErrProtocolViolation is returned by ReadLine when a frame is malformed
// (oversize without a terminating newline).
var ErrProtocolViolation = errors.New("protocol violation: oversize line without newline")

// Framer reads and writes newline-terminated UTF-8 lines over a single
// underlying connection.
type Framer struct {
	r *bufio.Reader
	w io.Writer
}

// New wraps rw with a Framer. The read buffer is sized to at least
// MinBufferSize, per spec §4.1.
func New(rw io.ReadWriter) *Framer {
	return &Framer{
		r: bufio.NewReaderSize(rw, MinBufferSize),
		w: rw,
	}
}

// ReadLine blocks for the next complete line, normalizing a trailing CR
// (CRLF on the wire becomes \n on read) and stripping the terminating
// newline from the returned string. io.EOF and net errors propagate
// unwrapped so callers can distinguish PeerClosed/TransportError from a
// genuine protocol violation. A line that grows past MaxLineLength
// without a newline fails with ErrProtocolViolation.
func (f *Framer) ReadLine() (string, error) {
	var acc []byte
	for {
		chunk, err := f.r.ReadSlice('\n')
		acc = append(acc, chunk...)

		if len(acc) > MaxLineLength {
			// Drain whatever's left of this oversize line so the
			// connection can resynchronize on the next call, best-effort.
			if err == bufio.ErrBufferFull {
				for err == bufio.ErrBufferFull {
					_, err = f.r.ReadSlice('\n')
				}
			}
			return "", ErrProtocolViolation
		}

		switch err {
		case nil:
			return normalize(string(acc)), nil
		case bufio.ErrBufferFull:
			continue // grow acc and keep reading the rest of this line
		default:
			if errors.Is(err, io.EOF) && len(acc) > 0 {
				return "", io.EOF
			}
			return "", err
		}
	}
}

func normalize(line string) string {
	line = strings.TrimSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\r")
	return line
}

// EnsureProtocolNewline appends a trailing \n to line if it doesn't
// already have one.
func EnsureProtocolNewline(line string) string {
	if strings.HasSuffix(line, "\n") {
		return line
	}
	return line + "\n"
}

// WriteLine writes line to the underlying writer, appending \n if
// missing. A single WriteLine call is one framed write, which is the
// unit spec §4.6 relies on for per-recipient FIFO ordering.
func (f *Framer) WriteLine(line string) error {
	_, err := io.WriteString(f.w, EnsureProtocolNewline(line))
	return err
}
