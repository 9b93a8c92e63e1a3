// Package frame implements NUL-terminated message framing over a byte stream.
//
// Every application message on the wire is followed by a single 0x00 byte.
// Two consecutive terminators denote an empty frame, which clients send as a
// liveness signal; empty frames are consumed silently and never delivered.
package frame

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
	"unicode/utf8"
)

// Terminator ends every frame on the wire.
const Terminator byte = 0x00

// DefaultMaxSize is the largest frame accepted when no limit is configured.
const DefaultMaxSize = 65536

var (
	// ErrUnexpectedClose is returned when the peer closes the stream after
	// sending part of a frame.
	ErrUnexpectedClose = errors.New("stream closed before frame terminator")
	// ErrFrameTooLarge is returned when an inbound frame exceeds the size limit.
	ErrFrameTooLarge = errors.New("frame exceeds maximum size")
	// ErrClosed is returned when writing to a closed Writer.
	ErrClosed = errors.New("writer closed")
	// ErrEmbeddedTerminator is returned when a payload contains the terminator byte.
	ErrEmbeddedTerminator = errors.New("payload contains frame terminator")
)

// ParseError reports a frame that arrived intact but could not be decoded
// into application text. It is never a transport fault: the stream is still
// positioned at the next frame.
type ParseError struct {
	Frame []byte
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing frame: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ErrInvalidText is wrapped by ParseError when a frame is not valid UTF-8.
var ErrInvalidText = errors.New("frame is not valid utf-8")

// Reader decodes frames from an inbound stream. Bytes beyond the first
// terminator of a socket read are buffered and served before the next read,
// so several frames arriving together are all recovered in order.
//
// A Reader is not safe for concurrent use.
type Reader struct {
	src     io.Reader
	buf     *bufio.Reader
	maxSize int
	timeout time.Duration
}

// NewReader wraps src. maxSize <= 0 selects DefaultMaxSize.
//
// Postcondition: Returns a Reader positioned at the start of the stream.
func NewReader(src io.Reader, maxSize int) *Reader {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Reader{
		src:     src,
		buf:     bufio.NewReaderSize(src, 4096),
		maxSize: maxSize,
	}
}

// SetTimeout sets the per-call read deadline applied when the source is a
// net.Conn. Zero disables the deadline.
func (r *Reader) SetTimeout(d time.Duration) {
	r.timeout = d
}

// ReadFrame returns the next non-empty frame without its terminator.
//
// Postcondition: Returns (frame, nil); (nil, io.EOF) if the peer closed with
// nothing buffered; ErrUnexpectedClose if the peer closed mid-frame;
// ErrFrameTooLarge for oversize frames; or the underlying transport error.
func (r *Reader) ReadFrame() ([]byte, error) {
	if conn, ok := r.src.(net.Conn); ok && r.timeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(r.timeout))
	}

	var acc []byte
	for {
		chunk, err := r.buf.ReadSlice(Terminator)
		switch {
		case err == nil:
			acc = append(acc, chunk[:len(chunk)-1]...)
			if len(acc) > r.maxSize {
				return nil, ErrFrameTooLarge
			}
			if len(acc) == 0 {
				// Empty frame: liveness only.
				continue
			}
			return acc, nil
		case errors.Is(err, bufio.ErrBufferFull):
			acc = append(acc, chunk...)
			if len(acc) > r.maxSize {
				return nil, ErrFrameTooLarge
			}
		case errors.Is(err, io.EOF):
			if len(acc) == 0 && len(chunk) == 0 {
				return nil, io.EOF
			}
			return nil, ErrUnexpectedClose
		default:
			return nil, err
		}
	}
}

// ReadText returns the next frame as text.
//
// Postcondition: Returns a *ParseError wrapping ErrInvalidText for frames
// that are not valid UTF-8; transport errors are returned as from ReadFrame.
func (r *Reader) ReadText() (string, error) {
	b, err := r.ReadFrame()
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", &ParseError{Frame: b, Err: ErrInvalidText}
	}
	return string(b), nil
}

// Writer encodes frames onto an outbound stream. It is safe for concurrent
// use; each frame is written in full before another writer may proceed.
type Writer struct {
	mu      sync.Mutex
	dst     io.Writer
	timeout time.Duration
	closed  bool
}

// NewWriter wraps dst. A positive timeout is applied as a write deadline
// when dst is a net.Conn.
func NewWriter(dst io.Writer, timeout time.Duration) *Writer {
	return &Writer{dst: dst, timeout: timeout}
}

// WriteFrame appends the terminator to payload and writes the whole frame.
//
// Precondition: payload must not contain the terminator byte.
// Postcondition: Either the full frame was written, or an error is returned;
// a short write is reported as io.ErrShortWrite.
func (w *Writer) WriteFrame(payload []byte) error {
	if bytes.IndexByte(payload, Terminator) >= 0 {
		return ErrEmbeddedTerminator
	}

	encoded := make([]byte, len(payload)+1)
	copy(encoded, payload)
	encoded[len(payload)] = Terminator

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrClosed
	}
	if conn, ok := w.dst.(net.Conn); ok && w.timeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(w.timeout))
	}
	n, err := w.dst.Write(encoded)
	if err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	if n != len(encoded) {
		return fmt.Errorf("writing frame: %w", io.ErrShortWrite)
	}
	return nil
}

// WriteText writes s as a single frame.
func (w *Writer) WriteText(s string) error {
	return w.WriteFrame([]byte(s))
}

// Close marks the writer closed and, if the destination is an io.Closer,
// closes it. A write in progress completes before the close happens.
//
// Postcondition: Subsequent writes return ErrClosed. Close is idempotent.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if c, ok := w.dst.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Split wraps a connection into its reader and writer halves.
func Split(conn net.Conn, maxSize int, writeTimeout time.Duration) (*Reader, *Writer) {
	return NewReader(conn, maxSize), NewWriter(conn, writeTimeout)
}
