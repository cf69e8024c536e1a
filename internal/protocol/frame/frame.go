package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// PrefixLen is the size of the big-endian length prefix of every frame.
const PrefixLen = 2

const (
	// MaxRequestSize bounds the payload of an inbound frame.
	MaxRequestSize = 10240
	// MaxReplySize bounds the payload of an outbound frame; it is the largest
	// length the prefix can carry.
	MaxReplySize = 1<<16 - 1
)

var (
	ErrFrameTooLarge = errors.New("frame: length exceeds limit")
	ErrTruncated     = errors.New("frame: stream closed mid-frame")
)

// Reader reads length-prefixed frames from one byte stream.
type Reader struct {
	r     io.Reader
	limit int
	buf   []byte
}

func NewReader(r io.Reader, limit int) *Reader {
	if limit <= 0 || limit > MaxReplySize {
		limit = MaxReplySize
	}
	return &Reader{r: r, limit: limit, buf: make([]byte, limit)}
}

// ReadFrame blocks until one whole frame has been read. It returns io.EOF
// only when the stream ends before the first byte of a frame. The returned
// slice is only valid until the next call.
func (fr *Reader) ReadFrame() ([]byte, error) {
	var prefix [PrefixLen]byte
	if _, err := io.ReadFull(fr.r, prefix[:]); err != nil {
		switch {
		case errors.Is(err, io.EOF):
			return nil, io.EOF
		case errors.Is(err, io.ErrUnexpectedEOF):
			return nil, ErrTruncated
		default:
			return nil, fmt.Errorf("frame: read length: %w", err)
		}
	}

	n := int(binary.BigEndian.Uint16(prefix[:]))
	if n > fr.limit {
		return nil, fmt.Errorf("%w: command length (%d) > max buf length (%d)", ErrFrameTooLarge, n, fr.limit)
	}

	payload := fr.buf[:n]
	if _, err := io.ReadFull(fr.r, payload); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrTruncated
		}
		return nil, fmt.Errorf("frame: read payload: %w", err)
	}
	return payload, nil
}

// Writer writes length-prefixed frames to one byte stream.
type Writer struct {
	w     io.Writer
	limit int
}

func NewWriter(w io.Writer, limit int) *Writer {
	if limit <= 0 || limit > MaxReplySize {
		limit = MaxReplySize
	}
	return &Writer{w: w, limit: limit}
}

// WriteFrame writes the prefix and payload, looping over partial writes
// until the whole frame is flushed.
func (fw *Writer) WriteFrame(payload []byte) error {
	buf, err := encode(payload, fw.limit)
	if err != nil {
		return err
	}
	for wrote := 0; wrote < len(buf); {
		n, err := fw.w.Write(buf[wrote:])
		if err != nil {
			return fmt.Errorf("frame: write: %w", err)
		}
		if n <= 0 {
			return fmt.Errorf("frame: write: %w", io.ErrShortWrite)
		}
		wrote += n
	}
	return nil
}

// Encode returns payload with its length prefix.
func Encode(payload []byte) ([]byte, error) {
	return encode(payload, MaxReplySize)
}

// Decode splits one frame off the front of b and returns its payload and
// the unconsumed remainder.
func Decode(b []byte) ([]byte, []byte, error) {
	if len(b) < PrefixLen {
		return nil, b, ErrTruncated
	}
	n := int(binary.BigEndian.Uint16(b[:PrefixLen]))
	if len(b)-PrefixLen < n {
		return nil, b, ErrTruncated
	}
	end := PrefixLen + n
	return b[PrefixLen:end], b[end:], nil
}

func encode(payload []byte, limit int) ([]byte, error) {
	if len(payload) > limit {
		return nil, fmt.Errorf("%w: term_len %d > buf_size %d", ErrFrameTooLarge, len(payload), limit)
	}
	buf := make([]byte, PrefixLen+len(payload))
	binary.BigEndian.PutUint16(buf[:PrefixLen], uint16(len(payload)))
	copy(buf[PrefixLen:], payload)
	return buf, nil
}
