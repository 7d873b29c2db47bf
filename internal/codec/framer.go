// Package codec implements the wire framing shared by the public and
// peer protocols: a 4-byte big-endian length prefix followed by that
// many payload bytes (spec.md §4.1). It is schema-agnostic — callers
// marshal and unmarshal the payload bytes themselves — so the same
// Reader/Writer pair frames Request/Response messages on the public
// port and raft.Message bytes on the peer port.
package codec

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const headerLen = 4

// ErrFrameTooLarge guards against a corrupt or hostile length prefix
// driving an unbounded allocation.
var ErrFrameTooLarge = errors.New("codec: frame exceeds maximum size")

// MaxFrameSize bounds a single frame's payload. 64 MiB comfortably
// covers snapshot-sized peer messages while still catching garbage
// length prefixes.
const MaxFrameSize = 64 << 20

// Reader decodes length-prefixed frames from an underlying stream. It
// is not safe for concurrent use by multiple goroutines.
type Reader struct {
	r *bufio.Reader
}

// NewReader wraps r for frame-at-a-time decoding.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// ReadFrame blocks until one full frame has arrived and returns its
// payload. A corrupt length prefix (spec.md §4.1: "any bad frame drops
// the connection") surfaces as an error; callers close the connection
// in response rather than attempting to resynchronise.
func (fr *Reader) ReadFrame() ([]byte, error) {
	var header [headerLen]byte
	if _, err := io.ReadFull(fr.r, header[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(header[:])
	if n > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
	}
	if n == 0 {
		return []byte{}, nil
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(fr.r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// Writer encodes length-prefixed frames onto an underlying stream. It
// is not safe for concurrent use by multiple goroutines.
type Writer struct {
	w io.Writer
}

// NewWriter wraps w for frame-at-a-time encoding.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteFrame writes payload as one frame: a 4-byte big-endian length
// followed by the payload bytes. A zero-length payload is valid.
func (fw *Writer) WriteFrame(payload []byte) error {
	var header [headerLen]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := fw.w.Write(header[:]); err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	_, err := fw.w.Write(payload)
	return err
}

// Decode peeks the frame length out of buf without consuming anything.
// It reports ok=false when buf does not yet hold a complete frame,
// mirroring the original decoder's "need more" result for buffered,
// non-blocking use (spec.md §4.1, tested against split-frame input in
// §8 scenario S5). On success it returns the payload and the total
// number of bytes (header + payload) consumed from buf.
func Decode(buf []byte) (payload []byte, consumed int, ok bool) {
	if len(buf) < headerLen {
		return nil, 0, false
	}
	n := binary.BigEndian.Uint32(buf[:headerLen])
	frameLen := headerLen + int(n)
	if len(buf) < frameLen {
		return nil, 0, false
	}
	return buf[headerLen:frameLen], frameLen, true
}

// Encode appends payload, length-prefixed, to dst and returns the
// extended slice.
func Encode(dst []byte, payload []byte) []byte {
	var header [headerLen]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	dst = append(dst, header[:]...)
	dst = append(dst, payload...)
	return dst
}
