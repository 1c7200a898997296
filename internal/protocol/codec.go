package protocol

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// DefaultMaxFrameBytes bounds a single frame; anything larger is treated
// as a protocol violation for that connection.
const DefaultMaxFrameBytes = 16 * 1024

var (
	ErrFrameTooLarge = errors.New("frame exceeds maximum size")
	ErrEmptyFrame    = errors.New("empty frame")
)

// Codec reads and writes length-prefixed JSON frames: a 4-byte big-endian
// length followed by one JSON object.
type Codec struct {
	r        *bufio.Reader
	w        io.Writer
	maxBytes int
}

// NewCodec wraps rw with the default frame-size limit.
func NewCodec(rw io.ReadWriter) *Codec {
	return NewCodecSize(rw, DefaultMaxFrameBytes)
}

// NewCodecSize wraps rw with an explicit frame-size limit.
func NewCodecSize(rw io.ReadWriter, maxBytes int) *Codec {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxFrameBytes
	}
	return &Codec{r: bufio.NewReader(rw), w: rw, maxBytes: maxBytes}
}

// Read blocks until a full frame arrives and decodes it. Any framing or
// JSON error is fatal for the stream: the caller is expected to drop the
// connection.
func (c *Codec) Read() (*Message, error) {
	var header [4]byte
	if _, err := io.ReadFull(c.r, header[:]); err != nil {
		return nil, err
	}

	size := binary.BigEndian.Uint32(header[:])
	if size == 0 {
		return nil, ErrEmptyFrame
	}
	if int(size) > c.maxBytes {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, size, c.maxBytes)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(c.r, payload); err != nil {
		return nil, err
	}

	msg := &Message{}
	if err := json.Unmarshal(payload, msg); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	return msg, nil
}

// Write encodes msg and writes it as a single frame.
func (c *Codec) Write(msg *Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	if len(payload) > c.maxBytes {
		return fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, len(payload), c.maxBytes)
	}

	frame := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[4:], payload)

	_, err = c.w.Write(frame)
	return err
}
