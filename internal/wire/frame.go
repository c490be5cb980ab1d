package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxPayload bounds a single frame's payload (type byte included).
const MaxPayload = 1 << 20

// ErrDisconnected is returned when the peer closes the connection cleanly
// between frames.
var ErrDisconnected = errors.New("peer disconnected")

// ErrPayloadTooLarge is returned when a frame's declared length exceeds
// MaxPayload.
var ErrPayloadTooLarge = errors.New("payload too large")

// ReadFrame reads exactly one length-prefixed frame: a 4-byte big-endian
// length covering the type byte and payload, then the type byte, then the
// payload.
func ReadFrame(r io.Reader) (tag byte, payload []byte, err error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return 0, nil, ErrDisconnected
		}
		return 0, nil, err
	}

	length := binary.BigEndian.Uint32(prefix[:])
	if length == 0 {
		return 0, nil, fmt.Errorf("zero-length frame")
	}
	if length > MaxPayload {
		return 0, nil, fmt.Errorf("%w: %d bytes (max %d)", ErrPayloadTooLarge, length, MaxPayload)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return 0, nil, ErrDisconnected
		}
		return 0, nil, err
	}

	return body[0], body[1:], nil
}

// WriteFrame writes one frame: length prefix, type byte, payload.
func WriteFrame(w io.Writer, tag byte, payload []byte) error {
	if len(payload)+1 > MaxPayload {
		return fmt.Errorf("%w: %d bytes (max %d)", ErrPayloadTooLarge, len(payload)+1, MaxPayload)
	}

	buf := make([]byte, 0, 5+len(payload))
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(payload)+1))
	buf = append(buf, tag)
	buf = append(buf, payload...)

	_, err := w.Write(buf)
	return err
}
