// Package framing implements the 4-byte big-endian length-prefixed frame
// protocol sandboxd speaks over a worker's stdio pipes.
package framing

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxFrameBytes bounds a single frame so a corrupt or hostile length
// prefix cannot make the dispatcher allocate unbounded memory.
const MaxFrameBytes = 64 << 20 // 64 MiB

// ErrFrameTooLarge is returned by ReadFrame when the advertised length
// exceeds MaxFrameBytes.
var ErrFrameTooLarge = errors.New("framing: frame exceeds maximum size")

// ErrShortFrame is returned by ReadFrame when the stream ends partway
// through a length prefix or payload. A short read at the very start of
// a frame (zero bytes read) is reported as io.EOF instead, matching the
// worker's own read_exact semantics where an empty read means the peer
// closed the connection cleanly.
var ErrShortFrame = errors.New("framing: truncated frame")

// ReadFrame reads one length-prefixed frame from r. It returns io.EOF,
// unwrapped, if the stream closes cleanly before any bytes of the next
// frame arrive.
func ReadFrame(r io.Reader) ([]byte, error) {
	var lengthBuf [4]byte
	n, err := io.ReadFull(r, lengthBuf[:])
	if n == 0 && errors.Is(err, io.EOF) {
		return nil, io.EOF
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrShortFrame, err)
	}

	length := binary.BigEndian.Uint32(lengthBuf[:])
	if length > MaxFrameBytes {
		return nil, ErrFrameTooLarge
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrShortFrame, err)
	}
	return payload, nil
}

// WriteFrame writes payload to w as a single length-prefixed frame.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameBytes {
		return ErrFrameTooLarge
	}

	var lengthBuf [4]byte
	binary.BigEndian.PutUint32(lengthBuf[:], uint32(len(payload)))

	if _, err := w.Write(lengthBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// Base64Wrap controls whether WriteMessage and ReadMessage base64-encode
// the frame payload, matching the reference agent's wire format
// (length prefix counts the base64 text, not the decoded bytes). Both
// ends of a stdio pipe must agree on this setting; sandboxd defaults it
// to true and only flips it for tests that exercise the raw codec.
var Base64Wrap = true

// WriteMessage writes payload as a frame, base64-encoding it first if
// Base64Wrap is set.
func WriteMessage(w io.Writer, payload []byte) error {
	if !Base64Wrap {
		return WriteFrame(w, payload)
	}
	encoded := make([]byte, base64.StdEncoding.EncodedLen(len(payload)))
	base64.StdEncoding.Encode(encoded, payload)
	return WriteFrame(w, encoded)
}

// ReadMessage reads a frame and base64-decodes it if Base64Wrap is set.
func ReadMessage(r io.Reader) ([]byte, error) {
	frame, err := ReadFrame(r)
	if err != nil {
		return nil, err
	}
	if !Base64Wrap {
		return frame, nil
	}
	decoded := make([]byte, base64.StdEncoding.DecodedLen(len(frame)))
	n, err := base64.StdEncoding.Decode(decoded, frame)
	if err != nil {
		return nil, fmt.Errorf("framing: base64 decode: %w", err)
	}
	return decoded[:n], nil
}
