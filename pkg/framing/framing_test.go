package framing

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func TestWriteReadRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("hello sandbox")

	if err := WriteFrame(&buf, payload); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	got, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("ReadFrame() = %q, want %q", got, payload)
	}
}

func TestReadFrameEmptyPayload(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, nil); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	got, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("ReadFrame() = %q, want empty", got)
	}
}

func TestReadFrameCleanEOF(t *testing.T) {
	_, err := ReadFrame(bytes.NewReader(nil))
	if !errors.Is(err, io.EOF) {
		t.Errorf("ReadFrame() on empty stream = %v, want io.EOF", err)
	}
}

func TestReadFrameTruncatedLength(t *testing.T) {
	_, err := ReadFrame(bytes.NewReader([]byte{0, 0}))
	if err == nil {
		t.Fatal("expected error on truncated length prefix")
	}
}

func TestReadFrameTruncatedPayload(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0, 0, 0, 10})
	buf.Write([]byte("short"))

	_, err := ReadFrame(&buf)
	if err == nil {
		t.Fatal("expected error on truncated payload")
	}
}

func TestReadFrameTooLarge(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF})

	_, err := ReadFrame(&buf)
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("ReadFrame() = %v, want ErrFrameTooLarge", err)
	}
}

func TestWriteMessageBase64WrapsOnWire(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("hello sandbox")

	if err := WriteMessage(&buf, payload); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	wireBytes := append([]byte(nil), buf.Bytes()...)

	raw, err := ReadFrame(bytes.NewReader(wireBytes))
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if bytes.Equal(raw, payload) {
		t.Error("WriteMessage wrote the raw payload on the wire, want base64-encoded")
	}

	got, err := ReadMessage(bytes.NewReader(wireBytes))
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("ReadMessage() = %q, want %q", got, payload)
	}
}

func TestMessageRoundTripBase64Disabled(t *testing.T) {
	Base64Wrap = false
	defer func() { Base64Wrap = true }()

	var buf bytes.Buffer
	payload := []byte("raw bytes, no wrap")
	if err := WriteMessage(&buf, payload); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}

	got, err := ReadMessage(&buf)
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("ReadMessage() = %q, want %q", got, payload)
	}
}

func TestReadMessageRejectsInvalidBase64(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, []byte("not-base64!!")); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	if _, err := ReadMessage(&buf); err == nil {
		t.Fatal("expected ReadMessage to reject invalid base64 payload")
	}
}

