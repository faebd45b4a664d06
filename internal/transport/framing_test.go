// internal/transport/framing_test.go
package transport

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/tamzrod/motor-fleet/internal/protocol"
)

func TestFrameWriterReader(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
	}{
		{
			name:    "single byte",
			payload: []byte{0x04},
		},
		{
			name:    "short max",
			payload: bytes.Repeat([]byte{0xAA}, MaxShortPayload),
		},
		{
			name:    "long frame",
			payload: bytes.Repeat([]byte{0x55}, 1000),
		},
		{
			name:    "contains framing bytes",
			payload: []byte{0x02, 0x03, 0x03, 0x02},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := new(bytes.Buffer)
			in := protocol.Frame{Payload: tt.payload, Checksum: 0xBEEF}

			if err := NewFrameWriter(buf).WriteFrame(in); err != nil {
				t.Fatalf("WriteFrame failed: %v", err)
			}

			got, err := NewFrameReader(buf).ReadFrame()
			if err != nil {
				t.Fatalf("ReadFrame failed: %v", err)
			}
			if !bytes.Equal(got.Payload, in.Payload) {
				t.Errorf("payload mismatch: got %d bytes, want %d bytes", len(got.Payload), len(in.Payload))
			}
			if got.Checksum != in.Checksum {
				t.Errorf("checksum = 0x%04x, want 0x%04x", got.Checksum, in.Checksum)
			}
		})
	}
}

func TestFrameWriter_ShortLayout(t *testing.T) {
	buf := new(bytes.Buffer)
	if err := NewFrameWriter(buf).WriteFrame(protocol.Frame{Payload: []byte{0x04}, Checksum: 0x4084}); err != nil {
		t.Fatal(err)
	}
	want := []byte{0x02, 0x01, 0x04, 0x40, 0x84, 0x03}
	if !bytes.Equal(buf.Bytes(), want) {
		t.Fatalf("wire = % x, want % x", buf.Bytes(), want)
	}
}

func TestFrameWriter_EmptyPayload(t *testing.T) {
	err := NewFrameWriter(io.Discard).WriteFrame(protocol.Frame{})
	if !errors.Is(err, ErrPayloadEmpty) {
		t.Errorf("expected ErrPayloadEmpty, got %v", err)
	}
}

func TestFrameReader_ResyncAfterGarbage(t *testing.T) {
	buf := new(bytes.Buffer)
	buf.Write([]byte{0xFF, 0x00, 0x42})
	_ = NewFrameWriter(buf).WriteFrame(protocol.Frame{Payload: []byte{0x08, 1, 2, 3, 4}, Checksum: 7})

	fr := NewFrameReader(buf)
	got, err := fr.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if got.Payload[0] != 0x08 {
		t.Errorf("unexpected payload % x", got.Payload)
	}
	if fr.Skipped != 3 {
		t.Errorf("skipped = %d, want 3", fr.Skipped)
	}
}

func TestFrameReader_BadTerminatorThenRecover(t *testing.T) {
	buf := new(bytes.Buffer)
	buf.Write([]byte{0x02, 0x01, 0x04, 0x00, 0x00, 0x99}) // wrong end byte
	_ = NewFrameWriter(buf).WriteFrame(protocol.Frame{Payload: []byte{0x04}, Checksum: 1})

	fr := NewFrameReader(buf)

	if _, err := fr.ReadFrame(); !errors.Is(err, protocol.ErrMalformedFrame) {
		t.Fatalf("expected malformed frame, got %v", err)
	}
	if _, err := fr.ReadFrame(); err != nil {
		t.Fatalf("reader did not recover: %v", err)
	}
}

func TestFrameReader_Truncated(t *testing.T) {
	fr := NewFrameReader(bytes.NewReader([]byte{0x02, 0x05, 0x01}))
	if _, err := fr.ReadFrame(); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected unexpected EOF, got %v", err)
	}
}
