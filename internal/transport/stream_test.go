// internal/transport/stream_test.go
package transport

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/tamzrod/motor-fleet/internal/protocol"
)

func newPipeStream(t *testing.T) (*Stream, net.Conn) {
	t.Helper()
	host, device := net.Pipe()
	s := NewStream(host, zaptest.NewLogger(t))
	t.Cleanup(func() {
		_ = s.Close()
		_ = device.Close()
	})
	return s, device
}

func TestStream_WriteAndRead(t *testing.T) {
	s, device := newPipeStream(t)

	go func() {
		f, err := NewFrameReader(device).ReadFrame()
		if err != nil {
			return
		}
		_ = NewFrameWriter(device).WriteFrame(protocol.Frame{Payload: append([]byte{0x04}, f.Payload...), Checksum: 9})
	}()

	require.NoError(t, s.WriteFrame(protocol.Frame{Payload: []byte{0x01}, Checksum: 1}))

	got, err := s.ReadFrame(time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x04, 0x01}, got.Payload)
	assert.Equal(t, uint16(9), got.Checksum)
}

func TestStream_ReadTimeout(t *testing.T) {
	s, _ := newPipeStream(t)

	start := time.Now()
	_, err := s.ReadFrame(30 * time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestStream_CloseUnblocksRead(t *testing.T) {
	s, _ := newPipeStream(t)

	errCh := make(chan error, 1)
	go func() {
		_, err := s.ReadFrame(time.Minute)
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, s.Close())

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("ReadFrame still blocked after Close")
	}

	assert.ErrorIs(t, s.WriteFrame(protocol.Frame{Payload: []byte{1}}), ErrClosed)
	assert.NoError(t, s.Close(), "Close must be idempotent")
}

func TestStream_PeerGoneReportsError(t *testing.T) {
	s, device := newPipeStream(t)
	require.NoError(t, device.Close())

	_, err := s.ReadFrame(time.Second)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrTimeout))
	assert.True(t, IsTransient(err))
}

func TestStream_FlushDropsStaleFrames(t *testing.T) {
	s, device := newPipeStream(t)

	require.NoError(t, NewFrameWriter(device).WriteFrame(protocol.Frame{Payload: []byte{0x01}}))
	require.Eventually(t, func() bool { return len(s.inbound) == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Flush())

	_, err := s.ReadFrame(20 * time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestStream_MalformedFrameSurfaced(t *testing.T) {
	s, device := newPipeStream(t)

	go func() {
		_, _ = device.Write([]byte{0x02, 0x01, 0x04, 0x00, 0x00, 0x7F})
	}()

	_, err := s.ReadFrame(time.Second)
	assert.ErrorIs(t, err, protocol.ErrMalformedFrame)
	assert.False(t, IsTransient(err))
}

func TestDial_TCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			accepted <- c
		}
	}()

	s, err := Dial(context.Background(), "tcp://"+ln.Addr().String(), time.Second, nil)
	require.NoError(t, err)
	defer s.Close()

	device := <-accepted
	defer device.Close()

	require.NoError(t, NewFrameWriter(device).WriteFrame(protocol.Frame{Payload: []byte{0x04}, Checksum: 2}))
	f, err := s.ReadFrame(time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x04}, f.Payload)
}

func TestDial_UnsupportedScheme(t *testing.T) {
	_, err := Dial(context.Background(), "udp://127.0.0.1:1", time.Second, nil)
	assert.Error(t, err)
}
