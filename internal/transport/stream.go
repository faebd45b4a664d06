// internal/transport/stream.go
package transport

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tamzrod/motor-fleet/internal/protocol"
)

// inbound buffers frames between the reader goroutine and ReadFrame.
// Oldest frames are dropped when nobody is reading.
const inboundDepth = 16

type readResult struct {
	frame protocol.Frame
	err   error
}

// Stream is a Transport over a byte stream (serial port, TCP bridge)
// using VESC UART framing. One goroutine reads continuously so that
// ReadFrame can honour its timeout on any io.Reader.
type Stream struct {
	rwc io.ReadWriteCloser
	fw  *FrameWriter
	log *zap.Logger

	inbound chan readResult

	done      chan struct{} // closed by Close
	dead      chan struct{} // closed when the reader stops
	closeOnce sync.Once

	mu      sync.Mutex
	readErr error
}

var _ Transport = (*Stream)(nil)

// NewStream takes ownership of rwc and starts the reader.
func NewStream(rwc io.ReadWriteCloser, log *zap.Logger) *Stream {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Stream{
		rwc:     rwc,
		fw:      NewFrameWriter(rwc),
		log:     log,
		inbound: make(chan readResult, inboundDepth),
		done:    make(chan struct{}),
		dead:    make(chan struct{}),
	}
	go s.readLoop()
	return s
}

func (s *Stream) readLoop() {
	defer close(s.dead)

	fr := NewFrameReader(s.rwc)
	for {
		f, err := fr.ReadFrame()
		if err != nil && !errors.Is(err, protocol.ErrMalformedFrame) {
			s.mu.Lock()
			s.readErr = err
			s.mu.Unlock()

			select {
			case <-s.done:
			default:
				s.log.Warn("stream reader stopped", zap.Error(err))
			}
			return
		}
		s.deliver(readResult{frame: f, err: err})
	}
}

func (s *Stream) deliver(r readResult) {
	for {
		select {
		case s.inbound <- r:
			return
		case <-s.done:
			return
		default:
		}
		// full: drop the oldest unclaimed frame
		select {
		case old := <-s.inbound:
			s.log.Debug("dropping unclaimed frame", zap.Int("payload_len", len(old.frame.Payload)))
		default:
		}
	}
}

func (s *Stream) WriteFrame(f protocol.Frame) error {
	select {
	case <-s.done:
		return ErrClosed
	case <-s.dead:
		return s.deadErr()
	default:
	}
	return s.fw.WriteFrame(f)
}

func (s *Stream) ReadFrame(timeout time.Duration) (protocol.Frame, error) {
	// frames already buffered win over a dead reader
	select {
	case r := <-s.inbound:
		return r.frame, r.err
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-s.inbound:
		return r.frame, r.err
	case <-s.done:
		return protocol.Frame{}, ErrClosed
	case <-s.dead:
		return protocol.Frame{}, s.deadErr()
	case <-timer.C:
		return protocol.Frame{}, ErrTimeout
	}
}

func (s *Stream) Flush() error {
	for {
		select {
		case <-s.inbound:
		default:
			return nil
		}
	}
}

func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.rwc.Close()
	})
	return err
}

func (s *Stream) deadErr() error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Errorf("transport: reader stopped: %w", s.readErr)
}
