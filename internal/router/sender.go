package router

import (
	"log"
	"sync"

	"interviewhelper/internal/message"
)

const defaultSendBuffer = 256

// WriteConn is the slice of a websocket connection the sender needs.
// *websocket.Conn satisfies it.
type WriteConn interface {
	WriteMessage(messageType int, data []byte) error
}

// textMessage matches websocket.TextMessage without importing gorilla here.
const textMessage = 1

// Sender serializes concurrent outbound traffic onto one connection.
// Multiple tasks may call Send; exactly one goroutine touches the
// connection, preserving per-event ordering.
type Sender struct {
	conn WriteConn
	out  chan []byte

	closed    chan struct{}
	closeOnce sync.Once
	done      chan struct{}
}

func NewSender(conn WriteConn) *Sender {
	s := &Sender{
		conn:   conn,
		out:    make(chan []byte, defaultSendBuffer),
		closed: make(chan struct{}),
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *Sender) run() {
	defer close(s.done)
	for {
		select {
		case <-s.closed:
			return
		case payload := <-s.out:
			if err := s.conn.WriteMessage(textMessage, payload); err != nil {
				log.Printf("sender: write failed, closing: %v", err)
				s.Close()
				return
			}
		}
	}
}

// Send encodes and enqueues a message. It fails with ErrSenderClosed once
// the transport is gone and with ErrSendBufferFull instead of blocking
// when the outbound buffer is saturated.
func (s *Sender) Send(m message.Message) error {
	payload, err := message.Encode(m)
	if err != nil {
		return err
	}

	select {
	case <-s.closed:
		return ErrSenderClosed
	default:
	}

	select {
	case s.out <- payload:
		return nil
	case <-s.closed:
		return ErrSenderClosed
	default:
		return ErrSendBufferFull
	}
}

// Close stops the writer goroutine. Safe to call more than once; it does
// not close the underlying connection, which its owner releases.
func (s *Sender) Close() {
	s.closeOnce.Do(func() { close(s.closed) })
}

// Done is closed when the writer goroutine has exited.
func (s *Sender) Done() <-chan struct{} {
	return s.done
}
