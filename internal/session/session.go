// Package session ties one authenticated websocket connection to its
// signaling machine, audio pipeline, and router, and owns the lifecycle
// of all three.
package session

import (
	"context"
	"log"
	"sync"

	"interviewhelper/internal/pipeline"
	"interviewhelper/internal/router"
	"interviewhelper/internal/signaling"
)

// Conn is the slice of a websocket connection a session needs.
// *websocket.Conn satisfies it.
type Conn interface {
	router.WriteConn
	Close() error
}

// Session is one live client attachment to a project. All of its resources
// are released exactly once through Teardown, no matter how many paths
// (read loop exit, transport failure, server shutdown) request it.
type Session struct {
	ID        string
	ProjectID string
	UserID    string

	conn     Conn
	sender   *router.Sender
	router   *router.Router
	machine  *signaling.Machine
	pipeline *pipeline.Pipeline

	cancel   context.CancelFunc
	teardown sync.Once
}

// Router exposes the session's dispatcher to the connection read loop.
func (s *Session) Router() *router.Router {
	return s.router
}

// Teardown releases the session's transport, pipeline, and writer.
// Idempotent; later calls are no-ops.
func (s *Session) Teardown() {
	s.teardown.Do(func() {
		log.Printf("session %s: tearing down (project %s)", s.ID, s.ProjectID)
		s.cancel()
		s.machine.Close()
		s.pipeline.Close()
		s.sender.Close()
		if err := s.conn.Close(); err != nil {
			log.Printf("session %s: close connection: %v", s.ID, err)
		}
	})
}
