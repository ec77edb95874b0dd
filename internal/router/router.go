// Package router provides per-session typed dispatch of wire messages and
// a concurrency-safe outbound sender.
package router

import (
	"fmt"
	"log"
	"sync"

	"interviewhelper/internal/message"
)

// Handler consumes one inbound message. Dispatch invokes handlers one at a
// time, in arrival order; a handler that needs longer-running work must
// schedule it itself rather than block the dispatch loop.
type Handler func(message.Message)

// Router binds exactly one handler per message tag for a single session.
type Router struct {
	mu       sync.Mutex
	handlers map[string]Handler

	// dispatchMu serializes Dispatch so message N's handler returns
	// before message N+1 is looked at, even with multiple callers.
	dispatchMu sync.Mutex

	sender *Sender
}

func New(sender *Sender) *Router {
	return &Router{
		handlers: make(map[string]Handler),
		sender:   sender,
	}
}

// Register binds a handler for a tag. Registering the same tag twice
// without an intervening Deregister is a programmer error and fails fast.
func (r *Router) Register(tag string, h Handler) error {
	if h == nil {
		return fmt.Errorf("register %s: nil handler", tag)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[tag]; exists {
		return fmt.Errorf("tag %s: %w", tag, ErrDuplicateHandler)
	}
	r.handlers[tag] = h
	return nil
}

// Deregister removes the binding for a tag. No-op if absent.
func (r *Router) Deregister(tag string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, tag)
}

// Dispatch decodes a raw frame and invokes the bound handler. Malformed
// frames, unknown tags, and unbound tags are logged and dropped; Dispatch
// never fails upward.
func (r *Router) Dispatch(raw []byte) {
	r.dispatchMu.Lock()
	defer r.dispatchMu.Unlock()

	msg, err := message.Decode(raw)
	if err != nil {
		log.Printf("router: dropping inbound frame: %v", err)
		return
	}

	r.mu.Lock()
	h, ok := r.handlers[msg.Tag()]
	r.mu.Unlock()

	if !ok {
		log.Printf("router: no handler for %s message, dropped", msg.Tag())
		return
	}

	h(msg)
}

// Send serializes the message into its envelope and hands it to the
// session's sender. Returns a failure indicator instead of panicking when
// the transport is gone.
func (r *Router) Send(m message.Message) error {
	if r.sender == nil {
		return ErrSenderClosed
	}
	return r.sender.Send(m)
}
