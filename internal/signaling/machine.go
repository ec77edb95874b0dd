// Package signaling manages one peer-to-peer audio transport negotiation
// per session: offer/answer exchange, ICE candidates, and the transport's
// connectivity lifecycle.
package signaling

import (
	"log"
	"sync"

	"interviewhelper/internal/message"
)

// State is the negotiation state for one session.
type State int

const (
	StateIdle State = iota
	StateOfferReceived
	StateAnswering
	StateConnected
	StateDisconnected
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOfferReceived:
		return "offer_received"
	case StateAnswering:
		return "answering"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// TransportState is the connectivity event reported by the peer transport.
type TransportState int

const (
	TransportConnected TransportState = iota
	TransportDisconnected
	TransportFailed
)

// PeerTransport is the session's peer connection, created per offer.
type PeerTransport interface {
	SetRemoteDescription(sdp string) error
	CreateAnswer() (string, error)
	AddICECandidate(cand message.ICECandidateData) error
	Close() error
}

// Callbacks are handed to the transport factory so transport events reach
// the machine and the audio sink.
type Callbacks struct {
	OnFrame       func(frame []byte)
	OnStateChange func(state TransportState)
}

// TransportFactory builds a peer transport wired to the given callbacks.
type TransportFactory func(cb Callbacks) (PeerTransport, error)

// Hooks connect the machine to the rest of the session.
type Hooks struct {
	// Send emits an outbound signaling message through the router.
	Send func(m message.Message) error
	// OnFrame receives decoded audio frames from the transport.
	OnFrame func(frame []byte)
	// OnAudioActive gates the pipeline's frame consumption.
	OnAudioActive func(active bool)
	// OnTransportDown tells the session manager to tear down the audio
	// path. The control connection stays up; signaling may retry.
	OnTransportDown func(state State)
}

// Machine is the signaling state machine. One instance per session; only
// one outstanding offer is honored at a time.
type Machine struct {
	factory TransportFactory
	hooks   Hooks

	// offerMu serializes entire offer exchanges. The session dispatches
	// each offer on its own goroutine, so without this two offers could
	// race transport creation and leak the loser.
	offerMu sync.Mutex

	mu        sync.Mutex
	state     State
	transport PeerTransport
	gen       uint64
	remoteSet bool
	closed    bool
	pending   []message.ICECandidateData
}

func NewMachine(factory TransportFactory, hooks Hooks) *Machine {
	return &Machine{factory: factory, hooks: hooks}
}

// State returns the current negotiation state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// HandleOffer runs the offer → answer exchange. Offers are serialized: a
// second offer waits for the in-flight exchange, then restarts
// negotiation with the prior transport closed first so it can never
// leak.
func (m *Machine) HandleOffer(offer message.Offer) {
	m.offerMu.Lock()
	defer m.offerMu.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	old := m.transport
	m.transport = nil
	m.remoteSet = false
	m.pending = nil
	m.state = StateOfferReceived
	m.gen++
	gen := m.gen
	m.mu.Unlock()

	if old != nil {
		log.Printf("signaling: renegotiation requested, discarding prior transport")
		if err := old.Close(); err != nil {
			log.Printf("signaling: close prior transport: %v", err)
		}
	}

	transport, err := m.factory(Callbacks{
		OnFrame: m.hooks.OnFrame,
		OnStateChange: func(ts TransportState) {
			m.handleTransportState(gen, ts)
		},
	})
	if err != nil {
		m.abortNegotiation("create peer transport", err)
		return
	}

	if err := transport.SetRemoteDescription(offer.Data.SDP.SDP); err != nil {
		_ = transport.Close()
		m.abortNegotiation("set remote description", err)
		return
	}

	m.mu.Lock()
	if m.closed {
		// Teardown raced the exchange; the machine no longer owns state,
		// so the fresh transport is released here.
		m.mu.Unlock()
		_ = transport.Close()
		return
	}
	m.transport = transport
	m.remoteSet = true
	queued := m.pending
	m.pending = nil
	m.state = StateAnswering
	m.mu.Unlock()

	// Flush candidates that arrived before the remote description.
	for _, cand := range queued {
		if err := transport.AddICECandidate(cand); err != nil {
			log.Printf("signaling: queued ICE candidate rejected: %v", err)
		}
	}

	answer, err := transport.CreateAnswer()
	if err != nil {
		m.abortNegotiation("create answer", err)
		m.closeTransport()
		return
	}

	if err := m.hooks.Send(message.NewAnswer(answer)); err != nil {
		log.Printf("signaling: send answer: %v", err)
	}
}

// HandleICECandidate adds a candidate to the transport, queueing it when
// the remote description is not yet set. Out-of-order or duplicate
// candidates the transport rejects are logged and ignored.
func (m *Machine) HandleICECandidate(msg message.ICECandidate) {
	m.mu.Lock()
	if m.state == StateFailed {
		m.mu.Unlock()
		return
	}
	if m.transport == nil || !m.remoteSet {
		m.pending = append(m.pending, msg.Data.Candidate)
		m.mu.Unlock()
		return
	}
	transport := m.transport
	m.mu.Unlock()

	if err := transport.AddICECandidate(msg.Data.Candidate); err != nil {
		log.Printf("signaling: ICE candidate rejected: %v", err)
	}
}

// handleTransportState reacts to the transport's own connectivity
// callbacks. Events carry the generation of the negotiation that created
// the transport; anything from a discarded transport is dropped so a
// late failure cannot clobber the live negotiation.
func (m *Machine) handleTransportState(gen uint64, ts TransportState) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		log.Printf("signaling: dropping stale transport event")
		return
	}
	var next State
	switch ts {
	case TransportConnected:
		next = StateConnected
	case TransportDisconnected:
		next = StateDisconnected
	case TransportFailed:
		next = StateFailed
	}
	m.state = next
	m.mu.Unlock()

	log.Printf("signaling: transport state %s", next)

	switch next {
	case StateConnected:
		if m.hooks.OnAudioActive != nil {
			m.hooks.OnAudioActive(true)
		}
	case StateDisconnected, StateFailed:
		if m.hooks.OnAudioActive != nil {
			m.hooks.OnAudioActive(false)
		}
		if m.hooks.OnTransportDown != nil {
			m.hooks.OnTransportDown(next)
		}
	}
}

// abortNegotiation logs a signaling error and returns the machine to idle.
// The session stays alive; the client may re-offer.
func (m *Machine) abortNegotiation(stage string, err error) {
	log.Printf("signaling: %s: %v", stage, err)
	m.mu.Lock()
	m.state = StateIdle
	m.remoteSet = false
	m.pending = nil
	m.gen++
	m.mu.Unlock()
}

func (m *Machine) closeTransport() {
	m.mu.Lock()
	transport := m.transport
	m.transport = nil
	m.remoteSet = false
	m.gen++
	m.mu.Unlock()

	if transport != nil {
		if err := transport.Close(); err != nil {
			log.Printf("signaling: close transport: %v", err)
		}
	}
}

// Close releases the peer transport and stops accepting offers.
// Idempotent; safe during teardown even while an exchange is in flight.
func (m *Machine) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.closeTransport()
}
