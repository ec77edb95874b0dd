package signaling

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"interviewhelper/internal/message"
)

type fakeTransport struct {
	mu         sync.Mutex
	remoteSDP  string
	candidates []string
	closed     bool

	remoteErr   error
	remoteDelay time.Duration
	answerErr   error
	candErr     error
}

func (f *fakeTransport) SetRemoteDescription(sdp string) error {
	if f.remoteDelay > 0 {
		time.Sleep(f.remoteDelay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.remoteErr != nil {
		return f.remoteErr
	}
	f.remoteSDP = sdp
	return nil
}

func (f *fakeTransport) CreateAnswer() (string, error) {
	if f.answerErr != nil {
		return "", f.answerErr
	}
	return "answer-sdp", nil
}

func (f *fakeTransport) AddICECandidate(cand message.ICECandidateData) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.candErr != nil {
		return f.candErr
	}
	f.candidates = append(f.candidates, cand.Candidate)
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) candidateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.candidates)
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type testHarness struct {
	mu        sync.Mutex
	sent      []message.Message
	active    []bool
	downs     []State
	transport *fakeTransport
	factory   TransportFactory
	callbacks Callbacks
}

func newHarness(transport *fakeTransport) *testHarness {
	h := &testHarness{transport: transport}
	h.factory = func(cb Callbacks) (PeerTransport, error) {
		h.callbacks = cb
		return transport, nil
	}
	return h
}

func (h *testHarness) hooks() Hooks {
	return Hooks{
		Send: func(m message.Message) error {
			h.mu.Lock()
			h.sent = append(h.sent, m)
			h.mu.Unlock()
			return nil
		},
		OnAudioActive: func(active bool) {
			h.mu.Lock()
			h.active = append(h.active, active)
			h.mu.Unlock()
		},
		OnTransportDown: func(state State) {
			h.mu.Lock()
			h.downs = append(h.downs, state)
			h.mu.Unlock()
		},
	}
}

func (h *testHarness) sentAnswers(t *testing.T) []message.Answer {
	t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()
	var answers []message.Answer
	for _, m := range h.sent {
		if a, ok := m.(message.Answer); ok {
			answers = append(answers, a)
		}
	}
	return answers
}

func offerMsg(sdp string) message.Offer {
	var o message.Offer
	o.Type = message.TagOffer
	o.Data.SDP = message.SDP{SDP: sdp, Type: "offer"}
	return o
}

func candidateMsg(cand string) message.ICECandidate {
	var c message.ICECandidate
	c.Type = message.TagICECandidate
	c.Data.Candidate = message.ICECandidateData{Candidate: cand}
	return c
}

func TestOfferProducesAnswer(t *testing.T) {
	transport := &fakeTransport{}
	h := newHarness(transport)
	m := NewMachine(h.factory, h.hooks())

	m.HandleOffer(offerMsg("remote-sdp"))

	if transport.remoteSDP != "remote-sdp" {
		t.Fatalf("expected remote description to be set, got %q", transport.remoteSDP)
	}

	answers := h.sentAnswers(t)
	if len(answers) != 1 {
		t.Fatalf("expected 1 answer, got %d", len(answers))
	}
	if answers[0].Data.SDP.SDP != "answer-sdp" {
		t.Fatalf("unexpected answer sdp: %q", answers[0].Data.SDP.SDP)
	}
	if got := m.State(); got != StateAnswering {
		t.Fatalf("expected state answering, got %s", got)
	}
}

func TestEarlyCandidatesQueuedAndFlushed(t *testing.T) {
	transport := &fakeTransport{}
	h := newHarness(transport)
	m := NewMachine(h.factory, h.hooks())

	m.HandleICECandidate(candidateMsg("early-1"))
	m.HandleICECandidate(candidateMsg("early-2"))

	if transport.candidateCount() != 0 {
		t.Fatal("candidates must not reach the transport before the offer")
	}

	m.HandleOffer(offerMsg("remote-sdp"))

	if got := transport.candidateCount(); got != 2 {
		t.Fatalf("expected 2 flushed candidates, got %d", got)
	}

	m.HandleICECandidate(candidateMsg("late"))
	if got := transport.candidateCount(); got != 3 {
		t.Fatalf("expected late candidate applied directly, got %d", got)
	}
}

func TestRejectedCandidateIsIgnored(t *testing.T) {
	transport := &fakeTransport{candErr: errors.New("unknown ufrag")}
	h := newHarness(transport)
	m := NewMachine(h.factory, h.hooks())

	m.HandleOffer(offerMsg("remote-sdp"))
	m.HandleICECandidate(candidateMsg("dup"))

	// Session survives; the answer already went out.
	if len(h.sentAnswers(t)) != 1 {
		t.Fatal("expected negotiation to survive a rejected candidate")
	}
}

func TestRenegotiationClosesPriorTransport(t *testing.T) {
	first := &fakeTransport{}
	second := &fakeTransport{}
	h := &testHarness{}
	transports := []*fakeTransport{first, second}
	h.factory = func(cb Callbacks) (PeerTransport, error) {
		h.callbacks = cb
		next := transports[0]
		transports = transports[1:]
		return next, nil
	}

	m := NewMachine(h.factory, h.hooks())

	m.HandleOffer(offerMsg("sdp-1"))
	if first.isClosed() {
		t.Fatal("first transport closed too early")
	}

	m.HandleOffer(offerMsg("sdp-2"))
	if !first.isClosed() {
		t.Fatal("expected first transport closed on renegotiation")
	}
	if second.isClosed() {
		t.Fatal("second transport must stay open")
	}
	if len(h.sentAnswers(t)) != 2 {
		t.Fatalf("expected 2 answers, got %d", len(h.sentAnswers(t)))
	}
}

func TestTransportConnectedActivatesAudio(t *testing.T) {
	transport := &fakeTransport{}
	h := newHarness(transport)
	m := NewMachine(h.factory, h.hooks())

	m.HandleOffer(offerMsg("remote-sdp"))
	h.callbacks.OnStateChange(TransportConnected)

	if got := m.State(); got != StateConnected {
		t.Fatalf("expected state connected, got %s", got)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.active) != 1 || !h.active[0] {
		t.Fatalf("expected audio activated, got %v", h.active)
	}
}

func TestTransportFailureDeactivatesAudio(t *testing.T) {
	transport := &fakeTransport{}
	h := newHarness(transport)
	m := NewMachine(h.factory, h.hooks())

	m.HandleOffer(offerMsg("remote-sdp"))
	h.callbacks.OnStateChange(TransportConnected)
	h.callbacks.OnStateChange(TransportFailed)

	if got := m.State(); got != StateFailed {
		t.Fatalf("expected state failed, got %s", got)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.active) != 2 || h.active[1] {
		t.Fatalf("expected audio deactivated on failure, got %v", h.active)
	}
	if len(h.downs) != 1 || h.downs[0] != StateFailed {
		t.Fatalf("expected transport-down callback with failed state, got %v", h.downs)
	}
}

func TestOfferFailureReturnsToIdle(t *testing.T) {
	transport := &fakeTransport{remoteErr: errors.New("bad sdp")}
	h := newHarness(transport)
	m := NewMachine(h.factory, h.hooks())

	m.HandleOffer(offerMsg("garbage"))

	if got := m.State(); got != StateIdle {
		t.Fatalf("expected state idle after failed negotiation, got %s", got)
	}
	if !transport.isClosed() {
		t.Fatal("expected transport closed after failed negotiation")
	}
	if len(h.sentAnswers(t)) != 0 {
		t.Fatal("no answer should be sent on failure")
	}

	// The session is still usable: a corrected offer succeeds.
	transport.remoteErr = nil
	m.HandleOffer(offerMsg("valid"))
	if len(h.sentAnswers(t)) != 1 {
		t.Fatal("expected recovery on re-offer")
	}
}

func TestConcurrentOffersCloseEveryTransport(t *testing.T) {
	h := &testHarness{}
	var mu sync.Mutex
	var created []*fakeTransport
	h.factory = func(cb Callbacks) (PeerTransport, error) {
		tr := &fakeTransport{remoteDelay: 20 * time.Millisecond}
		mu.Lock()
		created = append(created, tr)
		mu.Unlock()
		return tr, nil
	}
	m := NewMachine(h.factory, h.hooks())

	// Offers arrive on separate goroutines, mirroring the session's
	// per-offer dispatch.
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			m.HandleOffer(offerMsg(fmt.Sprintf("sdp-%d", n)))
		}(i)
	}
	wg.Wait()
	m.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(created) != 2 {
		t.Fatalf("expected 2 transports, got %d", len(created))
	}
	for i, tr := range created {
		if !tr.isClosed() {
			t.Fatalf("transport %d leaked after renegotiation and close", i)
		}
	}
}

func TestCloseDuringNegotiationClosesTransport(t *testing.T) {
	transport := &fakeTransport{remoteDelay: 30 * time.Millisecond}
	h := newHarness(transport)
	m := NewMachine(h.factory, h.hooks())

	done := make(chan struct{})
	go func() {
		defer close(done)
		m.HandleOffer(offerMsg("remote-sdp"))
	}()

	time.Sleep(5 * time.Millisecond)
	m.Close()
	<-done

	if !transport.isClosed() {
		t.Fatal("expected in-flight transport closed by teardown")
	}
	if len(h.sentAnswers(t)) != 0 {
		t.Fatal("no answer should be sent after close")
	}
	// A closed machine ignores further offers.
	m.HandleOffer(offerMsg("late"))
	if len(h.sentAnswers(t)) != 0 {
		t.Fatal("expected offer after close to be ignored")
	}
}

func TestStaleTransportEventIgnored(t *testing.T) {
	h := &testHarness{}
	var cbs []Callbacks
	transports := []*fakeTransport{{}, {}}
	h.factory = func(cb Callbacks) (PeerTransport, error) {
		cbs = append(cbs, cb)
		next := transports[0]
		transports = transports[1:]
		return next, nil
	}
	m := NewMachine(h.factory, h.hooks())

	m.HandleOffer(offerMsg("sdp-1"))
	m.HandleOffer(offerMsg("sdp-2"))
	cbs[1].OnStateChange(TransportConnected)

	// A late failure from the discarded transport must not clobber the
	// live negotiation or deactivate audio.
	cbs[0].OnStateChange(TransportFailed)

	if got := m.State(); got != StateConnected {
		t.Fatalf("expected state connected, got %s", got)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.downs) != 0 {
		t.Fatalf("expected no transport-down callbacks, got %v", h.downs)
	}
	if len(h.active) != 1 || !h.active[0] {
		t.Fatalf("expected audio still active, got %v", h.active)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	transport := &fakeTransport{}
	h := newHarness(transport)
	m := NewMachine(h.factory, h.hooks())

	m.HandleOffer(offerMsg("remote-sdp"))
	m.Close()
	m.Close()

	if !transport.isClosed() {
		t.Fatal("expected transport closed")
	}
}
