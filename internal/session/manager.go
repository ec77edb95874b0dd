package session

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"

	"interviewhelper/internal/auth"
	"interviewhelper/internal/message"
	"interviewhelper/internal/pipeline"
	"interviewhelper/internal/router"
	"interviewhelper/internal/signaling"
	"interviewhelper/internal/storage"
)

// Store is the persistence surface the manager needs: project lookup,
// state replay for catch-up, and the pipeline's write path.
type Store interface {
	pipeline.Persister
	GetProject(id string) (storage.Project, error)
	ProjectSnapshot(projectID string) (string, []message.AnalysisRow, error)
}

// Deps are the manager's collaborators. NewTranscriber is called once per
// session because the transcription stream is connection-scoped.
type Deps struct {
	Tickets        *auth.Store
	Store          Store
	NewTranscriber func() (pipeline.Transcriber, error)
	Analyzer       pipeline.Analyzer
	NewTransport   signaling.TransportFactory
	Pipeline       pipeline.Config
}

// Manager owns the session registry. All methods are safe for concurrent
// use; per-session state is confined to the session's own components.
type Manager struct {
	deps Deps

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(deps Deps) *Manager {
	return &Manager{
		deps:     deps,
		sessions: make(map[string]*Session),
	}
}

// AuthenticateAndCreate redeems the ticket, binds a new session to the
// project, and replays prior state: a catchup message first, then the
// project metadata, so the client renders history before the banner.
func (m *Manager) AuthenticateAndCreate(ticketID, clientIP, projectID string, conn Conn) (*Session, error) {
	ticket, ok := m.deps.Tickets.Validate(ticketID, clientIP)
	if !ok {
		return nil, ErrInvalidTicket
	}
	m.deps.Tickets.Cleanup(ticketID)

	var projectName string
	if m.deps.Store != nil {
		project, err := m.deps.Store.GetProject(projectID)
		if err != nil {
			return nil, fmt.Errorf("project %s: %w", projectID, ErrUnknownProject)
		}
		projectName = project.Name
	}

	transcriber, err := m.deps.NewTranscriber()
	if err != nil {
		return nil, fmt.Errorf("open transcription stream: %w", err)
	}

	sender := router.NewSender(conn)
	rt := router.New(sender)
	pipe := pipeline.New(projectID, rt, transcriber, m.deps.Analyzer, m.deps.Store, m.deps.Pipeline)

	if m.deps.Store != nil {
		transcript, rows, err := m.deps.Store.ProjectSnapshot(projectID)
		if err != nil {
			log.Printf("session: load snapshot for project %s: %v", projectID, err)
		} else {
			pipe.Seed(transcript, rows)
		}
	}

	machine := signaling.NewMachine(m.deps.NewTransport, signaling.Hooks{
		Send: rt.Send,
		OnFrame: func(frame []byte) {
			pipe.IngestFrame(pipeline.Frame(frame))
		},
		OnAudioActive: pipe.SetAudioActive,
		OnTransportDown: func(state signaling.State) {
			log.Printf("session: audio transport down (%s), control connection stays up", state)
		},
	})

	ctx, cancel := context.WithCancel(context.Background())

	s := &Session{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		UserID:    ticket.UserID,
		conn:      conn,
		sender:    sender,
		router:    rt,
		machine:   machine,
		pipeline:  pipe,
		cancel:    cancel,
	}

	if err := m.registerHandlers(s); err != nil {
		cancel()
		sender.Close()
		pipe.Close()
		return nil, err
	}

	go pipe.Run(ctx)

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	if err := pipe.SendCatchup(); err != nil {
		log.Printf("session %s: send catchup: %v", s.ID, err)
	}
	if err := rt.Send(message.NewProjectMetadata(projectID, projectName)); err != nil {
		log.Printf("session %s: send project metadata: %v", s.ID, err)
	}

	log.Printf("session %s: created for user %s (project %s)", s.ID, ticket.UserID, projectID)
	return s, nil
}

func (m *Manager) registerHandlers(s *Session) error {
	bindings := map[string]router.Handler{
		message.TagOffer: func(msg message.Message) {
			offer, ok := msg.(message.Offer)
			if !ok {
				return
			}
			// Negotiation waits on ICE gathering; run it off the dispatch
			// loop so pings keep flowing.
			go s.machine.HandleOffer(offer)
		},
		message.TagICECandidate: func(msg message.Message) {
			cand, ok := msg.(message.ICECandidate)
			if !ok {
				return
			}
			s.machine.HandleICECandidate(cand)
		},
		message.TagPing: func(msg message.Message) {
			ping, ok := msg.(message.Ping)
			if !ok {
				return
			}
			if err := s.router.Send(message.NewPong(ping.Timestamp)); err != nil {
				log.Printf("session %s: send pong: %v", s.ID, err)
			}
		},
		message.TagDismissAIAnalysis: func(msg message.Message) {
			dismiss, ok := msg.(message.DismissAIAnalysis)
			if !ok {
				return
			}
			s.pipeline.Dismiss(dismiss.AnalysisID)
		},
	}

	for tag, h := range bindings {
		if err := s.router.Register(tag, h); err != nil {
			return fmt.Errorf("bind session handlers: %w", err)
		}
	}
	return nil
}

// Route forwards a raw inbound frame to the session's dispatcher. Frames
// for unknown sessions are dropped; the connection may already be torn
// down.
func (m *Manager) Route(sessionID string, raw []byte) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	m.mu.Unlock()

	if !ok {
		log.Printf("session %s: frame for unknown session dropped", sessionID)
		return
	}
	s.Router().Dispatch(raw)
}

// Get looks up a live session.
func (m *Manager) Get(sessionID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	return s, ok
}

// Count reports the number of live sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Teardown removes the session from the registry and releases its
// resources. Safe to call for unknown ids and more than once.
func (m *Manager) Teardown(sessionID string) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	m.mu.Unlock()

	if ok {
		s.Teardown()
	}
}

// Shutdown tears down every live session. Used on server exit.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range all {
		s.Teardown()
	}
}
