// Package server is the HTTP boundary: ticket issuance, project CRUD, the
// health probe, and the websocket attach point.
package server

import (
	"log"
	"net"
	"net/http"
	"strings"

	"interviewhelper/internal/auth"
	"interviewhelper/internal/session"
	"interviewhelper/internal/storage"
)

// TokenVerifier authenticates the HTTP caller and yields a user id. The
// identity provider is injected; this package never talks to one directly.
type TokenVerifier interface {
	Verify(r *http.Request) (string, error)
}

// VerifierFunc adapts a function to TokenVerifier.
type VerifierFunc func(r *http.Request) (string, error)

func (f VerifierFunc) Verify(r *http.Request) (string, error) { return f(r) }

// ProjectStore is the slice of storage the HTTP API needs.
type ProjectStore interface {
	CreateProject(id, name, ownerID string) error
	GetProject(id string) (storage.Project, error)
	ListProjects() ([]storage.Project, error)
}

// SessionManager attaches authenticated websocket connections to sessions.
// *session.Manager satisfies it; tests substitute a fake.
type SessionManager interface {
	AuthenticateAndCreate(ticketID, clientIP, projectID string, conn session.Conn) (*session.Session, error)
	Route(sessionID string, raw []byte)
	Teardown(sessionID string)
}

func Handler(tickets *auth.Store, store ProjectStore, manager SessionManager, verifier TokenVerifier) http.Handler {
	mux := http.NewServeMux()

	registerWSRoute(mux, manager)
	registerAPIRoutes(mux, tickets, store, verifier)

	return mux
}

func Serve(addr string, tickets *auth.Store, store ProjectStore, manager SessionManager, verifier TokenVerifier) error {
	h := Handler(tickets, store, manager, verifier)
	log.Printf("listening on %s", addr)
	return http.ListenAndServe(addr, h)
}

// clientIP prefers the first X-Forwarded-For hop so ticket IP binding
// works behind a reverse proxy, falling back to the socket peer.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if first, _, found := strings.Cut(fwd, ","); found || first != "" {
			return strings.TrimSpace(first)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
