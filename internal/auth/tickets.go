// Package auth implements single-use, time-boxed, IP-bound tickets that
// gate every realtime connection. Tickets are issued over authenticated
// HTTP and redeemed exactly once when the websocket attaches.
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sync"
	"time"
)

const (
	// DefaultExpiration is how long an issued ticket stays redeemable.
	DefaultExpiration = 300 * time.Second

	// DefaultRateLimit is the maximum tickets one user may request per
	// DefaultRateWindow.
	DefaultRateLimit  = 10
	DefaultRateWindow = 60 * time.Second

	ticketIDBytes = 32
)

// Ticket is one websocket authentication credential. A ticket transitions
// unused → used at most once, under the store lock.
type Ticket struct {
	TicketID  string
	UserID    string
	ClientIP  string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Used      bool
}

// Store holds tickets in memory. All methods are safe for concurrent use;
// it is the only structure shared across sessions.
type Store struct {
	mu         sync.Mutex
	tickets    map[string]*Ticket
	issued     map[string][]time.Time
	expiration time.Duration
	rateLimit  int
	rateWindow time.Duration
	now        func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithExpiration overrides the ticket lifetime.
func WithExpiration(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.expiration = d
		}
	}
}

// WithRateLimit overrides the per-user issuance limit.
func WithRateLimit(limit int, window time.Duration) Option {
	return func(s *Store) {
		if limit > 0 {
			s.rateLimit = limit
		}
		if window > 0 {
			s.rateWindow = window
		}
	}
}

// WithClock injects a time source for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func NewStore(opts ...Option) *Store {
	s := &Store{
		tickets:    make(map[string]*Ticket),
		issued:     make(map[string][]time.Time),
		expiration: DefaultExpiration,
		rateLimit:  DefaultRateLimit,
		rateWindow: DefaultRateWindow,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Expiration returns the configured ticket lifetime.
func (s *Store) Expiration() time.Duration {
	return s.expiration
}

// Issue generates a ticket for the user at the given IP. It fails with
// ErrRateLimited when the user already issued the configured maximum inside
// the trailing rate window.
func (s *Store) Issue(userID, clientIP string) (Ticket, error) {
	id, err := newTicketID()
	if err != nil {
		return Ticket{}, fmt.Errorf("generate ticket id: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	recent := pruneWindow(s.issued[userID], now, s.rateWindow)
	if len(recent) >= s.rateLimit {
		s.issued[userID] = recent
		return Ticket{}, ErrRateLimited
	}
	s.issued[userID] = append(recent, now)

	t := &Ticket{
		TicketID:  id,
		UserID:    userID,
		ClientIP:  clientIP,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.expiration),
	}
	s.tickets[id] = t

	s.sweepLocked(now)

	return *t, nil
}

// Validate atomically redeems a ticket: it succeeds only if the ticket
// exists, is unused, has not expired, and the client IP matches the IP it
// was issued to, flipping used in the same critical section so concurrent
// validations of one ticket can never both succeed. Failure carries no
// detail beyond the false return.
func (s *Store) Validate(ticketID, clientIP string) (Ticket, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tickets[ticketID]
	if !ok {
		return Ticket{}, false
	}

	now := s.now()
	if t.Used || !now.Before(t.ExpiresAt) {
		delete(s.tickets, ticketID)
		return Ticket{}, false
	}
	if t.ClientIP != clientIP {
		return Ticket{}, false
	}

	t.Used = true
	return *t, true
}

// Cleanup removes a ticket regardless of state. Used after a successful
// redemption so consumed tickets do not linger until expiry.
func (s *Store) Cleanup(ticketID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tickets, ticketID)
}

// ActiveCount reports how many unexpired, unused tickets exist, sweeping
// expired ones as a side effect.
func (s *Store) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.sweepLocked(now)

	count := 0
	for _, t := range s.tickets {
		if !t.Used && now.Before(t.ExpiresAt) {
			count++
		}
	}
	return count
}

// sweepLocked discards expired tickets and stale rate-limit entries.
// Caller holds s.mu.
func (s *Store) sweepLocked(now time.Time) {
	for id, t := range s.tickets {
		if !now.Before(t.ExpiresAt) {
			delete(s.tickets, id)
		}
	}
	for user, times := range s.issued {
		pruned := pruneWindow(times, now, s.rateWindow)
		if len(pruned) == 0 {
			delete(s.issued, user)
		} else {
			s.issued[user] = pruned
		}
	}
}

func pruneWindow(times []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	kept := times[:0]
	for _, ts := range times {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	return kept
}

func newTicketID() (string, error) {
	buf := make([]byte, ticketIDBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
