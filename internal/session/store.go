// Package session holds the client's single access token and signed-in user.
package session

import (
	"sync"

	"github.com/jun/secondbrain/internal/model"
)

// Event describes a change of session state.
type Event int

const (
	// EventLogin fires when a token is stored while signed out.
	EventLogin Event = iota + 1
	// EventRefreshed fires when a token replaces an existing one.
	EventRefreshed
	// EventCleared fires when the session is dropped.
	EventCleared
)

func (e Event) String() string {
	switch e {
	case EventLogin:
		return "login"
	case EventRefreshed:
		return "refreshed"
	case EventCleared:
		return "cleared"
	default:
		return "unknown"
	}
}

// Store is the one authoritative holder of the access token. All reads and
// writes go through it so callers never see a stale copy.
type Store struct {
	mu    sync.RWMutex
	token string
	user  *model.User

	subMu  sync.Mutex
	nextID int
	subs   map[int]func(Event)
}

func NewStore() *Store {
	return &Store{subs: make(map[int]func(Event))}
}

// Token returns the current access token or "".
func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// SetToken replaces the access token. An empty token clears the session.
func (s *Store) SetToken(token string) {
	if token == "" {
		s.Clear()
		return
	}

	s.mu.Lock()
	ev := EventRefreshed
	if s.token == "" {
		ev = EventLogin
	}
	s.token = token
	s.mu.Unlock()

	s.publish(ev)
}

// Clear drops the token and the cached user.
func (s *Store) Clear() {
	s.mu.Lock()
	had := s.token != "" || s.user != nil
	s.token = ""
	s.user = nil
	s.mu.Unlock()

	if had {
		s.publish(EventCleared)
	}
}

func (s *Store) Authenticated() bool {
	return s.Token() != ""
}

// User returns a copy of the signed-in user, or nil.
func (s *Store) User() *model.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return nil
	}
	u := *s.user
	return &u
}

func (s *Store) SetUser(u *model.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u == nil {
		s.user = nil
		return
	}
	c := *u
	s.user = &c
}

// Subscribe registers fn for session events and returns a function that
// removes it. fn runs on the goroutine that changed the session.
func (s *Store) Subscribe(fn func(Event)) (unsubscribe func()) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		delete(s.subs, id)
	}
}

func (s *Store) publish(ev Event) {
	s.subMu.Lock()
	fns := make([]func(Event), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}
