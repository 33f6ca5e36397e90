// Package session tracks connection status, the active chat session and
// the identifiers and context consumed by outbound sends.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/ashureev/aero-chat/internal/domain"
)

// NoSession is returned by CurrentSession when no session is active.
const NoSession = ""

// ContextTurns is the number of prior turns sent with each message.
const ContextTurns = 10

var (
	ErrNotConnected    = errors.New("session: not connected")
	ErrNoSession       = errors.New("session: no active session")
	ErrProvisionFailed = errors.New("session: provisioning failed")
)

// Provisioner creates a new session on the server.
type Provisioner interface {
	ProvisionSession(ctx context.Context) (string, error)
}

// State is safe for concurrent use.
type State struct {
	mu          sync.Mutex
	connected   bool
	session     *domain.Session
	counter     uint64
	turns       []domain.Turn
	provisioner Provisioner
	now         func() time.Time
	log         *slog.Logger
}

// NewState creates a disconnected state with no session.
func NewState(p Provisioner, log *slog.Logger) *State {
	if log == nil {
		log = slog.Default()
	}
	return &State{provisioner: p, now: time.Now, log: log}
}

// SetClock overrides the time source used for ids and sessions.
func (s *State) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// OnConnect marks the transport as up.
func (s *State) OnConnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = true
}

// OnDisconnect marks the transport as down. Sessions survive reconnects.
func (s *State) OnDisconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
}

// Connected reports whether sends are currently allowed.
func (s *State) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// CurrentSession returns the active session id or NoSession.
func (s *State) CurrentSession() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return NoSession
	}
	return s.session.ID
}

// SetSession adopts an existing session id, for example one restored
// from configuration.
func (s *State) SetSession(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id == NoSession {
		s.session = nil
		return
	}
	now := s.now()
	s.session = &domain.Session{ID: id, CreatedAt: now, LastSeenAt: now}
}

// NextMessageID returns a fresh id of the form msg_<unixmillis>_<n>.
func (s *State) NextMessageID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counter++
	return "msg_" + strconv.FormatInt(s.now().UnixMilli(), 10) + "_" + strconv.FormatUint(s.counter, 10)
}

// RecordTurn appends a completed turn to the local context window.
func (s *State) RecordTurn(role domain.Role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, domain.Turn{Role: role, Content: content})
	if len(s.turns) > ContextTurns {
		s.turns = append([]domain.Turn(nil), s.turns[len(s.turns)-ContextTurns:]...)
	}
}

// Context returns a copy of the last ContextTurns turns.
func (s *State) Context() []domain.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

// ResetContext forgets local turns, used after history is cleared.
func (s *State) ResetContext() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = nil
}

// Do runs send with the current session id. A missing session, or a send
// that fails with ErrNoSession, triggers one provisioning call followed by
// exactly one retry.
func (s *State) Do(ctx context.Context, send func(sessionID string) error) error {
	if !s.Connected() {
		return ErrNotConnected
	}

	err := ErrNoSession
	if sid := s.CurrentSession(); sid != NoSession {
		err = send(sid)
	}
	if !errors.Is(err, ErrNoSession) {
		return err
	}

	s.log.Info("No session for send, provisioning")
	sid, perr := s.provision(ctx)
	if perr != nil {
		return perr
	}
	return send(sid)
}

// Ensure returns the current session, provisioning one if needed.
func (s *State) Ensure(ctx context.Context) (string, error) {
	if sid := s.CurrentSession(); sid != NoSession {
		return sid, nil
	}
	return s.provision(ctx)
}

func (s *State) provision(ctx context.Context) (string, error) {
	if s.provisioner == nil {
		return "", fmt.Errorf("%w: no provisioner configured", ErrProvisionFailed)
	}
	sid, err := s.provisioner.ProvisionSession(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrProvisionFailed, err)
	}
	if sid == "" {
		return "", fmt.Errorf("%w: empty session id", ErrProvisionFailed)
	}
	s.SetSession(sid)
	s.log.Info("Session provisioned", "session_id", sid)
	return sid, nil
}
