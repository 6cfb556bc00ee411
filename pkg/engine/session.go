package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/germanamz/stepwise/pkg/chats/chat"
	"github.com/germanamz/stepwise/pkg/driver"
)

// toolCloser is the tool side of a session.
type toolCloser interface {
	driver.Transport
	Close() error
}

// Session is one driver conversation bound to its tool server. Only one Run
// may be active at a time.
type Session struct {
	id     string
	flow   driver.Flow
	driver *driver.Driver
	tools  toolCloser

	mu         sync.Mutex
	active     bool
	transcript *chat.Chat
}

func newSession(id string, flow driver.Flow, d *driver.Driver, tools toolCloser) *Session {
	return &Session{id: id, flow: flow, driver: d, tools: tools}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Flow returns the flow the session drives.
func (s *Session) Flow() driver.Flow { return s.flow }

// Transcript returns the transcript of the last Run, or nil before the first.
func (s *Session) Transcript() *chat.Chat {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.transcript
}

// Run drives the conversation to an outcome. The error is only for misuse;
// conversation failures are reported in the Outcome.
func (s *Session) Run(ctx context.Context) (driver.Outcome, error) {
	if err := s.acquire(); err != nil {
		return driver.Outcome{}, err
	}
	defer s.release()

	out, transcript := s.driver.RunWithTranscript(ctx, s.flow)

	s.mu.Lock()
	s.transcript = transcript
	s.mu.Unlock()

	return out, nil
}

// Close stops the session's tool server.
func (s *Session) Close() error {
	if err := s.tools.Close(); err != nil {
		return fmt.Errorf("engine: session %s: close tools: %w", s.id, err)
	}
	return nil
}

func (s *Session) acquire() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active {
		return fmt.Errorf("engine: session %s: another Run is already active", s.id)
	}
	s.active = true
	return nil
}

func (s *Session) release() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.active = false
}
