package migration

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrMigrationInProgress is returned when a run is requested while one is active.
	ErrMigrationInProgress = errors.New("migration already in progress")
	// ErrAlreadyMigrated is returned when a run is requested after success.
	ErrAlreadyMigrated = errors.New("migration already completed")
	// ErrInvalidState is returned for transitions not allowed from the current state.
	ErrInvalidState = errors.New("invalid migration state")
)

// State is the UI-facing migration state.
type State string

const (
	StatePrompt    State = "prompt"
	StateMigrating State = "migrating"
	StateSuccess   State = "success"
	StateError     State = "error"
)

// View is a point-in-time copy of a session.
type View struct {
	State    State    `json:"state"`
	Progress Progress `json:"progress"`
	Summary  *Summary `json:"summary,omitempty"`
}

// Session drives the prompt → migrating → success | error flow. Only one
// run is active at a time.
type Session struct {
	migrator *Migrator

	mu       sync.Mutex
	state    State
	progress Progress
	summary  *Summary
}

// NewSession starts in success when the marker already exists, otherwise in
// prompt.
func NewSession(ctx context.Context, m *Migrator) *Session {
	state := StatePrompt
	if m.HasMigrated(ctx) {
		state = StateSuccess
	}
	return &Session{migrator: m, state: state}
}

// View returns the current state, last progress and last summary.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := View{State: s.state, Progress: s.progress}
	if s.summary != nil {
		sum := *s.summary
		v.Summary = &sum
	}
	return v
}

// Start begins a run in the background. The returned channel yields the
// summary once the run ends.
func (s *Session) Start(ctx context.Context) (<-chan Summary, error) {
	s.mu.Lock()
	switch s.state {
	case StateMigrating:
		s.mu.Unlock()
		return nil, ErrMigrationInProgress
	case StateSuccess:
		s.mu.Unlock()
		return nil, ErrAlreadyMigrated
	}
	s.state = StateMigrating
	s.progress = Progress{}
	s.summary = nil
	s.mu.Unlock()

	done := make(chan Summary, 1)
	go func() {
		summary := s.migrator.MigrateAllData(ctx, s.setProgress)

		s.mu.Lock()
		s.summary = &summary
		if summary.Success {
			s.state = StateSuccess
		} else {
			s.state = StateError
		}
		s.mu.Unlock()

		done <- summary
		close(done)
	}()
	return done, nil
}

// Run starts a run and waits for it.
func (s *Session) Run(ctx context.Context) (Summary, error) {
	done, err := s.Start(ctx)
	if err != nil {
		return Summary{}, err
	}
	return <-done, nil
}

// Retry reruns the migration after a failed run.
func (s *Session) Retry(ctx context.Context) (Summary, error) {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()
	if state != StateError {
		return Summary{}, ErrInvalidState
	}
	return s.Run(ctx)
}

// ContinueAnyway accepts a failed run and records the migration as done.
func (s *Session) ContinueAnyway(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateError {
		return ErrInvalidState
	}
	if err := s.migrator.MarkMigrationComplete(ctx); err != nil {
		return err
	}
	s.state = StateSuccess
	return nil
}

// Reset clears the marker and returns the session to prompt.
func (s *Session) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateMigrating {
		return ErrMigrationInProgress
	}
	if err := s.migrator.ResetMigrationStatus(ctx); err != nil {
		return err
	}
	s.state = StatePrompt
	s.progress = Progress{}
	s.summary = nil
	return nil
}

func (s *Session) setProgress(p Progress) {
	s.mu.Lock()
	s.progress = p
	s.mu.Unlock()
}
