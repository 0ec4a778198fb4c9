// Package session scopes core operations to one store and terminal. A
// session is initialised when a cashier starts working and cleared on logout;
// it owns the active shift pointer instead of a process-wide cache.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"

	"tillbook/backend/internal/cache"
	"tillbook/backend/internal/domain"
)

var (
	ErrClosed       = errors.New("session is not initialised")
	ErrMissingScope = errors.New("session requires store and terminal")
)

type Session struct {
	mu         sync.Mutex
	shifts     cache.ShiftCache
	storeID    string
	terminalID string
	pointer    *domain.ShiftPointer
	open       bool
}

func New(shifts cache.ShiftCache, storeID string, terminalID string) *Session {
	return &Session{
		shifts:     shifts,
		storeID:    strings.TrimSpace(storeID),
		terminalID: strings.TrimSpace(terminalID),
	}
}

// Init validates the scope and loads the terminal's active shift pointer.
func (s *Session) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.storeID == "" || s.terminalID == "" {
		return ErrMissingScope
	}
	ptr, err := s.shifts.GetActiveShift(ctx, s.storeID, s.terminalID)
	if err != nil {
		return err
	}
	s.pointer = ptr
	s.open = true
	return nil
}

// Clear forgets the scope. The durable pointer stays in the cache so the
// terminal finds its shift again on the next Init.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.open = false
	s.pointer = nil
	s.storeID = ""
	s.terminalID = ""
}

func (s *Session) StoreID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.storeID
}

func (s *Session) TerminalID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminalID
}

func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

// ShiftPointer returns a copy of the pointer loaded at Init or set since.
func (s *Session) ShiftPointer() (*domain.ShiftPointer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open {
		return nil, ErrClosed
	}
	if s.pointer == nil {
		return nil, nil
	}
	ptr := *s.pointer
	return &ptr, nil
}

func (s *Session) SetShiftPointer(ctx context.Context, ptr domain.ShiftPointer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open {
		return ErrClosed
	}
	ptr.StoreID = s.storeID
	ptr.TerminalID = s.terminalID
	if err := s.shifts.SetActiveShift(ctx, ptr); err != nil {
		return err
	}
	s.pointer = &ptr
	return nil
}

func (s *Session) ClearShiftPointer(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open {
		return ErrClosed
	}
	s.pointer = nil
	return s.shifts.ClearActiveShift(ctx, s.storeID, s.terminalID)
}
