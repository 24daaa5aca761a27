package room

import "sync"

// KeyEnter is the key code that confirms the selection
const KeyEnter = 13

// Selection is the room selection form: an input box and a join button that
// is enabled only while the input holds a valid room id.
type Selection struct {
	mu          sync.Mutex
	value       string
	joinEnabled bool
	detached    bool

	// OnRoomSelected is called with the chosen room id
	OnRoomSelected func(roomID string)
}

// NewSelection creates a selection form prefilled with initial
func NewSelection(initial string) *Selection {
	s := &Selection{}
	s.setValue(initial)
	return s
}

func (s *Selection) setValue(value string) {
	s.value = value
	s.joinEnabled = Validate(value)
}

// Input updates the input box and re-validates it
func (s *Selection) Input(value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.detached {
		return
	}
	s.setValue(value)
}

// KeyUp handles a released key; Enter joins when the join button is enabled
func (s *Selection) KeyUp(key int) {
	s.mu.Lock()
	if s.detached || key != KeyEnter || !s.joinEnabled {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.Join()
}

// Join is the join button click
func (s *Selection) Join() {
	s.mu.Lock()
	if s.detached || !s.joinEnabled {
		s.mu.Unlock()
		return
	}
	value := s.value
	cb := s.OnRoomSelected
	s.mu.Unlock()

	if cb != nil {
		cb(value)
	}
}

// Value returns the current input
func (s *Selection) Value() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

// JoinEnabled reports whether the join button is enabled
func (s *Selection) JoinEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.joinEnabled
}

// Invalid reports whether the input is marked invalid and its hint shown
func (s *Selection) Invalid() bool {
	return !s.JoinEnabled()
}

// Detach stops the form from reacting to further input
func (s *Selection) Detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detached = true
	s.OnRoomSelected = nil
}
