package room

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		id    string
		valid bool
	}{
		{"room-123", true},
		{"abc_DE", true},
		{"12345", true},
		{"ab!@", false},
		{"abcd", false},
		{"", false},
		{"room 123", false},
		{"room!1234", false},
		{"ünicode", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.valid, Validate(tt.id), "Validate(%q)", tt.id)
	}
}

func TestRandomID(t *testing.T) {
	id := RandomID()
	assert.Len(t, id, 9)
	assert.True(t, Validate(id))
}

func TestSelectionJoinFlow(t *testing.T) {
	s := NewSelection("")
	assert.False(t, s.JoinEnabled())
	assert.True(t, s.Invalid())

	var selected []string
	s.OnRoomSelected = func(id string) { selected = append(selected, id) }

	s.Input("abc")
	s.KeyUp(KeyEnter)
	s.Join()
	assert.Empty(t, selected, "invalid input must not select")

	s.Input("room-123")
	assert.True(t, s.JoinEnabled())
	s.KeyUp('a')
	assert.Empty(t, selected)

	s.KeyUp(KeyEnter)
	assert.Equal(t, []string{"room-123"}, selected)

	s.Join()
	assert.Equal(t, []string{"room-123", "room-123"}, selected)
}

func TestSelectionDetach(t *testing.T) {
	s := NewSelection("room-123")
	assert.True(t, s.JoinEnabled())

	called := false
	s.OnRoomSelected = func(string) { called = true }
	s.Detach()

	s.Input("other-room")
	s.KeyUp(KeyEnter)
	s.Join()

	assert.False(t, called)
	assert.Equal(t, "room-123", s.Value())
}
