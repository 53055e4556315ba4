package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionRegistry_WatchAndLookup(t *testing.T) {
	r := NewSessionRegistry()

	r.Watch("exec-1", "session-abc")
	sid, ok := r.SessionFor("exec-1")
	assert.True(t, ok)
	assert.Equal(t, "session-abc", sid)

	_, ok = r.SessionFor("unknown")
	assert.False(t, ok)
}

func TestSessionRegistry_Overwrite(t *testing.T) {
	r := NewSessionRegistry()

	r.Watch("exec-1", "session-old")
	r.Watch("exec-1", "session-new")
	sid, _ := r.SessionFor("exec-1")
	assert.Equal(t, "session-new", sid)
	assert.Equal(t, 1, r.Len())
}

func TestSessionRegistry_Forget(t *testing.T) {
	r := NewSessionRegistry()
	r.Watch("exec-1", "s")
	r.Watch("exec-2", "s")

	r.Forget("exec-1")
	_, ok := r.SessionFor("exec-1")
	assert.False(t, ok)
	assert.Equal(t, 1, r.Len())
}

func TestSessionRegistry_RemoveSession(t *testing.T) {
	r := NewSessionRegistry()
	r.Watch("exec-1", "session-1")
	r.Watch("exec-2", "session-1")
	r.Watch("exec-3", "session-2")

	r.Remove("session-1")

	assert.Equal(t, 1, r.Len())
	sid, ok := r.SessionFor("exec-3")
	assert.True(t, ok)
	assert.Equal(t, "session-2", sid)
}
