package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBindAndLookup(t *testing.T) {
	r := New()
	r.Bind("conn-1", "room-1", "Ann")

	b, ok := r.Binding("conn-1")
	require.True(t, ok)
	assert.Equal(t, "room-1", b.RoomId)
	assert.Equal(t, "Ann", b.Name)

	// binding also makes the connection reachable by name
	assert.ElementsMatch(t, []string{"conn-1"}, r.LookupByName("Ann"))
}

func TestRegisterNameWithoutRoom(t *testing.T) {
	r := New()
	r.RegisterName("conn-1", "Ann")
	r.RegisterName("conn-2", "Ann")

	_, ok := r.Binding("conn-1")
	assert.False(t, ok)
	assert.ElementsMatch(t, []string{"conn-1", "conn-2"}, r.LookupByName("Ann"))
}

func TestRebindReplaces(t *testing.T) {
	r := New()
	r.Bind("conn-1", "room-1", "Ann")
	r.Bind("conn-1", "room-2", "Ann")

	b, ok := r.Binding("conn-1")
	require.True(t, ok)
	assert.Equal(t, "room-2", b.RoomId)
}

func TestUnbindKeepsNames(t *testing.T) {
	r := New()
	r.Bind("conn-1", "room-1", "Ann")

	prev, ok := r.Unbind("conn-1")
	require.True(t, ok)
	assert.Equal(t, "room-1", prev.RoomId)
	_, ok = r.Binding("conn-1")
	assert.False(t, ok)
	// the connection is still reachable for notifications
	assert.ElementsMatch(t, []string{"conn-1"}, r.LookupByName("Ann"))

	_, ok = r.Unbind("conn-1")
	assert.False(t, ok)
}

func TestDropNamesGarbageCollects(t *testing.T) {
	r := New()
	r.RegisterName("conn-1", "Ann")
	r.RegisterName("conn-2", "Ann")

	r.DropNames("conn-1")
	assert.ElementsMatch(t, []string{"conn-2"}, r.LookupByName("Ann"))

	r.DropNames("conn-2")
	assert.Empty(t, r.LookupByName("Ann"))
}
