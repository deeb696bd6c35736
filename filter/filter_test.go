package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileAndMatch(t *testing.T) {
	prog, err := Compile(`Target.Name == "Bob" || Sender.Name == Room.Creator`)
	require.NoError(t, err)

	env := Env{
		Room:   Room{Id: "r1", Name: "Negotiation", Creator: "Ann"},
		Sender: User{Name: "Cid"},
		Target: User{Name: "Bob"},
	}
	assert.True(t, Match(prog, env))

	env.Target.Name = "Dora"
	assert.False(t, Match(prog, env))

	env.Sender.Name = "Ann"
	assert.True(t, Match(prog, env))
}

func TestCompileRejectsUnknownFields(t *testing.T) {
	_, err := Compile(`Recipient.Name == "Bob"`)
	assert.Error(t, err)
}

func TestMatchNonBooleanIsFalse(t *testing.T) {
	prog, err := Compile(`Room.Name`)
	require.NoError(t, err)
	assert.False(t, Match(prog, Env{Room: Room{Name: "x"}}))
}
