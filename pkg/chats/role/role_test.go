package role

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRole_Valid(t *testing.T) {
	assert.True(t, System.Valid())
	assert.True(t, User.Valid())
	assert.True(t, Assistant.Valid())
	assert.False(t, Role("tool").Valid())
	assert.False(t, Role("").Valid())
}

func TestRole_Label(t *testing.T) {
	assert.Equal(t, "User", User.Label())
	assert.Equal(t, "Assistant", Assistant.Label())
	assert.Empty(t, System.Label())
}

func TestRole_String(t *testing.T) {
	assert.Equal(t, "assistant", Assistant.String())
}
