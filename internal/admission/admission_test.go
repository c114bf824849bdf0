package admission

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultCeiling(t *testing.T) {
	assert.Equal(t, DefaultCeiling, New(0).Ceiling())
	assert.Equal(t, 10240, New(-1).Ceiling())
	assert.Equal(t, 5, New(5).Ceiling())
}

func TestAdmitIsIdempotent(t *testing.T) {
	c := New(10)
	assert.True(t, c.Admit("a"))
	assert.True(t, c.Admit("a"))
	assert.Equal(t, 1, c.Len())
}

func TestCeilingOfOne(t *testing.T) {
	c := New(1)
	assert.True(t, c.Admit("first"))
	assert.False(t, c.Admit("second"))
	assert.True(t, c.Admit("first"), "tracked ids stay admitted at the ceiling")
	assert.False(t, c.Tracked("second"))

	c.Release("first")
	assert.True(t, c.Admit("second"))
	assert.Equal(t, 1, c.Len())
}

func TestReleaseUnknown(t *testing.T) {
	c := New(2)
	c.Release("ghost")
	assert.Equal(t, 0, c.Len())
}
