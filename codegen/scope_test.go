package codegen

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScopeShadowing(t *testing.T) {
	s := NewScope[int]("values")
	s.Push("x", 1)
	s.Push("x", 2)
	s.Push("y", 3)

	v, ok := s.Get("x", false)
	require.True(t, ok)
	assert.Equal(t, 2, v)
	assert.Equal(t, 3, s.Len())
	assert.Equal(t, []string{"x", "y"}, s.Names())

	s.Pop("x")
	assert.Equal(t, 1, s.Value("x"))
	s.Pop("x")
	assert.False(t, s.Contains("x"))
	s.Pop("y")

	pushes, pops := s.Stats()
	assert.Equal(t, 3, pushes)
	assert.Equal(t, 3, pops)
	assert.Zero(t, s.Len())
}

func TestScopeMisuse(t *testing.T) {
	s := NewScope[int]("values")

	_, ok := s.Get("missing", false)
	assert.False(t, ok)

	err := catch(func() { s.Get("missing", true) })
	require.Error(t, err)
	assert.True(t, IsUnboundName(err))
	assert.Contains(t, err.Error(), `"missing"`)

	err = catch(func() { s.Pop("missing") })
	assert.True(t, IsScopeImbalance(err))
}

func TestCleanupStack(t *testing.T) {
	var log []string
	entry := func(name string) func() { return func() { log = append(log, name) } }

	var c cleanupStack
	c.pushFrame()
	c.add("a", entry("a"))
	c.pushFrame()
	c.add("b", entry("b"))
	freed := c.add("c", entry("c"))
	freed.released = true

	c.unwind()
	assert.Equal(t, []string{"b", "a"}, log, "unwind releases every live entry, innermost first")

	log = nil
	c.popFrame()
	assert.Equal(t, []string{"b"}, log)
	c.popFrame()
	assert.Equal(t, []string{"b", "a"}, log)
	assert.Zero(t, c.depth())

	err := catch(func() { c.popFrame() })
	assert.True(t, IsScopeImbalance(err))
}
