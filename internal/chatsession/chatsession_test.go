package chatsession

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppend_CreatesSessionLazily(t *testing.T) {
	s := New(20, 10000)
	assert.Empty(t, s.History("s1"))
	s.Append("s1", "user", "hello")
	h := s.History("s1")
	require.Len(t, h, 1)
	assert.Equal(t, "user", h[0].Role)
	assert.Equal(t, "hello", h[0].Content)
}

func TestAppend_TruncatesToTrailingTurnCap(t *testing.T) {
	s := New(3, 10000)
	for i := 0; i < 5; i++ {
		s.Append("s1", "user", fmt.Sprintf("turn-%d", i))
	}
	h := s.History("s1")
	require.Len(t, h, 3)
	assert.Equal(t, "turn-2", h[0].Content)
	assert.Equal(t, "turn-4", h[2].Content)
}

func TestAppend_EvictsLeastRecentlyUsedSessionBeyondCap(t *testing.T) {
	s := New(20, 2)
	s.Append("a", "user", "1")
	s.Append("b", "user", "1")
	s.Append("a", "user", "2") // touches a, making b the LRU
	s.Append("c", "user", "1") // over cap, evicts b

	assert.Empty(t, s.History("b"))
	assert.NotEmpty(t, s.History("a"))
	assert.NotEmpty(t, s.History("c"))
	assert.Equal(t, 2, s.Count())
}

func TestHistory_UnknownSessionReturnsEmpty(t *testing.T) {
	s := New(20, 10000)
	assert.Nil(t, s.History("nope"))
}
