package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitLines(t *testing.T) {
	assert.Equal(t, []string{}, SplitLines(""))
	assert.Equal(t, []string{"a", "b"}, SplitLines("a\nb\n"))
	assert.Equal(t, []string{"a", "b"}, SplitLines("a\r\nb\r\n"))
}

func TestSafeTruncate(t *testing.T) {
	assert.Equal(t, "ab", SafeTruncate("abcdef", 2))
	assert.Equal(t, "ab", SafeTruncate("ab", 10))
}

func TestRandomHex(t *testing.T) {
	h, err := RandomHex(8)
	assert.NoError(t, err)
	assert.Len(t, h, 8)
}

func TestTailLines(t *testing.T) {
	assert.Equal(t, "b\nc", TailLines("a\nb\nc", 2))
	assert.Equal(t, "a\nb\nc", TailLines("a\nb\nc", 10))
}
