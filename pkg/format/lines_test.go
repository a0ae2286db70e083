package format

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLines(t *testing.T) {
	lines := NewLines("ab\ncd\n\nef")
	assert.Equal(t, 1, lines.At(0))
	assert.Equal(t, 1, lines.At(2))
	assert.Equal(t, 2, lines.At(3))
	assert.Equal(t, 3, lines.At(6))
	assert.Equal(t, 4, lines.At(7))
	assert.Equal(t, 4, lines.At(100))

	assert.Equal(t, 1, NewLines("").At(0))
}
