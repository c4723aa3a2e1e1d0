package stringutils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIndentString(t *testing.T) {
	assert.Equal(t, "  a\n  b\n", IndentString("a\nb\n", "  "))
	assert.Equal(t, "  a\n\n  b", IndentString("a\n\nb", "  "))
	assert.Equal(t, "", IndentString("", "  "))
}
