package ingestion_engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestApproxTokens(t *testing.T) {
	assert.Equal(t, 0, ApproxTokens(""))
	assert.Equal(t, 1, ApproxTokens("abcd"))
	assert.Equal(t, 2, ApproxTokens("abcde"))
	assert.Equal(t, 25, ApproxTokens(string(make([]rune, 100))))

	// Runes, not bytes: 4 runes but 5 bytes.
	assert.Equal(t, 1, ApproxTokens("héll"))
}

func TestHashContentNormalizesWhitespace(t *testing.T) {
	a := HashContent("the water cycle")
	b := HashContent("the   water\n\tcycle")
	c := HashContent("the water cycles")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}
