package ingestion_engine

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// ApproxTokens is a cheap token estimator (~4 chars ≈ 1 token).
// Tokenization beyond this heuristic is out of scope.
func ApproxTokens(s string) int {
	n := len([]rune(s))
	if n <= 0 {
		return 0
	}
	return (n + 3) / 4
}

// HashContent returns a stable hex SHA-256 of the chunk content with
// whitespace normalized, so re-ingesting identical segments is
// recognized even when line wrapping differs.
func HashContent(s string) string {
	norm := strings.Join(strings.Fields(s), " ")
	sum := sha256.Sum256([]byte(norm))
	return hex.EncodeToString(sum[:])
}
