package ingestion_engine

import (
	"strings"
)

// ChunkPiece is one split segment before embedding.
type ChunkPiece struct {
	Position int
	Content  string
}

// SplitText splits extracted text into overlapping segments. Each
// segment targets TargetSize characters and never exceeds MaxSize;
// boundaries prefer paragraph breaks, then sentence ends, then line
// breaks, falling back to a hard cut at the target. Consecutive
// segments share exactly Overlap characters so each one stays
// self-contained as retrieval context.
//
// Content is sliced verbatim from the normalized text: joining the
// first segment with every later segment minus its leading Overlap
// characters reconstructs the input.
func SplitText(text string, cfg *IngestConfig) []ChunkPiece {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	runes := []rune(text)
	n := len(runes)
	if n == 0 {
		return nil
	}

	target, minSize, maxSize, overlap := cfg.TargetSize, cfg.MinSize, cfg.MaxSize, cfg.Overlap
	if target <= 0 {
		target = 1000
	}
	if maxSize < target {
		maxSize = target
	}
	if minSize > target {
		minSize = target
	}
	if overlap >= minSize {
		overlap = minSize / 2
	}

	var pieces []ChunkPiece
	start := 0
	for start < n {
		end := n
		if n-start > maxSize {
			end = findBoundary(runes, start, start+minSize, start+maxSize, start+target)
		}

		pieces = append(pieces, ChunkPiece{
			Position: len(pieces),
			Content:  string(runes[start:end]),
		})

		if end >= n {
			break
		}
		start = end - overlap
	}

	// A tiny tail below MinSize folds into the previous segment when
	// the merge stays within MaxSize.
	if len(pieces) >= 2 {
		last := &pieces[len(pieces)-1]
		prev := &pieces[len(pieces)-2]
		lastLen := len([]rune(last.Content))
		if lastLen < minSize {
			merged := len([]rune(prev.Content)) + lastLen - overlap
			if merged <= maxSize {
				tail := []rune(last.Content)
				prev.Content += string(tail[overlap:])
				pieces = pieces[:len(pieces)-1]
			}
		}
	}

	return pieces
}

// findBoundary picks the split point within [lo, hi) closest to the
// target, preferring paragraph breaks over sentence ends over line
// breaks. Returns target when no natural boundary exists in the window.
func findBoundary(runes []rune, start, lo, hi, target int) int {
	if hi > len(runes) {
		hi = len(runes)
	}
	bestPara, bestSent, bestLine := -1, -1, -1

	better := func(current, candidate int) bool {
		if current < 0 {
			return true
		}
		return abs(candidate-target) < abs(current-target)
	}

	for i := lo; i < hi; i++ {
		r := runes[i]
		switch r {
		case '\n':
			// Split after the newline; a blank line marks a paragraph.
			pos := i + 1
			if pos <= start+1 || pos > hi {
				continue
			}
			if i+1 < len(runes) && runes[i+1] == '\n' {
				if better(bestPara, pos+1) && pos+1 <= hi {
					bestPara = pos + 1
				}
			} else if better(bestLine, pos) {
				bestLine = pos
			}
		case '.', '!', '?':
			if i+1 < len(runes) && (runes[i+1] == ' ' || runes[i+1] == '\n') {
				pos := i + 2
				if pos <= hi && better(bestSent, pos) {
					bestSent = pos
				}
			}
		}
	}

	switch {
	case bestPara >= 0:
		return bestPara
	case bestSent >= 0:
		return bestSent
	case bestLine >= 0:
		return bestLine
	default:
		return target
	}
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
