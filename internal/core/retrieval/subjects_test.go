package retrieval

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectSubject(t *testing.T) {
	cases := []struct {
		question string
		want     string
	}{
		{"How do I add fractions?", "mathematics"},
		{"Explain ALGEBRA to a beginner", "mathematics"},
		{"What is photosynthesis and how does a cell use it?", "biology"},
		{"Where is the periodic table used?", "chemistry"},
		{"Tell me about the war and the fall of the empire", "history"},
		{"Which rivers cross which continents?", "geography"},
		{"Help me plan a fitness exercise routine", "physical_education"},
		{"What should I cook for dinner tonight?", ""},
		{"", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, DetectSubject(tc.question), "question: %q", tc.question)
	}
}

func TestDetectSubjectWholeWordsOnly(t *testing.T) {
	// "art" inside "start" and "chart" must not match the art subject.
	assert.Equal(t, "", DetectSubject("Where do we start with the chart?"))
	assert.Equal(t, "art", DetectSubject("Who made this painting, which artist?"))
}

func TestDetectSubjectTieBreaksToEarlierEntry(t *testing.T) {
	// One keyword hit each for music and art; the earlier table entry wins.
	assert.Equal(t, "music", DetectSubject("music and art"))
}

func TestDetectSubjectMostHitsWins(t *testing.T) {
	// One math keyword against two physics keywords.
	assert.Equal(t, "physics", DetectSubject("an equation for velocity under gravity"))
}
