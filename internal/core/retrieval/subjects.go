package retrieval

import "strings"

// subjectEntry pairs a knowledge-domain partition with the keywords
// that signal it. Matching is a plain table lookup so routing stays
// deterministic and testable in isolation from the engine.
type subjectEntry struct {
	Subject  string
	Keywords []string
}

// Order matters: ties in match count resolve to the earlier entry.
var subjectTable = []subjectEntry{
	{"mathematics", []string{"math", "maths", "mathematics", "algebra", "geometry", "fraction", "fractions", "equation", "equations", "multiplication", "division", "arithmetic", "calculus", "trigonometry"}},
	{"physics", []string{"physics", "velocity", "acceleration", "gravity", "newton", "momentum", "electricity", "magnetism", "thermodynamics"}},
	{"chemistry", []string{"chemistry", "chemical", "molecule", "molecules", "atom", "atoms", "periodic table", "reaction", "compound", "acid", "alkali"}},
	{"biology", []string{"biology", "cell", "cells", "photosynthesis", "organism", "organisms", "ecosystem", "evolution", "genetics", "dna", "habitat"}},
	{"history", []string{"history", "historical", "war", "revolution", "ancient", "medieval", "empire", "century", "civilization"}},
	{"geography", []string{"geography", "continent", "continents", "climate", "river", "rivers", "mountain", "mountains", "population", "country", "countries", "map"}},
	{"english", []string{"english", "grammar", "spelling", "essay", "poem", "poetry", "literature", "reading", "writing", "vocabulary", "comprehension"}},
	{"music", []string{"music", "musical", "rhythm", "melody", "instrument", "instruments", "notation", "chord", "chords"}},
	{"art", []string{"art", "painting", "drawing", "sculpture", "artist", "artists", "colour theory", "color theory"}},
	{"physical_education", []string{"physical education", "sport", "sports", "fitness", "exercise", "athletics", "gymnastics"}},
}

// DetectSubject maps a free-text question to a knowledge-domain
// partition via keyword matching on whole words. Returns "" when no
// subject signal is found; the caller then searches the full corpus.
func DetectSubject(question string) string {
	q := " " + normalize(question) + " "

	best := ""
	bestHits := 0
	for _, entry := range subjectTable {
		hits := 0
		for _, kw := range entry.Keywords {
			if strings.Contains(q, " "+kw+" ") {
				hits++
			}
		}
		if hits > bestHits {
			best = entry.Subject
			bestHits = hits
		}
	}
	return best
}

// normalize lowercases and replaces every non-letter/digit with a
// space, so keyword matches land on word boundaries only.
func normalize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	return b.String()
}
