package model

import "strings"

// Gate is a commit-message predicate controlling whether a push creates a run.
// Matching is plain case-sensitive substring containment: a commit message of
// "ci minimal" satisfies a required marker of "ci min". That looseness matches
// the contains() semantics of the workflow files this runner executes, so it
// is deliberately not word-boundary aware.
type Gate struct {
	// Require lists markers that must all appear in the commit message.
	// An empty list requires nothing.
	Require []string

	// SkipMarkers lists markers that disable the run when any appears,
	// regardless of Require matches.
	SkipMarkers []string
}

// Allows reports whether a commit message passes the gate.
func (g Gate) Allows(message string) bool {
	for _, marker := range g.SkipMarkers {
		if marker != "" && strings.Contains(message, marker) {
			return false
		}
	}

	for _, marker := range g.Require {
		if marker != "" && !strings.Contains(message, marker) {
			return false
		}
	}

	return true
}
