package models

import "strings"

// KeyStageSubject is one (key stage, subject) pair recorded against an
// enquiry. Parsed pairs are persisted with multiplicity: duplicates in the
// client-supplied list are kept as-is.
type KeyStageSubject struct {
	KeyStageID int
	SubjectID  int
}

var keyStageIDs = map[string]int{
	"KeyStage1": 1,
	"KeyStage2": 2,
	"KeyStage3": 3,
	"KeyStage4": 4,
}

var subjectIDs = map[string]int{
	"English": 1,
	"Maths":   2,
	"Science": 3,
}

// KeyStageName returns the canonical name for a key stage id, or "".
func KeyStageName(id int) string {
	for name, n := range keyStageIDs {
		if n == id {
			return name
		}
	}
	return ""
}

// SubjectName returns the canonical name for a subject id, or "".
func SubjectName(id int) string {
	for name, n := range subjectIDs {
		if n == id {
			return name
		}
	}
	return ""
}

// ParseKeyStageSubjects parses client-supplied "KeyStage1-English" tokens.
// Tokens that do not name a known key stage and subject are skipped.
func ParseKeyStageSubjects(tokens []string) []KeyStageSubject {
	var pairs []KeyStageSubject
	for _, token := range tokens {
		ks, subject, found := strings.Cut(strings.TrimSpace(token), "-")
		if !found {
			continue
		}
		ksID, ok := keyStageIDs[ks]
		if !ok {
			continue
		}
		subjectID, ok := subjectIDs[subject]
		if !ok {
			continue
		}
		pairs = append(pairs, KeyStageSubject{KeyStageID: ksID, SubjectID: subjectID})
	}
	return pairs
}
