// Copyright © 2024 The ELPS authors

package lens

import (
	"fmt"
	"strings"
)

// Predicate decides whether a snapshot satisfies a wait. Match returns a
// non-nil error when the snapshot signals an explicit failure (for example
// an error lens); the waiting subscription then fails instead of matching.
type Predicate interface {
	Match(s Snapshot) (bool, error)
	// String describes the predicate in timeout diagnostics.
	String() string
}

// PredicateFunc adapts a function to a Predicate.
type PredicateFunc func(s Snapshot) (bool, error)

// Match calls f(s).
func (f PredicateFunc) Match(s Snapshot) (bool, error) {
	return f(s)
}

func (f PredicateFunc) String() string {
	return "custom predicate"
}

type described struct {
	desc string
	fn   PredicateFunc
}

// Describe attaches a description to fn.
func Describe(desc string, fn func(s Snapshot) (bool, error)) Predicate {
	return described{desc: desc, fn: fn}
}

func (d described) Match(s Snapshot) (bool, error) { return d.fn(s) }
func (d described) String() string                 { return d.desc }

// AgentError is reported when a snapshot contains the agent's error lens.
type AgentError struct {
	Command string
	Title   string
}

func (e *AgentError) Error() string {
	return "error group shown: " + e.Title
}

// ExactMatch returns a predicate that is satisfied when every expected
// command id is present in the snapshot, in any order and alongside any
// other lenses. With no expected ids it is satisfied only by an empty
// snapshot.
//
// If errorID is non-empty, a lens with that command id fails the predicate
// with an *AgentError before the expected set is considered.
func ExactMatch(errorID string, expected ...string) Predicate {
	return exactMatch{errorID: errorID, expected: expected}
}

type exactMatch struct {
	errorID  string
	expected []string
}

func (m exactMatch) Match(s Snapshot) (bool, error) {
	if m.errorID != "" {
		if l, ok := s.Find(m.errorID); ok {
			return false, &AgentError{Command: m.errorID, Title: Title(l)}
		}
	}
	if len(m.expected) == 0 {
		return len(s) == 0, nil
	}
	for _, id := range m.expected {
		if !s.Has(id) {
			return false, nil
		}
	}
	return true, nil
}

func (m exactMatch) String() string {
	if len(m.expected) == 0 {
		return "no lenses"
	}
	return fmt.Sprintf("lenses [%s]", strings.Join(m.expected, ", "))
}

// FailOn wraps p so that a lens with command id errorID fails the match
// with an *AgentError regardless of p.
func FailOn(errorID string, p Predicate) Predicate {
	if errorID == "" {
		return p
	}
	return Describe(p.String(), func(s Snapshot) (bool, error) {
		if l, ok := s.Find(errorID); ok {
			return false, &AgentError{Command: errorID, Title: Title(l)}
		}
		return p.Match(s)
	})
}
