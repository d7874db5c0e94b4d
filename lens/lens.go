// Copyright © 2024 The ELPS authors

// Package lens models the code lens state an agent pushes for a document
// and provides the machinery to wait on it: a fan-out Channel, predicates
// over snapshots, and a Registry that resolves one-shot subscriptions
// against each snapshot as it arrives.
package lens

import (
	"strings"

	"github.com/tliron/commonlog"
	protocol "github.com/tliron/glsp/protocol_3_16"
)

var log = commonlog.GetLogger("lenswait.lens")

// Snapshot is every lens visible for one document at one instant. Snapshots
// are never diffed; each one is evaluated whole.
type Snapshot []protocol.CodeLens

// CommandID returns the command identifier of l, or "" when the lens
// carries no command.
func CommandID(l protocol.CodeLens) string {
	if l.Command == nil {
		return ""
	}
	return l.Command.Command
}

// Title returns the human readable title of l, or "" when the lens carries
// no command.
func Title(l protocol.CodeLens) string {
	if l.Command == nil {
		return ""
	}
	return l.Command.Title
}

// New builds a snapshot of command lenses from (id, title) pairs. It is
// mostly useful for tests and scripted agents. A trailing id without a
// title uses the id as its title.
func New(idTitle ...string) Snapshot {
	s := make(Snapshot, 0, (len(idTitle)+1)/2)
	for i := 0; i < len(idTitle); i += 2 {
		id := idTitle[i]
		title := id
		if i+1 < len(idTitle) {
			title = idTitle[i+1]
		}
		s = append(s, protocol.CodeLens{
			Command: &protocol.Command{Command: id, Title: title},
		})
	}
	return s
}

// Find returns the first lens whose command id is id.
func (s Snapshot) Find(id string) (protocol.CodeLens, bool) {
	for _, l := range s {
		if l.Command != nil && l.Command.Command == id {
			return l, true
		}
	}
	return protocol.CodeLens{}, false
}

// Has reports whether any lens in s has command id id.
func (s Snapshot) Has(id string) bool {
	_, ok := s.Find(id)
	return ok
}

// IDs returns the command ids of s in order. Lenses without a command
// contribute an empty string so positions line up with s.
func (s Snapshot) IDs() []string {
	ids := make([]string, len(s))
	for i, l := range s {
		ids[i] = CommandID(l)
	}
	return ids
}

// String renders s as "[id(title) ...]" for diagnostics.
func (s Snapshot) String() string {
	parts := make([]string, len(s))
	for i, l := range s {
		switch {
		case l.Command == nil:
			parts[i] = "<no command>"
		case l.Command.Title == "" || l.Command.Title == l.Command.Command:
			parts[i] = l.Command.Command
		default:
			parts[i] = l.Command.Command + "(" + l.Command.Title + ")"
		}
	}
	return "[" + strings.Join(parts, " ") + "]"
}
