// Copyright © 2024 The ELPS authors

package agentsim

import (
	"fmt"
	"strings"
	"time"

	"github.com/luthersystems/lenswait/lens"
	parsec "github.com/prataprc/goparsec"
)

// Well known command ids of the edit workflow.
const (
	CommandDocumentCode = "editor.documentCode"
	CommandAccept       = "fixup.codelens.accept"
	CommandUndo         = "fixup.codelens.undo"
	CommandWorking      = "fixup.codelens.working"
	CommandError        = "fixup.codelens.error"
)

// Actions the default script table responds to.
const (
	ActionAccept = "fixup.accept"
	ActionUndo   = "fixup.undo"
	ActionFail   = "fixup.fail"
)

var titles = map[string]string{
	CommandAccept:  "Accept",
	CommandUndo:    "Undo",
	CommandWorking: "Working...",
	CommandError:   "Edit failed",
}

// DefaultScripts maps the actions the simulator understands out of the box
// to their scripts.
func DefaultScripts() map[string]string {
	return map[string]string{
		CommandDocumentCode: "[" + CommandWorking + "] 50ms [" + CommandAccept + " " + CommandUndo + "]",
		ActionAccept:        "[]",
		ActionUndo:          "[]",
		ActionFail:          "[" + CommandWorking + "] 50ms [" + CommandError + "]",
	}
}

// Step is one script instruction: a delay or a snapshot to publish.
type Step struct {
	Delay  time.Duration
	Lenses []string
	// Publish is false for pure delay steps.
	Publish bool
}

func (s Step) String() string {
	if !s.Publish {
		return s.Delay.String()
	}
	return "[" + strings.Join(s.Lenses, " ") + "]"
}

// Snapshot renders the lenses of s, titling known ids.
func (s Step) Snapshot() lens.Snapshot {
	pairs := make([]string, 0, 2*len(s.Lenses))
	for _, id := range s.Lenses {
		title, ok := titles[id]
		if !ok {
			title = id
		}
		pairs = append(pairs, id, title)
	}
	return lens.New(pairs...)
}

// Script is a parsed sequence of steps.
type Script []Step

func (s Script) String() string {
	parts := make([]string, len(s))
	for i, step := range s {
		parts[i] = step.String()
	}
	return strings.Join(parts, " ")
}

// ParseScript parses src into a Script.
//
//	script := <step>*
//	step   := <group> | <delay>
//	group  := '[' <id>* ']'
//	delay  := /[0-9]+(ms|s)/
//	id     := /[A-Za-z_][A-Za-z0-9_.\-]*/
//
// Every group publishes one snapshot and an empty group publishes the
// clean state. Delays pause playback.
func ParseScript(src string) (Script, error) {
	s := parsec.NewScanner([]byte(src))
	parser := newScriptParser()

	var script Script
	root, s := parser(s)
	for root != nil {
		switch n := root.(type) {
		case Step:
			script = append(script, n)
		case error:
			return nil, n
		default:
			return nil, fmt.Errorf("unexpected script node %T", root)
		}
		root, s = parser(s)
	}
	_, s = s.SkipWS()
	if !s.Endof() {
		b, _ := s.Match(`.{1,16}`)
		return nil, fmt.Errorf("script: unexpected text at offset %d: %s", s.GetCursor(), b)
	}
	return script, nil
}

// MustParseScript is like ParseScript but panics on malformed input.
func MustParseScript(src string) Script {
	script, err := ParseScript(src)
	if err != nil {
		panic(err)
	}
	return script
}

func newScriptParser() parsec.Parser {
	openB := parsec.Atom("[", "OPENB")
	closeB := parsec.Atom("]", "CLOSEB")
	id := parsec.Token(`[A-Za-z_][A-Za-z0-9_.\-]*`, "ID")
	delay := parsec.Token(`[0-9]+(?:ms|s)`, "DELAY")
	group := parsec.And(groupNode, openB, parsec.Kleene(nil, id), closeB)
	return parsec.OrdChoice(stepNode, group, delay)
}

func groupNode(nodes []parsec.ParsecNode) parsec.ParsecNode {
	step := Step{Publish: true}
	for _, t := range terminals(nodes) {
		if t.Name == "ID" {
			step.Lenses = append(step.Lenses, t.Value)
		}
	}
	return step
}

func stepNode(nodes []parsec.ParsecNode) parsec.ParsecNode {
	for _, n := range nodes {
		switch n := n.(type) {
		case Step:
			return n
		case *parsec.Terminal:
			if n.Name != "DELAY" {
				continue
			}
			d, err := time.ParseDuration(n.Value)
			if err != nil {
				return fmt.Errorf("script: bad delay %q: %w", n.Value, err)
			}
			return Step{Delay: d}
		case []parsec.ParsecNode:
			return stepNode(n)
		}
	}
	return fmt.Errorf("script: empty step")
}

func terminals(nodes []parsec.ParsecNode) []*parsec.Terminal {
	var ts []*parsec.Terminal
	for _, n := range nodes {
		switch n := n.(type) {
		case *parsec.Terminal:
			ts = append(ts, n)
		case []parsec.ParsecNode:
			ts = append(ts, terminals(n)...)
		}
	}
	return ts
}
