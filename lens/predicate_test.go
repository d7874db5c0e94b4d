// Copyright © 2024 The ELPS authors

package lens

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	protocol "github.com/tliron/glsp/protocol_3_16"
)

const testErrorID = "fixup.codelens.error"

func TestExactMatch(t *testing.T) {
	tests := []struct {
		name     string
		expected []string
		snapshot Snapshot
		want     bool
	}{
		{"all present any order", []string{"a", "b"}, New("b", "b", "a", "a", "c", "c"), true},
		{"subset missing", []string{"a", "b"}, New("a", "a"), false},
		{"empty expects empty", nil, Snapshot{}, true},
		{"empty expects nil snapshot", nil, nil, true},
		{"empty rejects lenses", nil, New("a", "a"), false},
		{"duplicates are fine", []string{"a"}, New("a", "x", "a", "y"), true},
		{"lens without command never matches", []string{"a"}, Snapshot{{}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := ExactMatch(testErrorID, tt.expected...).Match(tt.snapshot)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestExactMatchErrorShortCircuit(t *testing.T) {
	p := ExactMatch(testErrorID, "a", "b")
	s := New("a", "A", "b", "B", testErrorID, "Edit failed: rate limited")

	ok, err := p.Match(s)
	assert.False(t, ok)
	var agentErr *AgentError
	require.True(t, errors.As(err, &agentErr), "expected *AgentError, got %v", err)
	assert.Equal(t, "Edit failed: rate limited", agentErr.Title)
	assert.Equal(t, "error group shown: Edit failed: rate limited", err.Error())
}

func TestExactMatchErrorCheckDisabled(t *testing.T) {
	ok, err := ExactMatch("", "a").Match(New("a", "a", testErrorID, "boom"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestExactMatchString(t *testing.T) {
	assert.Equal(t, "no lenses", ExactMatch(testErrorID).String())
	assert.Equal(t, "lenses [a, b]", ExactMatch(testErrorID, "a", "b").String())
}

func TestFailOn(t *testing.T) {
	always := Describe("always", func(Snapshot) (bool, error) { return true, nil })
	p := FailOn(testErrorID, always)
	assert.Equal(t, "always", p.String())

	ok, err := p.Match(New("x", "x"))
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = p.Match(New(testErrorID, "bad"))
	assert.ErrorAs(t, err, new(*AgentError))

	plain, err := Expr("true")
	require.NoError(t, err)
	assert.Same(t, plain, FailOn("", plain))
}

func TestSnapshotHelpers(t *testing.T) {
	s := Snapshot{
		{Command: &protocol.Command{Command: "a", Title: "Accept"}},
		{},
		{Command: &protocol.Command{Command: "b", Title: "b"}},
	}
	assert.Equal(t, []string{"a", "", "b"}, s.IDs())
	assert.True(t, s.Has("b"))
	assert.False(t, s.Has(""))
	assert.Equal(t, "[a(Accept) <no command> b]", s.String())

	l, ok := s.Find("a")
	require.True(t, ok)
	assert.Equal(t, "Accept", Title(l))
	assert.Equal(t, "", Title(protocol.CodeLens{}))
	assert.Equal(t, "", CommandID(protocol.CodeLens{}))
}

func TestNewOddArgs(t *testing.T) {
	s := New("a", "Accept", "b")
	require.Len(t, s, 2)
	assert.Equal(t, "b", Title(s[1]))
}
