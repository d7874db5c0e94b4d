// Copyright © 2024 The ELPS authors

package agentsim

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseScript(t *testing.T) {
	tests := []struct {
		src  string
		want Script
	}{
		{"", nil},
		{"[]", Script{{Publish: true}}},
		{"[a]", Script{{Publish: true, Lenses: []string{"a"}}}},
		{
			"[fixup.codelens.working] 150ms [fixup.codelens.accept fixup.codelens.undo]",
			Script{
				{Publish: true, Lenses: []string{"fixup.codelens.working"}},
				{Delay: 150 * time.Millisecond},
				{Publish: true, Lenses: []string{"fixup.codelens.accept", "fixup.codelens.undo"}},
			},
		},
		{"  2s\n[ a  b ]  ", Script{
			{Delay: 2 * time.Second},
			{Publish: true, Lenses: []string{"a", "b"}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			got, err := ParseScript(tt.src)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseScriptErrors(t *testing.T) {
	for _, src := range []string{
		"[a",
		"a]",
		"5m",
		"[a] oops",
		"[a-] ]",
	} {
		t.Run(src, func(t *testing.T) {
			_, err := ParseScript(src)
			assert.Error(t, err)
		})
	}
}

func TestMustParseScriptPanics(t *testing.T) {
	assert.Panics(t, func() { MustParseScript("[") })
}

func TestDefaultScriptsParse(t *testing.T) {
	for action, src := range DefaultScripts() {
		script, err := ParseScript(src)
		require.NoError(t, err, action)
		assert.NotEmpty(t, script, action)
	}
}

func TestScriptString(t *testing.T) {
	src := "[a b] 150ms []"
	script := MustParseScript(src)
	assert.Equal(t, src, script.String())
}

func TestStepSnapshotTitles(t *testing.T) {
	step := Step{Publish: true, Lenses: []string{CommandAccept, CommandError, "custom.id"}}
	snap := step.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "Accept", snap[0].Command.Title)
	assert.Equal(t, "Edit failed", snap[1].Command.Title)
	assert.Equal(t, "custom.id", snap[2].Command.Title)

	empty := Step{Publish: true}.Snapshot()
	assert.NotNil(t, empty, "the clean state is an empty, non-nil snapshot")
	assert.Empty(t, empty)
}
