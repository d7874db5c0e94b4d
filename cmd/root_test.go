// Copyright © 2024 The ELPS authors

package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfigureLogging_OnlyOnChange(t *testing.T) {
	t.Cleanup(func() { configureLogging(0) })

	assert.False(t, configureLogging(0), "default verbosity is already applied")
	assert.True(t, configureLogging(2))
	assert.False(t, configureLogging(2))
	assert.True(t, configureLogging(0))
}

func TestRootCommand_Subcommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["run"])
	assert.True(t, names["sim"])
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("config"))
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("verbose"))
}
