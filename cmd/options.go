// Copyright © 2024 The ELPS authors

package cmd

import (
	"io"
	"os"

	"github.com/luthersystems/lenswait/agentsim"
	"github.com/luthersystems/lenswait/harness"
	"github.com/spf13/viper"
)

// Option configures an exported command factory (RunCommand, SimCommand).
type Option func(*cmdConfig)

type cmdConfig struct {
	viper      *viper.Viper
	out        io.Writer
	simOpts    []agentsim.Option
	fixtureOps []harness.Option
}

// WithViper reads configuration from v instead of the global viper
// instance.
func WithViper(v *viper.Viper) Option {
	return func(c *cmdConfig) { c.viper = v }
}

// WithOutput sends command output to w instead of stdout.
func WithOutput(w io.Writer) Option {
	return func(c *cmdConfig) { c.out = w }
}

// WithSimOptions adds simulator options, for example extra scripts, to the
// sim command.
func WithSimOptions(opts ...agentsim.Option) Option {
	return func(c *cmdConfig) { c.simOpts = append(c.simOpts, opts...) }
}

// WithFixtureOptions adds harness options to the fixture the run command
// starts.
func WithFixtureOptions(opts ...harness.Option) Option {
	return func(c *cmdConfig) { c.fixtureOps = append(c.fixtureOps, opts...) }
}

func newCmdConfig(opts []Option) *cmdConfig {
	c := &cmdConfig{
		viper: viper.GetViper(),
		out:   os.Stdout,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}
