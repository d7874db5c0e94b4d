// Copyright © 2024 The ELPS authors

package harness

import (
	"time"

	"github.com/luthersystems/lenswait/agent"
)

// Defaults used by DefaultConfig.
const (
	DefaultTimeout       = 20 * time.Second
	DefaultPollInterval  = time.Second
	DefaultPollAttempts  = 10
	DefaultErrorCommand  = "fixup.codelens.error"
	DefaultAcceptCommand = "fixup.codelens.accept"
)

// Config configures a Fixture. The mapstructure tags match the CLI's
// configuration file layout.
type Config struct {
	Agent  AgentConfig  `mapstructure:"agent"`
	Server ServerConfig `mapstructure:"server"`
	Wait   WaitConfig   `mapstructure:"wait"`
	Poll   PollConfig   `mapstructure:"poll"`
	Lens   LensConfig   `mapstructure:"lens"`
}

// AgentConfig says how to reach the agent process.
type AgentConfig struct {
	Endpoint string   `mapstructure:"endpoint"`
	Command  []string `mapstructure:"command"`
	Env      []string `mapstructure:"env"`
	Debug    bool     `mapstructure:"debug"`
}

// ServerConfig is the backend the agent is pointed at.
type ServerConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Token    string `mapstructure:"token"`
}

// WaitConfig bounds lens waits and fixture setup.
type WaitConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// PollConfig drives WaitUntilConditionTrue based helpers.
type PollConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	Attempts int           `mapstructure:"attempts"`
}

// LensConfig names the command ids with special meaning.
type LensConfig struct {
	// ErrorCommand marks the error lens group. Empty disables the check.
	ErrorCommand string `mapstructure:"error_command"`
	// AcceptCommand is the lens shown once an edit has been applied.
	AcceptCommand string `mapstructure:"accept_command"`
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() Config {
	return Config{
		Wait: WaitConfig{Timeout: DefaultTimeout},
		Poll: PollConfig{
			Interval: DefaultPollInterval,
			Attempts: DefaultPollAttempts,
		},
		Lens: LensConfig{
			ErrorCommand:  DefaultErrorCommand,
			AcceptCommand: DefaultAcceptCommand,
		},
	}
}

// AgentOptions converts the agent section to dial options.
func (c Config) AgentOptions() agent.Options {
	return agent.Options{
		Endpoint: c.Agent.Endpoint,
		Command:  c.Agent.Command,
		Env:      c.Agent.Env,
		Debug:    c.Agent.Debug,
	}
}
