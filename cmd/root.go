// Copyright © 2024 The ELPS authors

package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/luthersystems/lenswait/harness"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tliron/commonlog"

	_ "github.com/tliron/commonlog/simple"
)

const envPrefix = "LENSWAIT"

var log = commonlog.GetLogger("lenswait.cmd")

var (
	cfgFile   string
	verbosity int

	// The simple backend starts out at verbosity 0.
	logVerbosity int
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "lenswait",
	Short: "Wait on the code lenses an editor agent pushes",
	Long: `lenswait drives a code intelligence agent through an edit workflow and
waits for the code lens state the agent pushes back.

Getting started:
  lenswait sim --port 7998                          Serve a scripted agent
  lenswait run main.go --action editor.documentCode \
      --expect fixup.codelens.accept,fixup.codelens.undo
  lenswait run main.go --action fixup.accept --clean
  lenswait run main.go --action editor.documentCode \
      --until 'hasLens("fixup.codelens.undo") && lensCount() == 2'

Configuration is read from $HOME/.lenswait.yaml (or --config) and from
LENSWAIT_* environment variables, for example:

  agent:
    endpoint: tcp://localhost:7998
  server:
    endpoint: https://sourcegraph.example.com
    token: sgp_...
  wait:
    timeout: 20s
  poll:
    interval: 1s
    attempts: 10
  lens:
    error_command: fixup.codelens.error
    accept_command: fixup.codelens.accept`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.lenswait.yaml)")
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "Log more (repeat for debug output)")
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	configureLogging(verbosity)

	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory.
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

		// Search config in home directory with name ".lenswait" (without extension).
		viper.AddConfigPath(home)
		viper.SetConfigName(".lenswait")
	}

	setDefaults(viper.GetViper())
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv() // read in environment variables that match

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		log.Infof("using config file: %s", viper.ConfigFileUsed())
	}
}

// configureLogging applies verbosity to the log backend. Reconfiguring
// races with loggers in use on other goroutines, so an unchanged
// verbosity leaves the backend alone.
func configureLogging(v int) bool {
	if v == logVerbosity {
		return false
	}
	commonlog.Configure(v, nil)
	logVerbosity = v
	return true
}

// setDefaults registers every configuration key so environment variables
// can override keys absent from the config file.
func setDefaults(v *viper.Viper) {
	def := harness.DefaultConfig()
	v.SetDefault("agent.endpoint", def.Agent.Endpoint)
	v.SetDefault("agent.command", def.Agent.Command)
	v.SetDefault("agent.env", def.Agent.Env)
	v.SetDefault("agent.debug", def.Agent.Debug)
	v.SetDefault("server.endpoint", def.Server.Endpoint)
	v.SetDefault("server.token", def.Server.Token)
	v.SetDefault("wait.timeout", def.Wait.Timeout)
	v.SetDefault("poll.interval", def.Poll.Interval)
	v.SetDefault("poll.attempts", def.Poll.Attempts)
	v.SetDefault("lens.error_command", def.Lens.ErrorCommand)
	v.SetDefault("lens.accept_command", def.Lens.AcceptCommand)
	v.SetDefault("sim.token", "")
	v.SetDefault("sim.scripts", []any{})
}

// loadConfig decodes the harness configuration from v.
func loadConfig(v *viper.Viper) (harness.Config, error) {
	cfg := harness.DefaultConfig()
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("decode configuration: %w", err)
	}
	return cfg, nil
}
