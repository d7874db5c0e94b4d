// Copyright © 2024 The ELPS authors

package cmd

import (
	"fmt"
	"os"

	"github.com/luthersystems/lenswait/agentsim"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// SimCommand creates the "sim" cobra command, which serves a scripted agent
// for exercising lenswait without a real one.
func SimCommand(opts ...Option) *cobra.Command {
	cfg := newCmdConfig(opts)

	var (
		stdio bool
		port  int
		ws    bool
		debug bool
	)

	cmd := &cobra.Command{
		Use:   "sim [flags]",
		Short: "Serve a simulated agent that answers actions with scripted lenses",
		Long: `Start a simulated agent. Each action the simulator knows replays a
script of lens snapshots for the document the action targets.

Transport modes:
  --stdio      Use stdin/stdout (default)
  --port N     Listen on TCP port N
  --port N --ws  Listen for WebSocket clients on port N

Scripts are read from the "sim.scripts" configuration key, a list of
action ids and scripts. A script is a sequence of lens groups and delays:

  sim:
    token: secret
    scripts:
      - action: editor.documentCode
        script: "[fixup.codelens.working] 200ms [fixup.codelens.accept]"

Configured scripts are added to the built-in ones, replacing any with the
same action id. When sim.token is set only that token authenticates.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			simOpts, err := simOptions(cfg.viper)
			if err != nil {
				return err
			}
			if debug {
				simOpts = append(simOpts, agentsim.WithDebug())
			}
			simOpts = append(simOpts, cfg.simOpts...)

			if !stdio && port > 0 {
				addr := fmt.Sprintf("localhost:%d", port)
				srv := agentsim.New(simOpts...)
				log.Noticef("simulated agent listening on %s (actions %v)", addr, srv.Actions())
				if ws {
					return srv.RunWebSocket(addr)
				}
				return srv.RunTCP(addr)
			}
			// Exit the process when the client sends "exit" on stdio.
			simOpts = append(simOpts, agentsim.WithExitFunc(os.Exit))
			return agentsim.New(simOpts...).RunStdio()
		},
	}

	cmd.Flags().BoolVar(&stdio, "stdio", false,
		"Use stdin/stdout for communication (default behavior)")
	cmd.Flags().IntVar(&port, "port", 0,
		"TCP port to listen on (use instead of --stdio)")
	cmd.Flags().BoolVar(&ws, "ws", false,
		"Speak WebSocket on --port instead of raw TCP")
	cmd.Flags().BoolVar(&debug, "debug", false,
		"Log every JSON-RPC message")

	return cmd
}

// simOptions converts the sim configuration section into server options.
func simOptions(v *viper.Viper) ([]agentsim.Option, error) {
	var opts []agentsim.Option
	if token := v.GetString("sim.token"); token != "" {
		opts = append(opts, agentsim.WithRequiredToken(token))
	}
	// A list rather than a map: viper lowercases map keys.
	var scripts []simScript
	if err := v.UnmarshalKey("sim.scripts", &scripts); err != nil {
		return nil, fmt.Errorf("decode sim.scripts: %w", err)
	}
	for i, s := range scripts {
		if s.Action == "" {
			return nil, fmt.Errorf("sim.scripts[%d]: missing action", i)
		}
		script, err := agentsim.ParseScript(s.Script)
		if err != nil {
			return nil, fmt.Errorf("sim.scripts[%d] (%s): %w", i, s.Action, err)
		}
		opts = append(opts, agentsim.WithScript(s.Action, script))
	}
	return opts, nil
}

type simScript struct {
	Action string `mapstructure:"action"`
	Script string `mapstructure:"script"`
}

func init() {
	rootCmd.AddCommand(SimCommand())
}
