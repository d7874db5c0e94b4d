// Copyright © 2024 The ELPS authors

package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/luthersystems/lenswait/harness"
	"github.com/luthersystems/lenswait/lens"
	"github.com/muesli/reflow/indent"
	"github.com/muesli/reflow/wordwrap"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

// runFlags are the flags of one run invocation.
type runFlags struct {
	action   string
	expect   []string
	clean    bool
	until    string
	edit     bool
	language string
	timeout  time.Duration
}

// RunCommand creates the "run" cobra command. It opens a file in the
// configured agent, triggers one action and waits for the resulting lenses.
func RunCommand(opts ...Option) *cobra.Command {
	cfg := newCmdConfig(opts)
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "run FILE --action ID [--expect IDS | --clean | --until EXPR]",
		Short: "Trigger an agent action and wait for its code lenses",
		Long: `Open FILE in the agent, trigger an action and wait for the code lens
state the agent pushes back for the document.

Exactly one wait mode applies:
  --expect a,b   The lenses must include a and b (in any order, other
                 lenses allowed)
  --clean        The document must end up with no lenses (the default)
  --until EXPR   An expression over the lens state must become true

Expressions see these functions and variables:
  hasLens(id)    true if a lens with command id is shown
  lensCount()    number of lenses shown
  lenses         the lenses, as a list of {command, title} maps
  ids            the lens command ids

A lens carrying the configured error command fails every wait mode
immediately. With --edit, the command then polls until the accept lens
appears.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hcfg, err := loadConfig(cfg.viper)
			if err != nil {
				return err
			}
			if flags.timeout > 0 {
				hcfg.Wait.Timeout = flags.timeout
			}
			p, err := flags.predicate(hcfg)
			if err != nil {
				return err
			}
			doc, err := readDocument(args[0], flags.language)
			if err != nil {
				return err
			}
			return runAction(cmd.Context(), cfg, hcfg, doc, flags, p)
		},
	}

	cmd.Flags().StringVarP(&flags.action, "action", "a", "", "Command id to trigger (required)")
	cmd.Flags().StringSliceVarP(&flags.expect, "expect", "e", nil, "Expected lens command ids")
	cmd.Flags().BoolVar(&flags.clean, "clean", false, "Wait until the document has no lenses")
	cmd.Flags().StringVarP(&flags.until, "until", "u", "", "Wait until the expression is true")
	cmd.Flags().BoolVar(&flags.edit, "edit", false, "Poll for the accept lens after the wait")
	cmd.Flags().StringVarP(&flags.language, "language", "l", "", "Language id (default from file extension)")
	cmd.Flags().DurationVarP(&flags.timeout, "timeout", "t", 0, "Override wait.timeout")
	_ = cmd.MarkFlagRequired("action")
	cmd.MarkFlagsMutuallyExclusive("expect", "clean", "until")

	return cmd
}

// predicate builds the wait condition the flags select.
func (f runFlags) predicate(cfg harness.Config) (lens.Predicate, error) {
	switch {
	case f.until != "":
		p, err := lens.Expr(f.until)
		if err != nil {
			return nil, fmt.Errorf("invalid --until expression: %w", err)
		}
		return lens.FailOn(cfg.Lens.ErrorCommand, p), nil
	case f.clean:
		return lens.ExactMatch(cfg.Lens.ErrorCommand), nil
	default:
		return lens.ExactMatch(cfg.Lens.ErrorCommand, f.expect...), nil
	}
}

func runAction(ctx context.Context, cfg *cmdConfig, hcfg harness.Config, doc harness.Document, flags runFlags, p lens.Predicate) (err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	f, err := harness.Start(ctx, hcfg, doc, cfg.fixtureOps...)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, f.Close(context.Background()))
	}()

	start := time.Now()
	snap, err := f.RunAndWaitForCondition(ctx, flags.action, p, hcfg.Wait.Timeout)
	if err != nil {
		return err
	}
	writeReport(cfg.out, flags.action, p, snap, time.Since(start))

	if flags.edit {
		if err := f.WaitForSuccessfulEdit(ctx); err != nil {
			return err
		}
		fmt.Fprintf(cfg.out, "edit accepted (%s)\n", hcfg.Lens.AcceptCommand)
	}
	return nil
}

// writeReport prints the lenses that satisfied the wait.
func writeReport(w io.Writer, action string, p lens.Predicate, snap lens.Snapshot, elapsed time.Duration) {
	fmt.Fprintf(w, "%s: %s after %s\n", action, p, elapsed.Round(time.Millisecond))
	if len(snap) == 0 {
		fmt.Fprintln(w, indent.String("no lenses", 2))
		return
	}
	for _, l := range snap {
		line := fmt.Sprintf("%s %q", lens.CommandID(l), lens.Title(l))
		fmt.Fprintln(w, indent.String(wordwrap.String(line, 72), 2))
	}
}

// readDocument loads path as a document with a file URI.
func readDocument(path, language string) (harness.Document, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return harness.Document{}, err
	}
	text, err := os.ReadFile(abs)
	if err != nil {
		return harness.Document{}, err
	}
	if language == "" {
		language = languageFor(abs)
	}
	return harness.Document{
		URI:        "file://" + filepath.ToSlash(abs),
		LanguageID: language,
		Text:       string(text),
	}, nil
}

var languageIDs = map[string]string{
	".go":   "go",
	".ts":   "typescript",
	".tsx":  "typescriptreact",
	".js":   "javascript",
	".jsx":  "javascriptreact",
	".py":   "python",
	".rs":   "rust",
	".java": "java",
	".lisp": "lisp",
}

func languageFor(path string) string {
	if id, ok := languageIDs[strings.ToLower(filepath.Ext(path))]; ok {
		return id
	}
	return "plaintext"
}

func init() {
	rootCmd.AddCommand(RunCommand())
}
