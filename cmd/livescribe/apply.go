package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MrWong99/livescribe/internal/rules"
	"github.com/MrWong99/livescribe/internal/transcript"
)

var errNoRulesFile = errors.New("no rules file given; use --rules, LIVESCRIBE_RULES or rules.path")

// loadRules loads the configured rules file for one-shot commands. Logs go
// to stderr at the configured level. An explicit --ruleset must exist.
func (g *globalFlags) loadRules(cmd *cobra.Command) (*rules.Registry, error) {
	cfg, err := g.loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Rules.Path == "" {
		return nil, errNoRulesFile
	}
	reg, err := newRegistry(cfg, newLogger(cmd.ErrOrStderr(), cfg.LogLevel.Level()))
	if err != nil {
		return nil, err
	}
	if g.ruleset != "" {
		if err := reg.Select(g.ruleset); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func newApplyCmd(g *globalFlags) *cobra.Command {
	var trace bool
	cmd := &cobra.Command{
		Use:   "apply [text...]",
		Short: "Transcribe text once and print the result",
		Long: `apply transcribes the arguments, joined by spaces, with the selected rule
set. Without arguments the text is read from stdin.`,
		Example: `  livescribe apply -f kana.yaml -r hiragana konnichiha
  echo "sayounara" | livescribe apply -f kana.yaml --trace`,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := g.loadRules(cmd)
			if err != nil {
				return err
			}

			text := strings.Join(args, " ")
			if len(args) == 0 {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
				text = strings.TrimSuffix(string(data), "\n")
			}

			rs, ok := reg.Current()
			if !ok {
				return errors.New("rules file contains no rule sets")
			}
			if !trace {
				fmt.Fprintln(cmd.OutOrStdout(), transcript.Apply(text, rs.Rules))
				return nil
			}

			out, steps := transcript.Trace(text, rs.Rules)
			w := cmd.ErrOrStderr()
			fmt.Fprintf(w, "ruleset %s, %d rules\n", rs.Name, rs.Len())
			for _, s := range steps {
				if !s.Changed() {
					continue
				}
				fmt.Fprintf(w, "  #%d %q -> %q: %q => %q\n", s.Index, s.Pattern, s.Replacement, s.Before, s.After)
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&trace, "trace", "t", false, "print every rule that changed the text to stderr")
	return cmd
}

func newListCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the rule sets of the rules file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg, err := g.loadRules(cmd)
			if err != nil {
				return err
			}
			names, selected := reg.Snapshot()
			w := cmd.OutOrStdout()
			for _, name := range names {
				marker := " "
				if name == selected {
					marker = "*"
				}
				rs, _ := reg.Lookup(name)
				fmt.Fprintf(w, "%s %s (%d rules)\n", marker, name, rs.Len())
			}
			return nil
		},
	}
}
