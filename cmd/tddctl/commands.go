package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ashureev/tdd-mentor/internal/api"
	"github.com/ashureev/tdd-mentor/internal/domain"
)

// errTestsFailed makes verify exit non-zero when the suite fails.
var errTestsFailed = errors.New("tests failed")

type cli struct {
	open    opener
	asJSON  bool
	wf      api.Workflow
	closeWf func() error
}

// newRootCmd returns the command tree and a function that releases the
// session opened by whichever command ran.
func newRootCmd(open opener) (*cobra.Command, func() error) {
	c := &cli{open: open}

	root := &cobra.Command{
		Use:   "tddctl",
		Short: "Drive a red/green/refactor session from the terminal",
		Long: `tddctl works on the same session as the TDD mentor server. It picks user
stories, proposes failing tests, answers questions while you make them pass
and suggests refactorings once they do.

Examples:
  tddctl start
  tddctl select-story story-2
  tddctl select-test test-1 && tddctl confirm
  tddctl ask "where should the validation live?"
  tddctl verify
  tddctl complete -m "Add login validation"`,
		Version:       version,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" {
				return nil
			}
			wf, closeWf, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			c.wf, c.closeWf = wf, closeWf
			return nil
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.PersistentFlags().BoolVar(&c.asJSON, "json", false, "Output results as JSON")

	root.AddCommand(
		c.statusCmd(),
		c.sessionCmd("start", "Start a new cycle with fresh user stories", func(ctx context.Context) error { return c.wf.Start(ctx) }),
		c.sessionCmd("reset", "Discard the current session", func(ctx context.Context) error { return c.wf.Reset(ctx) }),
		c.storiesCmd(),
		c.selectCmd("select-story", "Pick a user story and get test proposals", func(ctx context.Context, id string) error { return c.wf.SelectStory(ctx, id) }),
		c.testsCmd(),
		c.selectCmd("select-test", "Pick a test proposal to start from", func(ctx context.Context, id string) error { return c.wf.SelectTest(ctx, id) }),
		c.editCmd(),
		c.confirmCmd(),
		c.askCmd(),
		c.verifyCmd(),
		c.nextCmd(),
		c.completeCmd(),
	)
	return root, c.close
}

func (c *cli) close() error {
	if c.closeWf == nil {
		return nil
	}
	err := c.closeWf()
	c.closeWf = nil
	return err
}

func (c *cli) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the current session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.printSession(cmd.OutOrStdout())
		},
	}
}

func (c *cli) sessionCmd(use, short string, run func(context.Context) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := run(cmd.Context()); err != nil {
				return err
			}
			return c.printSession(cmd.OutOrStdout())
		},
	}
}

func (c *cli) selectCmd(use, short string, run func(context.Context, string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := run(cmd.Context(), args[0]); err != nil {
				return err
			}
			return c.printSession(cmd.OutOrStdout())
		},
	}
}

func (c *cli) storiesCmd() *cobra.Command {
	var refresh bool
	cmd := &cobra.Command{
		Use:   "stories",
		Short: "List user stories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if refresh {
				if err := c.wf.RefreshStories(cmd.Context()); err != nil {
					return err
				}
			}
			s := c.wf.Snapshot()
			if c.asJSON {
				return writeJSON(cmd.OutOrStdout(), s.UserStories)
			}
			printStories(cmd.OutOrStdout(), s)
			return nil
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "Generate a new list first")
	return cmd
}

func (c *cli) testsCmd() *cobra.Command {
	var regenerate bool
	cmd := &cobra.Command{
		Use:   "tests",
		Short: "List test proposals for the selected story",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if regenerate {
				if err := c.wf.RegenerateTests(cmd.Context()); err != nil {
					return err
				}
			}
			s := c.wf.Snapshot()
			if c.asJSON {
				return writeJSON(cmd.OutOrStdout(), s.TestProposals)
			}
			printTests(cmd.OutOrStdout(), s)
			return nil
		},
	}
	cmd.Flags().BoolVar(&regenerate, "regenerate", false, "Generate new proposals first")
	return cmd
}

func (c *cli) editCmd() *cobra.Command {
	var file, target string
	cmd := &cobra.Command{
		Use:   "edit",
		Short: "Replace the selected test's code",
		Long: `Replace the code of the selected test before confirming it.

Examples:
  # Read the new code from a file
  tddctl edit --file draft.test.js

  # Read from stdin and change the target file
  cat draft.test.js | tddctl edit --file - --target login.test.js`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			code, err := readSource(cmd.InOrStdin(), file)
			if err != nil {
				return err
			}
			if target == "" {
				if sel := c.wf.Snapshot().SelectedTest; sel != nil {
					target = sel.TargetFile
				}
			}
			if err := c.wf.EditSelectedTest(cmd.Context(), code, target); err != nil {
				return err
			}
			return c.printSession(cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&file, "file", "-", "File holding the test code (- for stdin)")
	cmd.Flags().StringVar(&target, "target", "", "Target test file name (defaults to the proposal's)")
	return cmd
}

func (c *cli) confirmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "confirm",
		Short: "Write the selected test into the workspace and move to GREEN",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := c.wf.ConfirmTest(cmd.Context())
			if err != nil {
				return err
			}
			if c.asJSON {
				return writeJSON(cmd.OutOrStdout(), map[string]any{"path": path, "session": c.wf.Snapshot()})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Test written to %s\n", path)
			return c.printSession(cmd.OutOrStdout())
		},
	}
}

func (c *cli) askCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask for a hint while making the test pass",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			answer, err := c.wf.AskHint(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			if c.asJSON {
				return writeJSON(cmd.OutOrStdout(), map[string]any{"answer": answer, "hintLevel": c.wf.Snapshot().HintLevel})
			}
			fmt.Fprintln(cmd.OutOrStdout(), answer)
			return nil
		},
	}
}

func (c *cli) verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Run the test suite",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := c.wf.VerifyTests(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if c.asJSON {
				if err := writeJSON(out, res); err != nil {
					return err
				}
			} else {
				printResult(out, res)
				if res.Success {
					printRefactorings(out, c.wf.Snapshot())
				}
			}
			if !res.Success {
				return errTestsFailed
			}
			return nil
		},
	}
}

func (c *cli) nextCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "next [PICK|RED]",
		Short: "Choose where to go after the refactoring phase (no argument clears it)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var p domain.Phase
			if len(args) == 1 {
				parsed, err := domain.ParsePhase(strings.ToUpper(args[0]))
				if err != nil {
					return err
				}
				p = parsed
			}
			if err := c.wf.RouteNext(cmd.Context(), p); err != nil {
				return err
			}
			return c.printSession(cmd.OutOrStdout())
		},
	}
}

func (c *cli) completeCmd() *cobra.Command {
	var message string
	cmd := &cobra.Command{
		Use:   "complete",
		Short: "Commit the cycle's changes and move on",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.wf.Complete(cmd.Context(), message); err != nil {
				return err
			}
			return c.printSession(cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "Commit message (defaults to the story title)")
	return cmd
}

func (c *cli) printSession(w io.Writer) error {
	s := c.wf.Snapshot()
	if c.asJSON {
		return writeJSON(w, s)
	}
	printSession(w, s)
	return nil
}

func readSource(stdin io.Reader, file string) (string, error) {
	var (
		data []byte
		err  error
	)
	if file == "" || file == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(file)
	}
	if err != nil {
		return "", fmt.Errorf("read test code: %w", err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return "", errors.New("no test code given")
	}
	return string(data), nil
}
