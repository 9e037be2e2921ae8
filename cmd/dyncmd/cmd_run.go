package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"dyncmd/internal/command"
)

// runCmd dispatches a single input
var runCmd = &cobra.Command{
	Use:   "run <input...>",
	Short: "Dispatch one input as the local caller",
	Long: `Joins the arguments with spaces and dispatches the result as the console
caller (see --as and --permission). The command prefix is optional.

Example:
  dyncmd run test hello world
  dyncmd run '!commands list' -p 1000`,
	Args: cobra.MinimumNArgs(1),
	RunE: runInput,
}

func runInput(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	input := withPrefix(a.locked.Prefix(), strings.Join(args, " "))
	err = a.locked.Parse(ctx, command.NewContext(input, consoleSource(cmd.OutOrStdout())), nil)
	if msg := describeError(err); msg != "" {
		return fmt.Errorf("%s", msg)
	}
	return nil
}
