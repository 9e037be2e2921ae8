package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"dyncmd/internal/audit"
	"dyncmd/internal/dispatch"
	"dyncmd/internal/manifest"
	"dyncmd/internal/sandbox"
)

var (
	// add flags
	addLink        bool
	addName        string
	addUsage       string
	addDescription string
	addLevel       int

	listPlain    bool
	historyLimit int
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the registered commands and their argument nodes",
	RunE:  listCommands,
}

var addCmd = &cobra.Command{
	Use:   "add <file|link>",
	Short: "Add or replace a command from a script file or paste link",
	Long: `Reads a Go script, normalizes it and stores it in the commands directory.
Metadata comes from "// Key: value" comments above the script's function
(Name, Usage, Description, Permission, Children); flags override them.

Use "-" to read the script from stdin.

Example:
  dyncmd add roll.go
  dyncmd add --link https://pastebin.com/abcd1234 --level 100`,
	Args: cobra.ExactArgs(1),
	RunE: addCommand,
}

var removeCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a command and its script",
	Args:  cobra.ExactArgs(1),
	RunE:  removeCommand,
}

var enableCmd = &cobra.Command{
	Use:   "enable <name>",
	Short: "Enable a command",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setDisabled(cmd, args[0], false)
	},
}

var disableCmd = &cobra.Command{
	Use:   "disable <name>",
	Short: "Disable a command",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setDisabled(cmd, args[0], true)
	},
}

var prefixCmd = &cobra.Command{
	Use:   "prefix [new-prefix]",
	Short: "Show or change the command prefix",
	Args:  cobra.MaximumNArgs(1),
	RunE:  prefixCommand,
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the manifest and compile every script without changing anything",
	RunE:  validateCommands,
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent dispatches from the audit log",
	RunE:  showHistory,
}

func init() {
	addCmd.Flags().BoolVar(&addLink, "link", false, "Treat the argument as a paste link")
	addCmd.Flags().StringVar(&addName, "name", "", "Command name (default: from header or function name)")
	addCmd.Flags().StringVar(&addUsage, "usage", "", "Usage string")
	addCmd.Flags().StringVar(&addDescription, "description", "", "Description")
	addCmd.Flags().IntVar(&addLevel, "level", 0, "Required permission level")

	listCmd.Flags().BoolVar(&listPlain, "plain", false, "Print markdown without rendering")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of entries")
}

func listCommands(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	md := commandsMarkdown(a.locked.Prefix(), a.locked.CommandData())
	out := cmd.OutOrStdout()
	if listPlain || !isTerminal(out) {
		_, err := io.WriteString(out, md)
		return err
	}

	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return fmt.Errorf("failed to create renderer: %w", err)
	}
	rendered, err := renderer.Render(md)
	if err != nil {
		return fmt.Errorf("failed to render: %w", err)
	}
	_, err = io.WriteString(out, rendered)
	return err
}

// commandsMarkdown renders the command list as a markdown table.
func commandsMarkdown(prefix string, data []manifest.CommandData) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Commands\n\nPrefix: `%s`\n\n", prefix)
	if len(data) == 0 {
		b.WriteString("_No commands registered._\n")
		return b.String()
	}
	b.WriteString("| Command | Permission | Usage | Description | Status |\n")
	b.WriteString("|---|---|---|---|---|\n")
	var rows func(list []manifest.CommandData, path string)
	rows = func(list []manifest.CommandData, path string) {
		for _, d := range list {
			name := strings.TrimSpace(path + " " + d.Name)
			status := "enabled"
			if d.Disabled {
				status = "disabled"
			}
			if !d.Overridable {
				status += ", locked"
			}
			fmt.Fprintf(&b, "| `%s` | %d | %s | %s | %s |\n",
				name, d.Permission, escapeCell(d.Usage), escapeCell(d.Description), status)
			rows(d.Children, name)
		}
	}
	rows(data, "")
	return b.String()
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func addCommand(cmd *cobra.Command, args []string) error {
	text := args[0]
	if !addLink {
		var (
			b   []byte
			err error
		)
		if text == "-" {
			b, err = io.ReadAll(cmd.InOrStdin())
		} else {
			b, err = os.ReadFile(text)
		}
		if err != nil {
			return fmt.Errorf("failed to read script: %w", err)
		}
		text = string(b)
	}

	opts := dispatch.AddOptions{
		Link:        addLink,
		Name:        addName,
		Usage:       addUsage,
		Description: addDescription,
	}
	if cmd.Flags().Changed("level") {
		level := addLevel
		opts.Permission = &level
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	name, err := a.locked.AddCommand(commandContext(cmd), text, opts)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Added command '%s'.\n", name)
	return nil
}

func removeCommand(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	name := a.locked.RemoveCommand(args[0])
	if name == "" {
		return fmt.Errorf("'%s' was not removed (unknown or not overridable)", args[0])
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed '%s'.\n", name)
	return nil
}

func setDisabled(cmd *cobra.Command, name string, disabled bool) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if !a.locked.SetDisabled(name, disabled) {
		return fmt.Errorf("'%s' cannot be changed (unknown or not overridable)", name)
	}
	state := "Enabled"
	if disabled {
		state = "Disabled"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s '%s'.\n", state, name)
	return nil
}

func prefixCommand(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if len(args) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), a.locked.Prefix())
		return nil
	}
	if err := a.locked.SetPrefix(args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Prefix set to %q.\n", args[0])
	return nil
}

var (
	okStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	badStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
)

// validateCommands checks the manifest and compiles every script. Unlike
// loading a registry it never discards broken commands.
func validateCommands(cmd *cobra.Command, args []string) error {
	store := manifest.NewStore(cfg.Commands.Dir)
	pd, err := store.Load()
	if err != nil {
		return err
	}
	if err := pd.Check(); err != nil {
		return err
	}

	exec := sandbox.New(sandbox.Options{
		Unrestricted: cfg.Commands.Unrestricted,
		Timeout:      cfg.GetScriptTimeout(),
		HostSymbols:  dispatch.HostSymbols(),
	})
	out := cmd.OutOrStdout()
	broken := 0
	for _, d := range pd.Commands {
		if !d.Loadable() {
			fmt.Fprintf(out, "%s %s (no script)\n", okStyle.Render("ok "), d.Name)
			continue
		}
		src, err := store.ReadScript(d.Name)
		if err == nil {
			_, err = exec.Compile(store.ScriptPath(d.Name), src)
		}
		if err != nil {
			broken++
			fmt.Fprintf(out, "%s %s: %v\n", badStyle.Render("bad"), d.Name, err)
			continue
		}
		fmt.Fprintf(out, "%s %s\n", okStyle.Render("ok "), d.Name)
	}
	if broken > 0 {
		return fmt.Errorf("%d of %d commands failed to load", broken, len(pd.Commands))
	}
	return nil
}

func showHistory(cmd *cobra.Command, args []string) error {
	if !cfg.Audit.Enabled {
		return fmt.Errorf("audit log is disabled")
	}
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	entries, err := a.audit.Recent(commandContext(cmd), historyLimit)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(entries) == 0 {
		fmt.Fprintln(out, "No dispatches recorded.")
		return nil
	}
	for _, e := range entries {
		outcome := okStyle.Render(e.Outcome)
		if e.Outcome != audit.OutcomeOK {
			outcome = badStyle.Render(e.Outcome)
		}
		line := fmt.Sprintf("%s  %-12s %-14s %s(%d) %s",
			e.CreatedAt.Format("2006-01-02 15:04:05"), e.Command, outcome, e.Source, e.Permission,
			strings.Join(e.Args, " "))
		if e.Error != "" {
			line += "  " + e.Error
		}
		fmt.Fprintln(out, strings.TrimRight(line, " "))
	}
	return nil
}
