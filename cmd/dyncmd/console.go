package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"dyncmd/internal/command"
	"dyncmd/internal/dispatch"
)

// consoleCmd starts an interactive session
var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Dispatch input interactively as the local caller",
	Long: `Starts an interactive prompt. Every line is dispatched as the console caller;
the command prefix is optional. Type "exit" or press Ctrl+C to leave.

When stdin or stdout is not a terminal, lines are read and answered one at a
time without the full-screen interface.`,
	RunE: runConsole,
}

func runConsole(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s := &session{locked: a.locked, name: cfg.Console.Name, level: cfg.Console.Permission}
	if !isatty.IsTerminal(os.Stdin.Fd()) || !isTerminal(cmd.OutOrStdout()) {
		return s.runLines(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
	}

	p := tea.NewProgram(newConsoleModel(ctx, s), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err = p.Run()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}

// session dispatches console input for one caller.
type session struct {
	locked *dispatch.Locked
	name   string
	level  int
}

// dispatch runs one line and returns everything the caller should see.
func (s *session) dispatch(ctx context.Context, line string) []string {
	var out []string
	src := command.NewSource(s.name, s.level, func(text, _ string) {
		out = append(out, text)
	})
	err := s.locked.Parse(ctx, command.NewContext(withPrefix(s.locked.Prefix(), line), src), nil)
	if msg := describeError(err); msg != "" {
		out = append(out, msg)
	}
	return out
}

func isExit(line string) bool {
	switch strings.ToLower(line) {
	case "exit", "quit":
		return true
	}
	return false
}

// runLines is the console without a terminal.
func (s *session) runLines(ctx context.Context, in io.Reader, out io.Writer) error {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if isExit(line) {
			return nil
		}
		for _, text := range s.dispatch(ctx, line) {
			fmt.Fprintln(out, text)
		}
	}
	return sc.Err()
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Padding(0, 1)
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	inputStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	borderStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("8"))
)

// dispatchResult carries the output of one line back to the model.
type dispatchResult struct {
	lines []string
}

type consoleModel struct {
	ctx     context.Context
	session *session
	input   textinput.Model
	view    viewport.Model
	history []string
	busy    bool
	ready   bool
	width   int
}

func newConsoleModel(ctx context.Context, s *session) consoleModel {
	ti := textinput.New()
	ti.Placeholder = "command (Enter to send, Ctrl+C to exit)"
	ti.Prompt = "│ "
	ti.CharLimit = 4096
	ti.Width = 80
	ti.PromptStyle = inputStyle
	ti.Focus()

	return consoleModel{
		ctx:     ctx,
		session: s,
		input:   ti,
		view:    viewport.New(80, 20),
	}
}

func (m consoleModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m consoleModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		tiCmd tea.Cmd
		vpCmd tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit

		case tea.KeyEnter:
			line := strings.TrimSpace(m.input.Value())
			if m.busy || line == "" {
				return m, nil
			}
			if isExit(line) {
				return m, tea.Quit
			}
			m.input.Reset()
			m.busy = true
			m.append(inputStyle.Render("> " + line))
			return m, m.run(line)
		}

	case dispatchResult:
		m.busy = false
		if len(msg.lines) == 0 {
			m.append(mutedStyle.Render("(no output)"))
		}
		for _, l := range msg.lines {
			m.append(l)
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		headerHeight, inputHeight := 2, 3
		m.view.Width = msg.Width - 4
		m.view.Height = msg.Height - headerHeight - inputHeight - 2
		m.input.Width = msg.Width - 6
		m.ready = true
		m.view.SetContent(strings.Join(m.history, "\n"))
		m.view.GotoBottom()
	}

	m.input, tiCmd = m.input.Update(msg)
	m.view, vpCmd = m.view.Update(msg)
	return m, tea.Batch(tiCmd, vpCmd)
}

// append adds a line to the transcript and scrolls to it. m must be
// addressable; Update works on its own copy.
func (m *consoleModel) append(line string) {
	m.history = append(m.history, line)
	m.view.SetContent(strings.Join(m.history, "\n"))
	m.view.GotoBottom()
}

func (m consoleModel) run(line string) tea.Cmd {
	ctx, s := m.ctx, m.session
	return func() tea.Msg {
		return dispatchResult{lines: s.dispatch(ctx, line)}
	}
}

func (m consoleModel) View() string {
	header := titleStyle.Render("dyncmd") + mutedStyle.Render(fmt.Sprintf(
		"as %s (permission %d), prefix %q", m.session.name, m.session.level, m.session.locked.Prefix()))
	status := ""
	if m.busy {
		status = mutedStyle.Render(" running...")
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		borderStyle.Render(m.view.View()),
		m.input.View()+status,
	)
}
