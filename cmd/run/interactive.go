package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.starlark.net/starlark"

	"github.com/wippyai/starbridge/config"
	"github.com/wippyai/starbridge/runtime"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	inputStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	printStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

const (
	maxScrollback = 200
	promptPrimary = ">>> "
	promptMore    = "... "
)

type outputLine struct {
	style lipgloss.Style
	text  string
}

type replModel struct {
	ctx     context.Context
	err     error
	env     *config.Environment
	worker  *runtime.Interpreter
	pending []string
	history []string
	lines   []outputLine
	input   textinput.Model
	histIdx int
	height  int
	busy    bool
}

type workerMsg struct {
	err    error
	worker *runtime.Interpreter
}

type evalMsg struct {
	err    error
	value  starlark.Value
	prints []string
}

func newReplModel(ctx context.Context, env *config.Environment) *replModel {
	ti := textinput.New()
	ti.Prompt = promptPrimary
	ti.Width = 80
	ti.Focus()
	return &replModel{ctx: ctx, env: env, input: ti, height: 24}
}

func (m *replModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.newWorker)
}

func (m *replModel) newWorker() tea.Msg {
	w, err := m.env.Runtime.NewWorker(m.ctx)
	return workerMsg{worker: w, err: err}
}

// eval runs one complete chunk in the worker, capturing print output.
func (m *replModel) eval(src string) tea.Cmd {
	w := m.worker
	return func() tea.Msg {
		var prints []string
		w.SetPrint(func(msg string) { prints = append(prints, msg) })
		v, err := w.Run(m.ctx, src)
		return evalMsg{value: v, err: err, prints: prints}
	}
}

func (m *replModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.height = msg.Height
		m.input.Width = msg.Width - len(promptPrimary) - 1

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "ctrl+d":
			m.close()
			return m, tea.Quit

		case "up":
			if m.histIdx > 0 {
				m.histIdx--
				m.input.SetValue(m.history[m.histIdx])
				m.input.CursorEnd()
			}
			return m, nil

		case "down":
			if m.histIdx < len(m.history)-1 {
				m.histIdx++
				m.input.SetValue(m.history[m.histIdx])
			} else {
				m.histIdx = len(m.history)
				m.input.SetValue("")
			}
			m.input.CursorEnd()
			return m, nil

		case "enter":
			if m.busy || m.worker == nil {
				return m, nil
			}
			return m, m.submit()
		}

	case workerMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.worker = msg.worker

	case evalMsg:
		m.busy = false
		for _, p := range msg.prints {
			m.appendLine(printStyle, p)
		}
		switch {
		case msg.err != nil:
			m.appendLine(errorStyle, msg.err.Error())
		case msg.value != nil && msg.value != starlark.None:
			m.appendLine(resultStyle, msg.value.String())
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// submit handles one input line. Lines opening a block, and lines inside
// one, are buffered until an empty line ends the chunk.
func (m *replModel) submit() tea.Cmd {
	line := m.input.Value()
	m.input.SetValue("")
	m.appendLine(inputStyle, m.input.Prompt+line)

	if strings.TrimSpace(line) != "" {
		m.history = append(m.history, line)
	}
	m.histIdx = len(m.history)

	if len(m.pending) == 0 {
		switch strings.TrimSpace(line) {
		case "":
			return nil
		case ":modules":
			for _, name := range m.worker.Modules() {
				m.appendLine(resultStyle, name)
			}
			return nil
		case ":help":
			m.appendLine(helpStyle, `load("java.util", "ArrayList")  import_module("m")  :modules  ctrl+d quit`)
			return nil
		}
	}

	if len(m.pending) > 0 || strings.HasSuffix(strings.TrimSpace(line), ":") {
		if strings.TrimSpace(line) != "" {
			m.pending = append(m.pending, line)
			m.input.Prompt = promptMore
			return nil
		}
	}

	src := line
	if len(m.pending) > 0 {
		src = strings.Join(m.pending, "\n") + "\n"
		m.pending = nil
		m.input.Prompt = promptPrimary
	}
	m.busy = true
	return m.eval(src)
}

func (m *replModel) appendLine(style lipgloss.Style, text string) {
	for _, l := range strings.Split(text, "\n") {
		m.lines = append(m.lines, outputLine{style: style, text: l})
	}
	if len(m.lines) > maxScrollback {
		m.lines = m.lines[len(m.lines)-maxScrollback:]
	}
}

func (m *replModel) close() {
	if m.worker != nil {
		_ = m.worker.Close(m.ctx)
	}
}

func (m *replModel) View() string {
	if m.err != nil {
		return errorStyle.Render(fmt.Sprintf("Error: %v\n\nPress ctrl+c to quit.", m.err))
	}
	if m.worker == nil {
		return "Starting worker..."
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("Starbridge"))
	b.WriteString(" ")
	b.WriteString(m.worker.Name())
	b.WriteString("\n\n")

	visible := m.lines
	if room := m.height - 6; room > 0 && len(visible) > room {
		visible = visible[len(visible)-room:]
	}
	for _, l := range visible {
		b.WriteString(l.style.Render(l.text))
		b.WriteString("\n")
	}

	b.WriteString(m.input.View())
	b.WriteString("\n\n")
	if m.busy {
		b.WriteString(helpStyle.Render("running..."))
	} else {
		b.WriteString(helpStyle.Render("enter run • ↑/↓ history • :help • ctrl+d quit"))
	}
	return b.String()
}

func runInteractive(ctx context.Context, env *config.Environment) error {
	p := tea.NewProgram(newReplModel(ctx, env), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}
