package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/shader-bridge/bridge"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	funcStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	typeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

type modelState int

const (
	stateSelectProgram modelState = iota
	stateSelectEntry
	stateShowCode
	stateSavePath
)

// chromeLines is the height taken by the title and help lines around the
// code view.
const chromeLines = 5

// interactiveModel reaches the Context only through w, since bubbletea runs
// commands on their own goroutines.
type interactiveModel struct {
	ctx      context.Context
	w        *bridge.Worker
	manifest *Manifest
	log      *zap.Logger

	b        *build
	err      error
	status   string
	state    modelState
	program  int
	entry    int // 0 is the whole program, i > 0 is entry point i-1
	code     output
	view     viewport.Model
	path     textinput.Model
	width    int
	height   int
	ready    bool
	quitting bool
}

type builtMsg struct {
	b   *build
	err error
}

type codeMsg struct {
	out output
	err error
}

type savedMsg struct {
	path string
	err  error
}

func newInteractiveModel(ctx context.Context, w *bridge.Worker, m *Manifest, log *zap.Logger) *interactiveModel {
	return &interactiveModel{
		ctx:      ctx,
		w:        w,
		manifest: m,
		log:      log,
		state:    stateSelectProgram,
		view:     viewport.New(80, 20),
	}
}

func (m *interactiveModel) Init() tea.Cmd {
	return m.loadBuild
}

func (m *interactiveModel) loadBuild() tea.Msg {
	var b *build
	err := m.w.Do(m.ctx, func(ctx context.Context, c *bridge.Context) (err error) {
		b, err = newBuild(ctx, c, m.manifest, m.log)
		return err
	})
	return builtMsg{b: b, err: err}
}

func (m *interactiveModel) generate() tea.Msg {
	p := m.b.programs[m.program]
	out := output{program: p.name}
	if m.entry > 0 {
		out.entry = p.entryPoints[m.entry-1]
	}
	err := m.w.Do(m.ctx, func(ctx context.Context, c *bridge.Context) (err error) {
		if m.entry == 0 {
			out.code, err = c.TargetCode(ctx, p.handle, m.b.target)
		} else {
			out.code, err = c.EntryPointCode(ctx, p.handle, m.entry-1, m.b.target)
		}
		return err
	})
	return codeMsg{out: out, err: err}
}

func (m *interactiveModel) save() tea.Msg {
	path := m.path.Value()
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return savedMsg{path: path, err: err}
		}
	}
	return savedMsg{path: path, err: os.WriteFile(path, m.code.code, 0o644)}
}

func (m *interactiveModel) render(o output) string {
	if m.b.binary() {
		return hex.Dump(o.code)
	}
	return string(o.code)
}

func (m *interactiveModel) choices() int {
	switch m.state {
	case stateSelectProgram:
		return len(m.b.programs)
	case stateSelectEntry:
		return len(m.b.programs[m.program].entryPoints) + 1
	}
	return 0
}

func (m *interactiveModel) cursor() *int {
	if m.state == stateSelectEntry {
		return &m.entry
	}
	return &m.program
}

func (m *interactiveModel) quit() (tea.Model, tea.Cmd) {
	m.quitting = true
	if m.b != nil {
		err := m.w.Do(m.ctx, func(ctx context.Context, _ *bridge.Context) error {
			return m.b.Close(ctx)
		})
		if err != nil {
			m.log.Warn("release build", zap.Error(err))
		}
	}
	return m, tea.Quit
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.view.Width = msg.Width
		m.view.Height = max(msg.Height-chromeLines, 1)
		return m, nil

	case builtMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.b = msg.b
		m.ready = true
		return m, nil

	case codeMsg:
		m.err = msg.err
		m.code = msg.out
		m.state = stateShowCode
		if msg.err == nil {
			m.view.SetContent(m.render(msg.out))
			m.view.GotoTop()
		}
		return m, nil

	case savedMsg:
		m.state = stateShowCode
		if msg.err != nil {
			m.status = errorStyle.Render(fmt.Sprintf("save failed: %v", msg.err))
		} else {
			m.status = funcStyle.Render("saved " + msg.path)
		}
		return m, nil

	case tea.KeyMsg:
		if m.state == stateSavePath {
			return m.updateSavePath(msg)
		}
		switch msg.String() {
		case "ctrl+c", "q":
			return m.quit()
		}
		if !m.ready {
			return m, nil
		}
		return m.updateKey(msg)
	}
	return m, nil
}

func (m *interactiveModel) updateKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.state == stateShowCode {
		switch msg.String() {
		case "esc":
			m.state = stateSelectEntry
			m.err = nil
			m.status = ""
			return m, nil
		case "s":
			if m.err != nil {
				return m, nil
			}
			m.path = textinput.New()
			m.path.Prompt = "save as: "
			m.path.Width = 50
			m.path.SetValue(filepath.Join(m.manifest.Output, m.code.fileName(m.b.targetName())))
			m.path.Focus()
			m.state = stateSavePath
			return m, textinput.Blink
		}
		var cmd tea.Cmd
		m.view, cmd = m.view.Update(msg)
		return m, cmd
	}

	cur := m.cursor()
	switch msg.String() {
	case "up", "k":
		if *cur > 0 {
			*cur--
		}
	case "down", "j":
		if *cur < m.choices()-1 {
			*cur++
		}
	case "esc":
		if m.state == stateSelectEntry {
			m.state = stateSelectProgram
		}
	case "enter":
		switch m.state {
		case stateSelectProgram:
			if len(m.b.programs) > 0 {
				m.state = stateSelectEntry
				m.entry = 0
			}
		case stateSelectEntry:
			return m, m.generate
		}
	}
	return m, nil
}

func (m *interactiveModel) updateSavePath(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		return m, m.save
	case "esc":
		m.state = stateShowCode
		return m, nil
	}
	var cmd tea.Cmd
	m.path, cmd = m.path.Update(msg)
	return m, cmd
}

func (m *interactiveModel) View() string {
	if m.quitting {
		return ""
	}
	if m.err != nil && m.state != stateShowCode {
		return errorStyle.Render(fmt.Sprintf("Error: %v\n\nPress q to quit.", m.err))
	}
	if !m.ready {
		return "Compiling..."
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("Shader Compiler"))
	b.WriteString(" ")
	b.WriteString(typeStyle.Render(m.b.targetName()))
	b.WriteString("\n\n")

	switch m.state {
	case stateSelectProgram:
		b.WriteString("Select a program:\n\n")
		for i, p := range m.b.programs {
			line := fmt.Sprintf("%s (%d entry points)", p.name, len(p.entryPoints))
			m.writeChoice(&b, i == m.program, line)
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("↑/↓ select • enter open • q quit"))

	case stateSelectEntry:
		p := m.b.programs[m.program]
		b.WriteString(fmt.Sprintf("Program %s:\n\n", funcStyle.Render(p.name)))
		m.writeChoice(&b, m.entry == 0, "whole program")
		for i, name := range p.entryPoints {
			m.writeChoice(&b, m.entry == i+1, name)
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("↑/↓ select • enter compile • esc back • q quit"))

	case stateShowCode, stateSavePath:
		b.WriteString(funcStyle.Render(m.code.fileName(m.b.targetName())))
		b.WriteString("\n")
		if m.err != nil {
			b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
			b.WriteString("\n")
		} else {
			b.WriteString(m.view.View())
			b.WriteString("\n")
		}
		switch {
		case m.state == stateSavePath:
			b.WriteString(m.path.View())
		case m.status != "":
			b.WriteString(m.status)
		default:
			b.WriteString(helpStyle.Render("↑/↓ scroll • s save • esc back • q quit"))
		}
	}
	return b.String()
}

func (m *interactiveModel) writeChoice(b *strings.Builder, selected bool, line string) {
	if selected {
		b.WriteString(selectedStyle.Render("> " + line))
	} else {
		b.WriteString("  " + line)
	}
	b.WriteString("\n")
}

func runInteractive(ctx context.Context, c *bridge.Context, m *Manifest, log *zap.Logger) error {
	w := bridge.NewWorker(c)
	p := tea.NewProgram(newInteractiveModel(ctx, w, m, log), tea.WithAltScreen())
	_, err := p.Run()
	return multierr.Append(err, w.Close(ctx))
}
