package main

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/casegen/analysis"
	"github.com/wippyai/casegen/formatter"
	"github.com/wippyai/casegen/generator"
	"github.com/wippyai/casegen/instructions"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	nameStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	fmtStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

const listHeight = 20

type modelState int

const (
	stateBrowse modelState = iota
	stateShowBody
)

type entry struct {
	item   analysis.Item
	format string
	flags  string
	viable bool
}

type interactiveModel struct {
	err      error
	cfg      generator.Config
	a        *analysis.Analysis
	entries  []entry
	visible  []int
	filter   textinput.Model
	body     viewport.Model
	selected int
	width    int
	height   int
	state    modelState
}

type loadedMsg struct {
	err error
	a   *analysis.Analysis
}

func newInteractiveModel(cfg generator.Config) *interactiveModel {
	ti := textinput.New()
	ti.Placeholder = "filter"
	ti.Prompt = "/ "
	ti.Width = 40
	ti.Focus()
	return &interactiveModel{
		cfg:    cfg,
		filter: ti,
		body:   viewport.New(80, listHeight),
		width:  80,
		height: listHeight + 6,
	}
}

func (m *interactiveModel) Init() tea.Cmd {
	return tea.Batch(m.load, textinput.Blink)
}

func (m *interactiveModel) load() tea.Msg {
	a, _, err := generator.Analyze(m.cfg)
	return loadedMsg{a: a, err: err}
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.body.Width = msg.Width
		m.body.Height = max(msg.Height-4, 1)
		return m, nil

	case loadedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.a = msg.a
		m.entries = collectEntries(msg.a)
		m.applyFilter()
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit
		case "q":
			if m.state == stateShowBody || m.err != nil {
				return m, tea.Quit
			}
		case "esc":
			if m.state == stateShowBody {
				m.state = stateBrowse
				return m, nil
			}
			m.filter.SetValue("")
			m.applyFilter()
			return m, nil
		case "up":
			if m.state == stateBrowse {
				if m.selected > 0 {
					m.selected--
				}
				return m, nil
			}
		case "down":
			if m.state == stateBrowse {
				if m.selected < len(m.visible)-1 {
					m.selected++
				}
				return m, nil
			}
		case "enter":
			if m.state == stateBrowse && len(m.visible) > 0 {
				m.body.SetContent(m.renderBody(m.entries[m.visible[m.selected]]))
				m.body.GotoTop()
				m.state = stateShowBody
				return m, nil
			}
		}
	}

	var cmd tea.Cmd
	switch m.state {
	case stateShowBody:
		m.body, cmd = m.body.Update(msg)
	case stateBrowse:
		prev := m.filter.Value()
		m.filter, cmd = m.filter.Update(msg)
		if m.filter.Value() != prev {
			m.applyFilter()
		}
	}
	return m, cmd
}

func collectEntries(a *analysis.Analysis) []entry {
	var entries []entry
	for _, item := range a.Everything {
		format, flags, ok := a.Lookup(item)
		if !ok {
			continue
		}
		entries = append(entries, entry{
			item:   item,
			format: format,
			flags:  flags,
			viable: item.Kind == analysis.ItemInstruction && a.Viable(item.Name),
		})
	}
	return entries
}

func (m *interactiveModel) applyFilter() {
	needle := strings.ToUpper(strings.TrimSpace(m.filter.Value()))
	m.visible = m.visible[:0]
	for i, e := range m.entries {
		if needle == "" || strings.Contains(e.item.Name, needle) {
			m.visible = append(m.visible, i)
		}
	}
	if m.selected >= len(m.visible) {
		m.selected = max(len(m.visible)-1, 0)
	}
}

// renderBody generates the code for one entry the same way the case
// files do, without the surrounding TARGET block.
func (m *interactiveModel) renderBody(e entry) string {
	var b strings.Builder
	section := func(title string, write func(*formatter.Formatter)) {
		var buf bytes.Buffer
		out := formatter.New(&buf, formatter.Config{Filename: title})
		write(out)
		b.WriteString(titleStyle.Render(title))
		b.WriteString("\n")
		b.WriteString(buf.String())
		b.WriteString("\n")
	}

	switch e.item.Kind {
	case analysis.ItemInstruction:
		in := m.a.Instructions[e.item.Name]
		section("tier one", func(out *formatter.Formatter) { in.Write(out, instructions.TierOne) })
		if ok, reason := m.a.Policy.Check(in); ok {
			section("tier two", func(out *formatter.Formatter) { in.Write(out, instructions.TierTwo) })
		} else {
			b.WriteString(helpStyle.Render("not a uop: " + reason))
			b.WriteString("\n")
		}
	case analysis.ItemMacro:
		mac := m.a.Macros[e.item.Name]
		section("tier one", func(out *formatter.Formatter) { mac.Write(out) })
	case analysis.ItemPseudo:
		ps := m.a.Pseudos[e.item.Name]
		names := make([]string, len(ps.Targets))
		for i, t := range ps.Targets {
			names[i] = t.Name
		}
		b.WriteString("targets: " + strings.Join(names, ", ") + "\n")
	}
	return b.String()
}

func (m *interactiveModel) View() string {
	if m.err != nil {
		return errorStyle.Render(fmt.Sprintf("Error: %v\n\nPress q to quit.", m.err))
	}
	if m.a == nil {
		return "Analyzing declarations..."
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("casegen"))
	b.WriteString(" ")
	b.WriteString(strings.Join(m.a.Sources, ", "))
	b.WriteString("\n\n")

	switch m.state {
	case stateBrowse:
		b.WriteString(m.filter.View())
		b.WriteString("\n\n")
		rows := max(m.height-8, 1)
		start := 0
		if m.selected >= rows {
			start = m.selected - rows + 1
		}
		for i := start; i < len(m.visible) && i < start+rows; i++ {
			line := m.formatEntry(m.entries[m.visible[i]])
			if i == m.selected {
				b.WriteString(selectedStyle.Render("> " + line))
			} else {
				b.WriteString("  " + line)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("↑/↓ select • type to filter • enter show • esc clear • ctrl+c quit"))

	case stateShowBody:
		e := m.entries[m.visible[m.selected]]
		b.WriteString(nameStyle.Render(e.item.Name))
		b.WriteString("\n")
		b.WriteString(m.body.View())
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("↑/↓ scroll • esc back • q quit"))
	}
	return b.String()
}

func (m *interactiveModel) formatEntry(e entry) string {
	uop := ""
	if e.viable {
		uop = " uop"
	}
	return fmt.Sprintf("%-32s %-8s %s%s",
		e.item.Name,
		e.item.Kind,
		fmtStyle.Render(e.format),
		helpStyle.Render(" "+e.flags+uop))
}

func runInteractive(cfg generator.Config) error {
	p := tea.NewProgram(newInteractiveModel(cfg), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
