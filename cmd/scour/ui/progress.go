// Package ui renders live research progress in the terminal.
package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"scour/internal/pipeline"
)

var (
	activeStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#2196F3"))
	checkStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#8BC34A"))
	mutedStyle  = lipgloss.NewStyle().Faint(true)
)

type eventMsg pipeline.Event

type closedMsg struct{}

// Model tails pipeline progress events and shows the stage history
// with a spinner on the stage in flight.
type Model struct {
	events <-chan pipeline.Event
	cancel func()

	spinner  spinner.Model
	current  pipeline.Event
	active   bool
	finished []string
	quitting bool
}

// New builds a progress model reading from events. cancel is invoked
// when the user interrupts; the channel must be closed once the run
// ends so the program can exit.
func New(events <-chan pipeline.Event, cancel func()) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = activeStyle
	return Model{events: events, cancel: cancel, spinner: sp}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.wait())
}

func (m Model) wait() tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-m.events
		if !ok {
			return closedMsg{}
		}
		return eventMsg(ev)
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			if m.cancel != nil {
				m.cancel()
			}
			m.quitting = true
		}
		return m, nil

	case eventMsg:
		ev := pipeline.Event(msg)
		if m.active {
			m.finished = append(m.finished, describe(m.current))
		}
		if ev.Stage == pipeline.StageDone {
			m.active = false
		} else {
			m.current = ev
			m.active = true
		}
		return m, m.wait()

	case closedMsg:
		if m.active {
			m.finished = append(m.finished, describe(m.current))
			m.active = false
		}
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) View() string {
	var b strings.Builder
	for _, line := range m.finished {
		b.WriteString("  " + checkStyle.Render("✓") + " " + mutedStyle.Render(line) + "\n")
	}
	if m.active {
		b.WriteString("  " + m.spinner.View() + activeStyle.Render(describe(m.current)) + "\n")
	}
	if m.quitting {
		b.WriteString(mutedStyle.Render("  stopping, finishing up...") + "\n")
	}
	return b.String()
}

// describe renders one event as a single status line.
func describe(ev pipeline.Event) string {
	s := ev.Message
	if s == "" {
		s = string(ev.Stage)
	}
	if n := max(ev.Total, ev.Count); n > 0 {
		s = fmt.Sprintf("%s (%d)", s, n)
	}
	if ev.Iteration > 0 {
		s = fmt.Sprintf("%s, iteration %d/%d", s, ev.Iteration, ev.MaxIterations)
	}
	return s
}
