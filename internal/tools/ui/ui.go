// Package ui renders interactive tool runs with a minimal terminal view.
package ui

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	detailStyle = lipgloss.NewStyle().Faint(true)
)

type doneMsg struct {
	details []string
	err     error
}

type tickMsg time.Time

type model struct {
	title   string
	frames  []string
	frame   int
	done    bool
	details []string
	err     error
}

func tick() tea.Cmd {
	return tea.Tick(120*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m model) Init() tea.Cmd { return tick() }

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			return m, tea.Quit
		}
	case tickMsg:
		if m.done {
			return m, tea.Quit
		}
		m.frame = (m.frame + 1) % len(m.frames)
		return m, tick()
	case doneMsg:
		m.done = true
		m.details = msg.details
		m.err = msg.err
		return m, tea.Quit
	}
	return m, nil
}

func (m model) View() string {
	out := titleStyle.Render(m.title) + "\n"
	if !m.done {
		return out + m.frames[m.frame] + " running...\n"
	}
	for _, d := range m.details {
		out += detailStyle.Render("  - "+d) + "\n"
	}
	if m.err != nil {
		return out + failStyle.Render(fmt.Sprintf("FAIL: %v", m.err)) + "\n"
	}
	return out + okStyle.Render("PASS") + "\n"
}

// Run executes fn under a spinner and returns its outcome once the program
// exits.
func Run(title string, fn func(context.Context) ([]string, error)) ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	p := tea.NewProgram(model{
		title:  title,
		frames: []string{"|", "/", "-", "\\"},
	})
	var details []string
	var runErr error
	go func() {
		details, runErr = fn(ctx)
		p.Send(doneMsg{details: details, err: runErr})
	}()
	if _, err := p.Run(); err != nil {
		return details, err
	}
	return details, runErr
}
