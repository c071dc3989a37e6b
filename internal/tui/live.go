// Package tui renders the optional live progress view of the tracer.
package tui

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	countStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
	barStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
)

// ProgressMsg updates the finished-trajectory count.
type ProgressMsg uint64

// DoneMsg ends the view.
type DoneMsg struct{}

type model struct {
	total uint64
	done  uint64
	start time.Time
}

func (m model) Init() tea.Cmd { return nil }

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case ProgressMsg:
		m.done = uint64(msg)
		return m, nil
	case DoneMsg:
		return m, tea.Quit
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m model) View() string {
	elapsed := time.Since(m.start).Round(time.Second)

	const width = 40
	filled := 0
	if m.total > 0 {
		filled = int(float64(width) * float64(m.done) / float64(m.total))
		if filled > width {
			filled = width
		}
	}
	bar := ""
	for i := 0; i < width; i++ {
		if i < filled {
			bar += "█"
		} else {
			bar += "░"
		}
	}

	return fmt.Sprintf("%s\n%s %s\n%s\n",
		titleStyle.Render("tracing"),
		countStyle.Render(fmt.Sprintf("%d / %d trajectories", m.done, m.total)),
		barStyle.Render(bar),
		dimStyle.Render(fmt.Sprintf("%s elapsed · q to detach", elapsed)))
}

// Program wraps the bubbletea program so the tracer can push updates from
// its worker goroutines.
type Program struct {
	p *tea.Program
}

// NewProgram creates the live view for an expected trajectory count.
func NewProgram(total uint64) *Program {
	return &Program{p: tea.NewProgram(model{total: total, start: time.Now()})}
}

// Run blocks until the view quits.
func (p *Program) Run() error {
	_, err := p.p.Run()
	return err
}

// Report pushes a new finished-trajectory count.
func (p *Program) Report(done uint64) { p.p.Send(ProgressMsg(done)) }

// Done ends the view.
func (p *Program) Done() { p.p.Send(DoneMsg{}) }
