package shell

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/plcweb/console/internal/ui/components"
)

const (
	headerHeight = 2
	inputHeight  = 4
)

var (
	commandStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#89B4FA"))

	durationStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6C7086")).
			Italic(true)

	inputStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("#6C7086")).
			Padding(0, 1)

	hintStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6C7086")).
			Italic(true)
)

// View implements tea.Model.
func (m *Model) View() string {
	if m.quitting {
		return ""
	}

	sections := []string{m.renderHeader(), m.viewport.View(), m.renderInput()}
	return strings.Join(sections, "\n")
}

func (m *Model) renderHeader() string {
	s := m.cfg.Session
	return components.RenderSession(m.cfg.Profile, s.State().String(), s.User(), s.APIVersion()) + "\n"
}

func (m *Model) renderInput() string {
	box := inputStyle.Render(m.input.View())
	if m.width > 6 {
		box = inputStyle.Width(m.width - 2).Render(m.input.View())
	}
	hint := "↑/↓ history • PgUp/PgDn scroll • :help • Ctrl+C quit"
	if m.busy {
		hint = fmt.Sprintf("%s running %s • Esc to cancel", m.spinner.View(), redactCommand(m.running))
	}
	return box + "\n" + hintStyle.Render(hint)
}

// renderHistory formats every entry for the viewport.
func (m *Model) renderHistory() string {
	var b strings.Builder
	for i, entry := range m.history {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(commandStyle.Render("› " + redactCommand(entry.Command)))
		if entry.Duration > 0 {
			b.WriteString(" " + durationStyle.Render(entry.Duration.Truncate(time.Millisecond).String()))
		}
		b.WriteString("\n")
		if entry.Output != "" {
			b.WriteString(entry.Output)
			b.WriteString("\n")
		}
	}
	return b.String()
}

func (m *Model) refreshViewport() {
	m.viewport.SetContent(m.renderHistory())
	m.viewport.GotoBottom()
}
