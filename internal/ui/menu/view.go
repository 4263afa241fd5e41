package menu

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/plcweb/console/internal/registry"
	"github.com/plcweb/console/internal/ui/components"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#CBA6F7")).
			Padding(1, 2)

	focusedBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.ThickBorder()).
			BorderForeground(lipgloss.Color("#89B4FA")).
			Padding(1, 2)

	listItemStyle    = lipgloss.NewStyle().PaddingLeft(1)
	focusedItemStyle = lipgloss.NewStyle().
				PaddingLeft(1).
				Foreground(lipgloss.Color("#1e1e2e")).
				Background(lipgloss.Color("#FAB387"))

	helpStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#6C7086")).Padding(1, 0)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F38BA8")).
			Bold(true)
)

// View renders the picker.
func (m *Model) View() string {
	if m.selection != nil {
		return ""
	}
	var s strings.Builder

	s.WriteString(titleStyle.Width(m.width).Render("plcweb · select a controller"))
	s.WriteString("\n\n")
	s.WriteString(m.viewProfileList())
	s.WriteString("\n\n")
	s.WriteString(m.viewQuickConnect())
	s.WriteString("\n")
	s.WriteString(helpStyle.Render("[Enter] connect  [1-9] pick  [Tab] switch  [r] recheck  [q] quit"))

	if m.err != nil {
		s.WriteString("\n")
		s.WriteString(errorStyle.Render("Error: " + m.err.Error()))
	}
	return s.String()
}

func (m *Model) viewProfileList() string {
	var items []string
	if len(m.entries) == 0 {
		items = append(items, helpStyle.Render("No profiles stored. Add one with: plcweb profile add NAME --host URL"))
	}
	for i, p := range m.entries {
		item := fmt.Sprintf("[%d] %s  %s  %s", i+1, p.Name, p.Host, m.healthLabel(p.Name))
		if m.focusState == FocusList && i == m.selectedIndex {
			items = append(items, focusedItemStyle.Render(item))
		} else {
			items = append(items, listItemStyle.Render(item))
		}
	}

	style := boxStyle
	if m.focusState == FocusList {
		style = focusedBoxStyle
	}
	title := lipgloss.NewStyle().Bold(true).Render("Profiles")
	return style.Render(lipgloss.JoinVertical(lipgloss.Left, append([]string{title}, items...)...))
}

func (m *Model) healthLabel(profile string) string {
	s, ok := m.health[profile]
	if !ok {
		return components.RenderStatus("pending", "checking")
	}
	switch s.Status {
	case registry.StatusHealthy:
		return components.RenderStatus("success", fmt.Sprintf("api %g, %s", s.APIVersion, s.ResponseTime.Round(time.Millisecond)))
	case registry.StatusDegraded:
		return components.RenderStatus("warning", "degraded")
	default:
		return components.RenderStatus("error", "unreachable")
	}
}

func (m *Model) viewQuickConnect() string {
	style := boxStyle
	if m.focusState == FocusInput {
		style = focusedBoxStyle
	}
	title := lipgloss.NewStyle().Bold(true).Render("Quick Connect")
	return style.Render(lipgloss.JoinVertical(lipgloss.Left, title, "Host: "+m.quickConnectInput.View()))
}
