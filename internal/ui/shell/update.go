package shell

import (
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m, m.handleKeyInput(msg)

	case tea.WindowSizeMsg:
		m.SetTerminalSize(msg.Width, msg.Height)
		return m, nil

	case commandExecutedMsg:
		return m, m.handleCommandExecuted(msg)

	case spinner.TickMsg:
		if !m.busy {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) handleKeyInput(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "ctrl+c", "ctrl+d":
		if m.cancel != nil {
			m.cancel()
		}
		m.quitting = true
		return tea.Quit

	case "esc":
		if m.busy && m.cancel != nil {
			m.cancel()
		}
		return nil

	case "enter":
		if m.busy {
			return nil
		}
		line := strings.TrimSpace(m.input.Value())
		m.input.SetValue("")
		cmd := m.ExecuteCommand(line)
		if m.busy {
			return tea.Batch(cmd, m.spinner.Tick)
		}
		return cmd

	case "up":
		m.navigateInputHistory(-1)
		return nil

	case "down":
		m.navigateInputHistory(1)
		return nil

	case "pgup", "pgdown":
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return cmd

	case "ctrl+l":
		m.history = nil
		m.refreshViewport()
		return nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return cmd
}

func (m *Model) handleCommandExecuted(msg commandExecutedMsg) tea.Cmd {
	m.busy = false
	m.running = ""
	m.cancel = nil

	m.cfg.Logger.Debug("Shell command finished",
		"command", redactCommand(msg.command),
		"failed", msg.failed,
		"duration_ms", msg.duration.Milliseconds())

	m.addToHistory(HistoryEntry{
		Timestamp: time.Now(),
		Command:   msg.command,
		Output:    msg.output,
		Failed:    msg.failed,
		Duration:  msg.duration,
	})
	return nil
}

// navigateInputHistory moves through previously entered lines.
func (m *Model) navigateInputHistory(direction int) {
	if len(m.inputHistory) == 0 {
		return
	}
	newIndex := m.inputHistoryIndex + direction
	if newIndex < 0 {
		newIndex = 0
	}
	if newIndex >= len(m.inputHistory) {
		m.inputHistoryIndex = len(m.inputHistory)
		m.input.SetValue("")
		return
	}
	m.inputHistoryIndex = newIndex
	m.input.SetValue(m.inputHistory[newIndex])
	m.input.CursorEnd()
}

// redactCommand hides the password argument of :login.
func redactCommand(line string) string {
	fields := strings.Fields(line)
	if len(fields) > 2 && fields[0] == ":login" {
		return strings.Join(fields[:2], " ") + " ****"
	}
	return line
}
