package menu

import (
	"strconv"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
)

// Update handles messages and updates the model state.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		m.err = nil
		switch m.focusState {
		case FocusList:
			cmds = append(cmds, m.handleListKeys(msg))
		case FocusInput:
			cmds = append(cmds, m.handleInputKeys(msg))
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case profilesLoadedMsg:
		if msg.err != nil {
			m.err = msg.err
			break
		}
		m.entries = msg.profiles
		if m.selectedIndex >= len(m.entries) {
			m.selectedIndex = 0
		}
		cmds = append(cmds, m.checkHealth(), m.tick())

	case healthCheckedMsg:
		m.checking = false
		if msg.err != nil {
			m.err = msg.err
			break
		}
		for _, s := range msg.snapshots {
			m.health[s.Profile] = s
		}

	case tickMsg:
		if !m.checking {
			cmds = append(cmds, m.checkHealth())
		}
		cmds = append(cmds, m.tick())
	}

	if m.focusState == FocusInput {
		var cmd tea.Cmd
		m.quickConnectInput, cmd = m.quickConnectInput.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m *Model) choose(sel Selection) tea.Cmd {
	m.selection = &sel
	return tea.Quit
}

// handleListKeys processes key presses when the profile list is focused.
func (m *Model) handleListKeys(msg tea.KeyMsg) tea.Cmd {
	switch key := msg.String(); key {
	case "ctrl+c", "q", "esc":
		return tea.Quit

	case "up", "k":
		if m.selectedIndex > 0 {
			m.selectedIndex--
		}

	case "down", "j":
		if m.selectedIndex < len(m.entries)-1 {
			m.selectedIndex++
		}

	case "r":
		if !m.checking {
			return m.checkHealth()
		}

	case "enter":
		if m.selectedIndex < len(m.entries) {
			return m.choose(Selection{Profile: m.entries[m.selectedIndex].Name})
		}

	case "tab":
		m.focusState = FocusInput
		return m.quickConnectInput.Focus()

	default:
		if i, err := strconv.Atoi(key); err == nil && i >= 1 && i <= len(m.entries) {
			m.selectedIndex = i - 1
			return m.choose(Selection{Profile: m.entries[m.selectedIndex].Name})
		}
	}
	return nil
}

// handleInputKeys processes key presses when the quick connect input is focused.
func (m *Model) handleInputKeys(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "ctrl+c", "esc":
		return tea.Quit

	case "enter":
		if host := strings.TrimSpace(m.quickConnectInput.Value()); host != "" {
			return m.choose(Selection{Host: host})
		}

	case "tab", "shift+tab":
		m.focusState = FocusList
		m.quickConnectInput.Blur()
	}
	return nil
}
