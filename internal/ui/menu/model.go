// Package menu implements the controller picker: stored profiles with their
// health and a quick connect field for an ad-hoc host. The picker ends with a
// Selection that the caller connects with.
package menu

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/plcweb/console/internal/config"
	"github.com/plcweb/console/internal/registry"
)

// FocusState represents which part of the menu is currently focused.
type FocusState int

const (
	FocusList FocusState = iota
	FocusInput
)

// ProfileSource lists and loads stored profiles.
type ProfileSource interface {
	ListProfiles() ([]string, error)
	LoadProfile(name string) (*config.Profile, error)
}

// Prober checks the health of controllers.
type Prober interface {
	CheckAll(ctx context.Context, profiles []*config.Profile) ([]*registry.HealthSnapshot, error)
}

// Selection is what the user picked. Exactly one of Profile and Host is set.
type Selection struct {
	Profile string
	Host    string
}

// Model is the picker state.
type Model struct {
	profiles ProfileSource
	prober   Prober
	interval time.Duration

	entries           []*config.Profile
	health            map[string]*registry.HealthSnapshot
	selectedIndex     int
	quickConnectInput textinput.Model
	focusState        FocusState
	checking          bool
	selection         *Selection
	err               error

	width  int
	height int
}

// NewModel creates a picker over profiles. Health is refreshed every interval;
// zero disables periodic refresh.
func NewModel(profiles ProfileSource, prober Prober, interval time.Duration) *Model {
	ti := textinput.New()
	ti.Placeholder = "https://192.168.0.1"
	ti.CharLimit = 200
	ti.Width = 50

	return &Model{
		profiles:          profiles,
		prober:            prober,
		interval:          interval,
		quickConnectInput: ti,
		focusState:        FocusList,
		health:            make(map[string]*registry.HealthSnapshot),
	}
}

// Init loads the profiles.
func (m *Model) Init() tea.Cmd {
	return m.reloadProfiles()
}

// Selection returns the user's choice, or nil when the picker was left without one.
func (m *Model) Selection() *Selection {
	return m.selection
}

type (
	profilesLoadedMsg struct {
		profiles []*config.Profile
		err      error
	}

	healthCheckedMsg struct {
		snapshots []*registry.HealthSnapshot
		err       error
	}

	tickMsg struct{}
)

func (m *Model) tick() tea.Cmd {
	if m.interval <= 0 {
		return nil
	}
	return tea.Tick(m.interval, func(time.Time) tea.Msg {
		return tickMsg{}
	})
}

func (m *Model) reloadProfiles() tea.Cmd {
	return func() tea.Msg {
		names, err := m.profiles.ListProfiles()
		if err != nil {
			return profilesLoadedMsg{err: err}
		}
		profiles := make([]*config.Profile, 0, len(names))
		for _, name := range names {
			p, err := m.profiles.LoadProfile(name)
			if err != nil {
				return profilesLoadedMsg{err: err}
			}
			profiles = append(profiles, p)
		}
		return profilesLoadedMsg{profiles: profiles}
	}
}

func (m *Model) checkHealth() tea.Cmd {
	if len(m.entries) == 0 || m.prober == nil {
		return nil
	}
	m.checking = true
	profiles := append([]*config.Profile(nil), m.entries...)
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		snapshots, err := m.prober.CheckAll(ctx, profiles)
		return healthCheckedMsg{snapshots: snapshots, err: err}
	}
}
