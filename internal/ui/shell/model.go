// Package shell implements the interactive console: a prompt that sends
// `Method {params}` lines to the controller and meta commands that drive the
// session (:login, :logout, :relogin, :state, :version, :quit).
package shell

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/plcweb/console/internal/auth"
	"github.com/plcweb/console/internal/content"
	"github.com/plcweb/console/internal/jsonrpc"
	"github.com/plcweb/console/internal/logging"
)

// Session is the part of the session manager the shell drives.
type Session interface {
	Initialize(ctx context.Context) (float64, error)
	Login(ctx context.Context, creds auth.Credentials) (*auth.LoginResult, error)
	Logout(ctx context.Context) error
	ReLogin(ctx context.Context, creds *auth.Credentials) (*auth.LoginResult, error)
	State() auth.State
	User() string
	APIVersion() float64
	Touch()
}

// Dispatcher sends single requests.
type Dispatcher interface {
	Send(ctx context.Context, req *jsonrpc.Request) ([]byte, error)
}

// Config carries the shell's collaborators.
type Config struct {
	Profile        string
	Credentials    auth.Credentials
	Session        Session
	Client         Dispatcher
	Builder        *jsonrpc.Builder
	Renderer       *content.Renderer
	Logger         *logging.Logger
	CommandTimeout time.Duration
}

// HistoryEntry is one executed line and its rendered outcome.
type HistoryEntry struct {
	Timestamp time.Time
	Command   string
	Output    string
	Failed    bool
	Duration  time.Duration
}

// Model is the bubbletea model of the shell.
type Model struct {
	cfg Config

	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model

	history           []HistoryEntry
	maxHistorySize    int
	inputHistory      []string
	inputHistoryIndex int

	busy    bool
	running string
	cancel  context.CancelFunc

	width, height int
	quitting      bool
}

// commandExecutedMsg reports the outcome of a line run in the background.
type commandExecutedMsg struct {
	command  string
	output   string
	failed   bool
	quit     bool
	duration time.Duration
}

// NewModel creates the shell model.
func NewModel(cfg Config) *Model {
	if cfg.Builder == nil {
		cfg.Builder = jsonrpc.NewBuilder()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.GetUILogger()
	}
	if cfg.CommandTimeout == 0 {
		cfg.CommandTimeout = 30 * time.Second
	}

	input := textinput.New()
	input.Placeholder = `Method {"param": value} or :help`
	input.Prompt = "› "
	input.Width = 60
	input.Focus()

	return &Model{
		cfg:               cfg,
		input:             input,
		viewport:          viewport.New(80, 20),
		spinner:           spinner.New(spinner.WithSpinner(spinner.MiniDot)),
		maxHistorySize:    500,
		inputHistoryIndex: -1,
	}
}

func (m *Model) Init() tea.Cmd {
	return textinput.Blink
}

// History returns the executed lines.
func (m *Model) History() []HistoryEntry {
	return append([]HistoryEntry(nil), m.history...)
}

// SetTerminalSize updates the layout for the terminal dimensions.
func (m *Model) SetTerminalSize(width, height int) {
	m.width, m.height = width, height
	m.viewport.Width = width
	m.viewport.Height = max(height-headerHeight-inputHeight, 3)
	if width > 10 {
		m.input.Width = width - 6
	}
	m.refreshViewport()
}

func (m *Model) addToHistory(entry HistoryEntry) {
	m.history = append(m.history, entry)
	if len(m.history) > m.maxHistorySize {
		m.history = m.history[len(m.history)-m.maxHistorySize:]
	}
	m.refreshViewport()
}

func (m *Model) addToInputHistory(line string) {
	if n := len(m.inputHistory); n == 0 || m.inputHistory[n-1] != line {
		m.inputHistory = append(m.inputHistory, line)
	}
	m.inputHistoryIndex = len(m.inputHistory)
}
