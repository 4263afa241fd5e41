package shell

import (
	"net/http/httptest"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/plcweb/console/internal/auth"
	"github.com/plcweb/console/internal/content"
	"github.com/plcweb/console/internal/jsonrpc"
	"github.com/plcweb/console/internal/logging"
	"github.com/plcweb/console/internal/plcsim"
	"github.com/plcweb/console/internal/protocol"
)

func newShell(t *testing.T) (*Model, *auth.Manager) {
	t.Helper()
	logger, _ := logging.NewLogger(logging.Config{Output: "discard"})
	logging.SetGlobalLogger(logger)

	sim := plcsim.New(plcsim.Config{
		APIVersion: 2.0,
		Variables:  map[string]interface{}{`"DB".speed`: 42},
		Logger:     logger,
	})
	ts := httptest.NewServer(sim)
	t.Cleanup(ts.Close)

	client, err := protocol.NewClient(ts.URL, protocol.WithLogger(logger))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { client.Close() })

	renderer, err := content.NewRenderer(nil, content.WithPlainOutput())
	if err != nil {
		t.Fatal(err)
	}
	builder := jsonrpc.NewBuilder()
	session := auth.NewManager(client, builder, auth.WithLogger(logger))

	m := NewModel(Config{
		Profile:     "sim",
		Credentials: auth.Credentials{User: "admin", Password: "admin"},
		Session:     session,
		Client:      client,
		Builder:     builder,
		Renderer:    renderer,
		Logger:      logger,
	})
	return m, session
}

// exec runs a line to completion the way the bubbletea runtime would.
func exec(t *testing.T, m *Model, line string) HistoryEntry {
	t.Helper()
	before := len(m.history)
	if cmd := m.ExecuteCommand(line); cmd != nil {
		m.Update(cmd())
	}
	if len(m.history) != before+1 {
		t.Fatalf("%q added %d history entries", line, len(m.history)-before)
	}
	return m.history[len(m.history)-1]
}

func TestShellSessionCommands(t *testing.T) {
	m, session := newShell(t)

	if e := exec(t, m, ":login"); e.Failed || e.Output != "Logged in as admin" {
		t.Fatalf("login: %+v", e)
	}
	if session.State() != auth.Authenticated {
		t.Fatalf("state %s", session.State())
	}

	if e := exec(t, m, ":state"); !strings.Contains(e.Output, "authenticated as admin") {
		t.Errorf("state output %q", e.Output)
	}

	if e := exec(t, m, ":version"); !strings.Contains(e.Output, "request size limit 131072 bytes") {
		t.Errorf("version output %q", e.Output)
	}

	if e := exec(t, m, ":relogin"); e.Failed {
		t.Errorf("relogin: %s", e.Output)
	}

	if e := exec(t, m, ":logout"); e.Failed || session.State() != auth.Unauthenticated {
		t.Errorf("logout: %+v, state %s", e, session.State())
	}
	if m.busy {
		t.Error("model still busy")
	}
}

func TestShellSendsRequests(t *testing.T) {
	m, _ := newShell(t)
	exec(t, m, ":login")

	e := exec(t, m, `PlcProgram.Read {"var": "\"DB\".speed"}`)
	if e.Failed || e.Output != "42" {
		t.Errorf("read: %+v", e)
	}

	e = exec(t, m, `PlcProgram.Read {"var": "missing"}`)
	if !e.Failed || !strings.Contains(e.Output, "Address does not exist") {
		t.Errorf("missing variable: %+v", e)
	}
}

func TestShellRejectsBadInput(t *testing.T) {
	m, _ := newShell(t)

	if e := exec(t, m, `Api.Ping {"broken"`); !e.Failed {
		t.Errorf("malformed params accepted: %+v", e)
	}
	if e := exec(t, m, ":frobnicate"); !e.Failed || !strings.Contains(e.Output, "unknown command") {
		t.Errorf("unknown command: %+v", e)
	}
	if e := exec(t, m, ":relogin"); !e.Failed {
		t.Errorf("relogin without previous login: %+v", e)
	}
	if m.ExecuteCommand("   ") != nil {
		t.Error("blank line produced a command")
	}
}

func TestShellKeysAndHistory(t *testing.T) {
	m, _ := newShell(t)
	m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})

	m.input.SetValue(":help")
	m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if len(m.History()) != 1 || !strings.Contains(m.History()[0].Output, ":relogin") {
		t.Fatalf("history %+v", m.History())
	}
	if m.input.Value() != "" {
		t.Errorf("input not cleared: %q", m.input.Value())
	}

	m.Update(tea.KeyMsg{Type: tea.KeyUp})
	if m.input.Value() != ":help" {
		t.Errorf("history recall %q", m.input.Value())
	}
	m.Update(tea.KeyMsg{Type: tea.KeyDown})
	if m.input.Value() != "" {
		t.Errorf("input after down %q", m.input.Value())
	}

	if !strings.Contains(m.View(), "sim") {
		t.Errorf("header missing profile:\n%s", m.View())
	}

	m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	if m.View() != "" {
		t.Error("view not cleared after quit")
	}
}

func TestRedactCommand(t *testing.T) {
	if got := redactCommand(":login admin secret"); got != ":login admin ****" {
		t.Errorf("got %q", got)
	}
	if got := redactCommand("Api.Ping"); got != "Api.Ping" {
		t.Errorf("got %q", got)
	}
}
