package shell

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/plcweb/console/internal/auth"
	apperrors "github.com/plcweb/console/internal/errors"
	"github.com/plcweb/console/internal/jsonrpc"
	"github.com/plcweb/console/internal/protocol"
)

const helpText = `Method {"param": value}   send a JSON-RPC request, e.g. Api.Ping or PlcProgram.Read {"var": "\"DB\".x"}
:login [user [password]]   log in with the profile credentials or the given ones
:logout                    end the session
:relogin                   log out and log in again with the last credentials
:state                     show the session state
:version                   query Api.Version and adopt its request size ceiling
:clear                     clear the output
:quit                      leave the shell`

// ExecuteCommand runs one input line. Meta commands start with a colon; other
// lines are sent as requests. The returned command performs the I/O.
func (m *Model) ExecuteCommand(line string) tea.Cmd {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	m.addToInputHistory(line)

	if strings.HasPrefix(line, ":") {
		return m.handleMetaCommand(line)
	}

	method, params, err := jsonrpc.ParseCallLine(line)
	if err != nil {
		m.addToHistory(HistoryEntry{Timestamp: time.Now(), Command: line, Output: m.renderError(err), Failed: true})
		return nil
	}
	return m.run(line, func(ctx context.Context) (string, error) {
		req, err := m.cfg.Builder.Build(method, params, "")
		if err != nil {
			return "", err
		}
		body, err := m.cfg.Client.Send(ctx, req)
		if err != nil {
			return "", err
		}
		m.cfg.Session.Touch()
		resp, err := jsonrpc.ParseResponse(body)
		if err != nil {
			return "", &protocol.ProtocolError{Op: method, Message: "malformed response", Err: err}
		}
		return m.cfg.Renderer.RenderResponse(resp)
	})
}

func (m *Model) handleMetaCommand(line string) tea.Cmd {
	fields := strings.Fields(strings.TrimPrefix(line, ":"))
	name, args := "", []string(nil)
	if len(fields) > 0 {
		name, args = fields[0], fields[1:]
	}

	switch name {
	case "quit", "q", "exit":
		m.quitting = true
		return tea.Quit

	case "help", "h":
		m.addToHistory(HistoryEntry{Timestamp: time.Now(), Command: line, Output: helpText})
		return nil

	case "clear":
		m.history = nil
		m.refreshViewport()
		return nil

	case "state":
		m.addToHistory(HistoryEntry{Timestamp: time.Now(), Command: line, Output: m.describeSession()})
		return nil

	case "login":
		creds := m.cfg.Credentials
		if len(args) > 0 {
			creds.User = args[0]
		}
		if len(args) > 1 {
			creds.Password = args[1]
		}
		return m.run(line, func(ctx context.Context) (string, error) {
			if _, err := m.cfg.Session.Login(ctx, creds); err != nil {
				return "", err
			}
			return fmt.Sprintf("Logged in as %s", creds.User), nil
		})

	case "logout":
		return m.run(line, func(ctx context.Context) (string, error) {
			if err := m.cfg.Session.Logout(ctx); err != nil {
				return "", err
			}
			return "Logged out", nil
		})

	case "relogin":
		return m.run(line, func(ctx context.Context) (string, error) {
			if _, err := m.cfg.Session.ReLogin(ctx, nil); err != nil {
				return "", err
			}
			return fmt.Sprintf("Logged in again as %s", m.cfg.Session.User()), nil
		})

	case "version":
		return m.run(line, func(ctx context.Context) (string, error) {
			v, err := m.cfg.Session.Initialize(ctx)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("API version %g, request size limit %d bytes", v, protocol.MaxRequestSizeFor(v)), nil
		})

	default:
		err := fmt.Errorf("unknown command %q, type :help for the list", ":"+name)
		m.addToHistory(HistoryEntry{Timestamp: time.Now(), Command: line, Output: m.renderError(err), Failed: true})
		return nil
	}
}

// run executes fn in the background with a cancellable deadline.
func (m *Model) run(line string, fn func(ctx context.Context) (string, error)) tea.Cmd {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.CommandTimeout)
	m.cancel = cancel
	m.busy = true
	m.running = line

	return func() tea.Msg {
		defer cancel()
		start := time.Now()
		output, err := fn(ctx)
		msg := commandExecutedMsg{command: line, output: output, duration: time.Since(start)}
		if err != nil {
			msg.output = m.renderError(err)
			msg.failed = true
		}
		return msg
	}
}

func (m *Model) renderError(err error) string {
	ce := apperrors.NewHandler("shell").Process(err, "")
	if m.cfg.Renderer == nil {
		return ce.GetUserMessage()
	}
	out, rerr := m.cfg.Renderer.RenderError(ce)
	if rerr != nil {
		return ce.GetUserMessage()
	}
	return out
}

func (m *Model) describeSession() string {
	s := m.cfg.Session
	desc := fmt.Sprintf("Session %s", s.State())
	if user := s.User(); user != "" && s.State() == auth.Authenticated {
		desc += " as " + user
	}
	if v := s.APIVersion(); v > 0 {
		desc += fmt.Sprintf(", API version %g", v)
	}
	return desc
}
