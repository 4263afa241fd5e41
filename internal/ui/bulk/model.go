// Package bulk shows the progress of a chunked bulk call in the terminal.
package bulk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/plcweb/console/internal/jsonrpc"
	"github.com/plcweb/console/internal/protocol"
	"github.com/plcweb/console/internal/ui/components"
)

// Sender dispatches a batch in chunks.
type Sender interface {
	SendBulk(ctx context.Context, reqs []*jsonrpc.Request, opts ...protocol.BulkOption) (*protocol.BulkResponse, error)
}

// ChunkMsg carries a chunk event into the model.
type ChunkMsg protocol.ChunkEvent

// DoneMsg reports the outcome of the bulk call.
type DoneMsg struct {
	Response *protocol.BulkResponse
	Err      error
}

// Model renders a spinner, the current chunk and a progress bar.
type Model struct {
	spinner  spinner.Model
	progress progress.Model

	total      int
	completed  int
	chunk      protocol.ChunkEvent
	chunksDone int

	response *protocol.BulkResponse
	err      error
	done     bool
}

// NewModel creates a model for a batch of total requests.
func NewModel(total int) Model {
	return Model{
		spinner:  spinner.New(spinner.WithSpinner(spinner.Dot)),
		progress: progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		total:    total,
	}
}

func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			m.err = &protocol.CancelledError{Op: "bulk", Err: context.Canceled}
			m.done = true
			return m, tea.Quit
		}
	case ChunkMsg:
		ev := protocol.ChunkEvent(msg)
		m.chunk = ev
		if ev.Requests > 0 {
			m.total = ev.Requests
		}
		if ev.Done {
			m.chunksDone = ev.Index + 1
			if ev.Err == nil {
				m.completed = ev.End
			}
		}
	case DoneMsg:
		m.response, m.err, m.done = msg.Response, msg.Err, true
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// Percent returns the acknowledged share of the batch in [0, 1].
func (m Model) Percent() float64 {
	if m.total == 0 {
		return 0
	}
	return float64(m.completed) / float64(m.total)
}

// Result returns the outcome once DoneMsg was received.
func (m Model) Result() (*protocol.BulkResponse, error) {
	return m.response, m.err
}

func (m Model) View() string {
	if m.done {
		if m.err != nil {
			return components.RenderStatus("error", fmt.Sprintf("%d of %d requests acknowledged before the failure", m.completed, m.total)) + "\n"
		}
		return components.RenderStatus("complete", fmt.Sprintf("%d requests sent in %d chunk(s)", m.total, m.chunksDone)) + "\n"
	}

	var b strings.Builder
	b.WriteString(m.spinner.View())
	if m.chunk.Count > 0 {
		fmt.Fprintf(&b, " chunk %d/%d: requests %d-%d of %d (%d bytes)",
			m.chunk.Index+1, m.chunk.Count, m.chunk.Start+1, m.chunk.End, m.total, m.chunk.Bytes)
	} else {
		b.WriteString(" planning chunks")
	}
	b.WriteString("\n")
	b.WriteString(m.progress.ViewAs(m.Percent()))
	b.WriteString("\n")
	return b.String()
}

// Run sends reqs through sender while drawing progress to out. The bulk
// call's own result and error are returned once it finishes. Signals are left
// to the caller, which cancels ctx to stop the run.
func Run(ctx context.Context, sender Sender, reqs []*jsonrpc.Request, out io.Writer) (*protocol.BulkResponse, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(NewModel(len(reqs)),
		tea.WithContext(ctx),
		tea.WithOutput(out),
		tea.WithInput(nil),
		tea.WithoutSignalHandler())
	go func() {
		resp, err := sender.SendBulk(ctx, reqs, protocol.WithChunkObserver(func(ev protocol.ChunkEvent) {
			p.Send(ChunkMsg(ev))
		}))
		p.Send(DoneMsg{Response: resp, Err: err})
	}()

	final, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil, &protocol.CancelledError{Op: "bulk", Err: ctx.Err()}
	}
	if errors.Is(err, tea.ErrInterrupted) {
		return nil, &protocol.CancelledError{Op: "bulk", Err: context.Canceled}
	}
	if err != nil {
		return nil, fmt.Errorf("progress view failed: %w", err)
	}
	return final.(Model).Result()
}
