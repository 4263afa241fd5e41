package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/plcweb/console/internal/app"
	"github.com/plcweb/console/internal/jsonrpc"
	"github.com/plcweb/console/internal/protocol"
	"github.com/plcweb/console/internal/ui/bulk"
)

var callID string

var callCmd = &cobra.Command{
	Use:   `call METHOD [{"param": value}]`,
	Short: "Send one JSON-RPC request",
	Example: `  plcweb call Api.Ping
  plcweb call PlcProgram.Read '{"var": "\"DB\".speed"}'`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withConsole(cmd, true, func(ctx context.Context, c *app.Console) error {
			method, params, err := jsonrpc.ParseCallLine(strings.Join(args, " "))
			if err != nil {
				return err
			}
			req, err := c.Builder.Build(method, params, callID)
			if err != nil {
				return err
			}
			body, err := c.Client.Send(ctx, req)
			if err != nil {
				return err
			}
			c.Session.Touch()
			resp, err := jsonrpc.ParseResponse(body)
			if err != nil {
				return err
			}
			out, err := c.Renderer.RenderResponse(resp)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		})
	},
}

var bulkCmd = &cobra.Command{
	Use:   "bulk FILE",
	Short: "Send requests from a file, one call per line, in size-limited chunks",
	Long: `
"bulk" reads lines of the form 'Method {"param": value}' from FILE ("-" for
stdin). Blank lines and lines starting with # are skipped. Requests are split
into chunks that fit the controller's request size limit; a failing chunk
stops the run and later chunks are not sent.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withConsole(cmd, true, func(ctx context.Context, c *app.Console) error {
			reqs, err := readBulkFile(c.Builder, args[0], cmd.InOrStdin())
			if err != nil {
				return err
			}
			result, err := bulk.Run(ctx, c.Client, reqs, cmd.ErrOrStderr())
			var bulkErr *protocol.BulkRequestError
			if errors.As(err, &bulkErr) {
				fmt.Fprintln(cmd.OutOrStdout(), c.Renderer.RenderBulkError(bulkErr))
				return errReported
			}
			if err != nil {
				return err
			}
			c.Session.Touch()
			fmt.Fprintln(cmd.OutOrStdout(), c.Renderer.RenderBulk(result))
			stats := c.Client.Statistics()
			fmt.Fprintf(cmd.ErrOrStderr(), "%d HTTP requests, %d bytes sent, %d bytes received, avg %s\n",
				stats.TotalRequests, stats.BytesSent, stats.BytesReceived, stats.AverageResponseTime.Round(time.Millisecond))
			return nil
		})
	},
}

func readBulkFile(b *jsonrpc.Builder, path string, stdin io.Reader) ([]*jsonrpc.Request, error) {
	r := stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}

	var reqs []*jsonrpc.Request
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), protocol.MaxRequestSizeHigh)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		method, params, err := jsonrpc.ParseCallLine(text)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		req, err := b.Build(method, params, "")
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		reqs = append(reqs, req)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(reqs) == 0 {
		return nil, errors.New("no requests to send")
	}
	return reqs, nil
}

func init() {
	callCmd.Flags().StringVar(&callID, "id", "", "correlation id (generated when empty)")
	rootCmd.AddCommand(callCmd, bulkCmd)
}
