// Command plcsim runs a simulated controller web server exposing the JSON-RPC
// and ticket endpoints, for local development against the console.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/net/netutil"

	"github.com/plcweb/console/internal/logging"
	"github.com/plcweb/console/internal/plcsim"
)

type options struct {
	addr           string
	apiVersion     float64
	maxRequestSize int
	maxConns       int
	users          map[string]string
	variables      map[string]string
	origins        []string
	tokenTTL       time.Duration
	certFile       string
	keyFile        string
	logLevel       string
	logFormat      string
}

func main() {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "plcsim",
		Short: "Simulated PLC web server",
		Long: `
"plcsim" serves /api/jsonrpc and /api/ticket the way a controller's web server does,
with in-memory users, variables, files and tickets.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.addr, "addr", "127.0.0.1:8080", "listen address")
	f.Float64Var(&opts.apiVersion, "api-version", 1.0, "version reported by Api.Version")
	f.IntVar(&opts.maxRequestSize, "max-request-size", 0, "request size ceiling in bytes (default derived from --api-version)")
	f.IntVar(&opts.maxConns, "max-conns", 16, "maximum simultaneous connections")
	f.StringToStringVar(&opts.users, "user", map[string]string{"admin": "admin"}, "user=password pairs")
	f.StringToStringVar(&opts.variables, "var", nil, "variable=json pairs readable through PlcProgram.Read")
	f.StringSliceVar(&opts.origins, "cors-origin", []string{"*"}, "allowed CORS origins")
	f.DurationVar(&opts.tokenTTL, "token-ttl", 30*time.Minute, "session token lifetime")
	f.StringVar(&opts.certFile, "tls-cert", "", "TLS certificate file")
	f.StringVar(&opts.keyFile, "tls-key", "", "TLS key file")
	f.StringVar(&opts.logLevel, "log-level", "info", "log level")
	f.StringVar(&opts.logFormat, "log-format", "text", "log format (text or json)")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := cmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, opts *options) error {
	logger, err := logging.NewLogger(logging.Config{
		Level:     logging.ParseLevel(opts.logLevel),
		Format:    opts.logFormat,
		Output:    "stderr",
		Component: "plcsim",
	})
	if err != nil {
		return err
	}

	variables := make(map[string]interface{}, len(opts.variables))
	for name, raw := range opts.variables {
		var v interface{}
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return fmt.Errorf("variable %s: invalid JSON value: %w", name, err)
		}
		variables[name] = v
	}

	sim := plcsim.New(plcsim.Config{
		Users:          opts.users,
		APIVersion:     opts.apiVersion,
		MaxRequestSize: opts.maxRequestSize,
		Variables:      variables,
		TokenTTL:       opts.tokenTTL,
		AllowedOrigins: opts.origins,
		Logger:         logger,
	})

	srv := &http.Server{
		Addr:              opts.addr,
		Handler:           sim,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          log.New(logging.NewSlogWriter(logger, slog.LevelError), "", 0),
	}

	listener, err := net.Listen("tcp", opts.addr)
	if err != nil {
		return fmt.Errorf("failed to start listener: %w", err)
	}
	limited := netutil.LimitListener(listener, opts.maxConns)

	errCh := make(chan error, 1)
	go func() {
		tls := opts.certFile != "" && opts.keyFile != ""
		logger.Info("Serving simulated controller",
			"addr", listener.Addr().String(),
			"tls", tls,
			"api_version", opts.apiVersion,
			"max_request_size", sim.MaxRequestSize())
		var err error
		if tls {
			err = srv.ServeTLS(limited, opts.certFile, opts.keyFile)
		} else {
			err = srv.Serve(limited)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to stop the server gracefully", "error", err.Error())
		return err
	}
	logger.Info("Server stopped gracefully", "requests", sim.RequestCount())
	return nil
}
