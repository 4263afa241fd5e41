package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/plcweb/console/internal/app"
	"github.com/plcweb/console/internal/config"
)

// Version is set at build time.
var Version = "dev"

// errReported marks an error that has already been rendered to the user.
var errReported = errors.New("error reported")

var (
	v       = config.NewViper()
	noColor bool
)

var rootCmd = &cobra.Command{
	Use:   "plcweb",
	Short: "Console for PLC web server JSON-RPC APIs",
	Long: `
"plcweb" talks to the JSON-RPC API of a controller's web server: it logs in,
sends single and bulk requests, transfers files through tickets and opens an
interactive shell.

Settings come from flags, then PLCWEB_* environment variables, then the
selected profile.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	f := rootCmd.PersistentFlags()
	f.String("config", "", "profile file (default $XDG_CONFIG_HOME/plcweb/profiles.yaml)")
	f.StringP("profile", "p", config.DefaultProfileName, "profile to connect with")
	f.StringP("host", "H", "", "controller URL, overrides the profile")
	f.StringP("user", "u", "", "user name, overrides the profile")
	f.String("password", "", "password, overrides the profile")
	f.BoolP("insecure", "k", false, "accept self-signed certificates")
	f.Duration("timeout", 30*time.Second, "request timeout when the profile sets none")
	f.String("log-level", "info", "log level (debug, info, warn, error)")
	f.String("log-format", "text", "log format (text or json)")
	f.String("log-file", "stderr", "log destination (stdout, stderr, discard or a file path)")
	f.Bool("trace", false, "export spans and metrics to stderr")
	f.BoolVar(&noColor, "no-color", false, "disable colored output")

	for key, flag := range map[string]string{
		"config":     "config",
		"profile":    "profile",
		"host":       "host",
		"user":       "user",
		"password":   "password",
		"insecure":   "insecure",
		"timeout":    "timeout",
		"log_level":  "log-level",
		"log_format": "log-format",
		"log_file":   "log-file",
		"trace":      "trace",
	} {
		if err := v.BindPFlag(key, f.Lookup(flag)); err != nil {
			panic(err)
		}
	}
}

// Execute runs the root command with ctx.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// loadEnv decodes flags and environment into an Env.
func loadEnv() (*config.Env, error) {
	return config.LoadEnv(v)
}

// newConfigManager opens the profile file named by --config or the default one.
func newConfigManager() (*config.Manager, error) {
	env, err := loadEnv()
	if err != nil {
		return nil, err
	}
	var opts []config.ManagerOption
	if env.ConfigPath != "" {
		opts = append(opts, config.WithConfigPath(env.ConfigPath))
	}
	return config.NewManager(opts...)
}

// consoleFunc runs against a wired console.
type consoleFunc func(ctx context.Context, c *app.Console) error

// withConsole wires a console from flags and environment, optionally connects
// it, runs fn and closes the console. Errors from fn are rendered as panels.
func withConsole(cmd *cobra.Command, connect bool, fn consoleFunc) error {
	env, err := loadEnv()
	if err != nil {
		return err
	}
	return runConsole(cmd, env, connect, fn)
}

func runConsole(cmd *cobra.Command, env *config.Env, connect bool, fn consoleFunc) error {
	c, err := app.New(env,
		app.WithVersion(Version),
		app.WithPlainOutput(noColor),
		app.WithTraceWriter(cmd.ErrOrStderr()))
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.Close(ctx); err != nil {
			c.Logger.Warn("Failed to close session", "error", err.Error())
		}
	}()

	ctx := cmd.Context()
	if connect {
		if err := c.Connect(ctx); err != nil {
			return report(cmd, c, err)
		}
	}
	if err := fn(ctx, c); err != nil {
		return report(cmd, c, err)
	}
	return nil
}

func report(cmd *cobra.Command, c *app.Console, err error) error {
	if errors.Is(err, errReported) {
		return err
	}
	fmt.Fprintln(cmd.ErrOrStderr(), c.RenderError(err))
	return errReported
}
