package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/plcweb/console/internal/app"
	"github.com/plcweb/console/internal/config"
	"github.com/plcweb/console/internal/logging"
	"github.com/plcweb/console/internal/registry"
	"github.com/plcweb/console/internal/ui/menu"
)

var newPassword string

var passwdCmd = &cobra.Command{
	Use:   "passwd",
	Short: "Change the password of the profile's user",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if newPassword == "" {
			return errors.New("--new is required")
		}
		return withConsole(cmd, false, func(ctx context.Context, c *app.Console) error {
			if c.Profile.User == "" {
				return errors.New("the profile has no user")
			}
			if err := c.Session.ChangePassword(ctx, c.Profile.User, c.Profile.Password, newPassword); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Password changed for %s\n", c.Profile.User)
			return nil
		})
	},
}

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Open an interactive JSON-RPC shell",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := loadEnv()
		if err != nil {
			return err
		}
		return runShell(cmd, env)
	},
}

var menuCmd = &cobra.Command{
	Use:   "menu",
	Short: "Pick a controller from the stored profiles and open a shell",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := loadEnv()
		if err != nil {
			return err
		}
		quietLogs(env)
		logger, err := logging.NewLogger(logging.Config{
			Level:  logging.ParseLevel(env.LogLevel),
			Format: env.LogFormat,
			Output: env.LogFile,
		})
		if err != nil {
			return err
		}
		m, err := newConfigManager()
		if err != nil {
			return err
		}

		picker := menu.NewModel(m, registry.NewHealthMonitor(registry.WithMonitorLogger(logger)), 30*time.Second)
		p := tea.NewProgram(picker,
			tea.WithAltScreen(),
			tea.WithContext(cmd.Context()),
			tea.WithOutput(cmd.OutOrStdout()),
			tea.WithoutSignalHandler())
		if _, err := p.Run(); err != nil {
			if errors.Is(err, tea.ErrProgramKilled) {
				return nil
			}
			return fmt.Errorf("menu failed: %w", err)
		}

		sel := picker.Selection()
		if sel == nil {
			return nil
		}
		env.Profile, env.Host = sel.Profile, sel.Host
		return runShell(cmd, env)
	},
}

// quietLogs moves console logging off the terminal while a full-screen view runs.
func quietLogs(env *config.Env) {
	if env.LogFile == "stderr" || env.LogFile == "stdout" {
		env.LogFile = "discard"
	}
}

func runShell(cmd *cobra.Command, env *config.Env) error {
	quietLogs(env)
	return runConsole(cmd, env, true, func(ctx context.Context, c *app.Console) error {
		p := tea.NewProgram(c.Shell(),
			tea.WithAltScreen(),
			tea.WithContext(ctx),
			tea.WithOutput(cmd.OutOrStdout()),
			tea.WithoutSignalHandler())
		if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
			return fmt.Errorf("shell failed: %w", err)
		}
		return nil
	})
}

func init() {
	passwdCmd.Flags().StringVar(&newPassword, "new", "", "new password")
	rootCmd.AddCommand(passwdCmd, shellCmd, menuCmd)
}
