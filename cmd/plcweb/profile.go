package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/plcweb/console/internal/config"
)

var profileCmd = &cobra.Command{
	Use:     "profile",
	Aliases: []string{"profiles"},
	Short:   "Manage connection profiles",
}

var profileAddOpts struct {
	mode         string
	theme        string
	noChecks     bool
	webAppCookie bool
}

var profileAddCmd = &cobra.Command{
	Use:   "add NAME",
	Short: "Add or replace a profile",
	Long: `
"profile add" stores a profile built from --host, --user, --password,
--insecure and --timeout (or their PLCWEB_* variables). The password is
encrypted before it is written.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := loadEnv()
		if err != nil {
			return err
		}
		if env.Host == "" {
			return errors.New("--host is required")
		}
		m, err := newConfigManager()
		if err != nil {
			return err
		}
		profile := &config.Profile{
			Name:                args[0],
			Host:                env.Host,
			User:                env.User,
			Password:            env.Password,
			Mode:                profileAddOpts.mode,
			IncludeWebAppCookie: profileAddOpts.webAppCookie,
			InsecureSkipVerify:  env.Insecure,
			Theme:               profileAddOpts.theme,
		}
		if cmd.Flags().Changed("timeout") {
			profile.RequestTimeout = env.Timeout
		}
		if profileAddOpts.noChecks {
			checks := false
			profile.PerformChecks = &checks
		}
		if err := m.SaveProfile(profile); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Saved profile %s to %s\n", profile.Name, m.GetConfigPath())
		return nil
	},
}

var profileListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List profiles",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := newConfigManager()
		if err != nil {
			return err
		}
		names, err := m.ListProfiles()
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tHOST\tUSER")
		for _, name := range names {
			p, err := m.LoadProfile(name)
			if err != nil {
				return err
			}
			user := p.User
			if user == "" {
				user = "-"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", name, p.Host, user)
		}
		return w.Flush()
	},
}

var profileRemoveCmd = &cobra.Command{
	Use:     "remove NAME",
	Aliases: []string{"rm"},
	Short:   "Remove a profile",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := newConfigManager()
		if err != nil {
			return err
		}
		if err := m.DeleteProfile(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed profile %s\n", args[0])
		return nil
	},
}

func init() {
	f := profileAddCmd.Flags()
	f.StringVar(&profileAddOpts.mode, "mode", "", "login mode passed to Api.Login")
	f.StringVar(&profileAddOpts.theme, "theme", "", "output theme (github or monokai)")
	f.BoolVar(&profileAddOpts.noChecks, "no-checks", false, "skip client-side parameter checks")
	f.BoolVar(&profileAddOpts.webAppCookie, "web-app-cookie", false, "request a web application cookie on login")

	profileCmd.AddCommand(profileAddCmd, profileListCmd, profileRemoveCmd)
	rootCmd.AddCommand(profileCmd)
}
