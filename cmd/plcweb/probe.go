package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/plcweb/console/internal/app"
	"github.com/plcweb/console/internal/config"
	"github.com/plcweb/console/internal/protocol"
	"github.com/plcweb/console/internal/registry"
	"github.com/plcweb/console/internal/ui/components"
)

var probeOpts struct {
	all      bool
	repeat   int
	interval time.Duration
}

var snapshotStatus = map[string]string{
	registry.StatusHealthy:     "success",
	registry.StatusDegraded:    "warning",
	registry.StatusUnreachable: "error",
}

var probeCmd = &cobra.Command{
	Use:   "probe [PROFILE...]",
	Short: "Check that controllers answer Api.Ping and Api.Version",
	Long: `
"probe" checks each named profile, every profile with --all, or the current
profile when none is named. No login is performed. With --repeat the
checks run several rounds and an availability summary follows.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withConsole(cmd, false, func(ctx context.Context, c *app.Console) error {
			profiles, err := probeTargets(c, args)
			if err != nil {
				return err
			}
			rounds := max(probeOpts.repeat, 1)
			var snapshots []*registry.HealthSnapshot
			start := time.Now()
			for round := 0; round < rounds; round++ {
				if round > 0 {
					select {
					case <-ctx.Done():
						return &protocol.CancelledError{Op: "probe", Err: ctx.Err()}
					case <-time.After(probeOpts.interval):
					}
				}
				if snapshots, err = c.Health.CheckAll(ctx, profiles); err != nil {
					return err
				}
				for _, s := range snapshots {
					fmt.Fprintln(cmd.OutOrStdout(), formatSnapshot(s))
				}
			}
			if rounds > 1 {
				for _, p := range profiles {
					trends, err := c.Health.GetHealthTrends(p.Name, time.Since(start)+time.Second)
					if err != nil {
						continue
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %.0f%% available over %d checks, avg %s, %s\n",
						p.Name, trends.UptimePercentage, trends.SampleCount,
						trends.AverageResponseTime.Round(time.Millisecond), trends.AvailabilityTrend)
				}
			}

			unhealthy := 0
			for _, s := range snapshots {
				if s.Status != registry.StatusHealthy {
					unhealthy++
				}
			}
			if unhealthy > 0 {
				return fmt.Errorf("%d of %d controllers are not healthy", unhealthy, len(snapshots))
			}
			return nil
		})
	},
}

func probeTargets(c *app.Console, names []string) ([]*config.Profile, error) {
	if probeOpts.all {
		all, err := c.Config.ListProfiles()
		if err != nil {
			return nil, err
		}
		names = all
	}
	if len(names) == 0 {
		return []*config.Profile{c.Profile}, nil
	}
	profiles := make([]*config.Profile, 0, len(names))
	for _, name := range names {
		p, err := c.Config.LoadProfile(name)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	return profiles, nil
}

func formatSnapshot(s *registry.HealthSnapshot) string {
	msg := fmt.Sprintf("%s %s %s in %s", s.Profile, s.Host, s.Status, s.ResponseTime.Round(time.Millisecond))
	if s.APIVersion > 0 {
		msg += fmt.Sprintf(", api %g (limit %d bytes)", s.APIVersion, s.MaxRequestSize)
	}
	if s.Error != "" {
		msg += ": " + s.Error
	}
	for _, r := range s.Recommendations {
		msg += "\n    " + r
	}
	return components.RenderStatus(snapshotStatus[s.Status], msg)
}

func init() {
	f := probeCmd.Flags()
	f.BoolVarP(&probeOpts.all, "all", "a", false, "probe every stored profile")
	f.IntVarP(&probeOpts.repeat, "repeat", "n", 1, "number of check rounds")
	f.DurationVar(&probeOpts.interval, "interval", 5*time.Second, "pause between rounds")
	rootCmd.AddCommand(probeCmd)
}
