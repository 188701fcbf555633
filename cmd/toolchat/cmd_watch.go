package main

import (
	"context"
	"fmt"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/toolchat/internal/delivery"
	"github.com/user/toolchat/internal/scheduler"
	"github.com/user/toolchat/internal/state"
	"github.com/user/toolchat/internal/types"
)

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.AddCommand(watchAddCmd, watchListCmd, watchRemoveCmd, watchEnableCmd, watchDisableCmd, watchRunCmd)

	watchAddCmd.Flags().String("asset", "bitcoin", "asset id to monitor")
	watchAddCmd.Flags().String("schedule", "@every 10s", "cron schedule expression")
	watchAddCmd.Flags().String("notify", "", "conversation key to notify, e.g. telegram:<user>:<chat> or log:")
}

func watchStore() *state.WatchStore {
	cfg := loadConfig()
	return state.NewWatchStore(filepath.Join(cfg.DataDir, "watches.json"))
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Manage price watches",
}

var watchAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add a price watch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asset, _ := cmd.Flags().GetString("asset")
		schedule, _ := cmd.Flags().GetString("schedule")
		notify, _ := cmd.Flags().GetString("notify")

		if err := scheduler.ValidateSchedule(schedule); err != nil {
			return err
		}
		w := &types.Watch{
			Name:      args[0],
			Asset:     asset,
			Schedule:  schedule,
			NotifyKey: notify,
			Enabled:   true,
		}
		if err := watchStore().Add(w); err != nil {
			return fmt.Errorf("add watch: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Watch %q added (%s, %s). Restart the daemon to apply.\n", w.Name, w.Asset, w.Schedule)
		return nil
	},
}

var watchListCmd = &cobra.Command{
	Use:   "list",
	Short: "List price watches",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		watches, err := watchStore().List()
		if err != nil {
			return fmt.Errorf("list watches: %w", err)
		}
		if len(watches) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No watches configured.")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tASSET\tSCHEDULE\tENABLED\tNOTIFY\tLAST RUN\tLAST ERROR")
		for _, wt := range watches {
			last := "-"
			if wt.LastRunAt != nil {
				last = wt.LastRunAt.Format(time.DateTime)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%s\t%s\t%s\n",
				wt.Name, wt.Asset, wt.Schedule, wt.Enabled, wt.NotifyKey, last, wt.LastError)
		}
		return w.Flush()
	},
}

var watchRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a price watch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := watchStore().Remove(args[0]); err != nil {
			return fmt.Errorf("remove watch: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Watch %q removed.\n", args[0])
		return nil
	},
}

var watchEnableCmd = &cobra.Command{
	Use:   "enable <name>",
	Short: "Enable a price watch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := watchStore().SetEnabled(args[0], true); err != nil {
			return fmt.Errorf("enable watch: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Watch %q enabled.\n", args[0])
		return nil
	},
}

var watchDisableCmd = &cobra.Command{
	Use:   "disable <name>",
	Short: "Disable a price watch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := watchStore().SetEnabled(args[0], false); err != nil {
			return fmt.Errorf("disable watch: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Watch %q disabled.\n", args[0])
		return nil
	},
}

var watchRunCmd = &cobra.Command{
	Use:   "run <name>",
	Short: "Run one price check now",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a := mustApp()
		defer a.close()

		w, err := a.watches.Get(args[0])
		if err != nil {
			return err
		}
		a.discover(cmd.Context())

		// Telegram keys are delivered by the daemon; here the summary is printed.
		out := cmd.OutOrStdout()
		notify := delivery.NewRegistry()
		notify.Register("", func(_ context.Context, key, message string) error {
			fmt.Fprintf(out, "[%s] %s\n", key, message)
			return nil
		})
		a.monitor.SetNotifier(notify)

		reading, err := a.monitor.Check(cmd.Context(), w)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s: $%v at %s\n\n%s\n", reading.Asset, reading.Price, reading.At.Format(time.DateTime), reading.Analysis)
		return nil
	},
}
