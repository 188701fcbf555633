package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/toolchat/internal/tools/builtin"
)

func init() {
	rootCmd.AddCommand(toolsCmd)
	toolsCmd.AddCommand(toolsListCmd, toolsCallCmd, toolsCheckCmd)
}

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "Inspect and call tools",
}

var toolsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List discovered tools",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a := mustApp()
		defer a.close()
		a.discover(cmd.Context())

		entries := a.registry.Entries()
		if len(entries) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No tools available.")
			return nil
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tPROVIDER\tDESCRIPTION")
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%s\t%s\n", e.Descriptor.Name, e.ProviderID, e.Descriptor.Description)
		}
		return w.Flush()
	},
}

var toolsCallCmd = &cobra.Command{
	Use:   "call <name> [json-arguments]",
	Short: "Invoke a tool directly",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a := mustApp()
		defer a.close()
		a.discover(cmd.Context())

		arguments := "{}"
		if len(args) == 2 {
			arguments = args[1]
		}
		result, err := a.registry.Invoke(cmd.Context(), args[0], arguments)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), result)
		return nil
	},
}

var toolsCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Ping every configured tool provider",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a := mustApp()
		defer a.close()

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "PROVIDER\tSTATUS\tLATENCY")
		failed := 0
		for _, p := range a.mcp {
			ctx, cancel := context.WithTimeout(cmd.Context(), seconds(a.cfg.Tools.DiscoveryTimeoutSeconds))
			start := time.Now()
			err := p.Ping(ctx)
			cancel()
			status := "ok"
			if err != nil {
				status = "error: " + err.Error()
				failed++
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", p.ID(), status, time.Since(start).Truncate(time.Millisecond))
		}
		if a.cfg.Tools.Builtin {
			fmt.Fprintf(w, "%s\t%s\t-\n", builtin.ProviderID, "ok")
		}
		if err := w.Flush(); err != nil {
			return err
		}
		if failed > 0 {
			return fmt.Errorf("%d provider(s) unreachable", failed)
		}
		return nil
	},
}
