package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/toolchat/internal/types"
	"github.com/user/toolchat/pkg/llm"
)

func init() {
	rootCmd.AddCommand(conversationCmd)
	conversationCmd.AddCommand(conversationListCmd, conversationShowCmd, conversationClearCmd, conversationCompactCmd)
}

var conversationCmd = &cobra.Command{
	Use:     "conversation",
	Aliases: []string{"conv"},
	Short:   "Manage stored conversations",
}

var conversationListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored conversations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a := mustApp()
		defer a.close()

		list, err := a.conversations.List(cmd.Context())
		if err != nil {
			return fmt.Errorf("list conversations: %w", err)
		}
		if len(list) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No conversations found.")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "KEY\tTURNS\tCREATED\tUPDATED")
		for _, c := range list {
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\n",
				c.Key, c.Turns, c.CreatedAt.Format(time.DateTime), c.UpdatedAt.Format(time.DateTime))
		}
		return w.Flush()
	},
}

var conversationShowCmd = &cobra.Command{
	Use:   "show <key>",
	Short: "Print the turns of a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a := mustApp()
		defer a.close()

		conv, err := a.runtime.History(cmd.Context(), types.ConversationKey(args[0]))
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(conv) == 0 {
			fmt.Fprintln(out, "Conversation is empty.")
			return nil
		}
		for _, t := range conv {
			fmt.Fprintf(out, "%s: %s\n", t.Role().Label(), turnText(t))
		}
		fmt.Fprintf(out, "\n%d turns, ~%d tokens\n", len(conv), a.engine.CountTokens(conv))
		return nil
	},
}

func turnText(t llm.Turn) string {
	text := t.Text()
	if at, ok := t.(llm.AssistantTurn); ok && len(at.ToolCalls) > 0 {
		names := make([]string, len(at.ToolCalls))
		for i, c := range at.ToolCalls {
			names[i] = c.Name
		}
		text = strings.TrimSpace(text + " [tools: " + strings.Join(names, ", ") + "]")
	}
	return text
}

var conversationClearCmd = &cobra.Command{
	Use:   "clear <key|all>",
	Short: "Delete a conversation or all conversations",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a := mustApp()
		defer a.close()
		ctx := cmd.Context()

		keys := []types.ConversationKey{types.ConversationKey(args[0])}
		if args[0] == "all" {
			list, err := a.conversations.List(ctx)
			if err != nil {
				return fmt.Errorf("list conversations: %w", err)
			}
			keys = keys[:0]
			for _, c := range list {
				keys = append(keys, c.Key)
			}
		}
		for _, k := range keys {
			if err := a.runtime.Reset(ctx, k); err != nil {
				return fmt.Errorf("clear %s: %w", k, err)
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d conversation(s).\n", len(keys))
		return nil
	},
}

var conversationCompactCmd = &cobra.Command{
	Use:   "compact <key>",
	Short: "Summarize the older turns of a conversation now",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a := mustApp()
		defer a.close()

		n, err := a.runtime.Compact(cmd.Context(), types.ConversationKey(args[0]))
		if err != nil {
			return err
		}
		if n == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "Nothing to compact (%d turns or fewer are kept verbatim).\n", a.cfg.Compaction.RecentWindow)
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Compacted %d turns into a summary.\n", n)
		return nil
	},
}
