package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/user/toolchat/internal/runtime"
	"github.com/user/toolchat/internal/types"
)

var (
	chatKey string
	chatRaw bool
)

func init() {
	rootCmd.AddCommand(chatCmd, askCmd)
	for _, c := range []*cobra.Command{chatCmd, askCmd} {
		c.Flags().StringVar(&chatKey, "conversation", "cli:default", "conversation key")
		c.Flags().BoolVar(&chatRaw, "raw", false, "print replies without markdown rendering")
	}
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive chat (/new, /tools, /exit)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a := mustApp()
		defer a.close()
		a.discover(cmd.Context())

		key := types.ConversationKey(chatKey)
		out := cmd.OutOrStdout()
		render := newRenderer(chatRaw)
		fmt.Fprintf(out, "Chatting as %s with %s. /new starts over, /tools lists tools, /exit quits.\n", key, a.cfg.LLM.Model)

		scanner := bufio.NewScanner(os.Stdin)
		scanner.Buffer(make([]byte, 64*1024), 1<<20)
		for {
			fmt.Fprint(out, "> ")
			if !scanner.Scan() {
				fmt.Fprintln(out)
				return scanner.Err()
			}
			line := strings.TrimSpace(scanner.Text())
			switch line {
			case "":
				continue
			case "/exit", "/quit":
				return nil
			case "/new":
				if err := a.runtime.Reset(cmd.Context(), key); err != nil {
					return err
				}
				fmt.Fprintln(out, "Started a new conversation.")
				continue
			case "/tools":
				desc := a.registry.Describe()
				if desc == "" {
					desc = "No tools available.\n"
				}
				fmt.Fprint(out, desc)
				continue
			}

			reply, err := ask(cmd.Context(), a, key, line)
			if err != nil {
				fmt.Fprintln(out, runtime.UserMessage(err))
				a.logger.Debug("request failed", "key", key, "error", err)
				continue
			}
			fmt.Fprint(out, render(reply))
		}
	},
}

var askCmd = &cobra.Command{
	Use:   "ask <prompt>",
	Short: "Ask a single question",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a := mustApp()
		defer a.close()
		a.discover(cmd.Context())

		reply, err := ask(cmd.Context(), a, types.ConversationKey(chatKey), strings.Join(args, " "))
		if err != nil {
			a.logger.Debug("request failed", "error", err)
			return fmt.Errorf("%s", runtime.UserMessage(err))
		}
		fmt.Fprint(cmd.OutOrStdout(), newRenderer(chatRaw)(reply))
		return nil
	},
}

// ask runs one request; Ctrl-C cancels it.
func ask(parent context.Context, a *app, key types.ConversationKey, text string) (string, error) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt)
	defer stop()
	return a.runtime.Process(ctx, key, text)
}

// newRenderer returns a markdown renderer, or a pass-through when raw is
// set or glamour cannot be initialized.
func newRenderer(raw bool) func(string) string {
	plain := func(s string) string {
		if !strings.HasSuffix(s, "\n") {
			s += "\n"
		}
		return s
	}
	if raw {
		return plain
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return plain
	}
	return func(s string) string {
		out, err := r.Render(s)
		if err != nil {
			return plain(s)
		}
		return out
	}
}

