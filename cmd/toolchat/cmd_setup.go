package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/toolchat/internal/config"
	"github.com/user/toolchat/pkg/llm/openrouter"
)

func init() {
	rootCmd.AddCommand(setupCmd, modelsCmd)
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactive setup wizard",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		scanner := bufio.NewScanner(os.Stdin)

		fmt.Println("toolchat setup")
		fmt.Println("Press Enter to accept the default value shown in brackets.")
		fmt.Println()

		cfg.LLM.APIKey = prompt(scanner, "OpenRouter API key", cfg.LLM.APIKey)

		fmt.Println("Known models:")
		for i, m := range openrouter.KnownModels {
			fmt.Printf("  %d) %s (%s)\n", i+1, m.Name, m.ID)
		}
		model := prompt(scanner, "Model (number or identifier)", cfg.LLM.Model)
		if n, err := strconv.Atoi(model); err == nil && n >= 1 && n <= len(openrouter.KnownModels) {
			model = openrouter.KnownModels[n-1].ID
		}
		cfg.LLM.Model = model

		maxTokens := prompt(scanner, "Max output tokens (0 = unlimited)", strconv.Itoa(cfg.LLM.MaxTokens))
		if n, err := strconv.Atoi(maxTokens); err == nil && n >= 0 {
			cfg.LLM.MaxTokens = n
		}

		compaction := prompt(scanner, "Compact long conversations (yes/no)", yesNo(cfg.Compaction.Enabled))
		cfg.Compaction.Enabled = strings.HasPrefix(strings.ToLower(compaction), "y")

		if url := prompt(scanner, "MCP server URL (optional, e.g. http://localhost:3000/mcp/coincap)", ""); url != "" {
			name := prompt(scanner, "MCP server name", "coincap")
			cfg.Tools.Providers = append(cfg.Tools.Providers, config.ProviderConfig{Name: name, URL: url})
		}

		cfg.Monitor.PriceFeedURL = prompt(scanner, "Price feed URL", cfg.Monitor.PriceFeedURL)
		cfg.Telegram.Token = prompt(scanner, "Telegram bot token (optional)", cfg.Telegram.Token)

		if err := config.Save(cfgPath, cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}

		fmt.Println()
		fmt.Println("Configuration saved to", cfgPath)
		return nil
	},
}

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List known models and show the selected one",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		out := cmd.OutOrStdout()
		for _, m := range openrouter.KnownModels {
			marker := " "
			if m.ID == cfg.LLM.Model {
				marker = "*"
			}
			fmt.Fprintf(out, "%s %-40s %s\n", marker, m.ID, m.Name)
		}
		fmt.Fprintln(out, "\nAny other OpenRouter model id works too: toolchat config set llm.model <id>")
		return nil
	},
}

// prompt displays a labeled prompt with a default value and reads user input.
// If the user enters nothing, the default is returned.
func prompt(scanner *bufio.Scanner, label, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", label, defaultVal)
	} else {
		fmt.Printf("%s: ", label)
	}
	if scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if input != "" {
			return input
		}
	}
	return defaultVal
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
