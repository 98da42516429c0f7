package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/parley/internal/config"
	"github.com/user/parley/internal/types"
)

func init() {
	rootCmd.AddCommand(setupCmd)
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactive setup wizard",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		scanner := bufio.NewScanner(os.Stdin)

		fmt.Println("Parley Setup Wizard")
		fmt.Println("Press Enter to accept the default value shown in brackets.")
		fmt.Println()

		cfg.OpenAI.BaseURL = readLine(scanner, "OpenAI-compatible base URL (optional)", cfg.OpenAI.BaseURL)
		cfg.OpenAI.APIKey = readLine(scanner, "API key", cfg.OpenAI.APIKey)
		cfg.HTTP.Listen = readLine(scanner, "HTTP listen address", cfg.HTTP.Listen)

		if len(cfg.Configurations) == 0 {
			model := readLine(scanner, "Model for the default assistant", "gpt-4o-mini")
			cfg.Configurations = append(cfg.Configurations, defaultConfiguration(model))
		}
		cfg.Telegram.Token = readLine(scanner, "Telegram bot token (optional)", cfg.Telegram.Token)
		if cfg.Telegram.Token != "" {
			cfg.Telegram.ConfigurationID = cfg.Configurations[0].ID
		}

		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		if err := config.Save(cfgPath, cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}

		fmt.Println()
		fmt.Println("Configuration saved to", cfgPath)
		return nil
	},
}

// defaultConfiguration is an assistant with one model, a web reader that asks
// before reading and automatic titles.
func defaultConfiguration(model string) config.ConfigurationConfig {
	return config.ConfigurationConfig{Configuration: types.Configuration{
		ID:   1,
		Name: "Assistant",
		Extensions: []types.ExtensionConfig{
			{ID: "model", Type: "openai", Enabled: true, Values: map[string]any{"model": model}},
			{ID: "web", Type: "web-reader", Enabled: true},
			{ID: "confirm", Type: "confirm-tools", Enabled: true},
			{ID: "summary", Type: "summary", Enabled: true},
		},
	}}
}

// readLine shows label with its default and reads one line of input.
// If the user enters nothing, the default is returned.
func readLine(scanner *bufio.Scanner, label, defaultVal string) string {
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
