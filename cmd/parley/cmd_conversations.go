package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/parley/internal/state"
	"github.com/user/parley/internal/types"
)

var conversationsUser string

func init() {
	rootCmd.AddCommand(conversationsCmd)
	conversationsCmd.AddCommand(conversationsListCmd, conversationsShowCmd)
	conversationsCmd.PersistentFlags().StringVar(&conversationsUser, "user", localUserID, "owner of the conversations")
}

var conversationsCmd = &cobra.Command{
	Use:     "conversations",
	Aliases: []string{"conv"},
	Short:   "Inspect conversations",
}

var conversationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a user's conversations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		store := state.NewConversationStore(cfg.DataDir)

		list, err := store.List(context.Background(), conversationsUser)
		if err != nil {
			return fmt.Errorf("list conversations: %w", err)
		}
		if len(list) == 0 {
			fmt.Println("No conversations found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tCONFIGURATION\tLLM\tUPDATED")
		for _, c := range list {
			fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%s\n", c.ID, c.Name, c.ConfigurationID, c.LLM, c.UpdatedAt.Format("2006-01-02 15:04"))
		}
		return w.Flush()
	},
}

var conversationsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print the messages of a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		id, err := parseID(args[0])
		if err != nil {
			return err
		}

		ctx := context.Background()
		c, err := state.NewConversationStore(cfg.DataDir).Get(ctx, id, &types.User{ID: conversationsUser})
		if err != nil {
			return fmt.Errorf("load conversation %d: %w", id, err)
		}
		messages, err := state.NewMessageStore(cfg.DataDir).List(ctx, id)
		if err != nil {
			return fmt.Errorf("list messages: %w", err)
		}

		fmt.Printf("# %s (%d messages)\n\n", c.Name, len(messages))
		for _, m := range messages {
			fmt.Printf("[%d <- %d] %s: %s\n", m.ID, m.ParentID, m.Type, m.Content)
			for _, s := range m.Sources {
				fmt.Printf("    source: %s %s\n", s.Title, s.URL)
			}
		}
		return nil
	},
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}
