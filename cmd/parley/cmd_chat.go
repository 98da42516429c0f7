package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/user/parley/internal/callback"
	"github.com/user/parley/internal/chat"
	"github.com/user/parley/internal/types"
)

var chatFlags struct {
	user          string
	conversation  int64
	configuration int64
	edit          int64
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringVar(&chatFlags.user, "user", localUserID, "user id to chat as")
	chatCmd.Flags().Int64Var(&chatFlags.conversation, "conversation", 0, "conversation id (0 starts a new conversation)")
	chatCmd.Flags().Int64Var(&chatFlags.configuration, "configuration", 0, "configuration for a new conversation (default: first configured)")
	chatCmd.Flags().Int64Var(&chatFlags.edit, "edit", 0, "id of a human message to replace")
}

var chatCmd = &cobra.Command{
	Use:   "chat <message>",
	Short: "Run one chat turn locally",
	Long:  "Run one chat turn locally and print its answer. Confirmation and input prompts are answered on stdin.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		logger := setupLogging(cfg)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.close(context.Background())
		if err := a.callbacks.Start(); err != nil {
			return err
		}

		user, err := a.user(ctx, chatFlags.user)
		if err != nil {
			return fmt.Errorf("resolve user %s: %w", chatFlags.user, err)
		}

		id := chatFlags.conversation
		if id == 0 {
			configuration := chatFlags.configuration
			if configuration == 0 {
				configuration = a.defaultConfiguration()
			}
			c := &types.Conversation{UserID: user.ID, ConfigurationID: configuration}
			if err := a.conversations.Create(ctx, c); err != nil {
				return fmt.Errorf("create conversation: %w", err)
			}
			id = c.ID
			fmt.Fprintf(os.Stderr, "Started conversation %d.\n", id)
		}

		stream, err := a.engine.StartTurn(ctx, chat.TurnRequest{
			ConversationID: id,
			User:           user,
			Input:          strings.Join(args, " "),
			EditMessageID:  chatFlags.edit,
		})
		if err != nil {
			return err
		}
		go func() {
			<-ctx.Done()
			stream.Cancel()
		}()
		return printStream(os.Stdout, bufio.NewReader(os.Stdin), stream, a.callbacks)
	},
}

// printStream writes the turn to out and answers UI requests from in.
func printStream(out io.Writer, in *bufio.Reader, stream *chat.Stream, callbacks *callback.Service) error {
	var failed bool
	for ev := range stream.Events() {
		switch e := ev.(type) {
		case chat.Chunk:
			fmt.Fprint(out, chat.TextOf(e))
		case chat.ToolStart:
			name := e.Tool.DisplayName
			if name == "" {
				name = e.Tool.Name
			}
			fmt.Fprintf(os.Stderr, "[%s]\n", name)
		case chat.Summary:
			fmt.Fprintf(os.Stderr, "[title: %s]\n", e.Content)
		case chat.UI:
			callbacks.Complete(e.Request.ID, askStdin(in, e.Request))
		case chat.ErrorEvent:
			failed = true
			fmt.Fprintf(os.Stderr, "\nError: %s\n", e.Message)
		case chat.Completed:
			fmt.Fprintln(out)
			fmt.Fprintf(os.Stderr, "[%d tokens]\n", e.Metadata.TokenCount)
		}
	}
	if err := stream.Err(); err != nil {
		return err
	}
	if failed {
		return fmt.Errorf("turn failed")
	}
	return nil
}

func askStdin(in *bufio.Reader, req chat.UIRequest) any {
	if req.Type == callback.KindBoolean {
		fmt.Fprintf(os.Stderr, "\n%s [y/N]: ", req.Text)
	} else {
		fmt.Fprintf(os.Stderr, "\n%s: ", req.Text)
	}
	line, _ := in.ReadString('\n')
	line = strings.TrimSpace(line)
	if req.Type == callback.KindBoolean {
		switch strings.ToLower(line) {
		case "y", "yes", "true":
			return true
		}
		return false
	}
	return line
}
