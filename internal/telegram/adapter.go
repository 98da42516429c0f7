// Package telegram runs chat turns for Telegram chats.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/user/parley/internal/callback"
	"github.com/user/parley/internal/chat"
	"github.com/user/parley/internal/types"
)

const maxTelegramMessage = 4096

const callbackPrefix = "ui:"

// Bot is the part of the Telegram client the adapter uses. *tgbotapi.BotAPI
// implements it.
type Bot interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// TurnStarter starts chat turns.
type TurnStarter interface {
	StartTurn(ctx context.Context, req chat.TurnRequest) (*chat.Stream, error)
}

// CallbackResolver resolves pending UI requests.
type CallbackResolver interface {
	Complete(id types.CallbackID, value any) bool
}

// Options configures an Adapter.
type Options struct {
	Engine        TurnStarter
	Conversations types.ConversationStore
	Callbacks     CallbackResolver
	// ConfigurationID is used for conversations created from Telegram chats.
	ConfigurationID int64
	// Group is assigned to Telegram users.
	Group  string
	Logger *slog.Logger
}

type replyKey struct {
	chatID    int64
	messageID int
}

// Adapter bridges Telegram updates to the chat engine.
type Adapter struct {
	bot    Bot
	opts   Options
	logger *slog.Logger

	mu      sync.Mutex
	replies map[replyKey]types.CallbackID

	turns sync.WaitGroup
}

// New creates a Telegram adapter for the bot with token.
func New(token string, opts Options) (*Adapter, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	return NewWithBot(bot, opts), nil
}

// NewWithBot creates an adapter over an existing client.
func NewWithBot(bot Bot, opts Options) *Adapter {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Group == "" {
		opts.Group = types.GroupDefault
	}
	return &Adapter{
		bot:     bot,
		opts:    opts,
		logger:  opts.Logger.With("component", "telegram"),
		replies: make(map[replyKey]types.CallbackID),
	}
}

// Start long-polls for updates until ctx is done, then waits for running turns.
func (a *Adapter) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := a.bot.GetUpdatesChan(u)
	defer a.turns.Wait()

	for {
		select {
		case update := <-updates:
			switch {
			case update.CallbackQuery != nil:
				a.handleCallbackQuery(update.CallbackQuery)
			case update.Message != nil && update.Message.Text != "":
				a.handleMessage(ctx, update.Message)
			}
		case <-ctx.Done():
			a.bot.StopReceivingUpdates()
			return
		}
	}
}

// Wait blocks until every started turn has finished.
func (a *Adapter) Wait() {
	a.turns.Wait()
}

func (a *Adapter) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.IsCommand() {
		a.handleCommand(ctx, msg)
		return
	}
	if msg.ReplyToMessage != nil && a.resolveReply(msg) {
		return
	}

	chatID := msg.Chat.ID
	user := telegramUser(msg.From, a.opts.Group)
	conversation, err := a.opts.Conversations.ResolveOrCreate(ctx, buildConversationKey(msg.From.ID, chatID), user, a.opts.ConfigurationID)
	if err != nil {
		a.logger.Error("resolve conversation failed", "chat", chatID, "error", err)
		a.sendResponse(chatID, "Sorry, I could not open this conversation.")
		return
	}

	stream, err := a.opts.Engine.StartTurn(ctx, chat.TurnRequest{
		ConversationID: conversation.ID,
		User:           user,
		Input:          msg.Text,
	})
	if err != nil {
		a.logger.Error("start turn failed", "conversation", conversation.ID, "error", err)
		a.sendResponse(chatID, "Sorry, I encountered an error processing your message.")
		return
	}

	// Consume in the background so callback queries keep flowing while the
	// turn waits on the user.
	a.turns.Add(1)
	go func() {
		defer a.turns.Done()
		a.consume(chatID, stream)
	}()
}

func (a *Adapter) consume(chatID int64, stream *chat.Stream) {
	var answer strings.Builder
	var failure string
	for ev := range stream.Events() {
		switch e := ev.(type) {
		case chat.Chunk:
			answer.WriteString(chat.TextOf(e))
		case chat.ToolStart:
			a.bot.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping))
		case chat.UI:
			a.ask(chatID, e.Request)
		case chat.ErrorEvent:
			failure = e.Message
		}
	}
	if err := stream.Err(); err != nil {
		a.logger.Warn("turn stream failed", "chat", chatID, "error", err)
		failure = "Sorry, I encountered an error processing your message."
	}

	if answer.Len() > 0 {
		a.sendResponse(chatID, answer.String())
	}
	if failure != "" {
		a.sendResponse(chatID, failure)
	}
}

// ask sends a UI request. Boolean requests get an inline keyboard, string
// requests a forced reply whose answer resolves the request.
func (a *Adapter) ask(chatID int64, req chat.UIRequest) {
	msg := tgbotapi.NewMessage(chatID, req.Text)
	if req.Type == callback.KindBoolean {
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Yes", callbackPrefix+string(req.ID)+":yes"),
			tgbotapi.NewInlineKeyboardButtonData("No", callbackPrefix+string(req.ID)+":no"),
		))
		if _, err := a.bot.Send(msg); err != nil {
			a.logger.Warn("send confirm prompt failed", "chat", chatID, "error", err)
		}
		return
	}

	msg.ReplyMarkup = tgbotapi.ForceReply{ForceReply: true, Selective: true}
	sent, err := a.bot.Send(msg)
	if err != nil {
		a.logger.Warn("send input prompt failed", "chat", chatID, "error", err)
		return
	}
	a.mu.Lock()
	a.replies[replyKey{chatID, sent.MessageID}] = req.ID
	a.mu.Unlock()
}

func (a *Adapter) resolveReply(msg *tgbotapi.Message) bool {
	key := replyKey{msg.Chat.ID, msg.ReplyToMessage.MessageID}
	a.mu.Lock()
	id, ok := a.replies[key]
	delete(a.replies, key)
	a.mu.Unlock()
	if !ok {
		return false
	}
	if !a.opts.Callbacks.Complete(id, msg.Text) {
		a.sendResponse(msg.Chat.ID, "That question has expired.")
	}
	return true
}

func (a *Adapter) handleCallbackQuery(q *tgbotapi.CallbackQuery) {
	rest, ok := strings.CutPrefix(q.Data, callbackPrefix)
	if !ok {
		return
	}
	id, answer, _ := strings.Cut(rest, ":")

	reply := "Thanks!"
	if !a.opts.Callbacks.Complete(types.CallbackID(id), answer == "yes") {
		reply = "That question has expired."
	}
	if _, err := a.bot.Request(tgbotapi.NewCallback(q.ID, reply)); err != nil {
		a.logger.Warn("answer callback query failed", "error", err)
	}
}

func (a *Adapter) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID

	switch msg.Command() {
	case "start":
		a.sendResponse(chatID, "Hello! I'm Parley, your AI assistant. Send me a message to get started.")

	case "status":
		user := telegramUser(msg.From, a.opts.Group)
		c, err := a.opts.Conversations.ResolveOrCreate(ctx, buildConversationKey(msg.From.ID, chatID), user, a.opts.ConfigurationID)
		if err != nil {
			a.sendResponse(chatID, "Error fetching status.")
			return
		}
		name := c.Name
		if name == "" {
			name = "(untitled)"
		}
		a.sendResponse(chatID, fmt.Sprintf("Conversation: %d\nName: %s", c.ID, name))

	default:
		a.sendResponse(chatID, "Unknown command. Available: /start, /status")
	}
}

func (a *Adapter) sendResponse(chatID int64, text string) {
	parts := splitMessage(text)
	for _, part := range parts {
		msg := tgbotapi.NewMessage(chatID, part)
		msg.ParseMode = "Markdown"
		if _, err := a.bot.Send(msg); err != nil {
			// Retry without markdown if it fails
			msg.ParseMode = ""
			if _, err := a.bot.Send(msg); err != nil {
				a.logger.Warn("send message failed", "chat", chatID, "error", err)
			}
		}
	}
}

func splitMessage(text string) []string {
	if len(text) <= maxTelegramMessage {
		return []string{text}
	}
	var parts []string
	for len(text) > 0 {
		end := min(maxTelegramMessage, len(text))
		parts = append(parts, text[:end])
		text = text[end:]
	}
	return parts
}

func telegramUser(from *tgbotapi.User, group string) *types.User {
	name := strings.TrimSpace(from.FirstName + " " + from.LastName)
	return &types.User{
		ID:    "telegram:" + strconv.FormatInt(from.ID, 10),
		Name:  name,
		Group: group,
	}
}

func buildConversationKey(userID, chatID int64) types.ConversationKey {
	return types.NewConversationKey("telegram",
		strconv.FormatInt(userID, 10),
		strconv.FormatInt(chatID, 10),
	)
}
