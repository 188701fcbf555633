// Package telegram connects a Telegram bot to the gateway. Each chat gets
// its own conversation keyed telegram:<user>:<chat>.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/user/toolchat/internal/gateway"
	"github.com/user/toolchat/internal/types"
	"github.com/user/toolchat/pkg/llm"
)

const (
	maxTelegramMessage = 4096
	// KeyPrefix is the delivery prefix of Telegram conversation keys.
	KeyPrefix = "telegram:"
)

// Conversations is the part of the runtime the bot commands use.
type Conversations interface {
	History(ctx context.Context, key types.ConversationKey) (llm.Conversation, error)
	Reset(ctx context.Context, key types.ConversationKey) error
}

// ToolLister describes the available tools. *tools.Registry satisfies it.
type ToolLister interface {
	Describe() string
}

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Adapter bridges Telegram to the gateway.
type Adapter struct {
	bot           *tgbotapi.BotAPI
	send          sender
	gateway       *gateway.Gateway
	conversations Conversations
	tools         ToolLister
	logger        *slog.Logger
}

// New creates a Telegram adapter.
func New(token string, gw *gateway.Gateway, conversations Conversations, tools ToolLister, logger *slog.Logger) (*Adapter, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	a := newAdapter(bot, gw, conversations, tools, logger)
	a.bot = bot
	return a, nil
}

func newAdapter(s sender, gw *gateway.Gateway, conversations Conversations, tools ToolLister, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		send:          s,
		gateway:       gw,
		conversations: conversations,
		tools:         tools,
		logger:        logger.With("component", "telegram"),
	}
}

// Username returns the bot's username.
func (a *Adapter) Username() string {
	if a.bot == nil {
		return ""
	}
	return a.bot.Self.UserName
}

// Start long-polls for updates until ctx is cancelled.
func (a *Adapter) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := a.bot.GetUpdatesChan(u)
	a.logger.Info("telegram polling started", "bot", a.Username())

	for {
		select {
		case update := <-updates:
			if update.Message == nil || update.Message.Text == "" {
				continue
			}
			a.handleMessage(ctx, update.Message)
		case <-ctx.Done():
			a.bot.StopReceivingUpdates()
			return
		}
	}
}

// Deliver sends message to the chat named by a telegram:<user>:<chat> key.
// It is registered with the delivery registry under KeyPrefix.
func (a *Adapter) Deliver(_ context.Context, key, message string) error {
	chatID, err := chatFromKey(key)
	if err != nil {
		return err
	}
	return a.sendResponse(chatID, message)
}

func (a *Adapter) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.IsCommand() {
		a.handleCommand(ctx, msg)
		return
	}

	chatID := msg.Chat.ID
	event := &types.InboundEvent{
		Source:          "telegram",
		ConversationKey: buildConversationKey(msg.From.ID, chatID),
		UserID:          strconv.FormatInt(msg.From.ID, 10),
		Text:            msg.Text,
	}

	err := a.gateway.HandleInbound(ctx, event, gateway.WithOnComplete(func(response string) {
		a.sendResponse(chatID, response)
	}))
	if err != nil {
		a.logger.Error("handle inbound", "chat", chatID, "error", err)
		a.sendResponse(chatID, "Sorry, I encountered an error processing your message.")
	}
}

func (a *Adapter) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	key := buildConversationKey(msg.From.ID, chatID)

	switch msg.Command() {
	case "start":
		a.sendResponse(chatID, "Hello! I can answer questions using my tools. Send me a message to get started.")

	case "new":
		if err := a.conversations.Reset(ctx, key); err != nil {
			a.logger.Error("reset conversation", "key", key, "error", err)
			a.sendResponse(chatID, "Could not reset the conversation.")
			return
		}
		a.sendResponse(chatID, "Started a new conversation.")

	case "status":
		conv, err := a.conversations.History(ctx, key)
		if err != nil {
			a.sendResponse(chatID, "Error fetching status.")
			return
		}
		a.sendResponse(chatID, fmt.Sprintf("Conversation: %s\nTurns: %d", key, len(conv)))

	case "tools":
		desc := ""
		if a.tools != nil {
			desc = a.tools.Describe()
		}
		if desc == "" {
			desc = "No tools available."
		}
		a.sendResponse(chatID, desc)

	default:
		a.sendResponse(chatID, "Unknown command. Available: /start, /new, /status, /tools")
	}
}

func (a *Adapter) sendResponse(chatID int64, text string) error {
	var lastErr error
	for _, part := range splitMessage(text) {
		msg := tgbotapi.NewMessage(chatID, part)
		msg.ParseMode = tgbotapi.ModeMarkdown
		if _, err := a.send.Send(msg); err != nil {
			// Model output is not always valid Markdown.
			msg.ParseMode = ""
			if _, err := a.send.Send(msg); err != nil {
				a.logger.Warn("send message", "chat", chatID, "error", err)
				lastErr = err
			}
		}
	}
	return lastErr
}

// splitMessage cuts text into Telegram-sized parts without splitting a
// UTF-8 sequence.
func splitMessage(text string) []string {
	if len(text) <= maxTelegramMessage {
		return []string{text}
	}
	var parts []string
	for len(text) > 0 {
		end := maxTelegramMessage
		if end >= len(text) {
			end = len(text)
		} else {
			for end > 0 && !utf8.RuneStart(text[end]) {
				end--
			}
		}
		parts = append(parts, text[:end])
		text = text[end:]
	}
	return parts
}

func buildConversationKey(userID, chatID int64) types.ConversationKey {
	return types.NewConversationKey("telegram",
		strconv.FormatInt(userID, 10),
		strconv.FormatInt(chatID, 10),
	)
}

func chatFromKey(key string) (int64, error) {
	rest, ok := strings.CutPrefix(key, KeyPrefix)
	if !ok {
		return 0, fmt.Errorf("not a telegram key: %q", key)
	}
	parts := strings.Split(rest, ":")
	chatID, err := strconv.ParseInt(parts[len(parts)-1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid chat id in key %q: %w", key, err)
	}
	return chatID, nil
}
