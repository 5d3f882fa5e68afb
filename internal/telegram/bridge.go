// Package telegram bridges Telegram chats to the agent. Each chat maps
// to its own agent session, so concurrent chats never interleave
// conversation state.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// telegram rejects messages over 4096 chars; leave headroom.
const maxMessageLen = 4000

// Responder handles one user turn and returns the reply text.
// *agent.Agent satisfies it.
type Responder interface {
	HandleTurn(ctx context.Context, sessionID, text string) string
}

// Bot is the slice of the Telegram API the bridge uses. Declared here
// so tests can substitute a fake.
type Bot interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Config configures a Bridge.
type Config struct {
	Token     string
	AllowFrom []int64 // empty means allow everyone
	Logger    *slog.Logger
}

// Bridge long-polls Telegram and routes messages through a Responder.
type Bridge struct {
	bot       Bot
	responder Responder
	allowFrom map[int64]bool
	logger    *slog.Logger
}

// New connects to the Telegram API and builds a Bridge.
func New(cfg Config, responder Responder) (*Bridge, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram: token is required")
	}
	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("telegram: create bot: %w", err)
	}
	b := NewWithBot(bot, cfg, responder)
	b.logger.Info("telegram bot authorized", "username", bot.Self.UserName)
	return b, nil
}

// NewWithBot builds a Bridge around an existing Bot. Used by tests.
func NewWithBot(bot Bot, cfg Config, responder Responder) *Bridge {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var allow map[int64]bool
	if len(cfg.AllowFrom) > 0 {
		allow = make(map[int64]bool, len(cfg.AllowFrom))
		for _, id := range cfg.AllowFrom {
			allow[id] = true
		}
	}
	return &Bridge{
		bot:       bot,
		responder: responder,
		allowFrom: allow,
		logger:    logger,
	}
}

// Run polls for updates until ctx is cancelled. Each incoming message
// is handled in its own goroutine; per-chat ordering is the agent's
// per-session lock.
func (b *Bridge) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := b.bot.GetUpdatesChan(u)

	b.logger.Info("telegram polling started")
	for {
		select {
		case <-ctx.Done():
			b.bot.StopReceivingUpdates()
			b.logger.Info("telegram polling stopped")
			return
		case update, ok := <-updates:
			if !ok {
				b.logger.Info("telegram update channel closed")
				return
			}
			if update.Message == nil || update.Message.Text == "" {
				continue
			}
			go b.handleMessage(ctx, update.Message)
		}
	}
}

// handleMessage runs one message through the agent and sends the reply.
func (b *Bridge) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	// From is nil for channel posts; with an allowlist those are
	// nobody's messages, so they are rejected.
	if b.allowFrom != nil {
		if msg.From == nil {
			b.logger.Warn("rejected telegram message with no sender", "chat_id", msg.Chat.ID)
			return
		}
		if !b.allowFrom[msg.From.ID] {
			b.logger.Warn("rejected telegram message",
				"from_id", msg.From.ID,
				"username", msg.From.UserName)
			return
		}
	}

	sessionID := SessionID(msg.Chat.ID)
	b.logger.Debug("telegram message received", "session", sessionID, "len", len(msg.Text))

	reply := b.responder.HandleTurn(ctx, sessionID, msg.Text)

	if err := b.send(msg.Chat.ID, reply); err != nil {
		b.logger.Error("failed to send telegram reply", "session", sessionID, "error", err)
	}
}

// send delivers text to a chat, splitting it to fit Telegram's message
// size limit. Splits prefer line boundaries.
func (b *Bridge) send(chatID int64, text string) error {
	for len(text) > 0 {
		chunk := text
		if len(chunk) > maxMessageLen {
			if idx := strings.LastIndex(chunk[:maxMessageLen], "\n"); idx > 0 {
				chunk = chunk[:idx]
			} else {
				chunk = chunk[:maxMessageLen]
			}
		}
		text = strings.TrimPrefix(text[len(chunk):], "\n")

		if _, err := b.bot.Send(tgbotapi.NewMessage(chatID, chunk)); err != nil {
			return fmt.Errorf("send message to chat %d: %w", chatID, err)
		}
	}
	return nil
}

// SessionID maps a Telegram chat to an agent session identifier.
func SessionID(chatID int64) string {
	return "telegram:" + strconv.FormatInt(chatID, 10)
}
