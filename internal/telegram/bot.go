// Package telegram lets allowed Telegram users submit tasks and receive the
// finished transcript as a reply.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/mtzanidakis/teamfeed/internal/config"
	"github.com/mtzanidakis/teamfeed/internal/session"
	"github.com/mtzanidakis/teamfeed/internal/transcript"
	"github.com/mymmrac/telego"
	th "github.com/mymmrac/telego/telegohandler"
	tu "github.com/mymmrac/telego/telegoutil"
)

// Runner is the part of the session controller the bot drives.
type Runner interface {
	Submit(ctx context.Context, task string, opts ...session.SubmitOption) (*session.Run, error)
	Cancel()
	Snapshot() session.Snapshot
}

type reply struct {
	chatID int64
	text   string
}

type Bot struct {
	bot     *telego.Bot
	handler *th.BotHandler
	runner  Runner
	cfg     config.TelegramConfig
	cancel  context.CancelFunc

	// send delivers one message; it is replaced in tests.
	send    func(ctx context.Context, chatID int64, text string) error
	replies chan reply

	mu       sync.Mutex
	pending  map[uint64]int64 // run id → chat waiting for its result
	lastDone session.Snapshot
}

func NewBot(cfg config.TelegramConfig, runner Runner) (*Bot, error) {
	bot, err := telego.NewBot(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	b := newBot(cfg, runner)
	b.bot = bot
	b.send = b.SendMessage
	return b, nil
}

func newBot(cfg config.TelegramConfig, runner Runner) *Bot {
	return &Bot{
		runner:  runner,
		cfg:     cfg,
		replies: make(chan reply, 64),
		pending: make(map[uint64]int64),
	}
}

func (b *Bot) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel

	updates, err := b.bot.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("start long polling: %w", err)
	}

	handler, err := th.NewBotHandler(b.bot, updates)
	if err != nil {
		cancel()
		return fmt.Errorf("create handler: %w", err)
	}
	b.handler = handler

	handler.HandleMessage(func(hctx *th.Context, message telego.Message) error {
		b.handleMessage(ctx, message)
		return nil
	})

	go handler.Start()
	go b.deliver(ctx)

	<-ctx.Done()
	_ = handler.Stop()
	return nil
}

func (b *Bot) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
	if b.handler != nil {
		_ = b.handler.Stop()
	}
}

func (b *Bot) allowed(userID int64) bool {
	return len(b.cfg.AllowFrom) == 0 || slices.Contains(b.cfg.AllowFrom, userID)
}

func (b *Bot) handleMessage(ctx context.Context, msg telego.Message) {
	if msg.From == nil {
		return
	}
	chatID := msg.Chat.ID
	userID := msg.From.ID

	if !b.allowed(userID) {
		slog.Warn("unauthorized telegram user", "user_id", userID, "chat_id", chatID)
		return
	}

	text := msg.Text
	if text == "" {
		if msg.Caption == "" {
			return
		}
		text = msg.Caption
	}

	b.handleText(ctx, chatID, strings.TrimSpace(text))
}

func (b *Bot) handleText(ctx context.Context, chatID int64, text string) {
	command, _, _ := strings.Cut(text, " ")
	switch strings.ToLower(command) {
	case "/start", "/help":
		b.queue(chatID, "Send a task and the team will work on it. /status shows progress, /cancel stops the current run.")
		return
	case "/status":
		b.queue(chatID, statusText(b.runner.Snapshot()))
		return
	case "/cancel":
		b.runner.Cancel()
		b.queue(chatID, "Cancelled.")
		return
	}

	if b.bot != nil {
		_ = b.bot.SendChatAction(ctx, tu.ChatAction(tu.ID(chatID), "typing"))
	}

	run, err := b.runner.Submit(ctx, text, session.WithSource("telegram"))
	if errors.Is(err, session.ErrInvalidTask) {
		b.queue(chatID, "Task rejected: "+err.Error())
		return
	}
	if err != nil {
		slog.Error("telegram submit failed", "chat", chatID, "error", err)
		b.queue(chatID, "Sorry, I could not start that task.")
		return
	}
	slog.Info("telegram run started", "run", run.ID, "chat", chatID)

	b.mu.Lock()
	defer b.mu.Unlock()
	// The run may already have finished while Submit returned.
	if b.lastDone.RunID() == run.ID {
		b.queue(chatID, resultText(b.lastDone))
		return
	}
	b.pending[run.ID] = chatID
}

// OnSnapshot queues the result of a finished run for the chat that
// submitted it. Chats waiting on a run that a newer one replaced are told
// so.
func (b *Bot) OnSnapshot(s session.Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, chatID := range b.pending {
		if id < s.RunID() {
			delete(b.pending, id)
			b.queue(chatID, "The run was replaced by a newer task.")
		}
	}

	if s.Outcome == session.OutcomeNone {
		return
	}
	b.lastDone = s
	if chatID, ok := b.pending[s.RunID()]; ok {
		delete(b.pending, s.RunID())
		b.queue(chatID, resultText(s))
	}
}

func (b *Bot) queue(chatID int64, text string) {
	select {
	case b.replies <- reply{chatID: chatID, text: text}:
	default:
		slog.Warn("telegram reply queue full, dropping reply", "chat", chatID)
	}
}

func (b *Bot) deliver(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case r := <-b.replies:
			if err := b.send(ctx, r.chatID, r.text); err != nil {
				slog.Error("failed to send telegram message", "chat", r.chatID, "error", err)
			}
		}
	}
}

func resultText(s session.Snapshot) string {
	switch s.Outcome {
	case session.OutcomeFailed:
		msg := "The run failed."
		if s.Err != nil {
			msg += " " + s.Err.Error()
		}
		return msg
	case session.OutcomeCancelled:
		return "The run was cancelled."
	}
	text := transcript.Render(s.Session)
	if text == "" {
		return "The run finished without output."
	}
	return text
}

func statusText(s session.Snapshot) string {
	if s.RunID() == 0 {
		return "Idle."
	}
	if s.Streaming() {
		return fmt.Sprintf("Run %d is in progress (%d entries).", s.RunID(), len(transcript.View(s.Session)))
	}
	return fmt.Sprintf("Run %d %s.", s.RunID(), s.Outcome)
}

func (b *Bot) SendMessage(ctx context.Context, chatID int64, text string) error {
	chunks := chunkMessage(text, 4096)
	for _, chunk := range chunks {
		msg := tu.Message(tu.ID(chatID), chunk)
		_, err := b.bot.SendMessage(ctx, msg)
		if err != nil {
			return fmt.Errorf("send message: %w", err)
		}
	}
	return nil
}
