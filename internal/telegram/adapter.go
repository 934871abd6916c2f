package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"
	"unicode/utf16"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/codexrelay/codexrelay/internal/gateway"
)

const defaultPollTimeoutSeconds = 30

// Handler is the event-processing surface the adapter dispatches into.
type Handler interface {
	Capture(ev gateway.Event)
	HandleCommand(ev gateway.Event)
	HandleMessage(ctx context.Context, ev gateway.Event)
	HandleDocument(ctx context.Context, ev gateway.Event)
}

// Adapter connects one bot to the Telegram long-polling API and translates
// updates into gateway events. It also implements gateway.Messenger and
// gateway.Downloader for the outbound direction.
type Adapter struct {
	logger      *slog.Logger
	bot         *tgbotapi.BotAPI
	handler     Handler
	client      *http.Client
	pollTimeout int
}

// NewAdapter authenticates the bot token against the Telegram API.
// pollTimeoutSeconds is the getUpdates long-poll timeout; values <= 0 use the
// default. The handler must be set with SetHandler before Run.
func NewAdapter(log *slog.Logger, token string, pollTimeoutSeconds int) (*Adapter, error) {
	if log == nil {
		log = slog.Default()
	}
	if pollTimeoutSeconds <= 0 {
		pollTimeoutSeconds = defaultPollTimeoutSeconds
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	a := &Adapter{
		logger:      log.With(slog.String("component", "telegram")),
		bot:         bot,
		client:      &http.Client{Timeout: 60 * time.Second},
		pollTimeout: pollTimeoutSeconds,
	}
	a.logger.Info("authorized", slog.String("bot_username", bot.Self.UserName))
	return a, nil
}

// SetHandler binds the event-processing surface. The gateway and the adapter
// reference each other, so the handler is attached after both exist.
func (a *Adapter) SetHandler(handler Handler) {
	a.handler = handler
}

// BotUsername returns the authenticated bot's username.
func (a *Adapter) BotUsername() string {
	return a.bot.Self.UserName
}

// Run long-polls for updates until the context is cancelled. Each update is
// handled in its own goroutine so one slow codex turn never blocks the poll
// loop.
func (a *Adapter) Run(ctx context.Context) error {
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = a.pollTimeout
	updates := a.bot.GetUpdatesChan(updateConfig)
	a.logger.Info("polling started")

	for {
		select {
		case <-ctx.Done():
			a.bot.StopReceivingUpdates()
			// Drain so the library's polling goroutine can finish its
			// in-flight long-poll and exit; otherwise a restart with the
			// same token hits "Conflict: terminated by other getUpdates
			// request".
			for range updates {
			}
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				a.logger.Info("updates channel closed")
				return nil
			}
			if update.Message == nil || update.Message.Chat == nil {
				continue
			}
			ev := buildEvent(update.Message, a.bot.Self.ID, a.bot.Self.UserName)
			go a.dispatch(ctx, ev, update.Message)
		}
	}
}

// dispatch routes one inbound message: every message is captured into the
// conversation log; commands, documents and mentions then trigger their
// handlers.
func (a *Adapter) dispatch(ctx context.Context, ev gateway.Event, msg *tgbotapi.Message) {
	a.handler.Capture(ev)
	switch {
	case msg.IsCommand():
		a.handler.HandleCommand(ev)
	case ev.Document != nil:
		a.handler.HandleDocument(ctx, ev)
	default:
		a.handler.HandleMessage(ctx, ev)
	}
}

// SendText implements gateway.Messenger. A Telegram 400 on a formatted send
// is reported as gateway.ErrFormatRejected so the caller can retry plain.
func (a *Adapter) SendText(chatID int64, text string, markdown bool) error {
	message := tgbotapi.NewMessage(chatID, text)
	if markdown {
		message.ParseMode = tgbotapi.ModeMarkdown
		message.DisableWebPagePreview = true
	}
	if _, err := a.bot.Send(message); err != nil {
		var apiErr *tgbotapi.Error
		if markdown && errors.As(err, &apiErr) && apiErr.Code == 400 {
			return fmt.Errorf("%w: %s", gateway.ErrFormatRejected, apiErr.Message)
		}
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// SendTyping implements gateway.Messenger.
func (a *Adapter) SendTyping(chatID int64) error {
	action := tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)
	_, err := a.bot.Request(action)
	return err
}

// DownloadDocument implements gateway.Downloader: it resolves the file's
// direct URL and streams it to destPath.
func (a *Adapter) DownloadDocument(ctx context.Context, doc *gateway.Document, destPath string) error {
	url, err := a.bot.GetFileDirectURL(doc.FileID)
	if err != nil {
		return fmt.Errorf("resolve file url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build download request: %w", err)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("download file: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download file status: %d", resp.StatusCode)
	}
	out, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create download target: %w", err)
	}
	defer out.Close()
	if _, err := io.Copy(out, resp.Body); err != nil {
		return fmt.Errorf("write download: %w", err)
	}
	return nil
}

// buildEvent normalizes a Telegram message into a gateway event.
func buildEvent(msg *tgbotapi.Message, botID int64, botUsername string) gateway.Event {
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		text = strings.TrimSpace(msg.Caption)
	}

	ev := gateway.Event{
		ChatID:  msg.Chat.ID,
		Private: msg.Chat.IsPrivate(),
		Text:    text,
	}
	if msg.Chat.UserName != "" {
		ev.ChatUsername = msg.Chat.UserName
	}
	if from := msg.From; from != nil {
		ev.SenderResolved = true
		ev.SenderID = from.ID
		ev.SenderHandle = from.UserName
		ev.SenderIsBot = from.IsBot
		ev.SenderName = senderDisplayName(from)
	}
	if reply := msg.ReplyToMessage; reply != nil && reply.From != nil {
		ev.RepliedToHandle = senderDisplayName(reply.From)
		ev.ReplyToBot = reply.From.ID == botID
	}
	ev.Mentioned = botMentioned(msg, botID, botUsername)

	if msg.Document != nil {
		ev.Document = &gateway.Document{
			FileID:   msg.Document.FileID,
			UniqueID: msg.Document.FileUniqueID,
			Name:     msg.Document.FileName,
			Size:     int64(msg.Document.FileSize),
		}
	}
	return ev
}

// senderDisplayName prefers the username, then the real name, then the id.
func senderDisplayName(user *tgbotapi.User) string {
	if user.UserName != "" {
		return user.UserName
	}
	name := strings.TrimSpace(user.FirstName + " " + user.LastName)
	if name != "" {
		return name
	}
	return fmt.Sprintf("id:%d", user.ID)
}

// botMentioned reports whether the message's entities address the bot, either
// as an @username mention or a text_mention resolving to the bot's id.
func botMentioned(msg *tgbotapi.Message, botID int64, botUsername string) bool {
	normalized := "@" + strings.ToLower(strings.TrimPrefix(botUsername, "@"))
	for _, check := range []struct {
		text     string
		entities []tgbotapi.MessageEntity
	}{
		{msg.Text, msg.Entities},
		{msg.Caption, msg.CaptionEntities},
	} {
		for _, entity := range check.entities {
			switch entity.Type {
			case "mention":
				mention := entitySlice(check.text, entity.Offset, entity.Length)
				if strings.ToLower(mention) == normalized {
					return true
				}
			case "text_mention":
				if entity.User != nil && entity.User.ID == botID {
					return true
				}
			}
		}
	}
	return false
}

// entitySlice extracts an entity's text. Telegram entity offsets count UTF-16
// code units, not bytes or runes.
func entitySlice(text string, offset, length int) string {
	units := utf16.Encode([]rune(text))
	if offset < 0 || length <= 0 || offset+length > len(units) {
		return ""
	}
	return string(utf16.Decode(units[offset : offset+length]))
}
