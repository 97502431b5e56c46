package bot

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	pkgerrors "github.com/bottlepoint/waterbot/pkg/errors"
	"github.com/bottlepoint/waterbot/pkg/types"
)

const downloadTimeout = 30 * time.Second

// Telegram implements Messenger over the Bot API and turns long-poll
// updates into Events.
type Telegram struct {
	api         *tgbotapi.BotAPI
	httpClient  *http.Client
	pollTimeout time.Duration
}

func NewTelegram(token string, pollTimeout time.Duration, debug bool) (*Telegram, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("connect bot api: %w", err)
	}
	api.Debug = debug
	return &Telegram{
		api:         api,
		httpClient:  &http.Client{Timeout: downloadTimeout},
		pollTimeout: pollTimeout,
	}, nil
}

// Username is the bot's own handle, used to build deep links.
func (t *Telegram) Username() string {
	return t.api.Self.UserName
}

// Events long-polls for updates until ctx is cancelled. The returned channel
// is closed once polling stops.
func (t *Telegram) Events(ctx context.Context) <-chan Event {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = int(t.pollTimeout / time.Second)
	updates := t.api.GetUpdatesChan(cfg)

	out := make(chan Event)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				t.api.StopReceivingUpdates()
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				ev, ok := toEvent(update)
				if !ok {
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					t.api.StopReceivingUpdates()
					return
				}
			}
		}
	}()
	return out
}

func (t *Telegram) Send(_ context.Context, chatID int64, text string, buttons ...[]types.Button) (types.MessageRef, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	if len(buttons) > 0 {
		msg.ReplyMarkup = keyboard(buttons)
	}
	sent, err := t.api.Send(msg)
	if err != nil {
		return types.MessageRef{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "send message")
	}
	return types.MessageRef{ChatID: sent.Chat.ID, MessageID: sent.MessageID}, nil
}

// Edit replaces the text of a sent message. Without buttons the inline
// keyboard is removed.
func (t *Telegram) Edit(_ context.Context, ref types.MessageRef, text string, buttons ...[]types.Button) error {
	var edit tgbotapi.EditMessageTextConfig
	if len(buttons) > 0 {
		edit = tgbotapi.NewEditMessageTextAndMarkup(ref.ChatID, ref.MessageID, text, keyboard(buttons))
	} else {
		edit = tgbotapi.NewEditMessageText(ref.ChatID, ref.MessageID, text)
	}
	if _, err := t.api.Request(edit); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "edit message")
	}
	return nil
}

func (t *Telegram) SendPhoto(_ context.Context, chatID int64, path, caption string) error {
	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FilePath(path))
	photo.Caption = caption
	if _, err := t.api.Send(photo); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "send photo")
	}
	return nil
}

// Download streams an uploaded file. The caller closes the body.
func (t *Telegram) Download(ctx context.Context, fileID string) (io.ReadCloser, error) {
	url, err := t.api.GetFileDirectURL(fileID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve file url")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build download request")
	}
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "download file")
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("download file: status %d", resp.StatusCode))
	}
	return resp.Body, nil
}

func (t *Telegram) AnswerCallback(_ context.Context, callbackID, text string) error {
	if _, err := t.api.Request(tgbotapi.NewCallback(callbackID, text)); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "answer callback")
	}
	return nil
}

func keyboard(buttons [][]types.Button) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(buttons))
	for _, row := range buttons {
		line := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			line = append(line, tgbotapi.NewInlineKeyboardButtonData(b.Text, b.Data))
		}
		rows = append(rows, line)
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// toEvent keeps private messages and button presses; everything else
// (channel posts, edits, group chatter) is dropped.
func toEvent(update tgbotapi.Update) (Event, bool) {
	switch {
	case update.CallbackQuery != nil:
		q := update.CallbackQuery
		if q.From == nil || q.Message == nil || q.Message.Chat == nil {
			return Event{}, false
		}
		return Event{
			Sender:     identity(q.From, q.Message.Chat.ID),
			ChatID:     q.Message.Chat.ID,
			Action:     q.Data,
			CallbackID: q.ID,
			Prompt:     types.MessageRef{ChatID: q.Message.Chat.ID, MessageID: q.Message.MessageID},
		}, true

	case update.Message != nil:
		m := update.Message
		if m.From == nil || m.Chat == nil || !m.Chat.IsPrivate() {
			return Event{}, false
		}
		ev := Event{
			Sender: identity(m.From, m.Chat.ID),
			ChatID: m.Chat.ID,
			Text:   m.Text,
		}
		if m.Document != nil {
			ev.Document = &Document{FileID: m.Document.FileID, FileName: m.Document.FileName}
		}
		if ev.Text == "" && ev.Document == nil {
			return Event{}, false
		}
		return ev, true
	}
	return Event{}, false
}

func identity(from *tgbotapi.User, chatID int64) types.Identity {
	return types.Identity{
		ChatID:    chatID,
		UserID:    from.ID,
		Username:  types.NormalizeUsername(from.UserName),
		FirstName: from.FirstName,
	}
}
