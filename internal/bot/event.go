// Package bot turns chat updates into calls on the ledger, registration and
// invitation services. One process serves one role: resident, employee or
// admin.
package bot

import (
	"context"
	"io"

	"github.com/bottlepoint/waterbot/pkg/types"
)

// Event is one inbound chat update.
type Event struct {
	Sender types.Identity
	ChatID int64
	Text   string
	// Action is the callback data of a pressed inline button.
	Action     string
	CallbackID string
	// Prompt is the message that carried the pressed button.
	Prompt   types.MessageRef
	Document *Document
}

type Document struct {
	FileID   string
	FileName string
}

// Kind labels the event for metrics.
func (e Event) Kind() string {
	switch {
	case e.Action != "":
		return "callback"
	case e.Document != nil:
		return "document"
	case len(e.Text) > 0 && e.Text[0] == '/':
		return "command"
	default:
		return "text"
	}
}

// Messenger is the outbound side of the chat transport.
type Messenger interface {
	Send(ctx context.Context, chatID int64, text string, buttons ...[]types.Button) (types.MessageRef, error)
	Edit(ctx context.Context, ref types.MessageRef, text string, buttons ...[]types.Button) error
	SendPhoto(ctx context.Context, chatID int64, path, caption string) error
	Download(ctx context.Context, fileID string) (io.ReadCloser, error)
	AnswerCallback(ctx context.Context, callbackID, text string) error
}

// Handler processes a single event.
type Handler interface {
	Handle(ctx context.Context, ev Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, ev Event) error

func (f HandlerFunc) Handle(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}
