package bot

import (
	"context"
	"fmt"
	"strings"

	"github.com/bottlepoint/waterbot/internal/session"
	"github.com/bottlepoint/waterbot/pkg/enums"
	pkgerrors "github.com/bottlepoint/waterbot/pkg/errors"
	"github.com/bottlepoint/waterbot/pkg/logger"
	"github.com/bottlepoint/waterbot/pkg/metrics"
	"github.com/bottlepoint/waterbot/pkg/types"
)

const msgUnknownCommand = "Unknown command. Use /help to see available commands."

type (
	CommandFunc  func(ctx context.Context, ev Event, args string) error
	TextFunc     func(ctx context.Context, ev Event, sess *session.Session) error
	CallbackFunc func(ctx context.Context, ev Event) error
)

// Command is one entry of a role's command table.
type Command struct {
	Name        string
	Description string
	Run         CommandFunc
	// Hidden commands work but are left out of /help.
	Hidden bool
}

// Routes is the complete routing table of one bot role.
type Routes struct {
	Commands []Command
	// States handles free text while the chat's session is in a given state.
	States map[enums.ConversationState]TextFunc
	// Callbacks is keyed by the callback data prefix before the first ':'.
	Callbacks map[string]CallbackFunc
	Document  CallbackFunc
	// Guard rejects events before routing when it returns an error.
	Guard    func(ctx context.Context, ev Event) error
	Fallback string
}

func (r Routes) command(name string) (Command, bool) {
	for _, c := range r.Commands {
		if c.Name == name {
			return c, true
		}
	}
	return Command{}, false
}

// HelpText lists the visible commands.
func (r Routes) HelpText() string {
	lines := []string{"Available commands:"}
	for _, c := range r.Commands {
		if c.Hidden {
			continue
		}
		lines = append(lines, fmt.Sprintf("/%s - %s", c.Name, c.Description))
	}
	return strings.Join(lines, "\n")
}

// Directory records who has written to the bot.
type Directory interface {
	Touch(ctx context.Context, who types.Identity) error
}

type RouterParams struct {
	Routes    Routes
	Messenger Messenger
	Sessions  session.Store
	Directory Directory
	Logger    *logger.Logger
	Metrics   *metrics.BotMetrics
}

// Router is the Handler every role shares. Errors returned by routes are
// rendered to the user and logged here.
type Router struct {
	routes    Routes
	messenger Messenger
	sessions  session.Store
	directory Directory
	logg      *logger.Logger
	metrics   *metrics.BotMetrics
}

func NewRouter(params RouterParams) (*Router, error) {
	if params.Messenger == nil {
		return nil, fmt.Errorf("messenger required")
	}
	if params.Sessions == nil {
		return nil, fmt.Errorf("session store required")
	}
	if params.Routes.Fallback == "" {
		params.Routes.Fallback = msgUnknownCommand
	}
	return &Router{
		routes:    params.Routes,
		messenger: params.Messenger,
		sessions:  params.Sessions,
		directory: params.Directory,
		logg:      params.Logger,
		metrics:   params.Metrics,
	}, nil
}

func (r *Router) Handle(ctx context.Context, ev Event) error {
	if r.logg != nil {
		ctx = r.logg.WithChatID(ctx, ev.ChatID)
	}
	if r.directory != nil {
		if err := r.directory.Touch(ctx, ev.Sender); err != nil && r.logg != nil {
			r.logg.Warn(ctx, "failed to record chat account")
		}
	}

	err := r.route(ctx, ev)
	if ev.CallbackID != "" {
		_ = r.messenger.AnswerCallback(ctx, ev.CallbackID, "")
	}
	if err != nil {
		r.fail(ctx, ev, err)
	}
	return nil
}

func (r *Router) route(ctx context.Context, ev Event) error {
	if r.routes.Guard != nil {
		if err := r.routes.Guard(ctx, ev); err != nil {
			return err
		}
	}

	switch {
	case ev.Action != "":
		prefix, _, _ := strings.Cut(ev.Action, ":")
		fn, ok := r.routes.Callbacks[prefix]
		if !ok {
			return pkgerrors.New(pkgerrors.CodeValidation, "This button is no longer supported.")
		}
		return fn(ctx, ev)
	case ev.Document != nil:
		if r.routes.Document == nil {
			return pkgerrors.New(pkgerrors.CodeValidation, "Files are not accepted here.")
		}
		return r.routes.Document(ctx, ev)
	}

	if name, args, ok := ParseCommand(ev.Text); ok {
		cmd, found := r.routes.command(name)
		if !found {
			return pkgerrors.New(pkgerrors.CodeValidation, msgUnknownCommand)
		}
		return cmd.Run(ctx, ev, args)
	}

	sess, err := r.sessions.Get(ctx, ev.ChatID)
	if err != nil {
		return err
	}
	if sess != nil {
		if fn, ok := r.routes.States[sess.State]; ok {
			if r.logg != nil {
				ctx = r.logg.WithState(ctx, string(sess.State))
			}
			return fn(ctx, ev, sess)
		}
	}
	return pkgerrors.New(pkgerrors.CodeValidation, r.routes.Fallback)
}

func (r *Router) fail(ctx context.Context, ev Event, err error) {
	code := pkgerrors.CodeOf(err)
	r.metrics.IncError(string(code))
	if r.logg != nil {
		if pkgerrors.MetadataFor(code).DetailsAllowed {
			r.logg.Info(r.logg.WithField(ctx, "error", err.Error()), "request rejected")
		} else {
			r.logg.Error(r.logg.WithFields(ctx, pkgerrors.Dump(err).Fields()), "request failed", err)
		}
	}
	if _, sendErr := r.messenger.Send(ctx, ev.ChatID, pkgerrors.UserMessage(err)); sendErr != nil && r.logg != nil {
		r.logg.Error(ctx, "failed to deliver error reply", sendErr)
	}
}

// ParseCommand splits "/name@bot args" into its lowercased name and the
// trimmed argument string.
func ParseCommand(text string) (name, args string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") || len(text) < 2 {
		return "", "", false
	}
	head, rest, _ := strings.Cut(text[1:], " ")
	head, _, _ = strings.Cut(head, "@")
	if head == "" {
		return "", "", false
	}
	return strings.ToLower(head), strings.TrimSpace(rest), true
}

func reply(ctx context.Context, m Messenger, chatID int64, text string, buttons ...[]types.Button) error {
	_, err := m.Send(ctx, chatID, text, buttons...)
	return err
}
