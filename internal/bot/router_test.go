package bot

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bottlepoint/waterbot/internal/session"
	"github.com/bottlepoint/waterbot/pkg/enums"
	pkgerrors "github.com/bottlepoint/waterbot/pkg/errors"
	"github.com/bottlepoint/waterbot/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCommand(t *testing.T) {
	cases := []struct {
		in   string
		name string
		args string
		ok   bool
	}{
		{"/start", "start", "", true},
		{"/start invite_12", "start", "invite_12", true},
		{"/Collect@water_collect_bot  3 ", "collect", "3", true},
		{"  /transfer 4 2", "transfer", "4 2", true},
		{"hello", "", "", false},
		{"/", "", "", false},
		{"/@bot", "", "", false},
	}
	for _, tc := range cases {
		name, args, ok := ParseCommand(tc.in)
		assert.Equal(t, tc.ok, ok, tc.in)
		assert.Equal(t, tc.name, name, tc.in)
		assert.Equal(t, tc.args, args, tc.in)
	}
}

type touchRecorder struct {
	seen []types.Identity
}

func (r *touchRecorder) Touch(_ context.Context, who types.Identity) error {
	r.seen = append(r.seen, who)
	return nil
}

func newTestRouter(t *testing.T, routes Routes) (*Router, *fakeMessenger, *session.MemoryStore, *touchRecorder) {
	t.Helper()
	messenger := newFakeMessenger()
	sessions := session.NewMemoryStore(time.Hour)
	dir := &touchRecorder{}
	r, err := NewRouter(RouterParams{Routes: routes, Messenger: messenger, Sessions: sessions, Directory: dir})
	require.NoError(t, err)
	return r, messenger, sessions, dir
}

func TestRouterRoutesCommandsStatesAndCallbacks(t *testing.T) {
	var calls []string
	routes := Routes{
		Commands: []Command{{Name: "ping", Run: func(_ context.Context, _ Event, args string) error {
			calls = append(calls, "ping:"+args)
			return nil
		}}},
		States: map[enums.ConversationState]TextFunc{
			enums.StateAwaitingName: func(_ context.Context, ev Event, sess *session.Session) error {
				calls = append(calls, "state:"+ev.Text+":"+string(sess.State))
				return nil
			},
		},
		Callbacks: map[string]CallbackFunc{
			"verify": func(_ context.Context, ev Event) error {
				calls = append(calls, "callback:"+ev.Action)
				return nil
			},
		},
	}
	r, messenger, sessions, dir := newTestRouter(t, routes)
	ctx := context.Background()
	who := types.Identity{ChatID: 5, UserID: 5, Username: "carol"}

	require.NoError(t, sessions.Save(ctx, &session.Session{ChatID: 5, State: enums.StateAwaitingName}))
	require.NoError(t, r.Handle(ctx, textEvent(who, "/ping@bot hi")))
	require.NoError(t, r.Handle(ctx, textEvent(who, "Carol")))
	require.NoError(t, r.Handle(ctx, Event{Sender: who, ChatID: 5, Action: "verify:confirm:carol", CallbackID: "cb1"}))

	assert.Equal(t, []string{"ping:hi", "state:Carol:awaiting_name", "callback:verify:confirm:carol"}, calls)
	assert.Equal(t, []string{"cb1"}, messenger.answered)
	assert.Len(t, dir.seen, 3)
	assert.Empty(t, messenger.to(5))
}

func TestRouterRendersErrors(t *testing.T) {
	routes := Routes{
		Commands: []Command{
			{Name: "bad", Run: func(context.Context, Event, string) error {
				return pkgerrors.New(pkgerrors.CodeValidation, "❌ Not a number.")
			}},
			{Name: "broken", Run: func(context.Context, Event, string) error {
				return pkgerrors.Wrap(pkgerrors.CodeStorage, errors.New("connection refused"), "insert household")
			}},
			{Name: "plain", Run: func(context.Context, Event, string) error {
				return errors.New("boom")
			}},
		},
	}
	r, messenger, _, _ := newTestRouter(t, routes)
	ctx := context.Background()
	who := types.Identity{ChatID: 9}

	require.NoError(t, r.Handle(ctx, textEvent(who, "/bad")))
	assert.Equal(t, "❌ Not a number.", messenger.last(9))

	require.NoError(t, r.Handle(ctx, textEvent(who, "/broken")))
	assert.Equal(t, pkgerrors.MetadataFor(pkgerrors.CodeStorage).PublicMessage, messenger.last(9))

	require.NoError(t, r.Handle(ctx, textEvent(who, "/plain")))
	assert.Equal(t, pkgerrors.MetadataFor(pkgerrors.CodeInternal).PublicMessage, messenger.last(9))

	require.NoError(t, r.Handle(ctx, textEvent(who, "/nope")))
	assert.Equal(t, msgUnknownCommand, messenger.last(9))

	require.NoError(t, r.Handle(ctx, textEvent(who, "just text")))
	assert.Equal(t, msgUnknownCommand, messenger.last(9))
}

func TestRouterGuardRunsFirst(t *testing.T) {
	ran := false
	routes := Routes{
		Commands: []Command{{Name: "start", Run: func(context.Context, Event, string) error {
			ran = true
			return nil
		}}},
		Guard: func(_ context.Context, ev Event) error {
			if ev.Sender.UserID != 1 {
				return pkgerrors.New(pkgerrors.CodeForbidden, msgNotAuthorized)
			}
			return nil
		},
	}
	r, messenger, _, _ := newTestRouter(t, routes)

	require.NoError(t, r.Handle(context.Background(), textEvent(types.Identity{ChatID: 2, UserID: 2}, "/start")))
	assert.False(t, ran)
	assert.Equal(t, msgNotAuthorized, messenger.last(2))

	require.NoError(t, r.Handle(context.Background(), textEvent(types.Identity{ChatID: 1, UserID: 1}, "/start")))
	assert.True(t, ran)
}

func TestRoutesHelpTextSkipsHidden(t *testing.T) {
	routes := Routes{Commands: []Command{
		{Name: "invite", Description: "invite members"},
		{Name: "add_member", Description: "alias", Hidden: true},
	}}
	help := routes.HelpText()
	assert.Contains(t, help, "/invite - invite members")
	assert.NotContains(t, help, "add_member")
}
