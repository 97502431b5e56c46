package bot

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/bottlepoint/waterbot/internal/households"
	"github.com/bottlepoint/waterbot/internal/invitations"
	"github.com/bottlepoint/waterbot/internal/ledger"
	"github.com/bottlepoint/waterbot/internal/points"
	"github.com/bottlepoint/waterbot/internal/registration"
	"github.com/bottlepoint/waterbot/internal/session"
	"github.com/bottlepoint/waterbot/internal/testutil"
	"github.com/bottlepoint/waterbot/internal/users"
	"github.com/bottlepoint/waterbot/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type residentFixture struct {
	router    *Router
	messenger *fakeMessenger
	ledger    ledger.Service
	users     *users.Repository
	sessions  *session.MemoryStore
	conn      *gorm.DB
}

func newResidentFixture(t *testing.T) residentFixture {
	t.Helper()
	client, conn := testutil.NewClient(t)

	ledgerSvc, err := ledger.NewService(ledger.ServiceParams{
		DB:             client,
		Repo:           ledger.NewRepository(conn),
		DefaultBalance: 5,
	})
	require.NoError(t, err)

	messenger := newFakeMessenger()
	sessions := session.NewMemoryStore(30 * time.Minute)
	userRepo := users.NewRepository(conn)
	householdRepo := households.NewRepository(conn)
	directory := users.NewDirectory(conn)

	reg, err := registration.NewService(registration.ServiceParams{
		DB:         client,
		Sessions:   sessions,
		Users:      userRepo,
		Households: householdRepo,
		Ledger:     ledgerSvc,
	})
	require.NoError(t, err)

	inv, err := invitations.NewService(invitations.ServiceParams{
		DB:          client,
		Store:       invitations.NewMemoryStore(),
		Users:       userRepo,
		Households:  householdRepo,
		Directory:   directory,
		Messenger:   messenger,
		TTL:         72 * time.Hour,
		BotUsername: "water_collect_bot",
	})
	require.NoError(t, err)

	routes := ResidentRoutes(ResidentDeps{
		Messenger:      messenger,
		Sessions:       sessions,
		Registration:   reg,
		Invitations:    inv,
		Ledger:         ledgerSvc,
		Users:          userRepo,
		Points:         points.NewRepository(conn),
		DefaultCollect: 5,
	})
	router, err := NewRouter(RouterParams{Routes: routes, Messenger: messenger, Sessions: sessions, Directory: directory})
	require.NoError(t, err)

	return residentFixture{router: router, messenger: messenger, ledger: ledgerSvc, users: userRepo, sessions: sessions, conn: conn}
}

func (f residentFixture) say(t *testing.T, who types.Identity, text string) string {
	t.Helper()
	require.NoError(t, f.router.Handle(context.Background(), textEvent(who, text)))
	return f.messenger.last(who.ChatID)
}

func (f residentFixture) register(t *testing.T, who types.Identity, address, iin, name, phone string) string {
	t.Helper()
	f.say(t, who, "/register")
	f.say(t, who, address)
	f.say(t, who, iin)
	f.say(t, who, name)
	return f.say(t, who, phone)
}

var (
	alice = types.Identity{ChatID: 101, UserID: 101, Username: "alice_w", FirstName: "Alice"}
	bob   = types.Identity{ChatID: 202, UserID: 202, Username: "bob", FirstName: "Bob"}
)

func TestResidentRegistersAndCollects(t *testing.T) {
	f := newResidentFixture(t)

	assert.Equal(t, "Welcome! Please enter your Address to start your Registration:", f.say(t, alice, "/start"))
	f.say(t, alice, "123 Elm St")
	f.say(t, alice, "990101300123")
	f.say(t, alice, "Alice Smith")
	done := f.say(t, alice, "8 701 123 45 67")
	assert.Contains(t, done, "Registration successful")
	assert.Contains(t, done, "Bottle balance: 5")

	user, err := f.users.FindByChatID(context.Background(), alice.ChatID)
	require.NoError(t, err)
	assert.True(t, user.Verified)
	assert.Equal(t, "+77011234567", *user.Phone)

	assert.Equal(t, "💧 Bottle balance: 5", f.say(t, alice, "/balance"))
	assert.Contains(t, f.say(t, alice, "/collect 2"), "Remaining balance: 3")
	assert.Contains(t, f.say(t, alice, "/collect 1"), "Remaining balance: 2")

	capped := f.say(t, alice, "/collect")
	assert.Contains(t, capped, "Collected 2 bottles. Remaining balance: 0")
	assert.Contains(t, capped, "Only 2 of the 5 requested")

	assert.Equal(t, "Your household has no bottles left.", f.say(t, alice, "/collect 1"))
	assert.Equal(t, msgInvalidBottles, f.say(t, alice, "/collect zero"))

	recent := strings.Split(f.say(t, alice, "/history 2"), "\n")
	require.Len(t, recent, 3)
	assert.Equal(t, "Recent bottle movements:", recent[0])
	assert.True(t, strings.HasSuffix(recent[1], "collect -2, balance 0"), recent[1])
	assert.True(t, strings.HasSuffix(recent[2], "collect -1, balance 2"), recent[2])
	assert.Contains(t, f.say(t, alice, "/history"), "opening +5, balance 5")
	assert.Equal(t, msgHistoryUsage, f.say(t, alice, "/history 99"))
}

func TestResidentInvalidInputKeepsState(t *testing.T) {
	f := newResidentFixture(t)
	f.say(t, alice, "/register")
	f.say(t, alice, "123 Elm St")

	reply := f.say(t, alice, "12345")
	assert.True(t, strings.HasPrefix(reply, "❌ "), reply)
	assert.Contains(t, reply, "Please enter your IIN")

	sess, err := f.sessions.Get(context.Background(), alice.ChatID)
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, "awaiting_national_id", string(sess.State))

	assert.Contains(t, f.say(t, alice, "/cancel"), "Registration cancelled")
	sess, err = f.sessions.Get(context.Background(), alice.ChatID)
	require.NoError(t, err)
	assert.Nil(t, sess)
}

func TestResidentInviteConfirmFlow(t *testing.T) {
	f := newResidentFixture(t)
	f.register(t, alice, "123 Elm St", "990101300123", "Alice Smith", "+77011234567")

	// bob has written to the bot, so the prompt can reach him directly.
	f.say(t, bob, "/help")

	assert.Equal(t, msgAskInvitees, f.say(t, alice, "/invite"))
	assert.Contains(t, f.say(t, alice, "@bob"), "Confirmation sent to: @bob")

	prompt := f.messenger.to(bob.ChatID)
	require.NotEmpty(t, prompt)
	last := prompt[len(prompt)-1]
	require.Len(t, last.buttons, 1)
	confirm := last.buttons[0][0].Data
	assert.Equal(t, "verify:confirm:bob", confirm)

	require.NoError(t, f.router.Handle(context.Background(), Event{
		Sender:     bob,
		ChatID:     bob.ChatID,
		Action:     confirm,
		CallbackID: "cb-bob",
		Prompt:     last.ref,
	}))
	assert.Equal(t, "✅ You have been added to the household!", f.messenger.last(bob.ChatID))
	assert.Contains(t, f.messenger.edits[last.ref], "Response received")
	assert.Contains(t, f.messenger.last(alice.ChatID), "@bob confirmed")

	member, err := f.users.FindByUsername(context.Background(), "bob")
	require.NoError(t, err)
	assert.True(t, member.Verified)

	// The inviter's balance is untouched by the new member.
	assert.Equal(t, "💧 Bottle balance: 5", f.say(t, alice, "/balance"))

	// Pressing again is a no-op.
	require.NoError(t, f.router.Handle(context.Background(), Event{Sender: bob, ChatID: bob.ChatID, Action: confirm, CallbackID: "cb-bob-2"}))
	assert.Equal(t, "This invitation has already been answered.", f.messenger.last(bob.ChatID))

	assert.Equal(t, "Invitation was approved. Please enter your IIN to start registration:", f.say(t, bob, "/register"))
}

func TestResidentInviteRequiresVerifiedMember(t *testing.T) {
	f := newResidentFixture(t)
	assert.Equal(t, msgNotRegistered, f.say(t, bob, "/invite"))
	assert.Equal(t, msgNotRegistered, f.say(t, bob, "/balance"))

	f.register(t, alice, "123 Elm St", "990101300123", "Alice Smith", "+77011234567")
	// Same address, second household member who was never invited.
	f.register(t, bob, "123 Elm St", "990101300124", "Bob Jones", "+77011234568")

	assert.Equal(t, msgNotVerified, f.say(t, bob, "/collect 1"))
	assert.Equal(t, msgNotVerified, f.say(t, bob, "/balance"))
	assert.Equal(t, msgNotVerified, f.say(t, bob, "/history"))
}

func TestResidentTransferToPoint(t *testing.T) {
	f := newResidentFixture(t)
	f.register(t, alice, "123 Elm St", "990101300123", "Alice Smith", "+77011234567")
	point, err := f.ledger.OpenPoint(context.Background(), ledger.OpenAccountInput{Address: "Point A"})
	require.NoError(t, err)

	assert.Contains(t, f.say(t, alice, "/points"), "Point A (0 bottles)")
	assert.Equal(t, msgTransferUsage, f.say(t, alice, "/transfer 1"))
	assert.Equal(t, "Your household has 5 bottles, cannot transfer 6.", f.say(t, alice, "/transfer "+itoa(point.ID)+" 6"))

	reply := f.say(t, alice, "/transfer "+itoa(point.ID)+" 3")
	assert.Contains(t, reply, "Transferred 3 bottles")
	assert.Contains(t, reply, "Remaining balance: 2")

	balance, err := f.ledger.Balance(context.Background(), ledger.PointAccount(point.ID))
	require.NoError(t, err)
	assert.Equal(t, 3, balance)
}

func TestResidentVerifyWithoutInvitation(t *testing.T) {
	f := newResidentFixture(t)
	assert.Equal(t, msgNoPending, f.say(t, bob, "/verify"))
	assert.Contains(t, f.say(t, bob, "/help"), "/collect")
}
