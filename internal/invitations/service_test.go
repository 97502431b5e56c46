package invitations

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bottlepoint/waterbot/internal/households"
	"github.com/bottlepoint/waterbot/internal/store"
	"github.com/bottlepoint/waterbot/internal/testutil"
	"github.com/bottlepoint/waterbot/internal/users"
	"github.com/bottlepoint/waterbot/pkg/db/models"
	"github.com/bottlepoint/waterbot/pkg/enums"
	pkgerrors "github.com/bottlepoint/waterbot/pkg/errors"
	"github.com/bottlepoint/waterbot/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type sent struct {
	ref     types.MessageRef
	text    string
	buttons [][]types.Button
}

type fakeMessenger struct {
	mu      sync.Mutex
	nextID  int
	sent    []sent
	edits   map[types.MessageRef]string
	failFor map[int64]bool
	// afterSend runs once a message is recorded, before Send returns.
	afterSend func(chatID int64)
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{edits: map[types.MessageRef]string{}, failFor: map[int64]bool{}}
}

func (m *fakeMessenger) Send(_ context.Context, chatID int64, text string, buttons ...[]types.Button) (types.MessageRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failFor[chatID] {
		return types.MessageRef{}, errors.New("chat not found")
	}
	m.nextID++
	ref := types.MessageRef{ChatID: chatID, MessageID: m.nextID}
	m.sent = append(m.sent, sent{ref: ref, text: text, buttons: buttons})
	hook := m.afterSend
	m.mu.Unlock()
	if hook != nil {
		hook(chatID)
	}
	m.mu.Lock()
	return ref, nil
}

func (m *fakeMessenger) Edit(_ context.Context, ref types.MessageRef, text string, _ ...[]types.Button) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.edits[ref] = text
	return nil
}

func (m *fakeMessenger) to(chatID int64) []sent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []sent
	for _, s := range m.sent {
		if s.ref.ChatID == chatID {
			out = append(out, s)
		}
	}
	return out
}

type fakeDirectory map[string]int64

func (d fakeDirectory) ChatIDFor(_ context.Context, username string) (int64, bool, error) {
	id, ok := d[types.NormalizeUsername(username)]
	return id, ok, nil
}

type fixture struct {
	svc       Service
	conn      *gorm.DB
	store     *MemoryStore
	messenger *fakeMessenger
	directory fakeDirectory
	users     *users.Repository
	clock     *time.Time
	household *models.Household
	alice     types.Identity
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	client, conn := testutil.NewClient(t)
	ctx := context.Background()

	household := &models.Household{Address: "123 Elm St", BottleBalance: 5}
	require.NoError(t, store.Insert(ctx, conn, household))
	userRepo := users.NewRepository(conn)
	alice := types.Identity{ChatID: 1, Username: "alice_w"}
	_, err := userRepo.Create(ctx, users.ProfileDTO{
		Identity:    alice,
		IIN:         "990101300123",
		Name:        "Alice",
		Phone:       "+77011234567",
		HouseholdID: household.ID,
		Verified:    true,
	})
	require.NoError(t, err)

	clock := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	f := &fixture{
		conn:      conn,
		store:     NewMemoryStore(),
		messenger: newFakeMessenger(),
		directory: fakeDirectory{"bob": 2},
		users:     userRepo,
		clock:     &clock,
		household: household,
		alice:     alice,
	}
	svc, err := NewService(ServiceParams{
		DB:          client,
		Store:       f.store,
		Users:       userRepo,
		Households:  households.NewRepository(conn),
		Directory:   f.directory,
		Messenger:   f.messenger,
		TTL:         72 * time.Hour,
		BotUsername: "water_collect_bot",
		Now:         func() time.Time { return *f.clock },
	})
	require.NoError(t, err)
	f.svc = svc
	return f
}

func TestInviteAndConfirmAddsVerifiedMember(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.svc.Invite(ctx, f.alice, "@bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, result.Identities(OutcomeSent))
	assert.Empty(t, result.Link)

	prompts := f.messenger.to(2)
	require.Len(t, prompts, 1)
	assert.Contains(t, prompts[0].text, "123 Elm St")
	require.Len(t, prompts[0].buttons, 1)
	assert.Equal(t, "verify:confirm:bob", prompts[0].buttons[0][0].Data)

	resp, err := f.svc.Respond(ctx, types.Identity{ChatID: 2, Username: "Bob"}, enums.VerificationConfirm, "bob")
	require.NoError(t, err)
	assert.True(t, resp.Handled)
	assert.Equal(t, msgConfirmed, resp.Text)

	bob, err := f.users.FindByUsername(ctx, "bob")
	require.NoError(t, err)
	assert.True(t, bob.Verified)
	assert.Equal(t, f.household.ID, *bob.HouseholdID)
	assert.Equal(t, int64(2), *bob.ChatID)

	home, err := store.FetchOne[models.Household](ctx, f.conn, store.Where{"id": f.household.ID})
	require.NoError(t, err)
	assert.Equal(t, 5, home.BottleBalance)

	assert.True(t, strings.HasSuffix(f.messenger.edits[prompts[0].ref], "(Response received ✅)"))
	notices := f.messenger.to(1)
	require.Len(t, notices, 1)
	assert.Equal(t, "@bob confirmed your invitation to 123 Elm St.", notices[0].text)

	pending, err := f.store.Get(ctx, "bob")
	require.NoError(t, err)
	assert.Nil(t, pending)
}

func TestAnswerWhilePromptInFlightIsNotRestored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bob := types.Identity{ChatID: 2, Username: "bob"}

	var (
		once  sync.Once
		first *Response
	)
	f.messenger.afterSend = func(chatID int64) {
		if chatID != bob.ChatID {
			return
		}
		once.Do(func() {
			resp, err := f.svc.Respond(ctx, bob, enums.VerificationConfirm, "bob")
			require.NoError(t, err)
			first = resp
		})
	}

	result, err := f.svc.Invite(ctx, f.alice, "@bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, result.Identities(OutcomeSent))
	require.NotNil(t, first)
	assert.True(t, first.Handled)

	pending, err := f.store.Get(ctx, "bob")
	require.NoError(t, err)
	assert.Nil(t, pending)

	prompts := f.messenger.to(bob.ChatID)
	require.NotEmpty(t, prompts)
	assert.True(t, strings.HasSuffix(f.messenger.edits[prompts[0].ref], "(This invitation is no longer pending)"))

	second, err := f.svc.Respond(ctx, bob, enums.VerificationConfirm, "bob")
	require.NoError(t, err)
	assert.False(t, second.Handled)
	assert.Equal(t, msgAlreadyHandled, second.Text)

	var members int64
	require.NoError(t, f.conn.Model(&models.User{}).Where("username = ?", "bob").Count(&members).Error)
	assert.Equal(t, int64(1), members)
}

func TestRespondIsIdempotentUnderConcurrency(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Invite(ctx, f.alice, "bob")
	require.NoError(t, err)

	bob := types.Identity{ChatID: 2, Username: "bob"}
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		handled int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := f.svc.Respond(ctx, bob, enums.VerificationConfirm, "bob")
			if err != nil {
				t.Errorf("respond: %v", err)
				return
			}
			if resp.Handled {
				mu.Lock()
				handled++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, handled)

	rows, err := store.FetchAll[models.User](ctx, f.conn, store.Where{"username": "bob"})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.Len(t, f.messenger.to(1), 1)

	resp, err := f.svc.Respond(ctx, bob, enums.VerificationDecline, "bob")
	require.NoError(t, err)
	assert.False(t, resp.Handled)
	assert.Equal(t, msgAlreadyHandled, resp.Text)
}

func TestRespondByAnotherUserIsForbidden(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Invite(ctx, f.alice, "bob")
	require.NoError(t, err)

	_, err = f.svc.Respond(ctx, types.Identity{ChatID: 66, Username: "mallory"}, enums.VerificationConfirm, "bob")
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeForbidden, pkgerrors.CodeOf(err))

	pending, err := f.store.Get(ctx, "bob")
	require.NoError(t, err)
	assert.NotNil(t, pending)
}

func TestDeclineLeavesNoMember(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Invite(ctx, f.alice, "bob")
	require.NoError(t, err)

	resp, err := f.svc.Respond(ctx, types.Identity{ChatID: 2, Username: "bob"}, enums.VerificationDecline, "bob")
	require.NoError(t, err)
	assert.Equal(t, msgDeclined, resp.Text)

	_, err = f.users.FindByUsername(ctx, "bob")
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound))
	notices := f.messenger.to(1)
	require.Len(t, notices, 1)
	assert.Contains(t, notices[0].text, "declined")
}

func TestInviteDefersUnknownChatsAndSkips(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.messenger.failFor[2] = true

	result, err := f.svc.Invite(ctx, f.alice, "@carol_k, bob ;@alice_w  x! @CAROL_K")
	require.NoError(t, err)
	assert.Equal(t, []string{"carol_k", "bob"}, result.Identities(OutcomeDeferred))
	assert.Equal(t, []string{"alice_w"}, result.Identities(OutcomeSkipped))
	assert.Equal(t, []string{"x!"}, result.Identities(OutcomeInvalid))
	assert.Equal(t, "https://t.me/water_collect_bot?start=invite_1", result.Link)
	assert.Contains(t, result.Text(), "Ask them to open this link")

	again, err := f.svc.Invite(ctx, f.alice, "carol_k")
	require.NoError(t, err)
	require.Len(t, again.Entries, 1)
	assert.Equal(t, "already invited", again.Entries[0].Reason)

	// carol writes to the bot later and receives the prompt
	delivered, err := f.svc.DeliverPending(ctx, types.Identity{ChatID: 3, Username: "Carol_K"})
	require.NoError(t, err)
	assert.True(t, delivered)
	require.Len(t, f.messenger.to(3), 1)

	pending, err := f.store.Get(ctx, "carol_k")
	require.NoError(t, err)
	assert.Equal(t, int64(3), pending.Prompt.ChatID)

	delivered, err = f.svc.DeliverPending(ctx, types.Identity{ChatID: 9, Username: "nobody"})
	require.NoError(t, err)
	assert.False(t, delivered)
}

func TestInviteRequiresVerifiedMember(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Invite(ctx, types.Identity{ChatID: 50, Username: "stranger"}, "bob")
	assert.Equal(t, pkgerrors.CodeForbidden, pkgerrors.CodeOf(err))
	assert.Equal(t, msgNotRegistered, pkgerrors.UserMessage(err))

	_, err = f.users.Create(ctx, users.ProfileDTO{
		Identity:    types.Identity{ChatID: 51, Username: "newbie"},
		IIN:         "880202400456",
		Name:        "Newbie",
		Phone:       "+77019998877",
		HouseholdID: f.household.ID,
	})
	require.NoError(t, err)
	_, err = f.svc.Invite(ctx, types.Identity{ChatID: 51, Username: "newbie"}, "bob")
	assert.Equal(t, msgNotVerified, pkgerrors.UserMessage(err))

	_, err = f.svc.Invite(ctx, f.alice, " , ")
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
}

func TestExpiredInvitations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Invite(ctx, f.alice, "bob, carol_k")
	require.NoError(t, err)
	prompt := f.messenger.to(2)[0].ref

	*f.clock = f.clock.Add(73 * time.Hour)

	resp, err := f.svc.Respond(ctx, types.Identity{ChatID: 2, Username: "bob"}, enums.VerificationConfirm, "bob")
	require.NoError(t, err)
	assert.False(t, resp.Handled)
	assert.Equal(t, msgExpiredReply, resp.Text)
	assert.Contains(t, f.messenger.edits[prompt], "expired")

	n, err := f.svc.ExpireStale(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	pending, err := f.store.Get(ctx, "carol_k")
	require.NoError(t, err)
	assert.Nil(t, pending)
}

type failingUpsertDB struct{}

func (failingUpsertDB) WithTx(context.Context, func(tx *gorm.DB) error) error {
	return pkgerrors.New(pkgerrors.CodeStorage, "database unavailable")
}

func TestConfirmStorageFailurePutsEntryBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Invite(ctx, f.alice, "bob")
	require.NoError(t, err)

	broken, err := NewService(ServiceParams{
		DB:         failingUpsertDB{},
		Store:      f.store,
		Users:      f.users,
		Households: households.NewRepository(f.conn),
		Directory:  f.directory,
		Messenger:  f.messenger,
		TTL:        time.Hour,
		Now:        func() time.Time { return *f.clock },
	})
	require.NoError(t, err)

	_, err = broken.Respond(ctx, types.Identity{ChatID: 2, Username: "bob"}, enums.VerificationConfirm, "bob")
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeStorage, pkgerrors.CodeOf(err))

	pending, err := f.store.Get(ctx, "bob")
	require.NoError(t, err)
	require.NotNil(t, pending)

	resp, err := f.svc.Respond(ctx, types.Identity{ChatID: 2, Username: "bob"}, enums.VerificationConfirm, "bob")
	require.NoError(t, err)
	assert.True(t, resp.Handled)
}

func TestCallbackAndStartPayloads(t *testing.T) {
	action, identity, ok := ParseCallback(CallbackData(enums.VerificationDecline, "bob"))
	require.True(t, ok)
	assert.Equal(t, enums.VerificationDecline, action)
	assert.Equal(t, "bob", identity)

	for _, bad := range []string{"", "verify:maybe:bob", "other:confirm:bob", "verify:confirm:"} {
		_, _, ok := ParseCallback(bad)
		assert.False(t, ok, bad)
	}

	id, ok := ParseInviteStart("invite_42")
	assert.True(t, ok)
	assert.Equal(t, int64(42), id)
	for _, bad := range []string{"invite_", "invite_x", "42", "invite_-1"} {
		_, ok := ParseInviteStart(bad)
		assert.False(t, ok, bad)
	}
}
