package bot

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"strconv"
	"sync"

	"github.com/bottlepoint/waterbot/pkg/types"
)

type outgoing struct {
	ref     types.MessageRef
	text    string
	photo   string
	buttons [][]types.Button
}

type fakeMessenger struct {
	mu       sync.Mutex
	nextID   int
	sent     []outgoing
	edits    map[types.MessageRef]string
	answered []string
	files    map[string][]byte
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{edits: map[types.MessageRef]string{}, files: map[string][]byte{}}
}

func (m *fakeMessenger) Send(_ context.Context, chatID int64, text string, buttons ...[]types.Button) (types.MessageRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	ref := types.MessageRef{ChatID: chatID, MessageID: m.nextID}
	m.sent = append(m.sent, outgoing{ref: ref, text: text, buttons: buttons})
	return ref, nil
}

func (m *fakeMessenger) Edit(_ context.Context, ref types.MessageRef, text string, _ ...[]types.Button) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.edits[ref] = text
	return nil
}

func (m *fakeMessenger) SendPhoto(_ context.Context, chatID int64, path, caption string) error {
	if _, err := os.Stat(path); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.sent = append(m.sent, outgoing{ref: types.MessageRef{ChatID: chatID, MessageID: m.nextID}, text: caption, photo: path})
	return nil
}

func (m *fakeMessenger) Download(_ context.Context, fileID string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	body, ok := m.files[fileID]
	if !ok {
		return nil, errors.New("file not found")
	}
	return io.NopCloser(bytes.NewReader(body)), nil
}

func (m *fakeMessenger) AnswerCallback(_ context.Context, callbackID, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.answered = append(m.answered, callbackID)
	return nil
}

func (m *fakeMessenger) to(chatID int64) []outgoing {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []outgoing
	for _, s := range m.sent {
		if s.ref.ChatID == chatID {
			out = append(out, s)
		}
	}
	return out
}

// last returns the text of the most recent message sent to chatID.
func (m *fakeMessenger) last(chatID int64) string {
	msgs := m.to(chatID)
	if len(msgs) == 0 {
		return ""
	}
	return msgs[len(msgs)-1].text
}

func textEvent(who types.Identity, text string) Event {
	return Event{Sender: who, ChatID: who.ChatID, Text: text}
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
