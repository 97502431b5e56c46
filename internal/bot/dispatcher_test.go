package bot

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bottlepoint/waterbot/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcherKeepsPerChatOrder(t *testing.T) {
	var (
		mu   sync.Mutex
		seen = map[int64][]string{}
	)
	handler := HandlerFunc(func(_ context.Context, ev Event) error {
		time.Sleep(time.Millisecond)
		mu.Lock()
		seen[ev.ChatID] = append(seen[ev.ChatID], ev.Text)
		mu.Unlock()
		return nil
	})
	d := NewDispatcher(handler, nil, nil)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		for _, chat := range []int64{1, 2, 3} {
			d.Dispatch(ctx, Event{ChatID: chat, Text: string(rune('a' + i))})
		}
	}
	d.Wait()

	for _, chat := range []int64{1, 2, 3} {
		assert.Equal(t, []string{"a", "b", "c", "d", "e"}, seen[chat])
	}
	assert.Empty(t, d.queues)
}

func TestDispatcherRunsChatsConcurrently(t *testing.T) {
	release := make(chan struct{})
	started := make(chan int64, 2)
	handler := HandlerFunc(func(_ context.Context, ev Event) error {
		started <- ev.ChatID
		<-release
		return nil
	})
	d := NewDispatcher(handler, nil, nil)

	d.Dispatch(context.Background(), Event{ChatID: 1})
	d.Dispatch(context.Background(), Event{ChatID: 2})

	got := map[int64]bool{}
	for i := 0; i < 2; i++ {
		select {
		case id := <-started:
			got[id] = true
		case <-time.After(2 * time.Second):
			t.Fatal("second chat blocked behind the first")
		}
	}
	close(release)
	d.Wait()
	assert.Len(t, got, 2)
}

func TestDispatcherRecoversPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewBotMetrics(reg)

	var handled []string
	handler := HandlerFunc(func(_ context.Context, ev Event) error {
		if ev.Text == "boom" {
			panic("handler exploded")
		}
		handled = append(handled, ev.Text)
		return nil
	})
	d := NewDispatcher(handler, nil, m)

	d.Dispatch(context.Background(), Event{ChatID: 7, Text: "boom"})
	d.Dispatch(context.Background(), Event{ChatID: 7, Text: "after"})
	d.Wait()

	assert.Equal(t, []string{"after"}, handled)

	families, err := reg.Gather()
	require.NoError(t, err)
	var panics float64
	for _, f := range families {
		if f.GetName() == "waterbot_bot_handler_panics_total" {
			panics = f.GetMetric()[0].GetCounter().GetValue()
		}
	}
	assert.Equal(t, float64(1), panics)
}

func TestDispatcherRunStopsWhenEventsClose(t *testing.T) {
	var count int
	var mu sync.Mutex
	d := NewDispatcher(HandlerFunc(func(context.Context, Event) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	}), nil, nil)

	events := make(chan Event, 3)
	events <- Event{ChatID: 1}
	events <- Event{ChatID: 1}
	events <- Event{ChatID: 2}
	close(events)

	require.NoError(t, d.Run(context.Background(), events))
	assert.Equal(t, 3, count)
}

func TestDispatcherRunStopsOnCancel(t *testing.T) {
	d := NewDispatcher(HandlerFunc(func(context.Context, Event) error { return nil }), nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := d.Run(ctx, make(chan Event))
	assert.ErrorIs(t, err, context.Canceled)
}
