package bot

import (
	"context"
	"fmt"
	"sync"

	"github.com/bottlepoint/waterbot/pkg/logger"
	"github.com/bottlepoint/waterbot/pkg/metrics"
)

// Dispatcher runs events of one chat strictly in arrival order while
// different chats proceed concurrently. A chat's worker goroutine exits as
// soon as its queue drains.
type Dispatcher struct {
	handler Handler
	logg    *logger.Logger
	metrics *metrics.BotMetrics

	mu     sync.Mutex
	queues map[int64][]Event
	wg     sync.WaitGroup
}

func NewDispatcher(handler Handler, logg *logger.Logger, m *metrics.BotMetrics) *Dispatcher {
	return &Dispatcher{
		handler: handler,
		logg:    logg,
		metrics: m,
		queues:  make(map[int64][]Event),
	}
}

// Run dispatches events until ctx is cancelled or events is closed, then
// waits for queued events to finish. In-flight handlers are not cancelled.
func (d *Dispatcher) Run(ctx context.Context, events <-chan Event) error {
	work := context.WithoutCancel(ctx)
	for {
		select {
		case <-ctx.Done():
			d.Wait()
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				d.Wait()
				return nil
			}
			d.Dispatch(work, ev)
		}
	}
}

// Dispatch queues ev behind earlier events of the same chat.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) {
	d.mu.Lock()
	queue, running := d.queues[ev.ChatID]
	d.queues[ev.ChatID] = append(queue, ev)
	if !running {
		d.wg.Add(1)
	}
	d.mu.Unlock()

	if !running {
		go d.drain(ctx, ev.ChatID)
	}
}

// Wait blocks until every queued event has been handled.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) drain(ctx context.Context, chatID int64) {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		queue := d.queues[chatID]
		if len(queue) == 0 {
			delete(d.queues, chatID)
			d.mu.Unlock()
			return
		}
		ev := queue[0]
		d.queues[chatID] = queue[1:]
		d.mu.Unlock()

		d.handle(ctx, ev)
	}
}

func (d *Dispatcher) handle(ctx context.Context, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			d.metrics.IncPanic()
			if d.logg != nil {
				d.logg.Error(d.logg.WithChatID(ctx, ev.ChatID), "event handler panicked", fmt.Errorf("panic: %v", r))
			}
		}
	}()
	d.metrics.IncEvent(ev.Kind())
	if err := d.handler.Handle(ctx, ev); err != nil && d.logg != nil {
		d.logg.Error(d.logg.WithChatID(ctx, ev.ChatID), "event handling failed", err)
	}
}
