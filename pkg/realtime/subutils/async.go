// Package subutils provides Subscriber wrappers: asynchronous delivery,
// logging and jq filtering.
package subutils

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/tsarna/callsec/pkg/realtime"
)

// Error definitions for AsyncQueueingSubscriber
var (
	ErrQueueFull        = errors.New("subscriber queue is full")
	ErrSubscriberClosed = errors.New("subscriber is closed")
)

type asyncEvent struct {
	ctx      context.Context
	category realtime.Category
	payload  json.RawMessage
}

// AsyncQueueingSubscriber wraps another subscriber and delivers events from
// a background goroutine, so a slow subscriber does not hold up the
// client's dispatch.
type AsyncQueueingSubscriber struct {
	wrapped   realtime.Subscriber
	queue     chan asyncEvent
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewAsyncQueueingSubscriber creates an AsyncQueueingSubscriber with a
// buffered queue of queueSize events. Call Start to begin delivery and
// Close to drain and stop.
//
//	async := subutils.NewAsyncQueueingSubscriber(printer, 100).Start()
//	defer async.Close()
//	client.On(realtime.CategoryCall, async)
func NewAsyncQueueingSubscriber(wrapped realtime.Subscriber, queueSize int) *AsyncQueueingSubscriber {
	if queueSize <= 0 {
		queueSize = 100
	}

	return &AsyncQueueingSubscriber{
		wrapped: wrapped,
		queue:   make(chan asyncEvent, queueSize),
		done:    make(chan struct{}),
	}
}

// Start begins processing events in a background goroutine.
func (a *AsyncQueueingSubscriber) Start() *AsyncQueueingSubscriber {
	a.wg.Add(1)
	go a.processQueue()
	return a
}

func (a *AsyncQueueingSubscriber) processQueue() {
	defer a.wg.Done()

	for {
		select {
		case ev := <-a.queue:
			a.wrapped.OnEvent(ev.ctx, ev.category, ev.payload)
		case <-a.done:
			a.drainQueue()
			return
		}
	}
}

func (a *AsyncQueueingSubscriber) drainQueue() {
	for {
		select {
		case ev := <-a.queue:
			a.wrapped.OnEvent(ev.ctx, ev.category, ev.payload)
		default:
			return
		}
	}
}

// OnEvent queues the event and returns immediately. The payload is copied
// since the caller may reuse its buffer.
func (a *AsyncQueueingSubscriber) OnEvent(ctx context.Context, category realtime.Category, payload json.RawMessage) error {
	if a.IsClosed() {
		return ErrSubscriberClosed
	}

	ev := asyncEvent{
		ctx:      ctx,
		category: category,
		payload:  append(json.RawMessage(nil), payload...),
	}

	select {
	case a.queue <- ev:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting events, delivers everything still queued and
// waits for the background goroutine to exit.
func (a *AsyncQueueingSubscriber) Close() error {
	a.closeOnce.Do(func() {
		close(a.done)
		a.wg.Wait()
	})
	return nil
}

// QueueSize returns the current number of events in the queue
func (a *AsyncQueueingSubscriber) QueueSize() int {
	return len(a.queue)
}

// QueueCapacity returns the maximum capacity of the queue
func (a *AsyncQueueingSubscriber) QueueCapacity() int {
	return cap(a.queue)
}

// IsClosed returns true if the subscriber has been closed
func (a *AsyncQueueingSubscriber) IsClosed() bool {
	select {
	case <-a.done:
		return true
	default:
		return false
	}
}
