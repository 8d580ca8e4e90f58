package realtime

import (
	"context"
	"encoding/json"
)

// Subscriber receives the events of the categories it was registered for.
// An error returned from OnEvent is logged by the dispatcher and does not
// stop delivery to other subscribers.
//
// Subscribers are compared by ==, so implementations must be comparable;
// pointer receivers are the usual choice.
type Subscriber interface {
	OnEvent(ctx context.Context, category Category, payload json.RawMessage) error
}

// BaseSubscriber ignores every event. Embed it to build subscribers that
// only care about some of what they receive.
type BaseSubscriber struct{}

func (b *BaseSubscriber) OnEvent(ctx context.Context, category Category, payload json.RawMessage) error {
	return nil
}

// FuncSubscriber adapts a function to the Subscriber interface.
type FuncSubscriber struct {
	fn func(ctx context.Context, category Category, payload json.RawMessage) error
}

// SubscriberFunc wraps fn in a FuncSubscriber. Keep the returned pointer to
// unregister it later.
func SubscriberFunc(fn func(ctx context.Context, category Category, payload json.RawMessage) error) *FuncSubscriber {
	return &FuncSubscriber{fn: fn}
}

func (f *FuncSubscriber) OnEvent(ctx context.Context, category Category, payload json.RawMessage) error {
	if f.fn == nil {
		return nil
	}
	return f.fn(ctx, category, payload)
}
