package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sync"

	"go.uber.org/zap"
)

// Registry maps each category to the ordered list of its subscribers.
// It is safe for concurrent use; dispatch works on a snapshot so a
// subscriber may register or unregister others while being called.
type Registry struct {
	mu     sync.RWMutex
	subs   map[Category][]Subscriber
	logger *zap.Logger
}

// DispatchResult counts the outcome of one Dispatch call.
type DispatchResult struct {
	Delivered int
	Failed    int
}

// NewRegistry creates an empty registry for the four categories.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}

	subs := make(map[Category][]Subscriber, len(Categories))
	for _, c := range Categories {
		subs[c] = nil
	}

	return &Registry{
		subs:   subs,
		logger: logger,
	}
}

// On appends sub to the subscribers of category. It fails when the category
// is unknown, sub is nil or sub cannot be compared for a later Off.
func (r *Registry) On(category Category, sub Subscriber) bool {
	if !category.Valid() || sub == nil {
		return false
	}
	if !reflect.TypeOf(sub).Comparable() {
		r.logger.Warn("Rejecting subscriber that is not comparable",
			zap.String("category", string(category)),
			zap.String("type", fmt.Sprintf("%T", sub)),
		)
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.subs[category] = append(r.subs[category], sub)
	return true
}

// Off removes the first registration of sub for category. It reports
// whether anything was removed.
func (r *Registry) Off(category Category, sub Subscriber) bool {
	if !category.Valid() || sub == nil || !reflect.TypeOf(sub).Comparable() {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.subs[category]
	for i, s := range list {
		if s == sub {
			updated := make([]Subscriber, 0, len(list)-1)
			updated = append(updated, list[:i]...)
			updated = append(updated, list[i+1:]...)
			r.subs[category] = updated
			return true
		}
	}
	return false
}

// Count returns the number of subscribers registered for category.
func (r *Registry) Count(category Category) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs[category])
}

// Dispatch delivers payload to every subscriber of category in registration
// order. Errors and panics are logged per subscriber and never interrupt
// delivery to the rest.
func (r *Registry) Dispatch(ctx context.Context, category Category, payload json.RawMessage) DispatchResult {
	r.mu.RLock()
	list := r.subs[category]
	r.mu.RUnlock()

	var result DispatchResult
	for _, sub := range list {
		if err := r.deliver(ctx, sub, category, payload); err != nil {
			result.Failed++
			r.logger.Error("Error in subscriber",
				zap.String("category", string(category)),
				zap.String("subscriber", fmt.Sprintf("%T", sub)),
				zap.Error(err),
			)
			continue
		}
		result.Delivered++
	}
	return result
}

func (r *Registry) deliver(ctx context.Context, sub Subscriber, category Category, payload json.RawMessage) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("subscriber panicked: %v", p)
		}
	}()
	return sub.OnEvent(ctx, category, payload)
}
