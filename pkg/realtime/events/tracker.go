package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/tsarna/callsec/pkg/realtime"
	"github.com/tsarna/go-structdiff"
)

// Change describes how a tracked record moved after one event.
type Change struct {
	Category realtime.Category `json:"category"`
	Action   string            `json:"action"`
	ID       string            `json:"id"`
	// Delta holds only the fields that changed. For a new record it is the
	// whole record, for an end or delete it is nil.
	Delta map[string]any `json:"delta,omitempty"`
	// Record is the merged state after the event, nil once removed.
	Record map[string]any `json:"record,omitempty"`
}

// Tracker keeps the latest state of every call, message and appointment it
// sees and reports field level changes. Update events may carry partial
// records; they are merged over the stored state.
type Tracker struct {
	onChange func(Change)

	mu      sync.Mutex
	records map[realtime.Category]map[string]map[string]any
}

// NewTracker creates a Tracker. onChange, if not nil, is called after each
// tracked event outside the tracker's lock.
func NewTracker(onChange func(Change)) *Tracker {
	return &Tracker{
		onChange: onChange,
		records:  make(map[realtime.Category]map[string]map[string]any),
	}
}

// OnEvent implements realtime.Subscriber.
func (t *Tracker) OnEvent(ctx context.Context, category realtime.Category, payload json.RawMessage) error {
	change, ok, err := t.Observe(category, payload)
	if err != nil || !ok {
		return err
	}
	if t.onChange != nil {
		t.onChange(change)
	}
	return nil
}

// Observe applies one event. It reports false for categories that carry no
// records.
func (t *Tracker) Observe(category realtime.Category, payload json.RawMessage) (Change, bool, error) {
	key := entityKey(category)
	if key == "" {
		return Change{}, false, nil
	}

	var raw map[string]any
	if err := json.Unmarshal(payload, &raw); err != nil {
		return Change{}, false, fmt.Errorf("failed to decode %s event: %w", category, err)
	}

	action, _ := raw["action"].(string)
	record, _ := raw[key].(map[string]any)
	id := recordID(key, raw, record)
	if id == "" {
		return Change{}, false, fmt.Errorf("%s event has no %s_id", category, key)
	}

	change := Change{Category: category, Action: action, ID: id}

	t.mu.Lock()
	defer t.mu.Unlock()

	byID := t.records[category]
	if byID == nil {
		byID = make(map[string]map[string]any)
		t.records[category] = byID
	}

	switch action {
	case ActionEnd, ActionDelete:
		delete(byID, id)
		return change, true, nil

	case ActionNew:
		if record == nil {
			return Change{}, false, fmt.Errorf("%s event has no %s object", category, key)
		}
		byID[id] = record
		change.Delta = record
		change.Record = record
		return change, true, nil

	default:
		if record == nil {
			return Change{}, false, fmt.Errorf("%s event has no %s object", category, key)
		}
		previous, known := byID[id]
		if !known {
			byID[id] = record
			change.Delta = record
			change.Record = record
			return change, true, nil
		}

		merged := make(map[string]any, len(previous))
		for k, v := range previous {
			merged[k] = v
		}
		if err := structdiff.Apply(&merged, record); err != nil {
			return Change{}, false, fmt.Errorf("unable to merge %s update: %w", category, err)
		}

		diff, err := structdiff.Diff(previous, merged)
		if err != nil {
			return Change{}, false, fmt.Errorf("unable to diff %s update: %w", category, err)
		}
		delta, _ := any(diff).(map[string]any)

		byID[id] = merged
		change.Delta = delta
		change.Record = merged
		return change, true, nil
	}
}

// Get returns the stored record for id.
func (t *Tracker) Get(category realtime.Category, id string) (map[string]any, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	record, ok := t.records[category][id]
	return record, ok
}

// Len returns the number of live records in category.
func (t *Tracker) Len(category realtime.Category) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records[category])
}

func entityKey(category realtime.Category) string {
	switch category {
	case realtime.CategoryCall:
		return "call"
	case realtime.CategoryMessage:
		return "message"
	case realtime.CategoryAppointment:
		return "appointment"
	default:
		return ""
	}
}

func recordID(key string, raw, record map[string]any) string {
	idKey := key + "_id"
	if id := idString(raw[idKey]); id != "" {
		return id
	}
	if record != nil {
		return idString(record[idKey])
	}
	return ""
}

func idString(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case float64:
		return fmt.Sprintf("%v", id)
	default:
		return ""
	}
}
