// Package feed is the change-feed boundary: a subscribe/unsubscribe primitive
// that delivers an event whenever rows matching a filter are written.
// Delivery is at-least-once with no ordering guarantee across distinct
// subscriptions; consumers reconcile by re-fetching an authoritative
// snapshot, never by patching state from event payloads.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
)

type EventType string

const (
	EventInsert EventType = "insert"
	EventUpdate EventType = "update"
	EventDelete EventType = "delete"
	EventAny    EventType = "*"
)

// Event is one row change. New carries the row after the write (empty for
// deletes), Old the row before it (empty for inserts).
type Event struct {
	Table string          `json:"table"`
	Type  EventType       `json:"type"`
	New   json.RawMessage `json:"new,omitempty"`
	Old   json.RawMessage `json:"old,omitempty"`
}

// Filter selects events by table, event type and equality predicates over
// top-level row fields. For deletes the predicate is evaluated against Old.
type Filter struct {
	Table string
	Event EventType
	Eq    map[string]string
}

// Matches reports whether ev passes the filter.
func (f Filter) Matches(ev Event) bool {
	if f.Table != "" && f.Table != ev.Table {
		return false
	}
	if f.Event != "" && f.Event != EventAny && f.Event != ev.Type {
		return false
	}
	if len(f.Eq) == 0 {
		return true
	}
	row := ev.New
	if ev.Type == EventDelete {
		row = ev.Old
	}
	if len(row) == 0 {
		return false
	}
	var fields map[string]any
	if err := json.Unmarshal(row, &fields); err != nil {
		return false
	}
	for k, want := range f.Eq {
		got, ok := fields[k]
		if !ok {
			return false
		}
		if fmt.Sprint(got) != want {
			return false
		}
	}
	return true
}

// Handler receives matching events. Handlers must not block: reconciliation
// fetches belong in their own goroutine or timeout-bounded context.
type Handler func(ev Event)

// Subscription is a live filter registration. Close is idempotent and
// tears the subscription down deterministically.
type Subscription interface {
	Close()
}

// Broker publishes row change events and fans them out to subscribers.
// Implementations: redis pub/sub for multi-process deployments, memory for
// -dev mode and tests.
type Broker interface {
	Publish(ctx context.Context, ev Event) error
	Subscribe(ctx context.Context, f Filter, h Handler) (Subscription, error)
	Close() error
}

// MarshalRow encodes a row struct for an Event payload. Errors are
// programming mistakes (unmarshalable types), so they are swallowed into an
// empty payload rather than failing the originating write.
func MarshalRow(row any) json.RawMessage {
	b, err := json.Marshal(row)
	if err != nil {
		return nil
	}
	return b
}
