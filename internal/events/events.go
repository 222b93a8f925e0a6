// Package events provides a Server-Sent Events (SSE) system backed by
// database persistence. Events are written to the database and then polled
// and broadcast to subscribers, so every server process sees every event.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/adforge/adforge/internal/model"
)

// EventType represents the type of event being broadcast
type EventType string

const (
	// EventTypeProgressSaved indicates wizard progress was persisted
	EventTypeProgressSaved EventType = model.EventTypeProgressSaved
	// EventTypeProgressMigrated indicates anonymous progress was merged
	// into a user record
	EventTypeProgressMigrated EventType = model.EventTypeProgressMigrated
	// EventTypeProgressCleared indicates a start-over wiped the record
	EventTypeProgressCleared EventType = model.EventTypeProgressCleared
	// EventTypeGenerationComplete indicates ad variants were stored
	EventTypeGenerationComplete EventType = model.EventTypeGenerationComplete
)

// Event represents a server-sent event
type Event struct {
	ID        string          `json:"id"`
	Seq       int64           `json:"seq"`
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// FromModel converts a model.WizardEvent to an Event
func FromModel(e *model.WizardEvent) *Event {
	return &Event{
		ID:        e.ID,
		Seq:       e.Seq,
		Type:      EventType(e.Type),
		Timestamp: e.CreatedAt,
		Data:      e.Data,
	}
}

// ProgressSavedData is the payload for progress_saved events
type ProgressSavedData struct {
	Step    int `json:"step"`
	Version int `json:"version,omitempty"`
}

// ProgressMigratedData is the payload for progress_migrated events
type ProgressMigratedData struct {
	SessionID string `json:"sessionId"`
	Step      int    `json:"step"`
}

// GenerationCompleteData is the payload for generation_complete events
type GenerationCompleteData struct {
	Variants int    `json:"variants"`
	Platform string `json:"platform,omitempty"`
}

// Subscriber represents a client subscribed to events for one identity.
type Subscriber struct {
	ID       string
	Subject  string
	Events   chan *Event
	done     chan struct{}
	isClosed bool
	mu       sync.Mutex
}

// Close closes the subscriber's event channel
func (s *Subscriber) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isClosed {
		s.isClosed = true
		close(s.done)
		close(s.Events)
	}
}

// Done returns a channel that's closed when the subscriber is closed
func (s *Subscriber) Done() <-chan struct{} {
	return s.done
}

// EventStore is the subset of the database store the broker needs.
type EventStore interface {
	CreateWizardEvent(ctx context.Context, event *model.WizardEvent) error
	ListWizardEventsAfter(ctx context.Context, afterSeq int64, limit int) ([]*model.WizardEvent, error)
	GetMaxWizardEventSeq(ctx context.Context) (int64, error)
}

// Broker manages event publishing and subscription through the database.
// Events are persisted first, then the poller picks them up and broadcasts
// to subscribers.
type Broker struct {
	store  EventStore
	poller *Poller
}

// NewBroker creates a new event broker.
// The poller should be started separately via poller.Start().
func NewBroker(s EventStore, poller *Poller) *Broker {
	return &Broker{
		store:  s,
		poller: poller,
	}
}

// Subscribe creates a new subscription for an identity's events.
func (b *Broker) Subscribe(subject string) *Subscriber {
	return b.poller.Subscribe(subject)
}

// Unsubscribe removes a subscription.
func (b *Broker) Unsubscribe(sub *Subscriber) {
	b.poller.Unsubscribe(sub)
}

// EventsAfter returns an identity's persisted events with a sequence number
// greater than afterSeq, for stream replay on reconnect.
func (b *Broker) EventsAfter(ctx context.Context, subject string, afterSeq int64, limit int) ([]*Event, error) {
	dbEvents, err := b.store.ListWizardEventsAfter(ctx, afterSeq, limit)
	if err != nil {
		return nil, err
	}
	var out []*Event
	for _, e := range dbEvents {
		if e.Subject != subject {
			continue
		}
		out = append(out, FromModel(e))
	}
	return out, nil
}

// Publish persists an event to the database and notifies the poller.
func (b *Broker) Publish(ctx context.Context, subject string, eventType EventType, data any) error {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	modelEvent := &model.WizardEvent{
		ID:      uuid.New().String(),
		Subject: subject,
		Type:    string(eventType),
		Data:    dataBytes,
	}
	if err := b.store.CreateWizardEvent(ctx, modelEvent); err != nil {
		return fmt.Errorf("failed to persist event: %w", err)
	}

	b.poller.NotifyNewEvent()
	return nil
}

// PublishProgressSaved publishes a progress_saved event for an identity.
func (b *Broker) PublishProgressSaved(ctx context.Context, subject string, step, version int) error {
	return b.Publish(ctx, subject, EventTypeProgressSaved, ProgressSavedData{Step: step, Version: version})
}

// PublishProgressMigrated publishes a progress_migrated event for a user.
func (b *Broker) PublishProgressMigrated(ctx context.Context, subject, sessionID string, step int) error {
	return b.Publish(ctx, subject, EventTypeProgressMigrated, ProgressMigratedData{SessionID: sessionID, Step: step})
}

// PublishGenerationComplete publishes a generation_complete event.
func (b *Broker) PublishGenerationComplete(ctx context.Context, subject string, variants int, platform string) error {
	return b.Publish(ctx, subject, EventTypeGenerationComplete, GenerationCompleteData{Variants: variants, Platform: platform})
}
