// Package events publishes domain events after money and level changes
// commit. Publishing is best effort and never fails the originating call.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rongwang/guild-ledger/internal/models"
)

// Event types
const (
	TypeTransactionCommitted = "transaction.committed"
	TypeTransferCommitted    = "transfer.committed"
	TypeLevelUp              = "activity.level_up"
)

// Event is the envelope written to the broker
type Event struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Topic      string          `json:"-"`
	Key        string          `json:"key"`
	OccurredAt time.Time       `json:"occurredAt"`
	Payload    json.RawMessage `json:"payload"`
}

// TransactionCommitted carries the entries written by one ledger call
type TransactionCommitted struct {
	Entries []models.LedgerEntry `json:"entries"`
}

// LevelUp is emitted when a flush moves a subject to a higher level
type LevelUp struct {
	Subject  string `json:"subject"`
	Scope    string `json:"scope"`
	OldLevel int    `json:"oldLevel"`
	NewLevel int    `json:"newLevel"`
	XP       int64  `json:"xp"`
}

// New builds an envelope around payload
func New(topic, eventType, key string, payload any) (Event, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{
		ID:         uuid.New().String(),
		Type:       eventType,
		Topic:      topic,
		Key:        key,
		OccurredAt: time.Now().UTC(),
		Payload:    body,
	}, nil
}

// Publisher delivers events to a broker
type Publisher interface {
	Publish(ctx context.Context, events ...Event) error
	Close() error
}

// NoopPublisher drops every event
type NoopPublisher struct{}

func (NoopPublisher) Publish(ctx context.Context, events ...Event) error { return nil }
func (NoopPublisher) Close() error                                       { return nil }
