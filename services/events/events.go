// Package eventsvc publishes poll domain events for downstream consumers.
package eventsvc

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event types
const (
	TypePollCreated   = "poll.created"
	TypeVoteConfirmed = "poll.vote_confirmed"
	TypePollClosing   = "poll.closing"
)

type Event struct {
	ID         string      `json:"id"` // lets consumers drop redelivered events
	Type       string      `json:"type"`
	PollID     string      `json:"poll_id"`
	OccurredAt time.Time   `json:"occurred_at"`
	Payload    interface{} `json:"payload,omitempty"`
}

func NewEvent(evType, pollID string, at time.Time, payload interface{}) Event {
	return Event{
		ID:         uuid.New().String(),
		Type:       evType,
		PollID:     pollID,
		OccurredAt: at.UTC(),
		Payload:    payload,
	}
}

type Publisher interface {
	Publish(ctx context.Context, events ...Event) error
	Close() error
}

type nopPublisher struct{}

// NewNopPublisher drops every event.
func NewNopPublisher() Publisher { return nopPublisher{} }

func (nopPublisher) Publish(context.Context, ...Event) error { return nil }
func (nopPublisher) Close() error                           { return nil }
