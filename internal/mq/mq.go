package mq

import (
	"context"
	"encoding/json"
	"time"
)

const (
	EventVideoCreated = "video.created"
	EventVideoDeleted = "video.deleted"
)

// Attribute keys every backend maps onto its own message properties.
const (
	AttrEventType   = "event_type"
	AttrContentType = "content_type"
	AttrPublishedAt = "published_at"
)

const jsonContentType = "application/json"

// VideoEvent is published whenever a processed video is stored or removed.
type VideoEvent struct {
	Type       string    `json:"type"`
	VideoID    int       `json:"videoId"`
	UserID     int       `json:"userId"`
	Title      string    `json:"title,omitempty"`
	VideoURL   string    `json:"videoUrl,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Message is a delivered payload with its attributes normalized to the
// Attr* keys.
type Message struct {
	ID         string
	Data       []byte
	Attributes map[string]string
}

// EventType is the type the broker carried alongside the payload.
func (m Message) EventType() string {
	return m.Attributes[AttrEventType]
}

// Handler processes a message. Returning an error requeues it.
type Handler func(ctx context.Context, msg Message) error

// Backend is a broker that moves raw payloads on named channels.
type Backend interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
	Subscribe(ctx context.Context, channel string, handler Handler) error
	Close() error
}

// MQ publishes and consumes video events on a single channel.
type MQ struct {
	backend Backend
	channel string
}

func New(backend Backend, channel string) *MQ {
	return &MQ{backend: backend, channel: channel}
}

// PublishVideoEvent sends event as JSON tagged with its type.
func (m *MQ) PublishVideoEvent(ctx context.Context, event VideoEvent) error {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = m.backend.Publish(ctx, m.channel, data, map[string]string{
		AttrEventType:   event.Type,
		AttrContentType: jsonContentType,
	})
	return err
}

// Tail delivers every event on the channel to fn until ctx is done.
// Payloads that fail to decode are still acknowledged and reported with the
// type the broker carried, so they are not redelivered forever.
func (m *MQ) Tail(ctx context.Context, fn func(VideoEvent, Message)) error {
	return m.backend.Subscribe(ctx, m.channel, func(ctx context.Context, msg Message) error {
		fn(decodeVideoEvent(msg), msg)
		return nil
	})
}

func (m *MQ) Close() error {
	return m.backend.Close()
}

func decodeVideoEvent(msg Message) VideoEvent {
	var event VideoEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		return VideoEvent{Type: msg.EventType()}
	}
	if event.Type == "" {
		event.Type = msg.EventType()
	}
	return event
}
