package sinks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-product-sourcing/internal/progress"
	"github.com/JakeFAU/realtime-product-sourcing/internal/sourcing"
)

// Message is the wire form of a published progress event.
type Message struct {
	RunID    string            `json:"runId"`
	Stage    progress.Stage    `json:"stage"`
	At       time.Time         `json:"at"`
	Scope    string            `json:"scope,omitempty"`
	Category string            `json:"category,omitempty"`
	Created  int               `json:"created,omitempty"`
	Updated  int               `json:"updated,omitempty"`
	New      bool              `json:"new,omitempty"`
	Product  *sourcing.Product `json:"product,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// PublishSink forwards run lifecycle and product import events to a topic.
// Tier attempts stay internal.
type PublishSink struct {
	publisher sourcing.Publisher
	topic     string
	logger    *zap.Logger
}

// NewPublishSink constructs a PublishSink.
func NewPublishSink(publisher sourcing.Publisher, topic string, logger *zap.Logger) (*PublishSink, error) {
	if publisher == nil {
		return nil, errors.New("publisher is required")
	}
	if topic == "" {
		return nil, errors.New("topic is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PublishSink{publisher: publisher, topic: topic, logger: logger}, nil
}

// Consume publishes each event. Publishing continues past failures; the
// joined error is returned so the hub can log it.
func (s *PublishSink) Consume(ctx context.Context, batch []progress.Event) error {
	var errs []error
	for _, evt := range batch {
		if evt.Stage == progress.StageTierAttempt {
			continue
		}
		msg := Message{
			RunID:    evt.RunID,
			Stage:    evt.Stage,
			At:       evt.TS,
			Scope:    string(evt.Scope),
			Category: evt.Category,
			Created:  evt.Created,
			Updated:  evt.Updated,
			New:      evt.NewProduct,
			Product:  evt.Product,
		}
		if evt.Stage == progress.StageRunError {
			msg.Error = evt.Note
		}
		if _, err := s.publisher.Publish(ctx, s.topic, msg); err != nil {
			errs = append(errs, fmt.Errorf("publish %s for run %s: %w", evt.Stage, evt.RunID, err))
		}
	}
	return errors.Join(errs...)
}

// Close implements the Sink interface; it performs no action.
func (s *PublishSink) Close(context.Context) error {
	return nil
}
