package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"cosme-inventory/internal/models"
	"cosme-inventory/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventPublisher handles publishing inventory events, keyed by user
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishItemsRegistered publishes ItemsRegistered event
func (ep *EventPublisher) PublishItemsRegistered(ctx context.Context, event *models.ItemsRegisteredEvent) error {
	return ep.producer.PublishEvent(ctx, event.UserID, event.EventType, event)
}

// PublishItemUpdated publishes ItemUpdated event
func (ep *EventPublisher) PublishItemUpdated(ctx context.Context, event *models.ItemUpdatedEvent) error {
	return ep.producer.PublishEvent(ctx, event.UserID, event.EventType, event)
}

// PublishItemDeleted publishes ItemDeleted event
func (ep *EventPublisher) PublishItemDeleted(ctx context.Context, event *models.ItemDeletedEvent) error {
	return ep.producer.PublishEvent(ctx, event.UserID, event.EventType, event)
}

// PublishMigrationRequested publishes MigrationRequested event
func (ep *EventPublisher) PublishMigrationRequested(ctx context.Context, event *models.MigrationRequestedEvent) error {
	return ep.producer.PublishEvent(ctx, event.UserID, event.EventType, event)
}

// PublishMigrationCompleted publishes MigrationCompleted event
func (ep *EventPublisher) PublishMigrationCompleted(ctx context.Context, event *models.MigrationCompletedEvent) error {
	return ep.producer.PublishEvent(ctx, event.UserID, event.EventType, event)
}

// EventHandler handles incoming events
type EventHandler struct {
	onMigrationRequested func(context.Context, *models.MigrationRequestedEvent) error
	logger               *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnMigrationRequested registers a handler for MigrationRequested events
func (eh *EventHandler) OnMigrationRequested(handler func(context.Context, *models.MigrationRequestedEvent) error) {
	eh.onMigrationRequested = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	eh.logger.Debug("Handling event",
		zap.String("event_type", baseEvent.EventType),
		zap.String("event_id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypeMigrationRequested:
		if eh.onMigrationRequested != nil {
			var event models.MigrationRequestedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal MigrationRequested event: %w", err)
			}
			return eh.onMigrationRequested(ctx, &event)
		}

	case models.EventTypeItemsRegistered, models.EventTypeItemUpdated,
		models.EventTypeItemDeleted, models.EventTypeMigrationCompleted:
		// published for downstream consumers

	default:
		eh.logger.Warn("Unhandled event type", zap.String("event_type", baseEvent.EventType))
	}

	return nil
}
