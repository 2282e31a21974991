package models

import "time"

// Event types
const (
	EventTypeItemsRegistered    = "ITEMS_REGISTERED"
	EventTypeItemUpdated        = "ITEM_UPDATED"
	EventTypeItemDeleted        = "ITEM_DELETED"
	EventTypeMigrationRequested = "MIGRATION_REQUESTED"
	EventTypeMigrationCompleted = "MIGRATION_COMPLETED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// ItemsRegisteredEvent published after a register or confirm call
type ItemsRegisteredEvent struct {
	BaseEvent
	UserID          string   `json:"user_id"`
	ItemIDs         []string `json:"item_ids"`
	ProductIDs      []string `json:"product_ids"`
	ProductsCreated int      `json:"products_created"`
	Legacy          bool     `json:"legacy,omitempty"`
}

// ItemUpdatedEvent published after a field-routed update
type ItemUpdatedEvent struct {
	BaseEvent
	UserID         string   `json:"user_id"`
	ItemID         string   `json:"item_id"`
	ProductID      string   `json:"product_id,omitempty"`
	ProductFields  []string `json:"product_fields,omitempty"`
	InstanceFields []string `json:"instance_fields,omitempty"`
}

// ItemDeletedEvent published when an instance is removed
type ItemDeletedEvent struct {
	BaseEvent
	UserID string `json:"user_id"`
	ItemID string `json:"item_id"`
}

// MigrationRequestedEvent asks the worker to migrate a user's legacy items
type MigrationRequestedEvent struct {
	BaseEvent
	UserID string `json:"user_id"`
}

// MigrationCompletedEvent published at the end of a migration run
type MigrationCompletedEvent struct {
	BaseEvent
	UserID string          `json:"user_id"`
	Result MigrationResult `json:"result"`
	Error  string          `json:"error,omitempty"`
}
