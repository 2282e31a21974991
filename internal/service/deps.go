package service

import (
	"context"
	"sync"
	"time"

	"cosme-inventory/internal/models"
)

// EventPublisher is implemented by broker.EventPublisher
type EventPublisher interface {
	PublishItemsRegistered(ctx context.Context, event *models.ItemsRegisteredEvent) error
	PublishItemUpdated(ctx context.Context, event *models.ItemUpdatedEvent) error
	PublishItemDeleted(ctx context.Context, event *models.ItemDeletedEvent) error
	PublishMigrationRequested(ctx context.Context, event *models.MigrationRequestedEvent) error
	PublishMigrationCompleted(ctx context.Context, event *models.MigrationCompletedEvent) error
}

// Locker is implemented by redisclient.Client
type Locker interface {
	AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, lockKey string) error
}

// IdempotencyStore is implemented by redisclient.Client
type IdempotencyStore interface {
	GetIdempotencyKey(ctx context.Context, key string) ([]byte, bool, error)
	SetIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// NopPublisher drops every event. Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) PublishItemsRegistered(context.Context, *models.ItemsRegisteredEvent) error {
	return nil
}

func (NopPublisher) PublishItemUpdated(context.Context, *models.ItemUpdatedEvent) error {
	return nil
}

func (NopPublisher) PublishItemDeleted(context.Context, *models.ItemDeletedEvent) error {
	return nil
}

func (NopPublisher) PublishMigrationRequested(context.Context, *models.MigrationRequestedEvent) error {
	return nil
}

func (NopPublisher) PublishMigrationCompleted(context.Context, *models.MigrationCompletedEvent) error {
	return nil
}

// LocalLocker is an in-process Locker for single-instance deployments
// without Redis. Lock expiry is not enforced.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocalLocker creates an empty in-process locker
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: map[string]struct{}{}}
}

func (l *LocalLocker) AcquireLock(_ context.Context, lockKey string, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[lockKey]; ok {
		return false, nil
	}
	l.held[lockKey] = struct{}{}
	return true, nil
}

func (l *LocalLocker) ReleaseLock(_ context.Context, lockKey string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, lockKey)
	return nil
}
