package models

import "context"

// Repository is the storage contract shared by the SQL and Firestore backends.
// All methods are scoped to one user.
type Repository interface {
	ListProducts(ctx context.Context, userID string) ([]Product, error)
	GetProduct(ctx context.Context, userID, productID string) (*Product, error)
	// GetOrCreateProduct inserts p unless a product with the same dedup key
	// exists, and returns the id of whichever product holds the key.
	GetOrCreateProduct(ctx context.Context, p *Product) (id string, created bool, err error)
	UpdateProduct(ctx context.Context, userID, productID string, fields Fields) error

	CreateInstance(ctx context.Context, inst *Instance) error
	CreateLegacy(ctx context.Context, inst *Instance, product Fields) error
	GetInstance(ctx context.Context, userID, id string) (Record, error)
	// ListInstances returns records ordered by id, starting after cursor.
	// A limit of zero returns everything.
	ListInstances(ctx context.Context, userID, cursor string, limit int) ([]Record, error)
	UpdateInstance(ctx context.Context, userID, id string, fields Fields) error
	UpdateLegacy(ctx context.Context, userID, id string, instance, product Fields) error
	DeleteInstance(ctx context.Context, userID, id string) error

	NewBatch(userID string) WriteBatch
}

// WriteBatch queues migration writes and commits them together
type WriteBatch interface {
	CreateProduct(p *Product)
	// MigrateInstance rewrites a legacy row to instance fields plus inst.ProductID
	MigrateInstance(inst Instance)
	// Len is the number of backend write operations queued
	Len() int
	Commit(ctx context.Context) error
}

// EventLedger records consumed events so redelivery is a no-op
type EventLedger interface {
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}
