package worker

import (
	"context"

	"cosme-inventory/internal/broker"
	"cosme-inventory/internal/service"
	"cosme-inventory/internal/util"

	"go.uber.org/zap"
)

// MigrationWorker consumes MigrationRequested events and runs the migration
// job for each requesting user
type MigrationWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	job          *service.MigrationJob
	logger       *zap.Logger
}

// NewMigrationWorker creates a new migration worker
func NewMigrationWorker(consumer *broker.Consumer, job *service.MigrationJob) *MigrationWorker {
	eventHandler := broker.NewEventHandler()
	eventHandler.OnMigrationRequested(job.HandleMigrationRequested)

	return &MigrationWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
		job:          job,
		logger:       util.GetLogger(),
	}
}

// Start blocks until ctx is cancelled or the consumer fails
func (w *MigrationWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting migration worker...")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *MigrationWorker) Stop() error {
	w.logger.Info("Stopping migration worker...")
	return w.consumer.Close()
}
