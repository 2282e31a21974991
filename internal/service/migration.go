package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cosme-inventory/internal/catalog"
	"cosme-inventory/internal/models"
	"cosme-inventory/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// DefaultMigrationBatchSize stays under Firestore's 500 writes per commit
	DefaultMigrationBatchSize = 400

	// a legacy record costs at most a product, its key document and the
	// instance rewrite
	maxOpsPerRecord = 3

	migrationLockTTL = 10 * time.Minute
)

// MigrationJob splits legacy items into products and instances
type MigrationJob struct {
	repo      models.Repository
	locker    Locker
	publisher EventPublisher
	ledger    models.EventLedger
	urls      catalog.URLPolicy
	batchSize int
	logger    *zap.Logger
}

// NewMigrationJob creates a new migration job
func NewMigrationJob(
	repo models.Repository,
	locker Locker,
	publisher EventPublisher,
	ledger models.EventLedger,
	batchSize int,
	marketplaceDomains []string,
) *MigrationJob {
	if batchSize < maxOpsPerRecord {
		batchSize = DefaultMigrationBatchSize
	}
	return &MigrationJob{
		repo:      repo,
		locker:    locker,
		publisher: publisher,
		ledger:    ledger,
		urls:      catalog.NewURLPolicy(marketplaceDomains),
		batchSize: batchSize,
		logger:    util.GetLogger(),
	}
}

// Run migrates every legacy item of the user. It is safe to repeat: migrated
// items are skipped and products are found by dedup key. On a commit failure
// the counts cover only the batches already committed.
func (j *MigrationJob) Run(ctx context.Context, userID string) (*models.MigrationResult, error) {
	ctx, span := util.StartSpan(ctx, "MigrationJob.Run")
	defer span.End()

	lockKey := "migrate:" + userID
	acquired, err := j.locker.AcquireLock(ctx, lockKey, migrationLockTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire migration lock: %w", err)
	}
	if !acquired {
		return nil, models.ErrMigrationInProgress
	}
	defer func() {
		if err := j.locker.ReleaseLock(context.Background(), lockKey); err != nil {
			j.logger.Warn("Failed to release migration lock", zap.String("user_id", userID), zap.Error(err))
		}
	}()

	j.logger.Info("Migration started", zap.String("user_id", userID))
	start := time.Now()

	result, runErr := j.migrate(ctx, userID)

	util.MigrationDuration.Observe(time.Since(start).Seconds())
	util.MigrationItemsTotal.WithLabelValues("migrated").Add(float64(result.ItemsMigrated))
	util.MigrationItemsTotal.WithLabelValues("skipped").Add(float64(result.ItemsSkipped))
	util.MigrationItemsTotal.WithLabelValues("failed").Add(float64(result.ItemsFailed))
	util.ProductsCreatedTotal.Add(float64(result.ProductsCreated))

	event := &models.MigrationCompletedEvent{
		BaseEvent: newBaseEvent(models.EventTypeMigrationCompleted),
		UserID:    userID,
		Result:    *result,
	}
	if runErr != nil {
		util.SpanError(span, runErr)
		event.Error = runErr.Error()
		j.logger.Error("Migration stopped",
			zap.String("user_id", userID),
			zap.Int("items_migrated", result.ItemsMigrated),
			zap.Error(runErr))
	} else {
		j.logger.Info("Migration completed",
			zap.String("user_id", userID),
			zap.Int("products_created", result.ProductsCreated),
			zap.Int("items_migrated", result.ItemsMigrated),
			zap.Int("items_skipped", result.ItemsSkipped),
			zap.Int("items_failed", result.ItemsFailed),
			zap.Duration("took", time.Since(start)))
	}
	if err := j.publisher.PublishMigrationCompleted(ctx, event); err != nil {
		j.logger.Error("Failed to publish MigrationCompleted event", zap.Error(err))
	}

	return result, runErr
}

type pendingBatch struct {
	products int
	items    int
	keys     []string
}

func (j *MigrationJob) migrate(ctx context.Context, userID string) (*models.MigrationResult, error) {
	result := &models.MigrationResult{}

	index, err := loadIndex(ctx, j.repo, userID)
	if err != nil {
		return result, err
	}

	batch := j.repo.NewBatch(userID)
	var pending pendingBatch

	flush := func() error {
		if batch.Len() == 0 {
			return nil
		}
		if err := batch.Commit(ctx); err != nil {
			// products of the failed batch were never written
			for _, k := range pending.keys {
				delete(index, k)
			}
			return fmt.Errorf("failed to commit migration batch: %w", err)
		}
		result.ProductsCreated += pending.products
		result.ItemsMigrated += pending.items
		pending = pendingBatch{}
		return nil
	}

	cursor := ""
	for {
		records, err := j.repo.ListInstances(ctx, userID, cursor, j.batchSize)
		if err != nil {
			return result, fmt.Errorf("failed to list items: %w", err)
		}

		for _, rec := range records {
			cursor = rec.Base().ID

			legacy, ok := rec.(models.LegacyRecord)
			if !ok {
				result.ItemsSkipped++
				continue
			}

			product, inst, err := j.splitLegacy(legacy)
			if err != nil {
				result.ItemsFailed++
				j.logger.Warn("Legacy item cannot be migrated",
					zap.String("user_id", userID),
					zap.String("item_id", legacy.ID),
					zap.Error(err))
				continue
			}

			if batch.Len()+maxOpsPerRecord > j.batchSize {
				if err := flush(); err != nil {
					return result, err
				}
			}

			key := catalog.ProductKey(product)
			existing, ok := index[key]
			if !ok {
				ts := time.Now().UTC()
				product.ID = uuid.New().String()
				product.UserID = userID
				product.DedupKey = key
				product.CreatedAt = ts
				product.UpdatedAt = ts
				batch.CreateProduct(product)
				index[key] = product
				pending.products++
				pending.keys = append(pending.keys, key)
				existing = product
			}

			inst.ProductID = existing.ID
			batch.MigrateInstance(inst)
			pending.items++
		}

		if len(records) < j.batchSize {
			break
		}
	}

	if err := flush(); err != nil {
		return result, err
	}
	return result, nil
}

// splitLegacy decodes the product half of a legacy record. Keys that belong
// to neither model are dropped.
func (j *MigrationJob) splitLegacy(r models.LegacyRecord) (*models.Product, models.Instance, error) {
	f, urlKept := catalog.NormalizeFields(catalog.Strip(r.Product), j.urls)
	if !urlKept {
		util.URLSanitizedTotal.Inc()
	}
	productFields, rest := catalog.Route(f)
	if len(rest) > 0 {
		j.logger.Debug("Dropping unknown legacy fields",
			zap.String("item_id", r.ID), zap.Strings("fields", rest.Keys()))
	}

	p := &models.Product{}
	if err := p.Apply(productFields); err != nil {
		return nil, models.Instance{}, err
	}
	catalog.NormalizeProduct(p)

	inst := r.Instance
	if inst.EstimatedRemaining == "" {
		inst.EstimatedRemaining = models.DefaultEstimatedRemaining
	}
	return p, inst, nil
}

// Request enqueues a migration for the worker and returns the event id
func (j *MigrationJob) Request(ctx context.Context, userID string) (string, error) {
	ctx, span := util.StartSpan(ctx, "MigrationJob.Request")
	defer span.End()

	event := &models.MigrationRequestedEvent{
		BaseEvent: newBaseEvent(models.EventTypeMigrationRequested),
		UserID:    userID,
	}
	if err := j.publisher.PublishMigrationRequested(ctx, event); err != nil {
		return "", fmt.Errorf("failed to request migration: %w", err)
	}
	return event.EventID, nil
}

// HandleMigrationRequested runs a requested migration once per event
func (j *MigrationJob) HandleMigrationRequested(ctx context.Context, event *models.MigrationRequestedEvent) error {
	ctx, span := util.StartSpan(ctx, "MigrationJob.HandleMigrationRequested")
	defer span.End()

	processed, err := j.ledger.IsEventProcessed(ctx, event.EventID)
	if err != nil {
		return fmt.Errorf("failed to check event: %w", err)
	}
	if processed {
		j.logger.Info("Event already processed", zap.String("event_id", event.EventID))
		return nil
	}

	if _, err := j.Run(ctx, event.UserID); err != nil {
		if errors.Is(err, models.ErrMigrationInProgress) {
			j.logger.Info("Migration already running", zap.String("user_id", event.UserID))
			return nil
		}
		return err
	}

	if err := j.ledger.MarkEventProcessed(ctx, event.EventID, event.EventType); err != nil {
		j.logger.Error("Failed to mark event as processed", zap.Error(err))
	}
	return nil
}
