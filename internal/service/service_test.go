package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"cosme-inventory/internal/models"
	"cosme-inventory/internal/store"

	"github.com/stretchr/testify/require"
)

// spyRepo counts writes by target so tests can assert field isolation
type spyRepo struct {
	models.Repository

	mu              sync.Mutex
	productUpdates  int
	instanceUpdates int
	commits         int
	failCommit      int // 1-based commit that fails without writing; 0 never
}

func (r *spyRepo) UpdateProduct(ctx context.Context, userID, productID string, fields models.Fields) error {
	r.mu.Lock()
	r.productUpdates++
	r.mu.Unlock()
	return r.Repository.UpdateProduct(ctx, userID, productID, fields)
}

func (r *spyRepo) UpdateInstance(ctx context.Context, userID, id string, fields models.Fields) error {
	r.mu.Lock()
	r.instanceUpdates++
	r.mu.Unlock()
	return r.Repository.UpdateInstance(ctx, userID, id, fields)
}

func (r *spyRepo) NewBatch(userID string) models.WriteBatch {
	return &spyBatch{WriteBatch: r.Repository.NewBatch(userID), repo: r}
}

func (r *spyRepo) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.productUpdates, r.instanceUpdates, r.commits, r.failCommit = 0, 0, 0, 0
}

type spyBatch struct {
	models.WriteBatch
	repo *spyRepo
}

func (b *spyBatch) Commit(ctx context.Context) error {
	if b.Len() > 0 {
		b.repo.mu.Lock()
		b.repo.commits++
		fail := b.repo.commits == b.repo.failCommit
		b.repo.mu.Unlock()
		if fail {
			return errors.New("backend unavailable")
		}
	}
	return b.WriteBatch.Commit(ctx)
}

// recordingPublisher keeps every event it is given
type recordingPublisher struct {
	mu         sync.Mutex
	registered []*models.ItemsRegisteredEvent
	updated    []*models.ItemUpdatedEvent
	deleted    []*models.ItemDeletedEvent
	requested  []*models.MigrationRequestedEvent
	completed  []*models.MigrationCompletedEvent
}

func (p *recordingPublisher) PublishItemsRegistered(_ context.Context, e *models.ItemsRegisteredEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.registered = append(p.registered, e)
	return nil
}

func (p *recordingPublisher) PublishItemUpdated(_ context.Context, e *models.ItemUpdatedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updated = append(p.updated, e)
	return nil
}

func (p *recordingPublisher) PublishItemDeleted(_ context.Context, e *models.ItemDeletedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deleted = append(p.deleted, e)
	return nil
}

func (p *recordingPublisher) PublishMigrationRequested(_ context.Context, e *models.MigrationRequestedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requested = append(p.requested, e)
	return nil
}

func (p *recordingPublisher) PublishMigrationCompleted(_ context.Context, e *models.MigrationCompletedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.completed = append(p.completed, e)
	return nil
}

type fixture struct {
	store *store.Store
	repo  *spyRepo
	pub   *recordingPublisher
	svc   *InventoryService
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	s, err := store.NewStore("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	if opts.MarketplaceDomains == nil {
		opts.MarketplaceDomains = []string{"rakuten.co.jp"}
	}
	f := &fixture{
		store: s,
		repo:  &spyRepo{Repository: s},
		pub:   &recordingPublisher{},
	}
	f.svc = NewInventoryService(f.repo, f.pub, nil, nil, opts)
	return f
}

func (f *fixture) migrationJob(batchSize int) *MigrationJob {
	return NewMigrationJob(f.repo, NewLocalLocker(), f.pub, f.store, batchSize, []string{"rakuten.co.jp"})
}
