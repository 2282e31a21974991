package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"cosme-inventory/internal/agent"
	"cosme-inventory/internal/catalog"
	"cosme-inventory/internal/models"
	"cosme-inventory/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Scanner is implemented by agent.Client
type Scanner interface {
	Scan(ctx context.Context, userID string, images []agent.Image) ([]models.Fields, error)
}

// Options tune the inventory service
type Options struct {
	MarketplaceDomains []string
	// LegacyWrites stores new items in the flat pre-migration shape
	LegacyWrites   bool
	IdempotencyTTL time.Duration
}

// InventoryService handles inventory business logic
type InventoryService struct {
	repo      models.Repository
	publisher EventPublisher
	idem      IdempotencyStore
	scanner   Scanner
	joiner    *Joiner
	urls      catalog.URLPolicy
	opts      Options
	logger    *zap.Logger
}

// NewInventoryService creates a new inventory service. idem and scanner may
// be nil.
func NewInventoryService(
	repo models.Repository,
	publisher EventPublisher,
	idem IdempotencyStore,
	scanner Scanner,
	opts Options,
) *InventoryService {
	if opts.IdempotencyTTL <= 0 {
		opts.IdempotencyTTL = 24 * time.Hour
	}
	return &InventoryService{
		repo:      repo,
		publisher: publisher,
		idem:      idem,
		scanner:   scanner,
		joiner:    NewJoiner(),
		urls:      catalog.NewURLPolicy(opts.MarketplaceDomains),
		opts:      opts,
		logger:    util.GetLogger(),
	}
}

// RegisterResult is returned by register and confirm
type RegisterResult struct {
	ItemIDs         []string `json:"item_ids"`
	ProductIDs      []string `json:"product_ids,omitempty"`
	ProductsCreated int      `json:"products_created"`
	Count           int      `json:"count"`
	Replayed        bool     `json:"replayed,omitempty"`
}

// UpdateResult reports where each patched field was written
type UpdateResult struct {
	Item           *models.Item `json:"item"`
	ProductFields  []string     `json:"product_fields"`
	InstanceFields []string     `json:"instance_fields"`
}

// BulkRequest applies one action to many items
type BulkRequest struct {
	Action  string        `json:"action" binding:"required,oneof=delete update"`
	IDs     []string      `json:"ids" binding:"required,min=1"`
	Updates models.Fields `json:"updates,omitempty"`
}

// BulkResult lists per-item outcomes
type BulkResult struct {
	Action    string            `json:"action"`
	Succeeded []string          `json:"succeeded"`
	Failed    map[string]string `json:"failed,omitempty"`
}

type preparedItem struct {
	product       models.Product
	productFields models.Fields
	instance      models.Instance
}

// productIndex maps dedup key to product for the duration of one operation
type productIndex map[string]*models.Product

// ListItems returns the user's items joined with their products, newest
// first. category is optional and accepts any spelling the normalizer knows.
func (s *InventoryService) ListItems(ctx context.Context, userID, category string) ([]models.Item, error) {
	ctx, span := util.StartSpan(ctx, "InventoryService.ListItems")
	defer span.End()

	products, err := s.repo.ListProducts(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	byID := make(map[string]*models.Product, len(products))
	for i := range products {
		byID[products[i].ID] = &products[i]
	}

	records, err := s.repo.ListInstances(ctx, userID, "", 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}

	var want models.Category
	if category != "" {
		want = catalog.NormalizeCategory(category)
	}

	items := make([]models.Item, 0, len(records))
	for _, rec := range records {
		item := s.joiner.Join(rec, byID)
		if want != "" && item.Category != want {
			continue
		}
		items = append(items, item)
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
	return items, nil
}

// GetItem returns one joined item
func (s *InventoryService) GetItem(ctx context.Context, userID, id string) (*models.Item, error) {
	ctx, span := util.StartSpan(ctx, "InventoryService.GetItem")
	defer span.End()

	rec, err := s.repo.GetInstance(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	byID := map[string]*models.Product{}
	if m, ok := rec.(models.MigratedRecord); ok {
		p, err := s.repo.GetProduct(ctx, userID, m.ProductID)
		switch {
		case err == nil:
			byID[p.ID] = p
		case errors.Is(err, models.ErrNotFound):
			// orphan, joined below as product_missing
		default:
			return nil, fmt.Errorf("failed to load product: %w", err)
		}
	}

	item := s.joiner.Join(rec, byID)
	return &item, nil
}

// ListProducts returns the user's catalog
func (s *InventoryService) ListProducts(ctx context.Context, userID string) ([]models.Product, error) {
	ctx, span := util.StartSpan(ctx, "InventoryService.ListProducts")
	defer span.End()

	products, err := s.repo.ListProducts(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	for i := range products {
		catalog.NormalizeProduct(&products[i])
	}
	return products, nil
}

// GetProduct returns one catalog product
func (s *InventoryService) GetProduct(ctx context.Context, userID, id string) (*models.Product, error) {
	ctx, span := util.StartSpan(ctx, "InventoryService.GetProduct")
	defer span.End()

	p, err := s.repo.GetProduct(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	catalog.NormalizeProduct(p)
	return p, nil
}

// RegisterItems registers manually entered or searched items. A repeated
// idempotency key returns the first result without writing again.
func (s *InventoryService) RegisterItems(ctx context.Context, userID string, items []models.Fields, idempotencyKey string) (*RegisterResult, error) {
	ctx, span := util.StartSpan(ctx, "InventoryService.RegisterItems")
	defer span.End()

	var idemKey string
	if idempotencyKey != "" && s.idem != nil {
		idemKey = userID + ":" + idempotencyKey
		cached, found, err := s.idem.GetIdempotencyKey(ctx, idemKey)
		if err != nil {
			s.logger.Warn("Failed to check idempotency key", zap.Error(err))
		} else if found {
			var res RegisterResult
			if err := json.Unmarshal(cached, &res); err == nil {
				s.logger.Info("Duplicate register request detected",
					zap.String("user_id", userID),
					zap.String("idempotency_key", idempotencyKey))
				res.Replayed = true
				return &res, nil
			}
		}
	}

	result, err := s.register(ctx, userID, items, "register")
	if err != nil {
		return nil, err
	}

	if idemKey != "" {
		b, _ := json.Marshal(result)
		if err := s.idem.SetIdempotencyKey(ctx, idemKey, b, s.opts.IdempotencyTTL); err != nil {
			s.logger.Warn("Failed to store idempotency key", zap.Error(err))
		}
	}
	return result, nil
}

// ConfirmItems persists drafted scan items the user accepted
func (s *InventoryService) ConfirmItems(ctx context.Context, userID string, items []models.Fields) (*RegisterResult, error) {
	ctx, span := util.StartSpan(ctx, "InventoryService.ConfirmItems")
	defer span.End()

	if len(items) == 0 {
		return nil, models.Invalid("no items to confirm")
	}
	return s.register(ctx, userID, items, "confirm")
}

func (s *InventoryService) register(ctx context.Context, userID string, raw []models.Fields, mode string) (*RegisterResult, error) {
	if len(raw) == 0 {
		return nil, models.Invalid("at least one item is required")
	}

	prepared := make([]*preparedItem, 0, len(raw))
	for i, f := range raw {
		item, err := s.prepare(f)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		prepared = append(prepared, item)
	}

	var result *RegisterResult
	var err error
	if s.opts.LegacyWrites {
		result, err = s.registerLegacy(ctx, userID, prepared)
	} else {
		result, err = s.registerSplit(ctx, userID, prepared)
	}
	if err != nil {
		return nil, err
	}

	util.ItemsRegisteredTotal.WithLabelValues(mode).Add(float64(result.Count))
	s.logger.Info("Items registered",
		zap.String("user_id", userID),
		zap.String("mode", mode),
		zap.Int("count", result.Count),
		zap.Int("products_created", result.ProductsCreated))

	event := &models.ItemsRegisteredEvent{
		BaseEvent:       newBaseEvent(models.EventTypeItemsRegistered),
		UserID:          userID,
		ItemIDs:         result.ItemIDs,
		ProductIDs:      result.ProductIDs,
		ProductsCreated: result.ProductsCreated,
		Legacy:          s.opts.LegacyWrites,
	}
	if err := s.publisher.PublishItemsRegistered(ctx, event); err != nil {
		s.logger.Error("Failed to publish ItemsRegistered event", zap.Error(err))
	}
	return result, nil
}

// prepare normalizes, fills defaults, routes and decodes one payload. No
// write happens until every item of a request has been prepared.
func (s *InventoryService) prepare(raw models.Fields) (*preparedItem, error) {
	f, urlKept := catalog.NormalizeFields(catalog.Strip(raw), s.urls)
	if !urlKept {
		util.URLSanitizedTotal.Inc()
	}
	f = catalog.RegisterDefaults.Apply(f)

	productFields, instanceFields := catalog.Route(f)
	if err := catalog.CheckInstanceFields(instanceFields); err != nil {
		return nil, err
	}

	item := &preparedItem{
		productFields: productFields,
		instance:      models.Instance{EstimatedRemaining: models.DefaultEstimatedRemaining},
	}
	if err := item.product.Apply(productFields); err != nil {
		return nil, err
	}
	if item.product.Brand == "" || item.product.ProductName == "" {
		return nil, models.Invalid("brand and product_name are required")
	}
	if err := item.instance.Apply(instanceFields); err != nil {
		return nil, err
	}
	return item, nil
}

func (s *InventoryService) registerSplit(ctx context.Context, userID string, prepared []*preparedItem) (*RegisterResult, error) {
	index, err := loadIndex(ctx, s.repo, userID)
	if err != nil {
		return nil, err
	}

	result := &RegisterResult{}
	for _, item := range prepared {
		productID, created, err := s.resolveProduct(ctx, userID, item, index)
		if err != nil {
			return nil, err
		}
		if created {
			result.ProductsCreated++
		}

		ts := time.Now().UTC()
		inst := item.instance
		inst.ID = uuid.New().String()
		inst.UserID = userID
		inst.ProductID = productID
		inst.CreatedAt = ts
		inst.UpdatedAt = ts
		if err := s.repo.CreateInstance(ctx, &inst); err != nil {
			return nil, fmt.Errorf("failed to create instance: %w", err)
		}

		result.ItemIDs = append(result.ItemIDs, inst.ID)
		result.ProductIDs = append(result.ProductIDs, productID)
	}
	result.Count = len(result.ItemIDs)
	return result, nil
}

func (s *InventoryService) registerLegacy(ctx context.Context, userID string, prepared []*preparedItem) (*RegisterResult, error) {
	result := &RegisterResult{}
	for _, item := range prepared {
		ts := time.Now().UTC()
		inst := item.instance
		inst.ID = uuid.New().String()
		inst.UserID = userID
		inst.CreatedAt = ts
		inst.UpdatedAt = ts
		if err := s.repo.CreateLegacy(ctx, &inst, item.product.Fields()); err != nil {
			return nil, fmt.Errorf("failed to create legacy item: %w", err)
		}
		result.ItemIDs = append(result.ItemIDs, inst.ID)
	}
	result.Count = len(result.ItemIDs)
	return result, nil
}

func loadIndex(ctx context.Context, repo models.Repository, userID string) (productIndex, error) {
	products, err := repo.ListProducts(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}
	index := make(productIndex, len(products))
	for i := range products {
		index[catalog.ProductKey(&products[i])] = &products[i]
	}
	return index, nil
}

// resolveProduct returns the product for the item's dedup key, creating it
// when neither the index nor the store has one
func (s *InventoryService) resolveProduct(ctx context.Context, userID string, item *preparedItem, index productIndex) (string, bool, error) {
	p := item.product
	key := catalog.ProductKey(&p)

	if existing, ok := index[key]; ok {
		util.DedupHitsTotal.Inc()
		s.fillGaps(ctx, userID, existing, item.productFields)
		return existing.ID, false, nil
	}

	ts := time.Now().UTC()
	p.ID = uuid.New().String()
	p.UserID = userID
	p.CreatedAt = ts
	p.UpdatedAt = ts

	id, created, err := s.repo.GetOrCreateProduct(ctx, &p)
	if err != nil {
		return "", false, fmt.Errorf("failed to create product: %w", err)
	}
	if created {
		util.ProductsCreatedTotal.Inc()
		index[key] = &p
		return id, true, nil
	}

	// another writer created it after the index was loaded
	existing, err := s.repo.GetProduct(ctx, userID, id)
	if err != nil {
		return "", false, fmt.Errorf("failed to load product: %w", err)
	}
	index[key] = existing
	util.DedupHitsTotal.Inc()
	s.fillGaps(ctx, userID, existing, item.productFields)
	return id, false, nil
}

// fillGaps copies incoming product fields the stored product lacks. Values
// already stored are never overwritten.
func (s *InventoryService) fillGaps(ctx context.Context, userID string, existing *models.Product, incoming models.Fields) {
	have := existing.Fields()
	gaps := models.Fields{}
	for k, v := range incoming {
		if incoming.Has(k) && !have.Has(k) {
			gaps[k] = v
		}
	}
	if len(gaps) == 0 {
		return
	}

	if err := s.repo.UpdateProduct(ctx, userID, existing.ID, gaps); err != nil {
		s.logger.Warn("Failed to fill product fields",
			zap.String("product_id", existing.ID),
			zap.Strings("fields", gaps.Keys()),
			zap.Error(err))
		return
	}
	_ = existing.Apply(gaps)
}

// UpdateItem routes a patch to the record that owns each field. For a
// migrated item product and instance are written separately.
func (s *InventoryService) UpdateItem(ctx context.Context, userID, id string, patch models.Fields) (*UpdateResult, error) {
	ctx, span := util.StartSpan(ctx, "InventoryService.UpdateItem")
	defer span.End()

	rec, err := s.repo.GetInstance(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	f, urlKept := catalog.NormalizeFields(catalog.Strip(patch), s.urls)
	if !urlKept {
		util.URLSanitizedTotal.Inc()
	}
	productFields, instanceFields := catalog.Route(f)
	if err := catalog.CheckInstanceFields(instanceFields); err != nil {
		return nil, err
	}
	if len(productFields) == 0 && len(instanceFields) == 0 {
		return nil, models.Invalid("no updatable fields")
	}
	if err := validatePatch(productFields, instanceFields); err != nil {
		return nil, err
	}

	event := &models.ItemUpdatedEvent{
		BaseEvent:      newBaseEvent(models.EventTypeItemUpdated),
		UserID:         userID,
		ItemID:         id,
		ProductFields:  productFields.Keys(),
		InstanceFields: instanceFields.Keys(),
	}

	switch r := rec.(type) {
	case models.MigratedRecord:
		event.ProductID = r.ProductID
		if len(productFields) > 0 {
			if err := s.repo.UpdateProduct(ctx, userID, r.ProductID, productFields); err != nil {
				if errors.Is(err, models.ErrNotFound) {
					return nil, fmt.Errorf("item %s: %w", id, models.ErrBrokenReference)
				}
				return nil, fmt.Errorf("failed to update product: %w", err)
			}
			util.ItemsUpdatedTotal.WithLabelValues("product").Inc()
		}
		if len(instanceFields) > 0 {
			if err := s.repo.UpdateInstance(ctx, userID, id, instanceFields); err != nil {
				return nil, fmt.Errorf("failed to update instance: %w", err)
			}
			util.ItemsUpdatedTotal.WithLabelValues("instance").Inc()
		}

	case models.LegacyRecord:
		if err := s.repo.UpdateLegacy(ctx, userID, id, instanceFields, productFields); err != nil {
			return nil, fmt.Errorf("failed to update legacy item: %w", err)
		}
		util.ItemsUpdatedTotal.WithLabelValues("legacy").Inc()
	}

	if err := s.publisher.PublishItemUpdated(ctx, event); err != nil {
		s.logger.Error("Failed to publish ItemUpdated event", zap.Error(err))
	}

	item, err := s.GetItem(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	return &UpdateResult{
		Item:           item,
		ProductFields:  event.ProductFields,
		InstanceFields: event.InstanceFields,
	}, nil
}

// validatePatch decodes both halves so a bad value fails before any write
func validatePatch(productFields, instanceFields models.Fields) error {
	var p models.Product
	if err := p.Apply(productFields); err != nil {
		return err
	}
	for _, k := range []string{"brand", "product_name"} {
		if _, ok := productFields[k]; ok && !productFields.Has(k) {
			return models.Invalid("%s cannot be empty", k)
		}
	}
	var inst models.Instance
	return inst.Apply(instanceFields)
}

// DeleteItem removes one instance. Its product stays in the catalog.
func (s *InventoryService) DeleteItem(ctx context.Context, userID, id string) error {
	ctx, span := util.StartSpan(ctx, "InventoryService.DeleteItem")
	defer span.End()

	if err := s.repo.DeleteInstance(ctx, userID, id); err != nil {
		return err
	}
	util.ItemsDeletedTotal.Inc()

	event := &models.ItemDeletedEvent{
		BaseEvent: newBaseEvent(models.EventTypeItemDeleted),
		UserID:    userID,
		ItemID:    id,
	}
	if err := s.publisher.PublishItemDeleted(ctx, event); err != nil {
		s.logger.Error("Failed to publish ItemDeleted event", zap.Error(err))
	}
	return nil
}

// Bulk applies a delete or an update to every listed item. Failures are
// reported per item and do not stop the rest.
func (s *InventoryService) Bulk(ctx context.Context, userID string, req *BulkRequest) (*BulkResult, error) {
	ctx, span := util.StartSpan(ctx, "InventoryService.Bulk")
	defer span.End()

	if len(req.IDs) == 0 {
		return nil, models.Invalid("ids are required")
	}
	if req.Action == "update" && len(req.Updates) == 0 {
		return nil, models.Invalid("updates are required")
	}
	if req.Action != "delete" && req.Action != "update" {
		return nil, models.Invalid("unknown action %q", req.Action)
	}

	result := &BulkResult{Action: req.Action, Succeeded: []string{}}
	for _, id := range req.IDs {
		var err error
		if req.Action == "delete" {
			err = s.DeleteItem(ctx, userID, id)
		} else {
			_, err = s.UpdateItem(ctx, userID, id, req.Updates)
		}
		if err != nil {
			if result.Failed == nil {
				result.Failed = map[string]string{}
			}
			result.Failed[id] = err.Error()
			continue
		}
		result.Succeeded = append(result.Succeeded, id)
	}
	return result, nil
}

// Scan sends photos to the scan service and returns drafted items for the
// user to confirm. Nothing is persisted.
func (s *InventoryService) Scan(ctx context.Context, userID string, images []agent.Image) ([]models.Fields, error) {
	ctx, span := util.StartSpan(ctx, "InventoryService.Scan")
	defer span.End()

	if len(images) == 0 {
		return nil, models.Invalid("at least one image is required")
	}
	if s.scanner == nil {
		return nil, agent.ErrUnavailable
	}
	raw, err := s.scanner.Scan(ctx, userID, images)
	if err != nil {
		util.SpanError(span, err)
		return nil, err
	}
	return s.DraftItems(raw), nil
}

// DraftItems normalizes scan output and fills draft defaults. Scratch keys
// such as candidates are kept for the client.
func (s *InventoryService) DraftItems(raw []models.Fields) []models.Fields {
	drafts := make([]models.Fields, 0, len(raw))
	for _, item := range raw {
		f := catalog.RenameAliases(item)
		if !f.Has("source") {
			f["source"] = "scan"
			if f.Has("price") || f.Has("product_url") || hasCandidates(f) {
				f["source"] = "scan+marketplace"
			}
		}

		f, urlKept := catalog.NormalizeFields(f, s.urls)
		if !urlKept {
			util.URLSanitizedTotal.Inc()
		}
		f = catalog.DraftDefaults.Apply(f)
		if !f.Has("id") {
			f["id"] = "draft-" + uuid.New().String()
		}
		drafts = append(drafts, f)
	}
	return drafts
}

func hasCandidates(f models.Fields) bool {
	c, ok := f["candidates"].([]any)
	return ok && len(c) > 0
}

func newBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
	}
}
