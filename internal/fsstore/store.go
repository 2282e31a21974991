// Package fsstore is the Firestore backend. Documents live under
// users/{uid}/products, users/{uid}/inventory and users/{uid}/product_keys,
// where a key document pins each dedup key to one product.
package fsstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"cosme-inventory/internal/catalog"
	"cosme-inventory/internal/models"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	usersCollection     = "users"
	productsCollection  = "products"
	inventoryCollection = "inventory"
	keysCollection      = "product_keys"
	eventsCollection    = "processed_events"
)

// document keys that are not item fields
var metaKeys = map[string]struct{}{
	"id":         {},
	"user_id":    {},
	"product_id": {},
	"dedup_key":  {},
	"created_at": {},
	"updated_at": {},
}

// Store implements models.Repository on Firestore
type Store struct {
	Client *firestore.Client
}

// NewStore creates a Firestore client. credentialsFile may be empty to use
// application default credentials or the emulator.
func NewStore(ctx context.Context, projectID, credentialsFile string) (*Store, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := firestore.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client (project=%s): %w", projectID, err)
	}
	return &Store{Client: client}, nil
}

// Close closes the client
func (s *Store) Close() error {
	return s.Client.Close()
}

// Ping reads a missing document to check connectivity
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.Client.Collection(eventsCollection).Doc("_ping").Get(ctx)
	if err != nil && status.Code(err) != codes.NotFound {
		return err
	}
	return nil
}

func (s *Store) userDoc(userID string) *firestore.DocumentRef {
	return s.Client.Collection(usersCollection).Doc(userID)
}

func (s *Store) products(userID string) *firestore.CollectionRef {
	return s.userDoc(userID).Collection(productsCollection)
}

func (s *Store) inventory(userID string) *firestore.CollectionRef {
	return s.userDoc(userID).Collection(inventoryCollection)
}

// keyDoc addresses the index document of a dedup key. Keys may contain
// slashes, so the document id is a hash.
func (s *Store) keyDoc(userID, dedupKey string) *firestore.DocumentRef {
	sum := sha256.Sum256([]byte(dedupKey))
	return s.userDoc(userID).Collection(keysCollection).Doc(hex.EncodeToString(sum[:]))
}

func isNotFound(err error) bool {
	return status.Code(err) == codes.NotFound
}

func productData(p *models.Product) map[string]interface{} {
	data := map[string]interface{}(p.Fields())
	data["dedup_key"] = p.DedupKey
	data["created_at"] = p.CreatedAt
	data["updated_at"] = p.UpdatedAt
	return data
}

func docToProduct(userID string, doc *firestore.DocumentSnapshot) (models.Product, error) {
	data := catalog.RenameAliases(doc.Data())
	p := models.Product{
		ID:        doc.Ref.ID,
		UserID:    userID,
		CreatedAt: asTime(data["created_at"]),
		UpdatedAt: asTime(data["updated_at"]),
	}
	if err := p.Apply(itemFields(data, catalog.IsProductField)); err != nil {
		return p, fmt.Errorf("product %s: %w", doc.Ref.ID, err)
	}
	p.DedupKey, _ = data["dedup_key"].(string)
	if p.DedupKey == "" {
		p.DedupKey = catalog.ProductKey(&p)
	}
	return p, nil
}

func instanceData(inst *models.Instance) map[string]interface{} {
	data := map[string]interface{}(inst.Fields())
	if inst.ProductID != "" {
		data["product_id"] = inst.ProductID
	}
	data["created_at"] = inst.CreatedAt
	data["updated_at"] = inst.UpdatedAt
	return data
}

// docToRecord resolves an inventory document into its legacy or migrated shape
func docToRecord(userID string, doc *firestore.DocumentSnapshot) (models.Record, error) {
	data := doc.Data()
	inst := models.Instance{
		ID:        doc.Ref.ID,
		UserID:    userID,
		CreatedAt: asTime(data["created_at"]),
		UpdatedAt: asTime(data["updated_at"]),
	}
	if err := inst.Apply(itemFields(data, catalog.IsInstanceField)); err != nil {
		return nil, fmt.Errorf("item %s: %w", doc.Ref.ID, err)
	}
	if pid, _ := data["product_id"].(string); strings.TrimSpace(pid) != "" {
		inst.ProductID = pid
		return models.MigratedRecord{Instance: inst}, nil
	}
	legacy := itemFields(data, func(k string) bool { return !catalog.IsInstanceField(k) })
	return models.LegacyRecord{Instance: inst, Product: legacy}, nil
}

func itemFields(data map[string]interface{}, keep func(string) bool) models.Fields {
	out := models.Fields{}
	for k, v := range data {
		if _, meta := metaKeys[k]; meta {
			continue
		}
		if keep(k) {
			out[k] = v
		}
	}
	return out
}

func asTime(v interface{}) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t.UTC()
	case string:
		if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return parsed.UTC()
		}
	}
	return time.Time{}
}

func now() time.Time {
	return time.Now().UTC()
}

// IsEventProcessed checks if an event has been processed
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	_, err := s.Client.Collection(eventsCollection).Doc(eventID).Get(ctx)
	if isNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// MarkEventProcessed marks an event as processed
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.Client.Collection(eventsCollection).Doc(eventID).Create(ctx, map[string]interface{}{
		"event_type":   eventType,
		"processed_at": now(),
	})
	if status.Code(err) == codes.AlreadyExists {
		return nil
	}
	return err
}
