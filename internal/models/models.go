package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Category is the canonical product category
type Category string

const (
	CategoryBaseMakeup Category = "base-makeup"
	CategoryEyeMakeup  Category = "eye-makeup"
	CategoryLip        Category = "lip"
	CategorySkincare   Category = "skincare"
	CategoryOther      Category = "other"
)

// Texture is the canonical product finish
type Texture string

const (
	TextureMatte   Texture = "matte"
	TextureGlossy  Texture = "glossy"
	TextureSatin   Texture = "satin"
	TextureShimmer Texture = "shimmer"
	TextureCream   Texture = "cream"
	TexturePowder  Texture = "powder"
	TextureLiquid  Texture = "liquid"
)

// Rarity grades
type Rarity string

const (
	RaritySSR Rarity = "SSR"
	RaritySR  Rarity = "SR"
	RarityR   Rarity = "R"
	RarityN   Rarity = "N"
)

// Confidence levels reported by scans
const (
	ConfidenceHigh   = "high"
	ConfidenceMedium = "medium"
	ConfidenceLow    = "low"
)

// DefaultEstimatedRemaining is used when an instance does not say how much is left
const DefaultEstimatedRemaining = "100%"

// Stats is the four-axis stat block of a product, each axis 1-5
type Stats struct {
	Pigment       int `json:"pigment"`
	Longevity     int `json:"longevity"`
	ShelfLife     int `json:"shelf_life"`
	NaturalFinish int `json:"natural_finish"`
}

// Sum returns the total of all axes
func (s Stats) Sum() int {
	return s.Pigment + s.Longevity + s.ShelfLife + s.NaturalFinish
}

// Validate checks every axis is within 1-5
func (s Stats) Validate() error {
	axes := []struct {
		name  string
		value int
	}{
		{"pigment", s.Pigment},
		{"longevity", s.Longevity},
		{"shelf_life", s.ShelfLife},
		{"natural_finish", s.NaturalFinish},
	}
	for _, a := range axes {
		if a.value < 1 || a.value > 5 {
			return Invalid("stats.%s must be between 1 and 5, got %d", a.name, a.value)
		}
	}
	return nil
}

// Value stores stats as a JSON column
func (s Stats) Value() (driver.Value, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan reads stats from a JSON column
func (s *Stats) Scan(src interface{}) error {
	b, err := jsonBytes(src)
	if err != nil || b == nil {
		return err
	}
	return json.Unmarshal(b, s)
}

// StringList is a JSON encoded list column
type StringList []string

// Value stores the list as JSON; an empty list is NULL
func (l StringList) Value() (driver.Value, error) {
	if len(l) == 0 {
		return nil, nil
	}
	b, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan reads the list from a JSON column
func (l *StringList) Scan(src interface{}) error {
	b, err := jsonBytes(src)
	if err != nil {
		return err
	}
	if b == nil {
		*l = nil
		return nil
	}
	return json.Unmarshal(b, (*[]string)(l))
}

func jsonBytes(src interface{}) ([]byte, error) {
	switch v := src.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("unsupported JSON column type %T", src)
	}
}

// Product is a deduplicated, user-scoped catalog entry
type Product struct {
	ID                  string     `db:"id" json:"id"`
	UserID              string     `db:"user_id" json:"-"`
	DedupKey            string     `db:"dedup_key" json:"-"`
	Brand               string     `db:"brand" json:"brand"`
	ProductName         string     `db:"product_name" json:"product_name"`
	Category            Category   `db:"category" json:"category"`
	ItemType            string     `db:"item_type" json:"item_type"`
	ColorCode           string     `db:"color_code" json:"color_code,omitempty"`
	ColorName           string     `db:"color_name" json:"color_name,omitempty"`
	ColorDescription    string     `db:"color_description" json:"color_description"`
	Texture             Texture    `db:"texture" json:"texture"`
	Stats               *Stats     `db:"stats" json:"stats,omitempty"`
	Rarity              Rarity     `db:"rarity" json:"rarity,omitempty"`
	PAOMonths           *int       `db:"pao_months" json:"pao_months"`
	Price               *int64     `db:"price" json:"price,omitempty"`
	ProductURL          string     `db:"product_url" json:"product_url,omitempty"`
	ImageURL            string     `db:"image_url" json:"image_url,omitempty"`
	MarketplaceImageURL string     `db:"marketplace_image_url" json:"marketplace_image_url,omitempty"`
	Images              StringList `db:"images" json:"images,omitempty"`
	Source              string     `db:"source" json:"source"`
	Confidence          string     `db:"confidence" json:"confidence"`
	CreatedAt           time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time  `db:"updated_at" json:"updated_at"`
}

// Instance is a per-user ownership record of a product
type Instance struct {
	ID                 string    `json:"id"`
	UserID             string    `json:"-"`
	ProductID          string    `json:"product_id,omitempty"`
	EstimatedRemaining string    `json:"estimated_remaining"`
	PurchaseDate       *string   `json:"purchase_date"`
	OpenDate           *string   `json:"open_date"`
	Memo               *string   `json:"memo"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Record is a stored inventory row resolved into one of its two shapes.
// Implementations are LegacyRecord and MigratedRecord.
type Record interface {
	Base() Instance
	isRecord()
}

// LegacyRecord is a pre-migration row that keeps product fields next to
// the instance fields
type LegacyRecord struct {
	Instance
	Product Fields
}

// MigratedRecord is an instance that references a product
type MigratedRecord struct {
	Instance
}

func (r LegacyRecord) Base() Instance   { return r.Instance }
func (r MigratedRecord) Base() Instance { return r.Instance }
func (LegacyRecord) isRecord()          {}
func (MigratedRecord) isRecord()        {}

// Item is the flat joined view returned to callers
type Item struct {
	ID                  string     `json:"id"`
	ProductID           string     `json:"product_id,omitempty"`
	Brand               string     `json:"brand,omitempty"`
	ProductName         string     `json:"product_name,omitempty"`
	Category            Category   `json:"category,omitempty"`
	ItemType            string     `json:"item_type,omitempty"`
	ColorCode           string     `json:"color_code,omitempty"`
	ColorName           string     `json:"color_name,omitempty"`
	ColorDescription    string     `json:"color_description,omitempty"`
	Texture             Texture    `json:"texture,omitempty"`
	Stats               *Stats     `json:"stats,omitempty"`
	Rarity              Rarity     `json:"rarity,omitempty"`
	PAOMonths           *int       `json:"pao_months,omitempty"`
	Price               *int64     `json:"price,omitempty"`
	ProductURL          string     `json:"product_url,omitempty"`
	ImageURL            string     `json:"image_url,omitempty"`
	MarketplaceImageURL string     `json:"marketplace_image_url,omitempty"`
	Images              StringList `json:"images,omitempty"`
	Source              string     `json:"source,omitempty"`
	Confidence          string     `json:"confidence,omitempty"`
	EstimatedRemaining  string     `json:"estimated_remaining"`
	PurchaseDate        *string    `json:"purchase_date"`
	OpenDate            *string    `json:"open_date"`
	Memo                *string    `json:"memo"`
	ProductMissing      bool       `json:"product_missing,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// MigrationResult summarizes one migration run
type MigrationResult struct {
	ProductsCreated int `json:"products_created"`
	ItemsMigrated   int `json:"items_migrated"`
	ItemsSkipped    int `json:"items_skipped"`
	ItemsFailed     int `json:"items_failed"`
}

// ProcessedEvent for idempotency
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
