package models

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/multierr"
)

// Fields is a loosely typed item payload keyed by snake_case field name.
// It is what arrives over HTTP, what the scan service returns and what
// legacy rows keep for their product half.
type Fields map[string]any

// Clone returns a shallow copy
func (f Fields) Clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Keys returns the field names in sorted order
func (f Fields) Keys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Has reports whether the key is present with a non-empty value
func (f Fields) Has(key string) bool {
	v, ok := f[key]
	if !ok || v == nil {
		return false
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) != ""
	}
	return true
}

// String returns the value under key when it is a string
func (f Fields) String(key string) string {
	s, _ := f[key].(string)
	return s
}

// Apply decodes product-owned fields onto p. Fields that decode are set even
// when others fail; the returned error aggregates every failure.
func (p *Product) Apply(f Fields) error {
	var errs error
	for _, key := range f.Keys() {
		v := f[key]
		var err error
		switch key {
		case "brand":
			p.Brand, err = asString(v)
		case "product_name":
			p.ProductName, err = asString(v)
		case "category":
			var s string
			s, err = asString(v)
			p.Category = Category(s)
		case "item_type":
			p.ItemType, err = asString(v)
		case "color_code":
			p.ColorCode, err = asString(v)
		case "color_name":
			p.ColorName, err = asString(v)
		case "color_description":
			p.ColorDescription, err = asString(v)
		case "texture":
			var s string
			s, err = asString(v)
			p.Texture = Texture(s)
		case "stats":
			var st *Stats
			if st, err = asStats(v); err == nil {
				p.Stats = st
			}
		case "rarity":
			var s string
			s, err = asString(v)
			p.Rarity = Rarity(s)
		case "pao_months":
			var n *int64
			if n, err = asOptionalInt(v); err == nil {
				p.PAOMonths = intPtr(n)
			}
		case "price":
			var n *int64
			if n, err = asOptionalInt(v); err == nil {
				p.Price = n
			}
		case "product_url":
			p.ProductURL, err = asString(v)
		case "image_url":
			p.ImageURL, err = asString(v)
		case "marketplace_image_url":
			p.MarketplaceImageURL, err = asString(v)
		case "images":
			var l StringList
			if l, err = asStringList(v); err == nil {
				p.Images = l
			}
		case "source":
			p.Source, err = asString(v)
		case "confidence":
			p.Confidence, err = asString(v)
		default:
			err = Invalid("not a product field")
		}
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", key, err))
		}
	}
	return errs
}

// Fields returns the populated product-owned fields of p
func (p *Product) Fields() Fields {
	f := Fields{}
	putString(f, "brand", p.Brand)
	putString(f, "product_name", p.ProductName)
	putString(f, "category", string(p.Category))
	putString(f, "item_type", p.ItemType)
	putString(f, "color_code", p.ColorCode)
	putString(f, "color_name", p.ColorName)
	putString(f, "color_description", p.ColorDescription)
	putString(f, "texture", string(p.Texture))
	if p.Stats != nil {
		f["stats"] = map[string]any{
			"pigment":        p.Stats.Pigment,
			"longevity":      p.Stats.Longevity,
			"shelf_life":     p.Stats.ShelfLife,
			"natural_finish": p.Stats.NaturalFinish,
		}
	}
	putString(f, "rarity", string(p.Rarity))
	if p.PAOMonths != nil {
		f["pao_months"] = *p.PAOMonths
	}
	if p.Price != nil {
		f["price"] = *p.Price
	}
	putString(f, "product_url", p.ProductURL)
	putString(f, "image_url", p.ImageURL)
	putString(f, "marketplace_image_url", p.MarketplaceImageURL)
	if len(p.Images) > 0 {
		f["images"] = []string(p.Images)
	}
	putString(f, "source", p.Source)
	putString(f, "confidence", p.Confidence)
	return f
}

// Apply decodes instance-owned fields onto i
func (i *Instance) Apply(f Fields) error {
	var errs error
	for _, key := range f.Keys() {
		v := f[key]
		var err error
		switch key {
		case "estimated_remaining":
			i.EstimatedRemaining, err = asString(v)
		case "purchase_date":
			i.PurchaseDate, err = asOptionalString(v)
		case "open_date":
			i.OpenDate, err = asOptionalString(v)
		case "memo":
			i.Memo, err = asOptionalString(v)
		default:
			err = Invalid("not an instance field")
		}
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", key, err))
		}
	}
	return errs
}

// Fields returns the instance-owned fields of i. Nullable dates and memo are
// always present so a rewrite clears them explicitly.
func (i *Instance) Fields() Fields {
	f := Fields{
		"estimated_remaining": i.EstimatedRemaining,
		"purchase_date":       nil,
		"open_date":           nil,
		"memo":                nil,
	}
	if i.PurchaseDate != nil {
		f["purchase_date"] = *i.PurchaseDate
	}
	if i.OpenDate != nil {
		f["open_date"] = *i.OpenDate
	}
	if i.Memo != nil {
		f["memo"] = *i.Memo
	}
	return f
}

func putString(f Fields, key, value string) {
	if value != "" {
		f[key] = value
	}
}

func asString(v any) (string, error) {
	switch s := v.(type) {
	case nil:
		return "", nil
	case string:
		return strings.TrimSpace(s), nil
	default:
		return "", Invalid("expected string, got %T", v)
	}
}

func asOptionalString(v any) (*string, error) {
	if v == nil {
		return nil, nil
	}
	s, err := asString(v)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func asOptionalInt(v any) (*int64, error) {
	var n int64
	switch x := v.(type) {
	case nil:
		return nil, nil
	case int:
		n = int64(x)
	case int32:
		n = int64(x)
	case int64:
		n = x
	case float64:
		if x != math.Trunc(x) {
			return nil, Invalid("expected integer, got %v", x)
		}
		n = int64(x)
	case json.Number:
		i, err := x.Int64()
		if err != nil {
			return nil, Invalid("expected integer, got %q", x.String())
		}
		n = i
	case string:
		s := strings.ReplaceAll(strings.TrimSpace(x), ",", "")
		if s == "" {
			return nil, nil
		}
		i, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, Invalid("expected integer, got %q", x)
		}
		n = i
	default:
		return nil, Invalid("expected integer, got %T", v)
	}
	return &n, nil
}

func asStats(v any) (*Stats, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case Stats:
		return &x, x.Validate()
	case *Stats:
		if x == nil {
			return nil, nil
		}
		return x, x.Validate()
	case map[string]any:
		var s Stats
		var errs error
		for _, axis := range []struct {
			key string
			dst *int
		}{
			{"pigment", &s.Pigment},
			{"longevity", &s.Longevity},
			{"shelf_life", &s.ShelfLife},
			{"natural_finish", &s.NaturalFinish},
		} {
			n, err := asOptionalInt(x[axis.key])
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("%s: %w", axis.key, err))
				continue
			}
			if n != nil {
				*axis.dst = int(*n)
			}
		}
		if errs != nil {
			return nil, errs
		}
		return &s, s.Validate()
	default:
		return nil, Invalid("expected object, got %T", v)
	}
}

func asStringList(v any) (StringList, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case []string:
		return StringList(x), nil
	case StringList:
		return x, nil
	case []any:
		out := make(StringList, 0, len(x))
		for _, e := range x {
			s, ok := e.(string)
			if !ok {
				return nil, Invalid("expected list of strings, got element %T", e)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, Invalid("expected list of strings, got %T", v)
	}
}

func intPtr(n *int64) *int {
	if n == nil {
		return nil
	}
	i := int(*n)
	return &i
}
