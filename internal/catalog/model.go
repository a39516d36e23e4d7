package catalog

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrProductNotFound   = errors.New("product not found")
	ErrUnknownVariant    = errors.New("unknown product variant")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrDuplicateSKU      = errors.New("variant sku already exists")
	ErrInvalidProduct    = errors.New("invalid product")
	ErrInvalidQuantity   = errors.New("quantity must be greater than zero")
)

type Status string

const (
	StatusDraft        Status = "draft"
	StatusPublished    Status = "published"
	StatusOutOfStock   Status = "out_of_stock"
	StatusDiscontinued Status = "discontinued"
)

func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusPublished, StatusOutOfStock, StatusDiscontinued:
		return true
	}
	return false
}

func (s Status) String() string {
	return string(s)
}

type Image struct {
	URL       string `json:"url" bson:"url"`
	Alt       string `json:"alt,omitempty" bson:"alt,omitempty"`
	IsPrimary bool   `json:"is_primary" bson:"is_primary"`
}

type Variant struct {
	SKU        string            `json:"sku" bson:"sku"`
	Name       string            `json:"name" bson:"name"`
	Price      float64           `json:"price" bson:"price"`
	SalePrice  *float64          `json:"sale_price,omitempty" bson:"sale_price,omitempty"`
	Stock      int               `json:"stock" bson:"stock"`
	Attributes map[string]string `json:"attributes" bson:"attributes"`
}

// EffectivePrice is the sale price when one is set, otherwise the list price.
func (v Variant) EffectivePrice() float64 {
	if v.SalePrice != nil {
		return *v.SalePrice
	}
	return v.Price
}

type Product struct {
	ID          string    `json:"id" bson:"_id"`
	Name        string    `json:"name" bson:"name"`
	Description string    `json:"description" bson:"description"`
	CategoryID  string    `json:"category_id" bson:"category_id"`
	Brand       string    `json:"brand,omitempty" bson:"brand,omitempty"`
	Status      Status    `json:"status" bson:"status"`
	Tags        []string  `json:"tags" bson:"tags"`
	Images      []Image   `json:"images" bson:"images"`
	Variants    []Variant `json:"variants" bson:"variants"`
	CreatedAt   time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" bson:"updated_at"`
}

func (p *Product) Variant(sku string) (Variant, bool) {
	for _, v := range p.Variants {
		if v.SKU == sku {
			return v, true
		}
	}
	return Variant{}, false
}

// Clone returns a copy of p that shares no slices, maps or pointers with it.
func (p *Product) Clone() *Product {
	c := *p
	if p.Tags != nil {
		c.Tags = append([]string{}, p.Tags...)
	}
	if p.Images != nil {
		c.Images = append([]Image{}, p.Images...)
	}
	if p.Variants != nil {
		c.Variants = make([]Variant, len(p.Variants))
		for i, v := range p.Variants {
			if v.SalePrice != nil {
				sale := *v.SalePrice
				v.SalePrice = &sale
			}
			if v.Attributes != nil {
				attrs := make(map[string]string, len(v.Attributes))
				for k, a := range v.Attributes {
					attrs[k] = a
				}
				v.Attributes = attrs
			}
			c.Variants[i] = v
		}
	}
	return &c
}

// Validate checks the per-product invariants: known status, unique SKUs,
// non-negative prices and stock, sale price not above list price.
func (p *Product) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidProduct)
	}
	if !p.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidProduct, p.Status)
	}

	seen := make(map[string]struct{}, len(p.Variants))
	for _, v := range p.Variants {
		if v.SKU == "" {
			return fmt.Errorf("%w: variant sku is required", ErrInvalidProduct)
		}
		if _, dup := seen[v.SKU]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateSKU, v.SKU)
		}
		seen[v.SKU] = struct{}{}

		if v.Price < 0 {
			return fmt.Errorf("%w: variant %s has negative price", ErrInvalidProduct, v.SKU)
		}
		if v.Stock < 0 {
			return fmt.Errorf("%w: variant %s has negative stock", ErrInvalidProduct, v.SKU)
		}
		if v.SalePrice != nil && (*v.SalePrice < 0 || *v.SalePrice > v.Price) {
			return fmt.Errorf("%w: variant %s sale price must be between 0 and list price", ErrInvalidProduct, v.SKU)
		}
	}
	return nil
}

// Quote is what order placement needs to price and snapshot one line item.
type Quote struct {
	ProductID   string
	SKU         string
	ProductName string
	VariantName string
	UnitPrice   float64
	Stock       int
}

type ListFilter struct {
	Status *Status
	Limit  int64
	Offset int64
}
