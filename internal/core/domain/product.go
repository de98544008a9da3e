package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Prices are stored with two decimal places below MaxPrice.
var MaxPrice = decimal.New(1, 10)

const priceScale = 2

// ValidatePrice rejects prices the stores cannot hold exactly.
func ValidatePrice(price decimal.Decimal) error {
	if price.IsNegative() {
		return NewValidationError("price", "must not be negative")
	}
	if !price.Equal(price.Round(priceScale)) {
		return NewValidationError("price", "must have at most two decimal places")
	}
	if price.GreaterThanOrEqual(MaxPrice) {
		return NewValidationError("price", "is too large")
	}
	return nil
}

type Product struct {
	ID          string          `json:"id"`
	SellerID    string          `json:"sellerId"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Category    string          `json:"category"`
	Brand       string          `json:"brand,omitempty"`
	Image       string          `json:"image,omitempty"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock"`
	Active      bool            `json:"active"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

func (p *Product) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return NewValidationError("name", "is required")
	}
	if strings.TrimSpace(p.Description) == "" {
		return NewValidationError("description", "is required")
	}
	if strings.TrimSpace(p.Category) == "" {
		return NewValidationError("category", "is required")
	}
	if err := ValidatePrice(p.Price); err != nil {
		return err
	}
	if p.Stock < 0 {
		return NewValidationError("stock", "must not be negative")
	}
	return nil
}

// ProductPatch holds the editable fields of a product. Nil fields are left
// untouched.
type ProductPatch struct {
	Name        *string          `json:"name,omitempty"`
	Description *string          `json:"description,omitempty"`
	Category    *string          `json:"category,omitempty"`
	Brand       *string          `json:"brand,omitempty"`
	Image       *string          `json:"image,omitempty"`
	Price       *decimal.Decimal `json:"price,omitempty"`
	Stock       *int             `json:"stock,omitempty"`
	Active      *bool            `json:"active,omitempty"`
}

func (p ProductPatch) IsEmpty() bool {
	return p.Name == nil && p.Description == nil && p.Category == nil && p.Brand == nil &&
		p.Image == nil && p.Price == nil && p.Stock == nil && p.Active == nil
}

// Normalized drops blank text fields so they leave the stored value alone.
func (p ProductPatch) Normalized() ProductPatch {
	blank := func(v *string) *string {
		if v == nil || strings.TrimSpace(*v) == "" {
			return nil
		}
		trimmed := strings.TrimSpace(*v)
		return &trimmed
	}
	p.Name = blank(p.Name)
	p.Description = blank(p.Description)
	p.Category = blank(p.Category)
	p.Image = blank(p.Image)
	return p
}

// Apply copies the set fields onto product and validates the result.
func (p ProductPatch) Apply(product *Product) error {
	if p.Name != nil {
		product.Name = *p.Name
	}
	if p.Description != nil {
		product.Description = *p.Description
	}
	if p.Category != nil {
		product.Category = *p.Category
	}
	if p.Brand != nil {
		product.Brand = *p.Brand
	}
	if p.Image != nil {
		product.Image = *p.Image
	}
	if p.Price != nil {
		product.Price = *p.Price
	}
	if p.Stock != nil {
		product.Stock = *p.Stock
	}
	if p.Active != nil {
		product.Active = *p.Active
	}
	return product.Validate()
}

// ProductFilter selects products for listings. Category matches
// case-insensitively as a substring.
type ProductFilter struct {
	Category   string
	SellerID   string
	ActiveOnly bool
	Limit      int
}

type BulkAction string

const (
	BulkUpdateStock    BulkAction = "updateStock"
	BulkUpdateStatus   BulkAction = "updateStatus"
	BulkUpdateCategory BulkAction = "updateCategory"
)

// BulkUpdate is a seller request to overwrite one field across several
// of their products.
type BulkUpdate struct {
	ProductIDs []string   `json:"productIds"`
	Action     BulkAction `json:"action"`
	Stock      *int       `json:"stock,omitempty"`
	Active     *bool      `json:"isActive,omitempty"`
	Category   string     `json:"category,omitempty"`
}

// Patch converts the bulk request into the patch applied to every product.
func (b BulkUpdate) Patch() (ProductPatch, error) {
	if len(b.ProductIDs) == 0 {
		return ProductPatch{}, NewValidationError("productIds", "no products selected")
	}
	switch b.Action {
	case BulkUpdateStock:
		if b.Stock == nil || *b.Stock < 0 {
			return ProductPatch{}, NewValidationError("stock", "must not be negative")
		}
		return ProductPatch{Stock: b.Stock}, nil
	case BulkUpdateStatus:
		if b.Active == nil {
			return ProductPatch{}, NewValidationError("isActive", "is required")
		}
		return ProductPatch{Active: b.Active}, nil
	case BulkUpdateCategory:
		category := strings.TrimSpace(b.Category)
		if category == "" {
			return ProductPatch{}, NewValidationError("category", "is required")
		}
		return ProductPatch{Category: &category}, nil
	default:
		return ProductPatch{}, NewValidationError("action", "unsupported bulk action")
	}
}
