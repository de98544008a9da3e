package domain

import "time"

type CartItem struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// Cart is the pending purchase list of one buyer. It holds at most one
// line per product.
type Cart struct {
	BuyerID   string     `json:"buyerId"`
	Items     []CartItem `json:"items"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

func NewCart(buyerID string) *Cart {
	return &Cart{BuyerID: buyerID, Items: []CartItem{}}
}

func (c *Cart) IsEmpty() bool {
	return c == nil || len(c.Items) == 0
}

// Add merges quantity into an existing line or appends a new one.
func (c *Cart) Add(productID string, quantity int) error {
	if quantity < 1 {
		return NewValidationError("quantity", "must be a positive integer")
	}
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			c.Items[i].Quantity += quantity
			return nil
		}
	}
	c.Items = append(c.Items, CartItem{ProductID: productID, Quantity: quantity})
	return nil
}

// SetQuantity replaces the quantity of an existing line and reports whether
// the line was found. Live stock is not consulted.
func (c *Cart) SetQuantity(productID string, quantity int) (bool, error) {
	if quantity < 1 {
		return false, NewValidationError("quantity", "must be a positive integer")
	}
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			c.Items[i].Quantity = quantity
			return true, nil
		}
	}
	return false, nil
}

// Remove drops the line for productID. Removing an absent line is a no-op.
func (c *Cart) Remove(productID string) {
	kept := c.Items[:0]
	for _, item := range c.Items {
		if item.ProductID != productID {
			kept = append(kept, item)
		}
	}
	c.Items = kept
}

func (c *Cart) Clear() {
	c.Items = []CartItem{}
}

func (c *Cart) TotalQuantity() int {
	total := 0
	for _, item := range c.Items {
		total += item.Quantity
	}
	return total
}
