package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is the purchasable record a cart line is built from.
type Product struct {
	ID       ID              `json:"id" bson:"id"`
	Name     string          `json:"name" bson:"name"`
	Price    decimal.Decimal `json:"price" bson:"price"` // accepts 9.99 or "9.99"
	ImageURL string          `json:"imageUrl,omitempty" bson:"imageUrl,omitempty"`
	Category string          `json:"category,omitempty" bson:"category,omitempty"` // e.g. "food", "toys", "accessories"
}

// CartItem represents a single line in the user's cart. Display fields are
// copied from the product when it is first added and never re-fetched.
type CartItem struct {
	ProductID ID              `json:"productId" bson:"productId"`
	Name      string          `json:"name" bson:"name"`
	Price     decimal.Decimal `json:"price" bson:"price"` // unit price
	ImageURL  string          `json:"imageUrl,omitempty" bson:"imageUrl,omitempty"`
	Category  string          `json:"category,omitempty" bson:"category,omitempty"`
	Quantity  int             `json:"quantity" bson:"quantity"`
}

// LineTotal is price × quantity.
func (c CartItem) LineTotal() decimal.Decimal {
	return c.Price.Mul(decimal.NewFromInt(int64(c.Quantity)))
}

// CartTotals is derived from the live cart on every call.
type CartTotals struct {
	Subtotal  decimal.Decimal `json:"subtotal"`
	Tax       decimal.Decimal `json:"tax"`
	Total     decimal.Decimal `json:"total"`
	ItemCount int             `json:"itemCount"`
}

// Order represents a finalized order.
type Order struct {
	OrderID         string          `json:"orderId,omitempty" bson:"orderId"`
	UserID          string          `json:"userId,omitempty" bson:"userId"`
	Items           []CartItem      `json:"items" bson:"items"`
	Address         string          `json:"address" bson:"address"`
	PaymentIntentID string          `json:"paymentIntentId" bson:"paymentIntentId"`
	Total           decimal.Decimal `json:"total" bson:"total"`
	Status          string          `json:"status,omitempty" bson:"status"` // e.g. "pending", "paid"
	CreatedAt       time.Time       `json:"createdAt,omitempty" bson:"createdAt"`
}
