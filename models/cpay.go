package models

import "github.com/shopspring/decimal"

// PaymentLine is one cart line as sent to the payment backend.
type PaymentLine struct {
	ProductID ID              `json:"productId"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

// IntentRequest asks the server to create a payment intent.
type IntentRequest struct {
	Purpose  string          `json:"purpose"`         // "order", "donation"
	Items    []PaymentLine   `json:"items,omitempty"` // order only
	Amount   int64           `json:"amount"`          // minor units
	Display  decimal.Decimal `json:"displayAmount"`   // major units, for receipts
	Currency string          `json:"currency"`        // ISO code, lower case
	Note     string          `json:"note,omitempty"`  // donation message
	PetID    ID              `json:"petId,omitempty"` // donation target
}

// PaymentIntent is what the processor hands back for the payment sheet.
type PaymentIntent struct {
	ID           string `json:"id"`
	ClientSecret string `json:"clientSecret"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
	Status       string `json:"status,omitempty"`
}

// Donation records a confirmed donation.
type Donation struct {
	ID              string          `json:"id,omitempty"`
	PetID           ID              `json:"petId,omitempty"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	Note            string          `json:"note,omitempty"`
	PaymentIntentID string          `json:"paymentIntentId"`
}
