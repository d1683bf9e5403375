// Package payment drives the checkout and donation flows: create an intent,
// hand it to the payment sheet, confirm, then record the result.
package payment

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"pawmart/globals"
	"pawmart/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrEmptyCart     = errors.New("payment: cart is empty")
	ErrInvalidAmount = errors.New("payment: amount must be positive")
	ErrPaymentFailed = errors.New("payment: payment failed")
)

// Outcome is what the payment sheet reports back.
type Outcome int

const (
	Succeeded Outcome = iota
	Cancelled
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Succeeded:
		return "succeeded"
	case Cancelled:
		return "cancelled"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// API is the part of api.Client the flows use.
type API interface {
	CreatePaymentIntent(ctx context.Context, req models.IntentRequest, idempotencyKey string) (models.PaymentIntent, error)
	ConfirmPayment(ctx context.Context, intentID string) (models.PaymentIntent, error)
	CreateOrder(ctx context.Context, order models.Order) (models.Order, error)
	CreateDonation(ctx context.Context, d models.Donation) (models.Donation, error)
}

// Sheet presents an intent to the user and collects the card details.
type Sheet interface {
	Present(ctx context.Context, intent models.PaymentIntent) (Outcome, error)
}

// Cart is the part of cart.Store checkout needs.
type Cart interface {
	Snapshot() ([]models.CartItem, models.CartTotals)
	Settle(ctx context.Context, paid []models.CartItem) error
}

type Checkout struct {
	API      API
	Sheet    Sheet
	Currency string // ISO 4217, defaults to "usd"
	// NewKey makes idempotency keys; defaults to uuid.NewString.
	NewKey func() string
}

// Result reports how a flow ended. Order or Donation is set only when the
// payment succeeded and was recorded.
type Result struct {
	Outcome  Outcome
	Intent   models.PaymentIntent
	Order    *models.Order
	Donation *models.Donation
}

// Pay charges the cart and, on success, records the order and takes the
// paid lines off the cart. Anything added while the sheet was open stays.
// A cancelled sheet leaves the cart untouched and is not an error.
func (c *Checkout) Pay(ctx context.Context, cart Cart, address string) (Result, error) {
	items, totals := cart.Snapshot()
	if len(items) == 0 {
		return Result{}, ErrEmptyCart
	}

	lines := make([]models.PaymentLine, len(items))
	for i, it := range items {
		lines[i] = models.PaymentLine{ProductID: it.ProductID, Name: it.Name, Quantity: it.Quantity, UnitPrice: it.Price}
	}
	currency := c.currency()
	amount, err := MinorUnits(totals.Total, currency)
	if err != nil {
		return Result{}, err
	}

	res, err := c.charge(ctx, models.IntentRequest{
		Purpose:  "order",
		Items:    lines,
		Amount:   amount,
		Display:  totals.Total,
		Currency: currency,
	})
	if err != nil || res.Outcome != Succeeded {
		return res, err
	}

	rctx, cancel := globals.WithDefaultTimeout(ctx, globals.RequestTimeout)
	defer cancel()
	order, err := c.API.CreateOrder(rctx, models.Order{
		Items:           items,
		Address:         address,
		PaymentIntentID: res.Intent.ID,
		Total:           totals.Total,
		Status:          "paid",
	})
	if err != nil {
		return res, fmt.Errorf("payment: record order for %s: %w", res.Intent.ID, globals.AsTimeout(err))
	}
	res.Order = &order

	// The charge went through; a failed settle only leaves stale lines.
	if err := cart.Settle(ctx, items); err != nil {
		log.Printf("payment: settle cart after order %s: %v", order.OrderID, err)
	}
	return res, nil
}

// Donate charges amount and records a donation towards petID, which may
// be empty for a general donation.
func (c *Checkout) Donate(ctx context.Context, petID models.ID, amount decimal.Decimal, note string) (Result, error) {
	if !amount.IsPositive() {
		return Result{}, ErrInvalidAmount
	}
	currency := c.currency()
	minor, err := MinorUnits(amount, currency)
	if err != nil {
		return Result{}, err
	}

	res, err := c.charge(ctx, models.IntentRequest{
		Purpose:  "donation",
		Amount:   minor,
		Display:  amount,
		Currency: currency,
		Note:     note,
		PetID:    petID,
	})
	if err != nil || res.Outcome != Succeeded {
		return res, err
	}

	rctx, cancel := globals.WithDefaultTimeout(ctx, globals.RequestTimeout)
	defer cancel()
	d, err := c.API.CreateDonation(rctx, models.Donation{
		PetID:           petID,
		Amount:          amount,
		Currency:        currency,
		Note:            note,
		PaymentIntentID: res.Intent.ID,
	})
	if err != nil {
		return res, fmt.Errorf("payment: record donation for %s: %w", res.Intent.ID, globals.AsTimeout(err))
	}
	res.Donation = &d
	return res, nil
}

// charge runs intent -> sheet -> confirm.
func (c *Checkout) charge(ctx context.Context, req models.IntentRequest) (Result, error) {
	key := uuid.NewString
	if c.NewKey != nil {
		key = c.NewKey
	}

	rctx, cancel := globals.WithDefaultTimeout(ctx, globals.RequestTimeout)
	intent, err := c.API.CreatePaymentIntent(rctx, req, key())
	cancel()
	if err != nil {
		return Result{Outcome: Failed}, fmt.Errorf("payment: create intent: %w", globals.AsTimeout(err))
	}

	outcome, err := c.Sheet.Present(ctx, intent)
	res := Result{Outcome: outcome, Intent: intent}
	switch {
	case err != nil:
		res.Outcome = Failed
		return res, fmt.Errorf("%w: %w", ErrPaymentFailed, err)
	case outcome == Cancelled:
		return res, nil
	case outcome != Succeeded:
		res.Outcome = Failed
		return res, ErrPaymentFailed
	}

	rctx, cancel = globals.WithDefaultTimeout(ctx, globals.RequestTimeout)
	defer cancel()
	confirmed, err := c.API.ConfirmPayment(rctx, intent.ID)
	if err != nil {
		res.Outcome = Failed
		return res, fmt.Errorf("payment: confirm %s: %w", intent.ID, globals.AsTimeout(err))
	}
	if confirmed.ID != "" {
		res.Intent = confirmed
	}
	return res, nil
}

func (c *Checkout) currency() string {
	if c.Currency == "" {
		return "usd"
	}
	return strings.ToLower(c.Currency)
}

// zeroDecimal lists the common currencies charged in whole units.
var zeroDecimal = map[string]bool{"jpy": true, "krw": true, "vnd": true, "clp": true}

// MinorUnits converts a major-unit amount to the integer the processor
// expects, rounding half away from zero.
func MinorUnits(amount decimal.Decimal, currency string) (int64, error) {
	if amount.IsNegative() {
		return 0, ErrInvalidAmount
	}
	exp := int32(2)
	if zeroDecimal[strings.ToLower(currency)] {
		exp = 0
	}
	return amount.Shift(exp).Round(0).IntPart(), nil
}
