package api

import (
	"context"
	"net/http"
	"net/url"

	"pawmart/models"
)

// IdempotencyHeader lets the server replay a payment request safely.
const IdempotencyHeader = "Idempotency-Key"

func (c *Client) ListPets(ctx context.Context, species string) ([]models.Pet, error) {
	var q url.Values
	if species != "" {
		q = url.Values{"species": {species}}
	}
	var pets []models.Pet
	if err := c.do(ctx, http.MethodGet, "/api/pets", q, nil, &pets, nil); err != nil {
		return nil, err
	}
	return pets, nil
}

func (c *Client) GetPet(ctx context.Context, id models.ID) (models.Pet, error) {
	var pet models.Pet
	err := c.do(ctx, http.MethodGet, "/api/pets/"+url.PathEscape(id.String()), nil, nil, &pet, nil)
	return pet, err
}

// ClaimPet marks the pet as adopted by ownerID.
func (c *Client) ClaimPet(ctx context.Context, petID models.ID, ownerID string) error {
	body := map[string]string{"ownerId": ownerID, "status": "adopted"}
	return c.do(ctx, http.MethodPatch, "/api/pets/"+url.PathEscape(petID.String()), nil, body, nil, nil)
}

// ReleasePet puts a claimed pet back up for adoption.
func (c *Client) ReleasePet(ctx context.Context, petID models.ID) error {
	body := map[string]string{"ownerId": "", "status": "available"}
	return c.do(ctx, http.MethodPatch, "/api/pets/"+url.PathEscape(petID.String()), nil, body, nil, nil)
}

// FetchMessages returns the conversation between self and peer, oldest
// first.
func (c *Client) FetchMessages(ctx context.Context, self, peer string) ([]models.Message, error) {
	q := url.Values{"user1": {self}, "user2": {peer}}
	var msgs []models.Message
	if err := c.do(ctx, http.MethodGet, "/api/messages", q, nil, &msgs, nil); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (c *Client) CreateOrder(ctx context.Context, order models.Order) (models.Order, error) {
	var out models.Order
	err := c.do(ctx, http.MethodPost, "/api/orders", nil, order, &out, nil)
	return out, err
}

// CreatePaymentIntent asks the server to open a payment intent. The same
// idempotencyKey must be reused when retrying the same checkout.
func (c *Client) CreatePaymentIntent(ctx context.Context, req models.IntentRequest, idempotencyKey string) (models.PaymentIntent, error) {
	var h http.Header
	if idempotencyKey != "" {
		h = http.Header{IdempotencyHeader: {idempotencyKey}}
	}
	var intent models.PaymentIntent
	err := c.do(ctx, http.MethodPost, "/api/payments/intent", nil, req, &intent, h)
	return intent, err
}

func (c *Client) ConfirmPayment(ctx context.Context, intentID string) (models.PaymentIntent, error) {
	var intent models.PaymentIntent
	body := map[string]string{"paymentIntentId": intentID}
	err := c.do(ctx, http.MethodPost, "/api/payments/confirm", nil, body, &intent, nil)
	return intent, err
}

func (c *Client) CreateDonation(ctx context.Context, d models.Donation) (models.Donation, error) {
	var out models.Donation
	err := c.do(ctx, http.MethodPost, "/api/donations", nil, d, &out, nil)
	return out, err
}

func (c *Client) CreateReport(ctx context.Context, r models.Report) error {
	return c.do(ctx, http.MethodPost, "/api/reports", nil, r, nil, nil)
}
