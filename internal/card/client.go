package card

import (
	"context"
	"fmt"

	"github.com/go-resty/resty/v2"
)

// Client talks to the card provider's REST surface for the few
// subscription/product calls the platform needs outside the webhook
// flow. Webhook delivery stays the authoritative channel; this client
// is read-mostly plus subscription cancellation.
type Client struct {
	http *resty.Client
}

func NewClient(baseURL, apiKey string) *Client {
	http := resty.New().
		SetBaseURL(baseURL).
		SetAuthToken(apiKey).
		SetHeader("Accept", "application/json")
	return &Client{http: http}
}

type Product struct {
	Id     string `json:"id"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

type Price struct {
	Id         string `json:"id"`
	Product    string `json:"product"`
	UnitAmount int64  `json:"unit_amount"` // minor units
	Currency   string `json:"currency"`
}

func (c *Client) Product(ctx context.Context, id string) (*Product, error) {
	var out Product
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/v1/products/" + id)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("card provider: product %s: %s", id, resp.Status())
	}
	return &out, nil
}

func (c *Client) Price(ctx context.Context, id string) (*Price, error) {
	var out Price
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/v1/prices/" + id)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("card provider: price %s: %s", id, resp.Status())
	}
	return &out, nil
}

func (c *Client) CancelSubscription(ctx context.Context, id string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		Delete("/v1/subscriptions/" + id)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("card provider: cancel subscription %s: %s", id, resp.Status())
	}
	return nil
}
