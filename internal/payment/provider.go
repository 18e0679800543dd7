package payment

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Provider is the payment-link API the reconciliation flow converges with.
type Provider interface {
	CreatePaymentLink(ctx context.Context, amountMinorUnits int64, description string) (PaymentLink, error)
	GetPaymentLinkStatus(ctx context.Context, linkID string) (string, error)
}

// PaymentLink is a provider checkout link.
type PaymentLink struct {
	ID          string
	CheckoutURL string
}

// PayMongoClient talks to the PayMongo Links API.
type PayMongoClient struct {
	baseURL   string
	secretKey string
	client    *http.Client
}

// NewPayMongoClient builds a client. The timeout bounds every provider call;
// callers must not hold row locks across these requests.
func NewPayMongoClient(baseURL, secretKey string, timeout time.Duration) *PayMongoClient {
	return &PayMongoClient{
		baseURL:   baseURL,
		secretKey: secretKey,
		client:    &http.Client{Timeout: timeout},
	}
}

type linkEnvelope struct {
	Data struct {
		ID         string `json:"id"`
		Attributes struct {
			CheckoutURL string `json:"checkout_url"`
			Status      string `json:"status"`
		} `json:"attributes"`
	} `json:"data"`
}

// CreatePaymentLink creates a checkout link for the given amount in minor
// units (centavos).
func (c *PayMongoClient) CreatePaymentLink(ctx context.Context, amountMinorUnits int64, description string) (PaymentLink, error) {
	payload := map[string]any{
		"data": map[string]any{
			"attributes": map[string]any{
				"amount":      amountMinorUnits,
				"description": description,
			},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return PaymentLink{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/links", bytes.NewReader(body))
	if err != nil {
		return PaymentLink{}, err
	}
	c.setHeaders(req)
	req.Header.Set("Idempotency-Key", uuid.NewString())

	var env linkEnvelope
	if err := c.do(req, &env); err != nil {
		return PaymentLink{}, err
	}
	return PaymentLink{ID: env.Data.ID, CheckoutURL: env.Data.Attributes.CheckoutURL}, nil
}

// GetPaymentLinkStatus fetches the provider-reported status of a link.
func (c *PayMongoClient) GetPaymentLinkStatus(ctx context.Context, linkID string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/links/"+linkID, nil)
	if err != nil {
		return "", err
	}
	c.setHeaders(req)

	var env linkEnvelope
	if err := c.do(req, &env); err != nil {
		return "", err
	}
	return env.Data.Attributes.Status, nil
}

func (c *PayMongoClient) setHeaders(req *http.Request) {
	token := base64.StdEncoding.EncodeToString([]byte(c.secretKey + ":"))
	req.Header.Set("Authorization", "Basic "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
}

func (c *PayMongoClient) do(req *http.Request, out any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("paymongo request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("paymongo response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("paymongo status %d: %s", resp.StatusCode, raw)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("paymongo decode: %w", err)
	}
	return nil
}
