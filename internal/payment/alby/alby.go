// Package alby implements the payment gateway against the Alby Hub API.
// Invoices are keyed by their payment hash.
package alby

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fulmine-labs/spark-gateway/internal/domain"
	"github.com/fulmine-labs/spark-gateway/internal/httputil"
)

const DefaultBaseURL = "https://api.getalby.com"

type Gateway struct {
	apiToken string
	baseURL  string
	client   *http.Client
}

func New(apiToken, baseURL string) *Gateway {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Gateway{
		apiToken: apiToken,
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		client:   httputil.NewClient(httputil.GatewayConfig()),
	}
}

// WithHTTPClient overrides the HTTP client, mainly for tests.
func (g *Gateway) WithHTTPClient(c *http.Client) *Gateway {
	g.client = c
	return g
}

func (g *Gateway) ID() string {
	return "alby"
}

type createInvoiceRequest struct {
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
	Currency    string `json:"currency"`
}

type invoiceResponse struct {
	PaymentHash    string    `json:"payment_hash"`
	PaymentRequest string    `json:"payment_request"`
	Amount         int64     `json:"amount"`
	Settled        bool      `json:"settled"`
	State          string    `json:"state"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
}

func (g *Gateway) CreateInvoice(ctx context.Context, amountSats int64, description, orderID string) (*domain.Invoice, error) {
	desc := description
	if orderID != "" {
		desc = fmt.Sprintf("%s [%s]", description, orderID)
	}

	body, err := json.Marshal(createInvoiceRequest{
		Amount:      amountSats,
		Description: desc,
		Currency:    "btc",
	})
	if err != nil {
		return nil, fmt.Errorf("marshal invoice: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/invoices", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+g.apiToken)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: alby: %v", domain.ErrGatewayError, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: alby: status=%d body=%s", domain.ErrGatewayError, resp.StatusCode, string(bodyBytes))
	}

	var raw invoiceResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: alby: decode response: %v", domain.ErrGatewayError, err)
	}

	inv := toInvoice(raw)
	if inv.AmountSats == 0 {
		inv.AmountSats = amountSats
	}
	return inv, nil
}

func (g *Gateway) GetInvoice(ctx context.Context, invoiceID string) (*domain.Invoice, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/invoices/"+invoiceID, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+g.apiToken)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: alby: %v", domain.ErrGatewayError, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", domain.ErrInvoiceNotFound, invoiceID)
	}
	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: alby: status=%d body=%s", domain.ErrGatewayError, resp.StatusCode, string(bodyBytes))
	}

	var raw invoiceResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: alby: decode response: %v", domain.ErrGatewayError, err)
	}
	return toInvoice(raw), nil
}

func toInvoice(raw invoiceResponse) *domain.Invoice {
	return &domain.Invoice{
		InvoiceID:      raw.PaymentHash,
		AmountSats:     raw.Amount,
		PaymentRequest: raw.PaymentRequest,
		Status:         mapStatus(raw),
		CreatedAt:      raw.CreatedAt,
		ExpiresAt:      raw.ExpiresAt,
	}
}

func mapStatus(raw invoiceResponse) domain.InvoiceStatus {
	if raw.Settled {
		return domain.InvoiceConfirmed
	}
	switch strings.ToUpper(raw.State) {
	case "SETTLED":
		return domain.InvoiceConfirmed
	case "", "CREATED", "PENDING":
		return domain.InvoicePending
	case "EXPIRED":
		return domain.InvoiceExpired
	default:
		return domain.InvoiceError
	}
}
