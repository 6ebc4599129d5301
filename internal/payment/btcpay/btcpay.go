// Package btcpay implements the payment gateway against a BTCPay Server
// store using the Greenfield API.
package btcpay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fulmine-labs/spark-gateway/internal/domain"
	"github.com/fulmine-labs/spark-gateway/internal/httputil"
)

type Gateway struct {
	serverURL string
	apiKey    string
	storeID   string
	client    *http.Client
}

func New(serverURL, apiKey, storeID string) *Gateway {
	return &Gateway{
		serverURL: strings.TrimSuffix(serverURL, "/"),
		apiKey:    apiKey,
		storeID:   storeID,
		client:    httputil.NewClient(httputil.GatewayConfig()),
	}
}

// WithHTTPClient overrides the HTTP client, mainly for tests.
func (g *Gateway) WithHTTPClient(c *http.Client) *Gateway {
	g.client = c
	return g
}

func (g *Gateway) ID() string {
	return "btcpay"
}

type createInvoiceRequest struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
	OrderID  string `json:"orderId,omitempty"`
	ItemDesc string `json:"itemDesc,omitempty"`
}

type invoiceResponse struct {
	ID             string `json:"id"`
	Status         string `json:"status"`
	Amount         string `json:"amount"`
	PaymentRequest string `json:"paymentRequest"`
	Bolt11         string `json:"bolt11"`
	CreatedTime    int64  `json:"createdTime"`
	ExpirationTime int64  `json:"expirationTime"`
}

func (g *Gateway) CreateInvoice(ctx context.Context, amountSats int64, description, orderID string) (*domain.Invoice, error) {
	body, err := json.Marshal(createInvoiceRequest{
		Amount:   strconv.FormatInt(amountSats, 10),
		Currency: "SATS",
		OrderID:  orderID,
		ItemDesc: description,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal invoice: %w", err)
	}

	url := fmt.Sprintf("%s/api/v1/stores/%s/invoices", g.serverURL, g.storeID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "token "+g.apiKey)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: btcpay: %v", domain.ErrGatewayError, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: btcpay: status=%d body=%s", domain.ErrGatewayError, resp.StatusCode, string(bodyBytes))
	}

	var raw invoiceResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: btcpay: decode response: %v", domain.ErrGatewayError, err)
	}

	inv := toInvoice(raw)
	inv.AmountSats = amountSats
	return inv, nil
}

func (g *Gateway) GetInvoice(ctx context.Context, invoiceID string) (*domain.Invoice, error) {
	url := fmt.Sprintf("%s/api/v1/stores/%s/invoices/%s", g.serverURL, g.storeID, invoiceID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "token "+g.apiKey)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: btcpay: %v", domain.ErrGatewayError, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", domain.ErrInvoiceNotFound, invoiceID)
	}
	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: btcpay: status=%d body=%s", domain.ErrGatewayError, resp.StatusCode, string(bodyBytes))
	}

	var raw invoiceResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: btcpay: decode response: %v", domain.ErrGatewayError, err)
	}
	return toInvoice(raw), nil
}

func toInvoice(raw invoiceResponse) *domain.Invoice {
	inv := &domain.Invoice{
		InvoiceID:      raw.ID,
		Status:         mapStatus(raw.Status),
		PaymentRequest: raw.PaymentRequest,
	}
	if inv.PaymentRequest == "" {
		inv.PaymentRequest = raw.Bolt11
	}
	if sats, err := strconv.ParseFloat(raw.Amount, 64); err == nil {
		inv.AmountSats = int64(sats)
	}
	if raw.CreatedTime > 0 {
		inv.CreatedAt = time.Unix(raw.CreatedTime, 0).UTC()
	}
	if raw.ExpirationTime > 0 {
		inv.ExpiresAt = time.Unix(raw.ExpirationTime, 0).UTC()
	}
	return inv
}

// mapStatus folds BTCPay invoice states into the gateway's status enum.
// Settled, Complete, Confirmed and Paid all mean the payment went
// through.
func mapStatus(s string) domain.InvoiceStatus {
	switch strings.ToLower(s) {
	case "settled", "complete", "confirmed", "paid":
		return domain.InvoiceConfirmed
	case "new", "processing", "pending":
		return domain.InvoicePending
	case "expired":
		return domain.InvoiceExpired
	default:
		return domain.InvoiceError
	}
}
