package alby

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fulmine-labs/spark-gateway/internal/domain"
)

func TestCreateInvoice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/invoices" || r.Method != http.MethodPost {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok-1" {
			t.Errorf("Authorization = %q", got)
		}
		var req createInvoiceRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if req.Amount != 1250 {
			t.Errorf("amount = %d", req.Amount)
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(invoiceResponse{
			PaymentHash:    "hash-1",
			PaymentRequest: "lnbc1250n1...",
			Amount:         1250,
		})
	}))
	defer srv.Close()

	g := New("tok-1", srv.URL)
	inv, err := g.CreateInvoice(context.Background(), 1250, "image generation: sunset", "img-1")
	if err != nil {
		t.Fatalf("CreateInvoice() error = %v", err)
	}
	if inv.InvoiceID != "hash-1" {
		t.Errorf("InvoiceID = %q, want payment hash", inv.InvoiceID)
	}
	if inv.Status != domain.InvoicePending {
		t.Errorf("Status = %q, want pending", inv.Status)
	}
}

func TestGetInvoiceStatusMapping(t *testing.T) {
	tests := []struct {
		name string
		raw  invoiceResponse
		want domain.InvoiceStatus
	}{
		{"settled flag", invoiceResponse{Settled: true}, domain.InvoiceConfirmed},
		{"settled state", invoiceResponse{State: "SETTLED"}, domain.InvoiceConfirmed},
		{"created", invoiceResponse{State: "CREATED"}, domain.InvoicePending},
		{"empty state", invoiceResponse{}, domain.InvoicePending},
		{"expired", invoiceResponse{State: "EXPIRED"}, domain.InvoiceExpired},
		{"failed", invoiceResponse{State: "FAILED"}, domain.InvoiceError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				tt.raw.PaymentHash = "hash-2"
				json.NewEncoder(w).Encode(tt.raw)
			}))
			defer srv.Close()

			g := New("t", srv.URL)
			inv, err := g.GetInvoice(context.Background(), "hash-2")
			if err != nil {
				t.Fatalf("GetInvoice() error = %v", err)
			}
			if inv.Status != tt.want {
				t.Errorf("Status = %q, want %q", inv.Status, tt.want)
			}
		})
	}
}

func TestGetInvoiceNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	g := New("t", srv.URL)
	_, err := g.GetInvoice(context.Background(), "missing")
	if !errors.Is(err, domain.ErrInvoiceNotFound) {
		t.Errorf("GetInvoice() error = %v, want ErrInvoiceNotFound", err)
	}
}

func TestCreateInvoiceBackendDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	g := New("t", srv.URL)
	_, err := g.CreateInvoice(context.Background(), 100, "d", "o")
	if !errors.Is(err, domain.ErrGatewayError) {
		t.Errorf("CreateInvoice() error = %v, want ErrGatewayError", err)
	}
}
