package rest_test

import (
	"bytes"
	"crypto/ed25519"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/instanttrade/itnd/internal/config"
	"github.com/instanttrade/itnd/internal/di"
)

// newTestAPI stands up the full object graph on in-memory storage and
// returns the demo buyer keys alongside the mounted handler.
func newTestAPI(t *testing.T) (http.Handler, map[string]ed25519.PrivateKey) {
	t.Helper()
	t.Setenv("ITND_LEDGER_SECRET", "test-ledger-secret")

	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Storage.Backend = "memory"
	cfg.Storage.ArchiveDriver = ""
	cfg.Storage.ArchiveDSN = ""
	cfg.Auction.BidWindow = 100 * time.Millisecond
	require.NoError(t, config.Validate(cfg))

	p := di.NewProvider(di.New(), cfg, zap.NewNop())
	p.RegisterAll()
	t.Cleanup(func() { _ = p.Close() })

	keys, err := p.SeedDemo()
	require.NoError(t, err)
	return p.REST().Handler(), keys
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		buf = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	out := map[string]any{}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec, out
}

// createInvoice posts an invoice worth qty*250. Distinct quantities
// keep the dedupe hash unique across invoices in one test.
func createInvoice(t *testing.T, h http.Handler, id string, qty int) map[string]any {
	t.Helper()
	rec, body := doJSON(t, h, http.MethodPost, "/api/v1/invoices", map[string]any{
		"id":          id,
		"supplier_id": "SUP-001",
		"buyer_id":    "BUY-001",
		"terms":       30,
		"line_items": []map[string]any{
			{"description": "Industrial fasteners", "quantity": qty, "unit_price": 250},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return body
}

func acceptInvoice(t *testing.T, h http.Handler, id string, keys map[string]ed25519.PrivateKey) {
	t.Helper()
	rec, getBody := doJSON(t, h, http.MethodGet, "/api/v1/invoices/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	hash := getBody["content_hash"].(string)

	sig := ed25519.Sign(keys["BUY-001"], []byte(hash))
	rec, _ = doJSON(t, h, http.MethodPost, "/api/v1/invoices/"+id+"/accept", map[string]any{
		"buyer_id":  "BUY-001",
		"signature": sig,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestBannerAndHealth(t *testing.T) {
	h, _ := newTestAPI(t)

	rec, body := doJSON(t, h, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "NORMAL", body["mode"])
	assert.Equal(t, "2.1.0", body["version"])

	rec, body = doJSON(t, h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), body["health_score"])
	assert.Equal(t, true, body["decision_chain_verified"])
	assert.Equal(t, float64(3), body["rails_up"])
}

func TestCreateInvoiceValidation(t *testing.T) {
	h, _ := newTestAPI(t)

	cases := []struct {
		name string
		body map[string]any
	}{
		{"bad supplier id", map[string]any{
			"supplier_id": "supplier-1", "buyer_id": "BUY-001", "terms": 30,
			"line_items": []map[string]any{{"description": "x", "quantity": 1, "unit_price": 100}},
		}},
		{"bad terms", map[string]any{
			"supplier_id": "SUP-001", "buyer_id": "BUY-001", "terms": 20,
			"line_items": []map[string]any{{"description": "x", "quantity": 1, "unit_price": 100}},
		}},
		{"no line items", map[string]any{
			"supplier_id": "SUP-001", "buyer_id": "BUY-001", "terms": 30,
		}},
		{"zero quantity", map[string]any{
			"supplier_id": "SUP-001", "buyer_id": "BUY-001", "terms": 30,
			"line_items": []map[string]any{{"description": "x", "quantity": 0, "unit_price": 100}},
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec, body := doJSON(t, h, http.MethodPost, "/api/v1/invoices", tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "bad_request", body["error"])
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/invoices", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateAndGetInvoice(t *testing.T) {
	h, _ := newTestAPI(t)

	body := createInvoice(t, h, "INV-1", 200)
	inv := body["invoice"].(map[string]any)
	assert.Equal(t, "INV-1", inv["id"])
	assert.Equal(t, "PENDING", inv["status"])
	fraudInfo := body["fraud"].(map[string]any)
	assert.Equal(t, "APPROVE", fraudInfo["action"])

	rec, got := doJSON(t, h, http.MethodGet, "/api/v1/invoices/INV-1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "INV-1", got["id"])

	rec, got = doJSON(t, h, http.MethodGet, "/api/v1/invoices/INV-404", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", got["error"])
}

func TestCreateInvoiceInvariantViolation(t *testing.T) {
	h, _ := newTestAPI(t)

	// BUY-002 is suspended in the demo network.
	rec, body := doJSON(t, h, http.MethodPost, "/api/v1/invoices", map[string]any{
		"supplier_id": "SUP-001",
		"buyer_id":    "BUY-002",
		"terms":       30,
		"line_items":  []map[string]any{{"description": "x", "quantity": 1, "unit_price": 100}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invariant_violation", body["error"])
	assert.Equal(t, "003", body["invariant_id"])
}

func TestListInvoicesFilter(t *testing.T) {
	h, _ := newTestAPI(t)
	createInvoice(t, h, "INV-1", 200)
	createInvoice(t, h, "INV-2", 201)

	rec, body := doJSON(t, h, http.MethodGet, "/api/v1/invoices?supplier_id=SUP-001&status=PENDING", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), body["count"])

	rec, body = doJSON(t, h, http.MethodGet, "/api/v1/invoices?supplier_id=SUP-002", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(0), body["count"])
}

func TestAcceptInvoice(t *testing.T) {
	h, keys := newTestAPI(t)
	createInvoice(t, h, "INV-1", 200)

	rec, getBody := doJSON(t, h, http.MethodGet, "/api/v1/invoices/INV-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	hash := getBody["content_hash"].(string)

	// The wrong buyer is turned away before any state changes.
	rec, body := doJSON(t, h, http.MethodPost, "/api/v1/invoices/INV-1/accept", map[string]any{
		"buyer_id":  "BUY-003",
		"signature": ed25519.Sign(keys["BUY-003"], []byte(hash)),
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invariant_violation", body["error"])
	assert.Equal(t, "104", body["invariant_id"])

	rec, quote := doJSON(t, h, http.MethodPost, "/api/v1/invoices/INV-1/accept", map[string]any{
		"buyer_id":  "BUY-001",
		"signature": ed25519.Sign(keys["BUY-001"], []byte(hash)),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "INV-1", quote["invoice_id"])
	// 50000 at 30-day terms: 0.05 * 30/365 prorated.
	assert.Equal(t, "50205.48", quote["total_cost"])
}

func TestExecuteSettlement(t *testing.T) {
	h, keys := newTestAPI(t)
	createInvoice(t, h, "INV-1", 200)
	acceptInvoice(t, h, "INV-1", keys)

	rec, body := doJSON(t, h, http.MethodPost, "/api/v1/settlements?invoice_id=INV-1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	st := body["settlement"].(map[string]any)
	assert.Equal(t, "COMPLETED", st["status"])
	assert.Equal(t, "INV-1", st["invoice_id"])
	assert.NotEmpty(t, st["rail_name"])
	assert.Contains(t, body, "winning_bid")

	rec, got := doJSON(t, h, http.MethodGet, "/api/v1/invoices/INV-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "SETTLED", got["status"])
}

func TestExecuteSettlementErrors(t *testing.T) {
	h, _ := newTestAPI(t)

	rec, body := doJSON(t, h, http.MethodPost, "/api/v1/settlements", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "bad_request", body["error"])

	rec, body = doJSON(t, h, http.MethodPost, "/api/v1/settlements?invoice_id=INV-404", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", body["error"])

	// Callers cannot pick the funding provider; the auction does.
	rec, body = doJSON(t, h, http.MethodPost, "/api/v1/settlements?invoice_id=INV-404&capital_provider_id=CAP-001", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "bad_request", body["error"])
	assert.Contains(t, body["message"], "capital_provider_id")

	// A pending invoice cannot settle.
	createInvoice(t, h, "INV-1", 200)
	rec, body = doJSON(t, h, http.MethodPost, "/api/v1/settlements?invoice_id=INV-1", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "conflict", body["error"])
}

func TestMetricsEndpoint(t *testing.T) {
	h, _ := newTestAPI(t)
	createInvoice(t, h, "INV-1", 200)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "itn_invoices_created_total 1")
}

func TestCORSPreflight(t *testing.T) {
	h, _ := newTestAPI(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/invoices", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
