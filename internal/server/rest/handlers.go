package rest

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/instanttrade/itnd/internal/core/enforce"
	"github.com/instanttrade/itnd/internal/core/invoice"
	"github.com/instanttrade/itnd/internal/core/orchestrator"
)

var (
	supplierIDPattern = regexp.MustCompile(`^SUP-\d{3}$`)
	buyerIDPattern    = regexp.MustCompile(`^BUY-\d{3}$`)
)

func (s *Server) handleBanner(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service": "instant trade network",
		"version": s.version,
		"mode":    s.mode.Mode().String(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	rep := s.orch.Health()
	writeJSON(w, http.StatusOK, struct {
		Version string `json:"version"`
		orchestrator.HealthReport
	}{Version: s.version, HealthReport: rep})
}

type lineItemDTO struct {
	Description string          `json:"description"`
	Quantity    int64           `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

type createInvoiceDTO struct {
	ID              string          `json:"id,omitempty"`
	SupplierID      string          `json:"supplier_id"`
	BuyerID         string          `json:"buyer_id"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency,omitempty"`
	Terms           int             `json:"terms"`
	LineItems       []lineItemDTO   `json:"line_items"`
	PurchaseOrderID string          `json:"purchase_order_id,omitempty"`
	Notes           string          `json:"notes,omitempty"`
}

func (d *createInvoiceDTO) validate() string {
	if !supplierIDPattern.MatchString(d.SupplierID) {
		return "supplier_id must match SUP-NNN"
	}
	if !buyerIDPattern.MatchString(d.BuyerID) {
		return "buyer_id must match BUY-NNN"
	}
	if !invoice.ValidTerms[d.Terms] {
		return "terms must be one of 0, 15, 30, 45, 60, 90"
	}
	if len(d.LineItems) == 0 {
		return "at least one line item is required"
	}
	for _, li := range d.LineItems {
		if li.Quantity <= 0 {
			return "line item quantity must be positive"
		}
		if li.UnitPrice.IsNegative() {
			return "line item unit_price must not be negative"
		}
	}
	return ""
}

func (s *Server) handleCreateInvoice(w http.ResponseWriter, r *http.Request) {
	var dto createInvoiceDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON: "+err.Error())
		return
	}
	if msg := dto.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, "bad_request", msg)
		return
	}

	items := make([]invoice.LineItem, len(dto.LineItems))
	for i, li := range dto.LineItems {
		items[i] = invoice.LineItem{Description: li.Description, Quantity: li.Quantity, UnitPrice: li.UnitPrice}
	}
	amount := dto.Amount
	if amount.IsZero() {
		amount = invoice.SumLineItems(items)
	}

	inv, score, err := s.orch.CreateInvoice(r.Context(), orchestrator.CreateRequest{
		ID:              dto.ID,
		SupplierID:      dto.SupplierID,
		BuyerID:         dto.BuyerID,
		Amount:          amount,
		Currency:        dto.Currency,
		Terms:           dto.Terms,
		LineItems:       items,
		PurchaseOrderID: dto.PurchaseOrderID,
		Notes:           dto.Notes,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	resp := map[string]any{"invoice": inv}
	if score != nil {
		resp["fraud"] = map[string]any{
			"score":  score.Score,
			"action": string(score.Action),
		}
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleGetInvoice(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	inv, ok := s.orch.Invoice(id)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "invoice "+id+" not found")
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

func (s *Server) handleListInvoices(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	invoices := s.orch.ListInvoices(invoice.Filter{
		SupplierID: q.Get("supplier_id"),
		BuyerID:    q.Get("buyer_id"),
		Status:     invoice.Status(q.Get("status")),
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"invoices": invoices,
		"count":    len(invoices),
	})
}

type acceptInvoiceDTO struct {
	BuyerID   string `json:"buyer_id"`
	Signature []byte `json:"signature,omitempty"`
}

func (s *Server) handleAcceptInvoice(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var dto acceptInvoiceDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON: "+err.Error())
		return
	}
	if !buyerIDPattern.MatchString(dto.BuyerID) {
		writeError(w, http.StatusBadRequest, "bad_request", "buyer_id must match BUY-NNN")
		return
	}

	quote, err := s.orch.AcceptInvoice(r.Context(), orchestrator.AcceptRequest{
		InvoiceID: id,
		BuyerID:   dto.BuyerID,
		Signature: dto.Signature,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

func (s *Server) handleExecuteSettlement(w http.ResponseWriter, r *http.Request) {
	invoiceID := r.URL.Query().Get("invoice_id")
	if invoiceID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "invoice_id query parameter is required")
		return
	}
	// The capital auction picks the provider; callers cannot choose one.
	if r.URL.Query().Has("capital_provider_id") {
		writeError(w, http.StatusBadRequest, "bad_request",
			"capital_provider_id is not accepted: the capital auction selects the provider")
		return
	}

	res, err := s.orch.ExecuteSettlement(r.Context(), invoiceID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	resp := map[string]any{
		"settlement":       res.Settlement,
		"duration_seconds": res.Settlement.Duration().Seconds(),
	}
	if res.Auction != nil && res.Auction.Winner != nil {
		resp["winning_bid"] = res.Auction.Winner
	}
	writeJSON(w, http.StatusOK, resp)
}

// writeDomainError maps core errors onto the HTTP surface: invariant
// violations are 4xx with a machine-readable id, a compromised system
// is a 5xx.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	var viol *enforce.ViolationError
	var comp *enforce.CompromisedError
	var settleErr *enforce.SettlementError

	switch {
	case errors.As(err, &comp):
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":        "system_compromised",
			"invariant_id": string(comp.InvariantID),
			"message":      comp.Error(),
		})
	case errors.Is(err, enforce.ErrCircuitBreakerOpen):
		writeError(w, http.StatusServiceUnavailable, "circuit_breaker_open", err.Error())
	case errors.As(err, &viol):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":        "invariant_violation",
			"invariant_id": string(viol.InvariantID),
			"phase":        string(viol.Phase),
			"message":      viol.Error(),
		})
	case errors.As(err, &settleErr):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":      "settlement_failed",
			"invoice_id": settleErr.InvoiceID,
			"reason":     settleErr.Reason,
			"message":    settleErr.Error(),
		})
	case errors.Is(err, enforce.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, enforce.ErrUnauthorized):
		writeError(w, http.StatusForbidden, "unauthorized", err.Error())
	case errors.Is(err, enforce.ErrConflict):
		writeError(w, http.StatusConflict, "conflict", err.Error())
	default:
		s.log.Error("unhandled api error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": code, "message": message})
}
