package httpapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/roach88/tillsync/internal/domain"
	"github.com/roach88/tillsync/internal/fulfillment"
	"github.com/roach88/tillsync/internal/projection"
)

// SubmitOrderRequest is the body of POST /api/v1/orders.
type SubmitOrderRequest struct {
	OrderID string             `json:"orderId,omitempty"`
	Lines   []domain.OrderLine `json:"lines"`
}

// RestockRequest is the body of POST /api/v1/items/{id}/restock.
type RestockRequest struct {
	Quantity int64 `json:"quantity"`
}

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())

	var req SubmitOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	order, err := s.orders.Submit(r.Context(), fulfillment.SubmitRequest{
		OrderID: req.OrderID,
		BuyerID: p.Subject,
		Lines:   req.Lines,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, order)
}

// handleGetOrder lets buyers read only their own orders.
func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	id := chi.URLParam(r, "id")

	order, err := s.orders.Order(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if p.Role != RoleCashier && p.Role != RoleAdmin && order.BuyerID != p.Subject {
		respondError(w, r, domain.NotFound("order", id))
		return
	}
	respondJSON(w, http.StatusOK, order)
}

func (s *Server) handleApproveOrder(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())

	order, err := s.orders.Approve(r.Context(), chi.URLParam(r, "id"), p.Subject)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, order)
}

func (s *Server) handleRejectOrder(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())

	order, err := s.orders.Reject(r.Context(), chi.URLParam(r, "id"), p.Subject)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, order)
}

func (s *Server) handleRestock(w http.ResponseWriter, r *http.Request) {
	itemID, err := itemParam(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	var req RestockRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	change, err := s.orders.Restock(r.Context(), itemID, req.Quantity)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, projection.ViewOf(change))
}

func itemParam(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.InvalidArgument("item id must be a positive integer, got %q", raw)
	}
	return id, nil
}
