package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/roach88/tillsync/internal/checkout"
	"github.com/roach88/tillsync/internal/domain"
)

// CreateSessionRequest is the body of POST /api/v1/sessions.
type CreateSessionRequest struct {
	SessionID    string `json:"sessionId,omitempty"`
	OperatorName string `json:"operatorName,omitempty"`
}

// UpdateCartRequest is the body of PUT /api/v1/sessions/{id}/cart.
type UpdateCartRequest struct {
	Items []domain.CartLineInput `json:"items"`
}

// BeginPaymentRequest is the body of POST /api/v1/sessions/{id}/payment.
type BeginPaymentRequest struct {
	QRPayload   string    `json:"qrPayload"`
	ExpireAt    time.Time `json:"expireAt"`
	GrossAmount int64     `json:"grossAmount"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())

	var req CreateSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	name := req.OperatorName
	if name == "" {
		name = p.Name
	}

	snap, err := s.sessions.Create(r.Context(), checkout.CreateRequest{
		SessionID:    req.SessionID,
		OperatorID:   p.Subject,
		OperatorName: name,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondSnapshot(w, http.StatusCreated, snap)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	snap, err := s.sessions.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondSnapshot(w, http.StatusOK, snap)
}

func (s *Server) handleUpdateCart(w http.ResponseWriter, r *http.Request) {
	version, err := ifMatch(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	var req UpdateCartRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	snap, err := s.sessions.UpdateCart(r.Context(), chi.URLParam(r, "id"), req.Items, checkout.IfVersion(version))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondSnapshot(w, http.StatusOK, snap)
}

func (s *Server) handleBeginPayment(w http.ResponseWriter, r *http.Request) {
	version, err := ifMatch(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	var req BeginPaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	snap, err := s.sessions.BeginPayment(r.Context(), chi.URLParam(r, "id"), checkout.PaymentRequest{
		QRPayload:   req.QRPayload,
		ExpireAt:    req.ExpireAt,
		GrossAmount: req.GrossAmount,
	}, checkout.IfVersion(version))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondSnapshot(w, http.StatusOK, snap)
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	version, err := ifMatch(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	snap, err := s.sessions.Close(r.Context(), chi.URLParam(r, "id"), checkout.IfVersion(version))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondSnapshot(w, http.StatusOK, snap)
}

func respondSnapshot(w http.ResponseWriter, status int, snap domain.Snapshot) {
	setETag(w, snap.Version)
	respondJSON(w, status, snap)
}
