package payment

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi"

	errors "github.com/billoapp/tabz-payments/internal"
	"github.com/billoapp/tabz-payments/internal/transport"
)

type Handler struct {
	*transport.BaseHandler
	PaymentService ServiceAPI
	Logger         *slog.Logger
}

func NewHandler(baseHandler *transport.BaseHandler, paymentService ServiceAPI, logger *slog.Logger) *Handler {
	return &Handler{
		BaseHandler:    baseHandler,
		PaymentService: paymentService,
		Logger:         logger,
	}
}

// Initiate handles POST /payments/initiate
func (h *Handler) Initiate(w http.ResponseWriter, r *http.Request) {
	var req InitiateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Logger.Error("Initiate: failed to parse request body", "error", err)
		h.HandleError(w, errors.NewValidationError("invalid request body", errors.ErrCodeValidationFailed))
		return
	}

	resp, err := h.PaymentService.Initiate(r.Context(), &req, sourceIP(r))
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, resp)
}

// Status handles GET /payments/status/{transactionId}
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	transactionID := chi.URLParam(r, "transactionId")
	if transactionID == "" {
		h.HandleError(w, errors.NewValidationError("transaction id is required", errors.ErrCodeValidationFailed))
		return
	}

	view, err := h.PaymentService.Status(r.Context(), transactionID)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, view)
}

// Retry handles POST /payments/retry/{transactionId}
func (h *Handler) Retry(w http.ResponseWriter, r *http.Request) {
	transactionID := chi.URLParam(r, "transactionId")
	if transactionID == "" {
		h.HandleError(w, errors.NewValidationError("transaction id is required", errors.ErrCodeValidationFailed))
		return
	}

	resp, err := h.PaymentService.Retry(r.Context(), transactionID, sourceIP(r))
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, resp)
}

// sourceIP prefers the forwarded client address when the service sits behind
// a proxy, falling back to the socket peer.
func sourceIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
