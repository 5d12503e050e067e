// Package api serves the session ledger over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"aigateway/internal/ledger"
	"aigateway/internal/logging"
)

// EventSource is implemented by ledgers that keep an event history.
type EventSource interface {
	Events(userID string) []ledger.Event
}

// Config wires dependencies for the HTTP handler.
type Config struct {
	Ledger ledger.Client
	Logger *zerolog.Logger
}

// NewHandler builds an HTTP handler for the ledger API.
func NewHandler(cfg Config) http.Handler {
	h := &handler{
		ledger: cfg.Ledger,
		logger: logging.OrNop(cfg.Logger),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/ledger/consume", h.handleConsume)
	mux.HandleFunc("/v1/ledger/refund", h.handleRefund)
	mux.HandleFunc("/v1/ledger/grant", h.handleGrant)
	mux.HandleFunc("/v1/ledger/balance", h.handleBalance)
	mux.HandleFunc("/healthz", handleHealth)
	return mux
}

type handler struct {
	ledger ledger.Client
	logger zerolog.Logger
}

type grantResponse struct {
	Remaining int64 `json:"remaining"`
}

type balanceResponse struct {
	UserID    string         `json:"user_id"`
	Plan      string         `json:"plan_type"`
	Remaining int64          `json:"remaining"`
	Events    []ledger.Event `json:"events,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *handler) handleConsume(w http.ResponseWriter, r *http.Request) {
	var charge ledger.Charge
	if !h.decodePost(w, r, &charge) {
		return
	}
	res, err := h.ledger.Consume(r.Context(), charge)
	if err != nil {
		h.writeLedgerError(w, "consume", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) handleRefund(w http.ResponseWriter, r *http.Request) {
	var charge ledger.Charge
	if !h.decodePost(w, r, &charge) {
		return
	}
	res, err := h.ledger.Refund(r.Context(), charge)
	if err != nil {
		h.writeLedgerError(w, "refund", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) handleGrant(w http.ResponseWriter, r *http.Request) {
	var grant ledger.Grant
	if !h.decodePost(w, r, &grant) {
		return
	}
	remaining, err := h.ledger.Grant(r.Context(), grant)
	if err != nil {
		h.writeLedgerError(w, "grant", err)
		return
	}
	writeJSON(w, http.StatusOK, grantResponse{Remaining: remaining})
}

func (h *handler) handleBalance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h.ledger == nil {
		writeError(w, http.StatusInternalServerError, "backend_error")
		return
	}
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	plan := strings.TrimSpace(r.URL.Query().Get("plan_type"))
	if userID == "" || plan == "" {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	remaining, err := h.ledger.Balance(r.Context(), userID, plan)
	if err != nil {
		h.writeLedgerError(w, "balance", err)
		return
	}
	resp := balanceResponse{UserID: userID, Plan: plan, Remaining: remaining}
	if source, ok := h.ledger.(EventSource); ok {
		for _, event := range source.Events(userID) {
			if event.Plan == plan {
				resp.Events = append(resp.Events, event)
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decodePost checks the method and decodes a strict JSON body into dst.
func (h *handler) decodePost(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	if h.ledger == nil {
		writeError(w, http.StatusInternalServerError, "backend_error")
		return false
	}
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return false
	}
	return true
}

func (h *handler) writeLedgerError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ledger.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, "invalid_request")
	case errors.Is(err, ledger.ErrInsufficientBalance):
		writeError(w, http.StatusConflict, "insufficient_balance")
	default:
		h.logger.Error().Err(err).Str("op", op).Msg("ledger call failed")
		writeError(w, http.StatusInternalServerError, "backend_error")
	}
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, errorResponse{Error: code})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(mustJSON(payload))
}

func mustJSON(payload any) []byte {
	data, _ := json.Marshal(payload)
	return data
}
