// Package api serves the generation gateway over HTTP.
package api

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"

	"aigateway/internal/auth"
	"aigateway/internal/gateway"
	"aigateway/internal/logging"
)

// Generator runs guarded generations.
type Generator interface {
	Generate(ctx context.Context, req gateway.GenerateRequest) (gateway.GenerateResult, error)
}

// Admitter charges a rate-limit hit for a caller. The handler uses it to
// limit requests that fail authentication by network address.
type Admitter interface {
	Admit(userID, remoteAddr string) error
}

// Config wires dependencies for the HTTP handler.
type Config struct {
	Generator     Generator
	Authenticator auth.Authenticator
	Logger        *zerolog.Logger
}

// NewHandler builds an HTTP handler for the gateway API.
func NewHandler(cfg Config) http.Handler {
	h := &handler{
		generator: cfg.Generator,
		auth:      cfg.Authenticator,
		logger:    logging.OrNop(cfg.Logger),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/generate", h.handleGenerate)
	mux.HandleFunc("/healthz", h.handleHealth)
	return mux
}

type handler struct {
	generator Generator
	auth      auth.Authenticator
	logger    zerolog.Logger
}

func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	enabled := h.generator != nil
	if e, ok := h.generator.(interface{ Enabled() bool }); ok {
		enabled = e.Enabled()
	}
	writeHealthResponse(w, http.StatusOK, healthResponse{Status: "ok", UpstreamEnabled: enabled})
}
