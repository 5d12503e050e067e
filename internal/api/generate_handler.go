package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"aigateway/internal/auth"
	"aigateway/internal/failure"
	"aigateway/internal/gateway"
	"aigateway/internal/upstream"
)

func (h *handler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h.generator == nil || h.auth == nil {
		writeError(w, http.StatusInternalServerError, string(failure.KindConfiguration))
		return
	}
	userID, err := h.auth.Authenticate(r)
	if err != nil {
		if admitter, ok := h.generator.(Admitter); ok {
			if limitErr := admitter.Admit("", r.RemoteAddr); limitErr != nil {
				h.writeFailure(w, limitErr)
				return
			}
		}
		if errors.Is(err, auth.ErrMissingToken) {
			w.Header().Set("WWW-Authenticate", "Bearer")
		}
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req generateRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if err := validateGenerate(req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, errorResponse{Error: "invalid_request", Message: err.Error()})
		return
	}

	res, err := h.generator.Generate(r.Context(), gateway.GenerateRequest{
		UserID:         userID,
		RemoteAddr:     r.RemoteAddr,
		Tier:           req.Tier,
		CaseID:         req.CaseID,
		RoundID:        req.RoundID,
		Reason:         req.Reason,
		Messages:       req.Messages,
		Temperature:    req.Temperature,
		MaxTokens:      req.MaxTokens,
		RollingSummary: req.RollingSummary,
		Budget:         req.Budget,
	})
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	writeGenerateResponse(w, http.StatusOK, generateResponse{
		Content:           res.Content,
		Model:             res.Model,
		Tier:              res.Tier,
		RequestID:         res.RequestID,
		OperationID:       res.OperationID,
		Attempts:          res.Attempts,
		RePruned:          res.RePruned,
		RemainingSessions: res.Remaining,
		Prune: pruneStats{
			TokensBefore:     res.Prune.EstimatedTokensBefore,
			TokensAfter:      res.Prune.EstimatedTokensAfter,
			MessagesBefore:   res.Prune.MessageCountBefore,
			MessagesAfter:    res.Prune.MessageCountAfter,
			SummaryTruncated: res.Prune.SummaryTruncated,
		},
	})
}

// writeFailure maps a typed failure onto a status code and Retry-After hint.
func (h *handler) writeFailure(w http.ResponseWriter, err error) {
	status := failure.StatusOf(err)
	kind := failure.KindOf(err)
	if kind == failure.KindInternal {
		h.logger.Error().Err(err).Msg("unclassified generation error")
	}
	if wait := failure.RetryAfterOf(err); wait > 0 {
		w.Header().Set("Retry-After", upstream.FormatRetryAfter(wait))
	}
	resp := errorResponse{Error: string(kind)}
	if status < http.StatusInternalServerError || kind == failure.KindCircuitOpen {
		resp.Message = err.Error()
	}
	var insufficient *failure.InsufficientSessionsError
	if errors.As(err, &insufficient) {
		remaining := insufficient.Remaining
		resp.RemainingSessions = &remaining
	}
	writeErrorResponse(w, status, resp)
}
