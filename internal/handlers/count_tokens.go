package handlers

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/ethanwills/claude-gateway/internal/tokencount"
)

// CountTokensHandler serves POST /v1/messages/count_tokens: a coarse,
// deliberately imprecise token estimate computed without calling any
// upstream provider.
type CountTokensHandler struct {
	logger *slog.Logger
}

func NewCountTokensHandler(logger *slog.Logger) *CountTokensHandler {
	return &CountTokensHandler{logger: logger}
}

type countTokensResponse struct {
	InputTokens int `json:"input_tokens"`
}

func (h *CountTokensHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "failed to read request body: %v", err)
		return
	}

	var req tokencount.Request
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, h.logger, http.StatusInternalServerError, "failed to parse request body: %v", err)
		return
	}

	resp := countTokensResponse{InputTokens: tokencount.Estimate(req)}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
