package handlers

import (
	"encoding/json"
	"net/http"
)

const bannerVersion = "0.3.0"

type bannerResponse struct {
	Message string                    `json:"message"`
	Version string                    `json:"version"`
	Endpoints map[string]string       `json:"endpoints"`
}

// BannerHandler serves the root "/" informational banner.
type BannerHandler struct{}

func NewBannerHandler() *BannerHandler {
	return &BannerHandler{}
}

func (h *BannerHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := bannerResponse{
		Message: "Claude Code Open Gateway",
		Version: bannerVersion,
		Endpoints: map[string]string{
			"messages":     "/v1/messages",
			"count_tokens": "/v1/messages/count_tokens",
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
