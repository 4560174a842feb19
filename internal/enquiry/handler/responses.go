package handler

import (
	"encoding/json"
	"net/http"
	"time"
)

type submitResponse struct {
	SupportReferenceNumber string `json:"support_reference_number"`
}

type magicLinkResponse struct {
	Type      string    `json:"type"`
	ExpiresAt time.Time `json:"expires_at"`
}

type errorResponse struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, description string) {
	writeJSON(w, status, errorResponse{Error: code, Description: description})
}
