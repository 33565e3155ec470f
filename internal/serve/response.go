// Package serve provides the HTTP API layer for nacre serve: response
// envelopes, DTOs with explicit JSON serialization, and the read
// handlers over the watcher's published artifacts.
package serve

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/marcus/nacre/internal/models"
)

// Envelope is the standard response wrapper for all API responses.
// Success: {"ok": true, "data": {...}}
// Error:   {"ok": false, "error": {"code": "...", "message": "...", "details": ...}}
type Envelope struct {
	OK    bool          `json:"ok"`
	Data  interface{}   `json:"data,omitempty"`
	Error *ErrorPayload `json:"error,omitempty"`
}

// ErrorPayload holds structured error information.
type ErrorPayload struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// FieldError describes a single validation failure on a request parameter.
type FieldError struct {
	Field    string      `json:"field"`
	Rule     string      `json:"rule"`
	Value    interface{} `json:"value,omitempty"`
	Expected interface{} `json:"expected,omitempty"`
	Message  string      `json:"message"`
}

// Standard error codes mapped to HTTP status codes.
const (
	ErrValidation   = "validation_error"   // 400
	ErrNotFound     = "not_found"          // 404
	ErrUnauthorized = "unauthorized"       // 401
	ErrUnavailable  = "source_unavailable" // 503
	ErrInternal     = "internal"           // 500
)

// WriteSuccess writes a JSON success envelope with the given data and status.
func WriteSuccess(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(Envelope{OK: true, Data: data}); err != nil {
		slog.Error("write success response", "err", err)
	}
}

// WriteError writes a JSON error envelope.
func WriteError(w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(Envelope{
		OK: false,
		Error: &ErrorPayload{
			Code:    code,
			Message: message,
		},
	}); err != nil {
		slog.Error("write error response", "err", err)
	}
}

// WriteValidation writes a 400 validation_error response with field-level details.
func WriteValidation(w http.ResponseWriter, fields []FieldError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	if err := json.NewEncoder(w).Encode(Envelope{
		OK: false,
		Error: &ErrorPayload{
			Code:    ErrValidation,
			Message: "Validation failed",
			Details: fields,
		},
	}); err != nil {
		slog.Error("write validation response", "err", err)
	}
}

// IssueDTO is the API representation of an issue. Documented fields are
// always present; nullable fields use pointers so they serialize as JSON
// null, and collections serialize as [] when empty, never null.
type IssueDTO struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Type      string   `json:"type"`
	Status    string   `json:"status"`
	Priority  int      `json:"priority"`
	ParentID  *string  `json:"parent_id"`
	Assignee  string   `json:"assignee"`
	Labels    []string `json:"labels"`
	Estimate  int      `json:"estimate"`
	CreatedAt string   `json:"created_at"`
	UpdatedAt string   `json:"updated_at"`
	ClosedAt  *string  `json:"closed_at"`
}

// IssueToDTO converts a models.Issue to its API representation.
func IssueToDTO(issue models.Issue) IssueDTO {
	dto := IssueDTO{
		ID:        issue.ID,
		Title:     issue.Title,
		Type:      string(issue.Type),
		Status:    string(issue.Status),
		Priority:  issue.Priority,
		Assignee:  issue.Assignee,
		Labels:    issue.Labels,
		Estimate:  issue.Estimate,
		CreatedAt: issue.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt: issue.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if dto.Labels == nil {
		dto.Labels = []string{}
	}
	if parent := issue.Parent(); parent != "" {
		dto.ParentID = &parent
	}
	if issue.ClosedAt != nil {
		t := issue.ClosedAt.UTC().Format(time.RFC3339)
		dto.ClosedAt = &t
	}
	return dto
}

// IssuesToDTOs converts a slice of issues, returning [] rather than null
// for the empty case.
func IssuesToDTOs(issues []models.Issue) []IssueDTO {
	out := make([]IssueDTO, 0, len(issues))
	for _, is := range issues {
		out = append(out, IssueToDTO(is))
	}
	return out
}
