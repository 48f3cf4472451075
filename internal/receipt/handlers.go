package receipt

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/autobank/receipt-backend/internal/attachment"
)

// maxRequestBody bounds a receipt submission. Attachments are checked again
// after decoding and resizing.
const maxRequestBody = 64 << 20

type errorResponse struct {
	Error string `json:"error"`
	Code  Code   `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// writeError maps err onto its code and status. Server-side failures are
// logged and their details withheld from the client.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := CodeOf(err)
	message := err.Error()
	if code.ClientFixable() {
		slog.Info("Request rejected", "method", r.Method, "path", r.URL.Path, "code", code, "error", err)
	} else {
		slog.Error("Request failed", "method", r.Method, "path", r.URL.Path, "code", code, "error", err)
		if code == CodeInternal {
			message = "internal server error"
		}
	}
	writeJSON(w, code.Status(), errorResponse{Error: message, Code: code})
}

func identity(r *http.Request) *Identity {
	id, _ := IdentityFromContext(r.Context())
	return id
}

// handleHealth reports liveness
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleCurrentUser records and returns the authenticated member
func (s *Server) handleCurrentUser(w http.ResponseWriter, r *http.Request) {
	user, err := s.service.CurrentUser(identity(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// handleListCommittees returns all committees
func (s *Server) handleListCommittees(w http.ResponseWriter, r *http.Request) {
	committees, err := s.service.ListCommittees()
	if err != nil {
		writeError(w, r, err)
		return
	}

	// Ensure we always return an array, not nil
	if committees == nil {
		committees = []*Committee{}
	}
	writeJSON(w, http.StatusOK, committees)
}

// handleCreateReceipt handles a receipt submission
func (s *Server) handleCreateReceipt(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)

	var req CreateReceiptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, fmt.Errorf("%w: request body exceeds %d bytes", attachment.ErrFileTooLarge, tooLarge.Limit))
			return
		}
		writeError(w, r, fmt.Errorf("%w: invalid request body: %v", ErrInvalidReceipt, err))
		return
	}

	result, err := s.service.CreateReceipt(r.Context(), identity(r), &req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// parseListQuery reads paging, filter and sort parameters from the URL
func parseListQuery(r *http.Request) (ListQuery, error) {
	params := r.URL.Query()
	q := ListQuery{
		Size:      DefaultPageSize,
		Status:    params.Get("status"),
		Committee: params.Get("committee"),
		Search:    params.Get("search"),
		SortField: params.Get("sort"),
		SortOrder: params.Get("order"),
	}

	var err error
	if v := params.Get("page"); v != "" {
		if q.Page, err = strconv.Atoi(v); err != nil {
			return q, fmt.Errorf("%w: page must be a number", ErrInvalidQuery)
		}
	}
	if v := params.Get("size"); v != "" {
		if q.Size, err = strconv.Atoi(v); err != nil {
			return q, fmt.Errorf("%w: size must be a number", ErrInvalidQuery)
		}
	}
	return q, nil
}

// handleListReceipts returns a page of the caller's receipts
func (s *Server) handleListReceipts(w http.ResponseWriter, r *http.Request) {
	q, err := parseListQuery(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	page, err := s.service.ListReceipts(identity(r), q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// handleGetReceipt returns a single receipt with its attachments
func (s *Server) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	receipt, err := s.service.GetReceipt(r.Context(), identity(r), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}
