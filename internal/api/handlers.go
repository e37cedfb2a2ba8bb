package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/FocuswithJustin/voc2coco/core/errors"
	"github.com/FocuswithJustin/voc2coco/core/labels"
	"github.com/FocuswithJustin/voc2coco/core/ledger"
	"github.com/FocuswithJustin/voc2coco/internal/server"
	"github.com/FocuswithJustin/voc2coco/internal/validation"
)

// APIResponse is the standard API response wrapper.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *APIError   `json:"error,omitempty"`
	Meta    *APIMeta    `json:"meta,omitempty"`
}

// APIError represents an API error.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// APIMeta contains response metadata.
type APIMeta struct {
	Total     int    `json:"total,omitempty"`
	Timestamp string `json:"timestamp"`
}

// HealthInfo is the health check response.
type HealthInfo struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
	Jobs    int    `json:"jobs"`
	Ledger  string `json:"ledger"`
}

var startTime = time.Now()

func handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "Endpoint not found")
		return
	}

	respond(w, http.StatusOK, map[string]interface{}{
		"name":    "voc2coco",
		"version": Version,
		"endpoints": []string{
			"GET /health",
			"POST /convert",
			"POST /labels",
			"GET /jobs",
			"POST /jobs",
			"GET /jobs/:id",
			"GET /jobs/:id/result",
			"DELETE /jobs/:id",
			"WS /ws",
		},
	})
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Only GET is allowed")
		return
	}

	ledgerState := "disabled"
	if jobLedger != nil {
		ledgerState = ledger.DriverType()
	}

	respond(w, http.StatusOK, HealthInfo{
		Status:  "healthy",
		Version: Version,
		Uptime:  time.Since(startTime).Round(time.Second).String(),
		Jobs:    len(globalJobStore.List()),
		Ledger:  ledgerState,
	})
}

// handleConvert handles POST /convert. The response body is the document
// itself rather than an envelope, so it can be saved directly.
func handleConvert(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Only POST is allowed")
		return
	}

	req, err := parseConversionForm(w, r)
	if err != nil {
		respondRequestError(w, err)
		return
	}

	res, err := runConversion(r.Context(), req, "", nil)
	if err != nil {
		respondConversionError(w, err)
		return
	}
	writeDocument(w, res)
}

// handleLabels handles POST /labels. The list comes from a "labels" form
// field or file, or from a plain text body.
func handleLabels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Only POST is allowed")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, validation.MaxFileSize)

	var text string
	ct := r.Header.Get("Content-Type")
	switch {
	case server.ValidateContentType(ct, []string{"multipart/form-data"}):
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "Failed to parse multipart form")
			return
		}
		t, ok, err := labelsFromForm(r)
		if err != nil {
			respondRequestError(w, err)
			return
		}
		if !ok {
			respondError(w, http.StatusBadRequest, "MISSING_LABELS", "labels field is required")
			return
		}
		text = t
	case server.ValidateContentType(ct, []string{"application/x-www-form-urlencoded"}):
		text = r.PostFormValue("labels")
	default:
		data, err := io.ReadAll(r.Body)
		if err != nil {
			respondError(w, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", "Label list exceeds maximum size limit")
			return
		}
		if err := validation.ValidateLabels(data); err != nil {
			respondError(w, http.StatusBadRequest, "INVALID_FILE_TYPE", err.Error())
			return
		}
		text = string(data)
	}

	entries := labels.Parse(text).Entries()
	respondList(w, http.StatusOK, entries, len(entries))
}

func respond(w http.ResponseWriter, status int, data interface{}) {
	writeResponse(w, status, APIResponse{
		Success: true,
		Data:    data,
		Meta:    &APIMeta{Timestamp: time.Now().UTC().Format(time.RFC3339)},
	})
}

func respondList(w http.ResponseWriter, status int, data interface{}, total int) {
	writeResponse(w, status, APIResponse{
		Success: true,
		Data:    data,
		Meta: &APIMeta{
			Total:     total,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		},
	})
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	writeResponse(w, status, APIResponse{
		Success: false,
		Error: &APIError{
			Code:    code,
			Message: message,
		},
		Meta: &APIMeta{Timestamp: time.Now().UTC().Format(time.RFC3339)},
	})
}

func writeResponse(w http.ResponseWriter, status int, response APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(response)
}

// respondRequestError maps form parsing failures to 4xx responses.
func respondRequestError(w http.ResponseWriter, err error) {
	var reqErr *requestError
	if errors.As(err, &reqErr) {
		respondError(w, reqErr.status, reqErr.code, reqErr.message)
		return
	}
	respondError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
}

// respondConversionError reports a failed run. Document failures are the
// client's input and map to 422 with the failure kind as the code.
func respondConversionError(w http.ResponseWriter, err error) {
	switch code := errors.Code(err); {
	case isDocumentError(err):
		respondError(w, http.StatusUnprocessableEntity, code, err.Error())
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		respondError(w, http.StatusServiceUnavailable, "CANCELLED", err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "CONVERSION_FAILED", err.Error())
	}
}
