package rest

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/italolelis/yt_downloader/internal/logctx"
	"github.com/italolelis/yt_downloader/internal/media"
)

// Error codes carried in every error body.
const (
	CodeValidation  = "validation_error"
	CodeNotFound    = "not_found"
	CodeAcquisition = "acquisition_error"
	CodeInternal    = "internal_error"
)

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Error    string `json:"error"`
	Code     string `json:"code"`
	Detail   string `json:"detail,omitempty"`
	Solution string `json:"solution,omitempty"`
}

// classify maps the error taxonomy to a status and body. fallback is the
// stable message used for server-side failures of the endpoint.
func classify(err error, fallback string) (int, ErrorResponse) {
	var (
		valErr *media.ValidationError
		nfErr  *media.NotFoundError
		acqErr *media.AcquisitionError
		intErr *media.InternalError
	)

	switch {
	case errors.As(err, &valErr):
		return http.StatusBadRequest, ErrorResponse{
			Error:    valErr.Reason,
			Code:     CodeValidation,
			Detail:   "invalid parameter " + valErr.Field,
			Solution: valErr.Hint,
		}
	case errors.As(err, &nfErr):
		return http.StatusNotFound, ErrorResponse{
			Error:    "no results found",
			Code:     CodeNotFound,
			Detail:   nfErr.Error(),
			Solution: "Try different keywords",
		}
	case errors.As(err, &acqErr):
		return http.StatusInternalServerError, ErrorResponse{
			Error:    fallback,
			Code:     CodeAcquisition,
			Detail:   acqErr.Message,
			Solution: "Try another video or check connection",
		}
	case errors.As(err, &intErr):
		return http.StatusInternalServerError, ErrorResponse{
			Error:  fallback,
			Code:   CodeInternal,
			Detail: intErr.Reason,
		}
	default:
		return http.StatusInternalServerError, ErrorResponse{
			Error:  fallback,
			Code:   CodeInternal,
			Detail: "unexpected error",
		}
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	logger := logctx.LoggerFromContext(r.Context())

	status, body := classify(err, fallback)

	if status >= http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "request failed", "status", status, "code", body.Code, "err", err)
	} else {
		logger.DebugContext(r.Context(), "request rejected", "status", status, "code", body.Code, "err", err)
	}

	writeJSON(w, r, status, body)
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		logctx.LoggerFromContext(r.Context()).ErrorContext(r.Context(), "failed to encode response", "err", err)
	}
}
