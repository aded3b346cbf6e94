package transport

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/you-humble/imgpress/internal/domain"
)

func statusFor(code domain.Code) int {
	switch code {
	case domain.CodeFileTooLarge, domain.CodeTotalSizeExceeded:
		return http.StatusRequestEntityTooLarge
	case domain.CodeUnsupportedType:
		return http.StatusUnsupportedMediaType
	case domain.CodeTooManyFiles, domain.CodeBadRequest, domain.CodeBadChunkIndex:
		return http.StatusBadRequest
	case domain.CodeDimensionsTooLarge:
		return http.StatusUnprocessableEntity
	case domain.CodeCacheOverflow:
		return http.StatusInsufficientStorage
	case domain.CodeServerBusy:
		return http.StatusServiceUnavailable
	case domain.CodeTimeout:
		return http.StatusGatewayTimeout
	case domain.CodeCodecFailure:
		return http.StatusBadGateway
	case domain.CodeUploadSizeMismatch, domain.CodeIncompleteUpload, domain.CodeMissingChunk:
		return http.StatusConflict
	case domain.CodeUploadNotFound, domain.CodeJobNotFound, domain.CodeResultNotFound:
		return http.StatusNotFound
	case domain.CodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// writeError answers with the coded error carried by err. Uncoded errors are
// logged and reported as internal.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	e := domain.AsError(err)
	status := statusFor(e.Code)
	if status == http.StatusInternalServerError {
		logger.Error("internal error", slog.String("error", err.Error()))
	}
	writeJSON(w, status, domain.ErrorResponse{
		Error:   http.StatusText(status),
		Code:    e.Code,
		Message: e.Message,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("writeJSON", slog.String("error", err.Error()))
	}
}
