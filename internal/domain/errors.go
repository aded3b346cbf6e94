package domain

import (
	"errors"
	"fmt"
)

type Code string

const (
	CodeUnsupportedType    Code = "unsupported_type"
	CodeFileTooLarge       Code = "file_too_large"
	CodeTooManyFiles       Code = "too_many_files"
	CodeTotalSizeExceeded  Code = "total_size_exceeded"
	CodeBadRequest         Code = "bad_request"
	CodeDimensionsTooLarge Code = "dimensions_too_large"
	CodeCacheOverflow      Code = "cache_overflow"
	CodeServerBusy         Code = "server_busy"
	CodeRateLimited        Code = "rate_limited"
	CodeTimeout            Code = "timeout"
	CodeCodecFailure       Code = "codec_failure"
	CodeBadChunkIndex      Code = "bad_chunk_index"
	CodeUploadSizeMismatch Code = "upload_size_mismatch"
	CodeIncompleteUpload   Code = "incomplete_upload"
	CodeMissingChunk       Code = "missing_chunk"
	CodeUploadNotFound     Code = "upload_not_found"
	CodeJobNotFound        Code = "job_not_found"
	CodeResultNotFound     Code = "result_not_found"
	CodeInternal           Code = "internal"
)

// Error carries a stable machine-readable code next to a human message.
// Two errors match under errors.Is when their codes are equal.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return string(e.Code) + ": " + e.Message
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

func (e *Error) Body() *ErrorBody {
	return &ErrorBody{Code: e.Code, Message: e.Message}
}

func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

var (
	ErrJobNotFound    = &Error{Code: CodeJobNotFound, Message: "job not found"}
	ErrResultNotFound = &Error{Code: CodeResultNotFound, Message: "result not found"}
	ErrUploadNotFound = &Error{Code: CodeUploadNotFound, Message: "upload session not found"}
	ErrCacheOverflow  = &Error{Code: CodeCacheOverflow, Message: "result cache cannot admit the result"}
	ErrServerBusy     = &Error{Code: CodeServerBusy, Message: "upload memory budget exhausted"}
	ErrTimeout        = &Error{Code: CodeTimeout, Message: "encode timed out"}
)

// AsError extracts the coded error from err. Anything uncoded becomes an
// internal error with a generic message.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Code: CodeInternal, Message: "internal error"}
}

func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	return AsError(err).Code
}
