package errors

import (
	"net/http"
	"strings"
)

// ErrorCode is a string identifier of a failure category.  Codes carry a
// module prefix separated by an underscore, e.g. "DATA_001".
type ErrorCode string

func (c ErrorCode) String() string {
	return string(c)
}

// Common codes
const (
	ErrCodeInternal           ErrorCode = "COMMON_001"
	ErrCodeBadRequest         ErrorCode = "COMMON_002"
	ErrCodeNotFound           ErrorCode = "COMMON_005"
	ErrCodeConflict           ErrorCode = "COMMON_006"
	ErrCodeServiceUnavailable ErrorCode = "COMMON_008"
	ErrCodeTimeout            ErrorCode = "COMMON_009"
	ErrCodeValidation         ErrorCode = "COMMON_010"
	ErrCodeSerialization      ErrorCode = "COMMON_011"
	ErrCodeCacheError         ErrorCode = "COMMON_013"
	ErrCodeExternalService    ErrorCode = "COMMON_014"
	ErrCodeFeatureDisabled    ErrorCode = "COMMON_015"
)

// Remote data codes
const (
	ErrCodeFetchFailed      ErrorCode = "DATA_001"
	ErrCodePayloadMalformed ErrorCode = "DATA_002"
	ErrCodeDataInconsistent ErrorCode = "DATA_003"
)

// Ensemble codes
const (
	ErrCodeEnsembleNotFound ErrorCode = "ENS_001"
	ErrCodeResponseNotFound ErrorCode = "ENS_002"
)

// Controller and session codes
const (
	ErrCodePreventUpdate   ErrorCode = "CTRL_001"
	ErrCodeUnknownTrigger  ErrorCode = "CTRL_002"
	ErrCodeSessionNotFound ErrorCode = "SESS_001"
)

// Rendering and export codes
const (
	ErrCodeRenderFailed   ErrorCode = "PLOT_001"
	ErrCodeSnapshotFailed ErrorCode = "PLOT_002"
	ErrCodePublishFailed  ErrorCode = "EVT_001"
)

// Short aliases used at call sites.
const (
	CodeOK      = ErrorCode("OK")
	CodeUnknown = ErrorCode("UNKNOWN")

	CodeInternal     = ErrCodeInternal
	CodeInvalidParam = ErrCodeBadRequest
	CodeNotFound     = ErrCodeNotFound
	CodeValidation   = ErrCodeValidation

	CodeFetchFailed      = ErrCodeFetchFailed
	CodePayloadMalformed = ErrCodePayloadMalformed
	CodeDataInconsistent = ErrCodeDataInconsistent
	CodeEnsembleNotFound = ErrCodeEnsembleNotFound
	CodeResponseNotFound = ErrCodeResponseNotFound
	CodePreventUpdate    = ErrCodePreventUpdate
	CodeUnknownTrigger   = ErrCodeUnknownTrigger
	CodeSessionNotFound  = ErrCodeSessionNotFound

	CodeRenderFailed    = ErrCodeRenderFailed
	CodeSnapshotFailed  = ErrCodeSnapshotFailed
	CodePublishFailed   = ErrCodePublishFailed
	CodeFeatureDisabled = ErrCodeFeatureDisabled
	CodeCacheError      = ErrCodeCacheError
)

// ErrorCodeHTTPStatus maps codes to HTTP status codes.
var ErrorCodeHTTPStatus = map[ErrorCode]int{
	ErrCodeInternal:           http.StatusInternalServerError,
	ErrCodeBadRequest:         http.StatusBadRequest,
	ErrCodeNotFound:           http.StatusNotFound,
	ErrCodeConflict:           http.StatusConflict,
	ErrCodeServiceUnavailable: http.StatusServiceUnavailable,
	ErrCodeTimeout:            http.StatusGatewayTimeout,
	ErrCodeValidation:         http.StatusUnprocessableEntity,
	ErrCodeSerialization:      http.StatusInternalServerError,
	ErrCodeCacheError:         http.StatusInternalServerError,
	ErrCodeExternalService:    http.StatusBadGateway,
	ErrCodeFeatureDisabled:    http.StatusNotImplemented,

	ErrCodeFetchFailed:      http.StatusBadGateway,
	ErrCodePayloadMalformed: http.StatusBadGateway,
	ErrCodeDataInconsistent: http.StatusBadGateway,

	ErrCodeEnsembleNotFound: http.StatusNotFound,
	ErrCodeResponseNotFound: http.StatusNotFound,

	ErrCodePreventUpdate:   http.StatusNoContent,
	ErrCodeUnknownTrigger:  http.StatusBadRequest,
	ErrCodeSessionNotFound: http.StatusNotFound,

	ErrCodeRenderFailed:   http.StatusInternalServerError,
	ErrCodeSnapshotFailed: http.StatusBadGateway,
	ErrCodePublishFailed:  http.StatusInternalServerError,
}

// ErrorCodeMessage maps codes to default messages.
var ErrorCodeMessage = map[ErrorCode]string{
	ErrCodeInternal:           "internal server error",
	ErrCodeBadRequest:         "bad request",
	ErrCodeNotFound:           "resource not found",
	ErrCodeConflict:           "resource conflict",
	ErrCodeServiceUnavailable: "service unavailable",
	ErrCodeTimeout:            "request timeout",
	ErrCodeValidation:         "validation failed",
	ErrCodeSerialization:      "serialization failed",
	ErrCodeCacheError:         "cache error",
	ErrCodeExternalService:    "external service error",
	ErrCodeFeatureDisabled:    "feature disabled",

	ErrCodeFetchFailed:      "failed to fetch remote data",
	ErrCodePayloadMalformed: "remote payload malformed",
	ErrCodeDataInconsistent: "remote data inconsistent",

	ErrCodeEnsembleNotFound: "ensemble not found",
	ErrCodeResponseNotFound: "response not found",

	ErrCodePreventUpdate:   "no update",
	ErrCodeUnknownTrigger:  "unknown trigger",
	ErrCodeSessionNotFound: "session not found",

	ErrCodeRenderFailed:   "failed to render figure",
	ErrCodeSnapshotFailed: "failed to store snapshot",
	ErrCodePublishFailed:  "failed to publish event",
}

// HTTPStatusForCode returns the HTTP status for code, 500 when unmapped.
func HTTPStatusForCode(code ErrorCode) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// DefaultMessageForCode returns the default message for code.
func DefaultMessageForCode(code ErrorCode) string {
	if msg, ok := ErrorCodeMessage[code]; ok {
		return msg
	}
	return "unknown error"
}

// IsClientError reports whether code maps to a 4xx status.
func IsClientError(code ErrorCode) bool {
	status := HTTPStatusForCode(code)
	return status >= 400 && status < 500
}

// IsServerError reports whether code maps to a 5xx status.
func IsServerError(code ErrorCode) bool {
	status := HTTPStatusForCode(code)
	return status >= 500 && status < 600
}

// ModuleForCode returns the module prefix of code ("DATA" for "DATA_001").
func ModuleForCode(code ErrorCode) string {
	parts := strings.SplitN(string(code), "_", 2)
	if len(parts) > 0 && parts[0] != "" {
		return parts[0]
	}
	return "UNKNOWN"
}
