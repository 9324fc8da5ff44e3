// Package handlers implements the HTTP endpoints of the viewer.
package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/turtacn/ertviz/internal/controller"
	"github.com/turtacn/ertviz/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/ertviz/pkg/errors"
)

// DefaultMaxBodySize bounds JSON request bodies.
const DefaultMaxBodySize int64 = 1 << 20

// writeJSON writes a JSON response with the given status code.  The body is
// encoded before the header goes out, so a value that cannot be encoded
// becomes a 500 instead of an empty success.
func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	var buf bytes.Buffer
	if data != nil {
		if err := json.NewEncoder(&buf).Encode(data); err != nil {
			buf.Reset()
			statusCode = http.StatusInternalServerError
			_ = json.NewEncoder(&buf).Encode(ErrorResponse{
				Code:    errors.ErrCodeSerialization.String(),
				Message: "response could not be encoded",
				Detail:  err.Error(),
			})
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(buf.Bytes())
}

// ErrorResponse is the error body of every endpoint.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// StatusFor maps err to the HTTP status of the response.  A suppressed
// update is 204, an unknown session 404, anything else follows the code
// table of pkg/errors.
func StatusFor(err error) int {
	if controller.IsPreventUpdate(err) {
		return http.StatusNoContent
	}
	var appErr *errors.AppError
	if errors.As(err, &appErr) {
		return appErr.HTTPStatus()
	}
	return http.StatusInternalServerError
}

// writeAppError writes err.  Errors without a code are masked.
func writeAppError(w http.ResponseWriter, log logging.Logger, err error) {
	status := StatusFor(err)
	if status == http.StatusNoContent {
		w.WriteHeader(status)
		return
	}

	var appErr *errors.AppError
	if !errors.As(err, &appErr) {
		log.Error("unhandled error", logging.Err(err))
		writeJSON(w, status, ErrorResponse{Code: errors.ErrCodeInternal.String(), Message: "internal server error"})
		return
	}
	if status >= http.StatusInternalServerError {
		log.Error("request failed", logging.String(logging.FieldErrorCode, appErr.Code.String()), logging.Err(err))
	}
	writeJSON(w, status, ErrorResponse{Code: appErr.Code.String(), Message: appErr.Message, Detail: appErr.Detail})
}

// decodeJSON reads a JSON body of at most maxBytes into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, maxBytes int64, dst interface{}) error {
	body := http.MaxBytesReader(w, r.Body, maxBytes)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if err == io.EOF {
			return errors.New(errors.CodeInvalidParam, "request body is empty")
		}
		return errors.Wrap(err, errors.CodeInvalidParam, "invalid request body")
	}
	return nil
}
