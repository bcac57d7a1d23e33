package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/vocdoni/davinci-ticketvote/log"
)

// Error is used by handler functions to wrap errors, assigning a unique error
// code, a machine readable kind and the HTTP status to reply with.
type Error struct {
	Err        error
	Code       int
	HTTPstatus int
	Kind       string
}

// ErrorResponse is the JSON body of an error reply.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
	Kind  string `json:"kind,omitempty"`
}

// MarshalJSON returns a JSON containing Err.Error(), Code and Kind. Field
// HTTPstatus is ignored.
//
// Example output: {"error":"vote.duplicate: duplicate vote","code":40020,"kind":"vote.duplicate"}
func (e Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(ErrorResponse{
		Error: e.Err.Error(),
		Code:  e.Code,
		Kind:  e.Kind,
	})
}

// Error returns the message contained inside the Error.
func (e Error) Error() string {
	return e.Err.Error()
}

// Write serializes the error as JSON and sets the HTTP status.
func (e Error) Write(w http.ResponseWriter) {
	msg, err := json.Marshal(e)
	if err != nil {
		log.Warn(err)
		http.Error(w, "marshal failed", http.StatusInternalServerError)
		return
	}
	if log.Level() == log.LogLevelDebug {
		log.Debugw("API error response", "error", e.Error(), "code", e.Code, "kind", e.Kind, "httpStatus", e.HTTPstatus)
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(e.HTTPstatus)
	_, _ = w.Write(append(msg, '\n'))
}

// Withf returns a copy of Error with the Sprintf formatted string appended
// at the end of e.Err.
func (e Error) Withf(format string, args ...any) Error {
	return e.With(fmt.Sprintf(format, args...))
}

// With returns a copy of Error with the string appended at the end of e.Err.
func (e Error) With(s string) Error {
	return Error{
		Err:        fmt.Errorf("%w: %v", e.Err, s),
		Code:       e.Code,
		HTTPstatus: e.HTTPstatus,
		Kind:       e.Kind,
	}
}

// WithErr returns a copy of Error with err.Error() appended at the end of
// e.Err.
func (e Error) WithErr(err error) Error {
	return e.With(err.Error())
}
