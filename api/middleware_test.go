package api

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestLoggingMiddleware(t *testing.T) {
	c := qt.New(t)
	// echoes the body back, so the handler must still see it after logging
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(body)
	})
	wrapped := loggingMiddleware(100)(handler)

	tests := []struct {
		name string
		path string
		body string
	}{
		{name: "JSON object", path: "/test", body: `{"key": "value"}`},
		{name: "JSON array", path: "/test", body: `[1, 2, 3]`},
		{name: "binary data", path: "/test", body: "\x00\x01\x02\x03\x04"},
		{name: "plain text", path: "/test", body: "Hello, World!"},
		{name: "empty body", path: "/test", body: ""},
		{name: "vote body", path: VotesEndpoint, body: `{"proof": {"signature": "secret"}}`},
	}
	for _, tt := range tests {
		c.Run(tt.name, func(c *qt.C) {
			req := httptest.NewRequest(http.MethodPost, tt.path, bytes.NewBufferString(tt.body))
			rec := httptest.NewRecorder()
			wrapped.ServeHTTP(rec, req)
			c.Assert(rec.Code, qt.Equals, http.StatusOK)
			c.Assert(rec.Body.String(), qt.Equals, tt.body)
		})
	}
}

func TestLoggingMiddlewareLargeBody(t *testing.T) {
	c := qt.New(t)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_, _ = w.Write(body)
	})
	wrapped := loggingMiddleware(10)(handler)

	body := `{"key": "this is a very long value that should be truncated"}`
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/test", bytes.NewBufferString(body)))
	c.Assert(rec.Code, qt.Equals, http.StatusOK)
	c.Assert(rec.Body.String(), qt.Equals, body)
}

func TestShouldSkipLogging(t *testing.T) {
	c := qt.New(t)
	config := DefaultLoggingConfig()
	c.Assert(hasPrefix(PingEndpoint, config.ExcludedPrefixes), qt.IsTrue)
	c.Assert(hasPrefix(ElectionsEndpoint, config.ExcludedPrefixes), qt.IsFalse)
	c.Assert(hasPrefix(VotesEndpoint, config.BodyExcludedPrefixes), qt.IsTrue)
	c.Assert(hasPrefix(VerifyProofEndpoint, config.BodyExcludedPrefixes), qt.IsTrue)
	c.Assert(hasPrefix(ElectionsEndpoint, config.BodyExcludedPrefixes), qt.IsFalse)
}

func TestBearerAuthMiddleware(t *testing.T) {
	c := qt.New(t)
	handler := bearerAuthMiddleware("s3cret")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpWriteOK(w)
	}))

	for _, tt := range []struct {
		name   string
		header string
		status int
	}{
		{name: "no header", status: http.StatusForbidden},
		{name: "wrong token", header: "Bearer nope", status: http.StatusForbidden},
		{name: "wrong scheme", header: "Basic s3cret", status: http.StatusForbidden},
		{name: "valid token", header: "Bearer s3cret", status: http.StatusOK},
	} {
		c.Run(tt.name, func(c *qt.C) {
			req := httptest.NewRequest(http.MethodPost, "/admin", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			c.Assert(rec.Code, qt.Equals, tt.status)
		})
	}
}
