package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"tourneyhub.io/internal/auth"
)

func TestRateLimitExceeded(t *testing.T) {
	base := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := RequestID(RateLimit(1, 1)(base))

	req := httptest.NewRequest(http.MethodGet, "/limited", nil)
	req.RemoteAddr = "10.0.0.1:1234"

	rr1 := httptest.NewRecorder()
	handler.ServeHTTP(rr1, req.Clone(req.Context()))
	require.Equal(t, http.StatusOK, rr1.Code)

	rr2 := httptest.NewRecorder()
	handler.ServeHTTP(rr2, req.Clone(req.Context()))
	require.Equal(t, http.StatusTooManyRequests, rr2.Code)
	assert.NotEmpty(t, rr2.Header().Get("Retry-After"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr2.Body.Bytes(), &body))
	assert.Equal(t, "RATE_LIMITED", body["code"])
	assert.NotEmpty(t, body["error"])
	assert.NotEmpty(t, body["requestId"])

	other := req.Clone(req.Context())
	other.RemoteAddr = "10.0.0.2:1234"
	rr3 := httptest.NewRecorder()
	handler.ServeHTTP(rr3, other)
	assert.Equal(t, http.StatusOK, rr3.Code)
}

func TestRequestIDPropagates(t *testing.T) {
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusTeapot, "TEAPOT", "short and stout", nil)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, "req-123")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, "req-123", rr.Header().Get(requestIDHeader))
	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "req-123", body["requestId"])

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Len(t, rr.Header().Get(requestIDHeader), 26)
}

func TestLoggingEmitsStructuredEntry(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	handler := RequestID(Logging(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})))

	req := httptest.NewRequest(http.MethodGet, "/log-test", nil)
	req.RemoteAddr = "127.0.0.1:1234"
	handler.ServeHTTP(httptest.NewRecorder(), req)

	entries := logs.FilterMessage("http request").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "/log-test", fields["path"])
	assert.Equal(t, int64(http.StatusTeapot), fields["status"])
	assert.Equal(t, "127.0.0.1", fields["ip"])
	assert.NotEmpty(t, fields["request_id"])
}

func TestCORSPreflight(t *testing.T) {
	called := false
	handler := CORS(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))

	req := httptest.NewRequest(http.MethodOptions, "/api/roles", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "http://localhost:3000", rr.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rr.Header().Get("Access-Control-Allow-Headers"), "Authorization")
	assert.False(t, called)
}

func TestExtractBearerToken(t *testing.T) {
	tok, err := extractBearerToken("Bearer abc.def.ghi")
	require.NoError(t, err)
	assert.Equal(t, "abc.def.ghi", tok)

	tok, err = extractBearerToken("bearer   xyz ")
	require.NoError(t, err)
	assert.Equal(t, "xyz", tok)

	_, err = extractBearerToken("")
	assert.Equal(t, auth.CodeNoToken, auth.CodeOf(err))

	_, err = extractBearerToken("Token abc")
	assert.Equal(t, auth.CodeInvalidTokenFormat, auth.CodeOf(err))
}

func TestClientIDLookupOrder(t *testing.T) {
	t.Run("named path parameter wins", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/?clientId=3", nil)
		req = mux.SetURLVars(req, map[string]string{"clientId": "1", "id": "2"})
		id, err := clientIDFromRequest(req, "clientId")
		require.NoError(t, err)
		assert.Equal(t, int64(1), id)
	})

	t.Run("id path parameter", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/?clientId=3", nil)
		req = mux.SetURLVars(req, map[string]string{"id": "2"})
		id, err := clientIDFromRequest(req, "clientId")
		require.NoError(t, err)
		assert.Equal(t, int64(2), id)
	})

	t.Run("body field before query and body restored", func(t *testing.T) {
		payload := []byte(`{"clientId": 5, "name": "x"}`)
		req := httptest.NewRequest(http.MethodPost, "/?clientId=3", bytes.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		id, err := clientIDFromRequest(req, "clientId")
		require.NoError(t, err)
		assert.Equal(t, int64(5), id)

		rest, err := io.ReadAll(req.Body)
		require.NoError(t, err)
		assert.Equal(t, payload, rest)
	})

	t.Run("string body field", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader([]byte(`{"clientId":"6"}`)))
		id, err := clientIDFromRequest(req, "clientId")
		require.NoError(t, err)
		assert.Equal(t, int64(6), id)
	})

	t.Run("query parameter", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/?clientId=3", nil)
		id, err := clientIDFromRequest(req, "clientId")
		require.NoError(t, err)
		assert.Equal(t, int64(3), id)
	})

	t.Run("missing", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		_, err := clientIDFromRequest(req, "clientId")
		assert.Equal(t, auth.CodeMissingClientID, auth.CodeOf(err))
	})
}
