package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/krestgw/internal/observability"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

func TestRequestID_Generates(t *testing.T) {
	t.Parallel()

	var ctxID string
	handler := RequestID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctxID = observability.RequestIDFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/topics", nil))

	id := rec.Header().Get(HeaderXRequestID)
	require.NotEmpty(t, id)
	assert.Equal(t, id, ctxID)
}

func TestRequestID_PreservesInbound(t *testing.T) {
	t.Parallel()

	handler := RequestID()(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/topics", nil)
	req.Header.Set(HeaderXRequestID, "upstream-id-123")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, "upstream-id-123", rec.Header().Get(HeaderXRequestID))
}

func TestRequestIDWithGenerator(t *testing.T) {
	t.Parallel()

	handler := RequestIDWithGenerator(func() string { return "fixed" })(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "fixed", rec.Header().Get(HeaderXRequestID))
}

func TestRecovery(t *testing.T) {
	t.Parallel()

	handler := Recovery(observability.NopLogger())(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			panic("boom")
		}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/topics", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal server error"}`, rec.Body.String())
}

func TestRecovery_Passthrough(t *testing.T) {
	t.Parallel()

	handler := Recovery(observability.NopLogger())(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestLogging(t *testing.T) {
	t.Parallel()

	handler := Logging(observability.NopLogger())(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusAccepted)
			_, _ = w.Write([]byte("body"))
		}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/topics/t1", nil))

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "body", rec.Body.String())
}

func TestClientIPExtractor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		trusted    []string
		remoteAddr string
		xff        string
		want       string
	}{
		{
			name:       "no trusted proxies uses remote addr",
			remoteAddr: "10.0.0.1:1234",
			xff:        "203.0.113.7",
			want:       "10.0.0.1",
		},
		{
			name:       "untrusted peer ignores forwarded header",
			trusted:    []string{"192.168.0.0/16"},
			remoteAddr: "10.0.0.1:1234",
			xff:        "203.0.113.7",
			want:       "10.0.0.1",
		},
		{
			name:       "trusted peer takes rightmost untrusted hop",
			trusted:    []string{"10.0.0.0/8"},
			remoteAddr: "10.0.0.1:1234",
			xff:        "203.0.113.7, 10.0.0.2",
			want:       "203.0.113.7",
		},
		{
			name:       "single ip trusted entry",
			trusted:    []string{"10.0.0.1"},
			remoteAddr: "10.0.0.1:1234",
			xff:        "203.0.113.7",
			want:       "203.0.113.7",
		},
		{
			name:       "all hops trusted falls back to remote addr",
			trusted:    []string{"10.0.0.0/8"},
			remoteAddr: "10.0.0.1:1234",
			xff:        "10.0.0.9, 10.0.0.2",
			want:       "10.0.0.1",
		},
		{
			name:       "trusted peer without forwarded header",
			trusted:    []string{"10.0.0.0/8"},
			remoteAddr: "10.0.0.1:1234",
			want:       "10.0.0.1",
		},
		{
			name:       "ipv6 remote addr",
			remoteAddr: "[::1]:1234",
			want:       "::1",
		},
		{
			name:       "invalid trusted entries are skipped",
			trusted:    []string{"not-a-cidr", "also bad"},
			remoteAddr: "10.0.0.1:1234",
			xff:        "203.0.113.7",
			want:       "10.0.0.1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			e := NewClientIPExtractor(tt.trusted)
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set(HeaderXForwardedFor, tt.xff)
			}

			assert.Equal(t, tt.want, e.Extract(req))
		})
	}
}
