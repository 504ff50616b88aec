package proxy

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/krestgw/internal/config"
)

func upstreamConfig(url string) config.UpstreamConfig {
	return config.UpstreamConfig{
		URL:                   url,
		ConnectTimeout:        config.Duration(500 * time.Millisecond),
		ResponseHeaderTimeout: config.Duration(500 * time.Millisecond),
		IdleConnTimeout:       config.Duration(time.Second),
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   2,
	}
}

func TestReverseProxy_Forwards(t *testing.T) {
	t.Parallel()

	var seen *http.Request
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Clone(context.Background())
		w.Header().Set("X-Upstream", "yes")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"offsets":[]}`))
	}))
	defer upstream.Close()

	p, err := NewReverseProxy(upstreamConfig(upstream.URL))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/topics/test?async=false", strings.NewReader(`{}`))
	req.Header.Set("Authorization", "Basic Zm9vOmJhcg==")
	req.Header.Set("Content-Type", "application/vnd.kafka.json.v2+json")
	req.RemoteAddr = "10.1.2.3:4567"
	req.Host = "gateway.example.com"
	rec := httptest.NewRecorder()

	p.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "yes", rec.Header().Get("X-Upstream"))
	assert.Equal(t, `{"offsets":[]}`, rec.Body.String())

	require.NotNil(t, seen)
	assert.Equal(t, "/topics/test", seen.URL.Path)
	assert.Equal(t, "async=false", seen.URL.RawQuery)
	assert.Equal(t, "application/vnd.kafka.json.v2+json", seen.Header.Get("Content-Type"))

	// Gateway credentials never reach the upstream.
	assert.Empty(t, seen.Header.Get("Authorization"))

	assert.Equal(t, "10.1.2.3", seen.Header.Get("X-Forwarded-For"))
	assert.Equal(t, "http", seen.Header.Get("X-Forwarded-Proto"))
	assert.Equal(t, "gateway.example.com", seen.Header.Get("X-Forwarded-Host"))
}

func TestReverseProxy_AppendsForwardedFor(t *testing.T) {
	t.Parallel()

	var got string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("X-Forwarded-For")
	}))
	defer upstream.Close()

	p, err := NewReverseProxy(upstreamConfig(upstream.URL))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/topics", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.7")
	req.RemoteAddr = "10.1.2.3:4567"

	p.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "203.0.113.7, 10.1.2.3", got)
}

func TestReverseProxy_UpstreamUnreachable(t *testing.T) {
	t.Parallel()

	// A closed server guarantees connection refused.
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := upstream.URL
	upstream.Close()

	p, err := NewReverseProxy(upstreamConfig(url))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/topics", nil)
	rec := httptest.NewRecorder()

	p.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "upstream unreachable")
}

func TestReverseProxy_UpstreamTimeout(t *testing.T) {
	t.Parallel()

	blocked := make(chan struct{})

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-blocked
	}))
	defer upstream.Close()
	defer close(blocked)

	p, err := NewReverseProxy(upstreamConfig(upstream.URL))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/topics", nil)
	rec := httptest.NewRecorder()

	p.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	assert.Contains(t, rec.Body.String(), "upstream timed out")
}

func TestReverseProxy_TargetPathPrefix(t *testing.T) {
	t.Parallel()

	var gotPath string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
	}))
	defer upstream.Close()

	p, err := NewReverseProxy(upstreamConfig(upstream.URL + "/kafka"))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/topics/t1", nil)
	p.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "/kafka/topics/t1", gotPath)
}

func TestReverseProxy_StreamsBody(t *testing.T) {
	t.Parallel()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f, ok := w.(http.Flusher)
		require.True(t, ok)
		for i := 0; i < 3; i++ {
			fmt.Fprintf(w, "chunk-%d\n", i)
			f.Flush()
		}
	}))
	defer upstream.Close()

	p, err := NewReverseProxy(upstreamConfig(upstream.URL))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/consumers/g1/records", nil)
	rec := httptest.NewRecorder()

	p.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "chunk-0\nchunk-1\nchunk-2\n", rec.Body.String())
}

func TestNewReverseProxy_InvalidURL(t *testing.T) {
	t.Parallel()

	_, err := NewReverseProxy(upstreamConfig("http://bad url with spaces"))
	assert.Error(t, err)
}

func TestSingleJoiningSlash(t *testing.T) {
	t.Parallel()

	tests := []struct {
		a, b, want string
	}{
		{"/kafka", "/topics", "/kafka/topics"},
		{"/kafka/", "/topics", "/kafka/topics"},
		{"/kafka", "topics", "/kafka/topics"},
		{"/kafka/", "topics", "/kafka/topics"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, singleJoiningSlash(tt.a, tt.b))
	}
}
