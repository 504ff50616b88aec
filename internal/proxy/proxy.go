// Package proxy provides the reverse proxy that forwards authenticated
// requests to the Kafka REST Proxy upstream.
package proxy

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/vyrodovalexey/krestgw/internal/config"
	"github.com/vyrodovalexey/krestgw/internal/observability"
	"github.com/vyrodovalexey/krestgw/internal/util"
)

// hopHeaders are headers that must not be forwarded.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// ReverseProxy forwards requests to a single upstream.
type ReverseProxy struct {
	target       *url.URL
	proxy        *httputil.ReverseProxy
	transport    http.RoundTripper
	logger       observability.Logger
	metrics      *observability.Metrics
	errorHandler func(http.ResponseWriter, *http.Request, error)
}

// Option is a functional option for configuring the proxy.
type Option func(*ReverseProxy)

// WithLogger sets the logger for the proxy.
func WithLogger(logger observability.Logger) Option {
	return func(p *ReverseProxy) {
		p.logger = logger
	}
}

// WithMetrics sets the metrics used to record upstream failures.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(p *ReverseProxy) {
		p.metrics = metrics
	}
}

// WithTransport sets the transport for the proxy.
func WithTransport(transport http.RoundTripper) Option {
	return func(p *ReverseProxy) {
		p.transport = transport
	}
}

// WithErrorHandler sets the error handler for the proxy.
func WithErrorHandler(handler func(http.ResponseWriter, *http.Request, error)) Option {
	return func(p *ReverseProxy) {
		p.errorHandler = handler
	}
}

// NewReverseProxy creates a reverse proxy for the configured upstream.
func NewReverseProxy(cfg config.UpstreamConfig, opts ...Option) (*ReverseProxy, error) {
	target, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, err
	}

	p := &ReverseProxy{
		target: target,
		logger: observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.transport == nil {
		p.transport = newTransport(cfg)
	}
	if p.errorHandler == nil {
		p.errorHandler = p.defaultErrorHandler
	}

	p.proxy = &httputil.ReverseProxy{
		Director:     p.director,
		Transport:    p.transport,
		ErrorHandler: p.errorHandler,
		// Flush immediately so long-poll consumer fetches stream
		// through without buffering.
		FlushInterval: -1,
	}

	return p, nil
}

// newTransport builds the upstream transport. The dialer timeout bounds
// connection establishment and ResponseHeaderTimeout bounds the wait
// for the upstream to start responding; the response body itself is
// streamed without a deadline.
func newTransport(cfg config.UpstreamConfig) *http.Transport {
	return &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   cfg.ConnectTimeout.Duration(),
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout.Duration(),
		IdleConnTimeout:       cfg.IdleConnTimeout.Duration(),
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		ForceAttemptHTTP2:     true,
	}
}

// ServeHTTP implements http.Handler.
func (p *ReverseProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.proxy.ServeHTTP(w, r)
}

// Target returns the upstream URL.
func (p *ReverseProxy) Target() *url.URL {
	return p.target
}

// director rewrites the request for the upstream. The inbound
// Authorization header is gateway-level and is not forwarded.
func (p *ReverseProxy) director(req *http.Request) {
	originalHost := req.Host
	clientIP, _, splitErr := net.SplitHostPort(req.RemoteAddr)

	req.URL.Scheme = p.target.Scheme
	req.URL.Host = p.target.Host

	if p.target.Path != "" && p.target.Path != "/" {
		req.URL.Path = singleJoiningSlash(p.target.Path, req.URL.Path)
	}

	for _, h := range hopHeaders {
		req.Header.Del(h)
	}
	req.Header.Del("Authorization")

	if splitErr == nil {
		if prior := req.Header.Get("X-Forwarded-For"); prior != "" {
			clientIP = prior + ", " + clientIP
		}
		req.Header.Set("X-Forwarded-For", clientIP)
	}

	if req.TLS != nil {
		req.Header.Set("X-Forwarded-Proto", "https")
	} else {
		req.Header.Set("X-Forwarded-Proto", "http")
	}

	req.Header.Set("X-Forwarded-Host", originalHost)
	req.Host = p.target.Host
}

// singleJoiningSlash joins two URL paths with exactly one slash.
func singleJoiningSlash(a, b string) string {
	aslash := len(a) > 0 && a[len(a)-1] == '/'
	bslash := len(b) > 0 && b[0] == '/'
	switch {
	case aslash && bslash:
		return a + b[1:]
	case !aslash && !bslash:
		return a + "/" + b
	}
	return a + b
}

// defaultErrorHandler maps upstream failures to gateway responses.
// Timeouts become 504 and everything else 502. A canceled client
// request gets 499-style treatment: the client is gone, so only the
// status line matters.
func (p *ReverseProxy) defaultErrorHandler(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, context.Canceled) {
		p.logger.Debug("client disconnected",
			observability.String("path", r.URL.Path),
		)
		w.WriteHeader(http.StatusBadGateway)
		return
	}

	var gwErr error
	kind := "connect"
	message := `{"error":"bad gateway","message":"upstream unreachable"}`

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) ||
		(errors.As(err, &netErr) && netErr.Timeout()) {
		kind = "timeout"
		message = `{"error":"gateway timeout","message":"upstream timed out"}`
		gwErr = util.NewTimeoutError("upstream request", err)
	} else {
		gwErr = util.NewUpstreamError(p.target.Host, "upstream unreachable", err)
	}

	p.logger.Error("proxy error",
		observability.String("path", r.URL.Path),
		observability.String("method", r.Method),
		observability.String("kind", kind),
		observability.Error(gwErr),
	)

	if p.metrics != nil {
		p.metrics.RecordUpstreamError(kind)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(util.StatusCode(gwErr))
	_, _ = io.WriteString(w, message)
}
