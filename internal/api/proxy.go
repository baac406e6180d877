package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"gatekeeper/internal/models"
)

// NewProxy creates a reverse proxy forwarding to the configured upstream.
// Inbound X-Forwarded-For chains are preserved and the client address is
// appended so the upstream sees the same identity the limiter used.
func NewProxy(cfg models.UpstreamConfig) (*httputil.ReverseProxy, error) {
	target, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream url: %w", err)
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, errors.New("upstream url must include scheme and host")
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext
	if cfg.Timeout > 0 {
		transport.ResponseHeaderTimeout = cfg.Timeout
	}

	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			if prior, ok := pr.In.Header["X-Forwarded-For"]; ok {
				pr.Out.Header["X-Forwarded-For"] = prior
			}
			pr.SetXForwarded()
			if cfg.PreserveHost {
				pr.Out.Host = pr.In.Host
			}
		},
		Transport: transport,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			slog.Error("Upstream request failed",
				"method", r.Method,
				"path", r.URL.Path,
				"upstream", target.Host,
				"error", err,
				"request_id", RequestIDFromContext(r.Context()))
			writeError(w, r, http.StatusBadGateway, models.ErrorCodeBadGateway, "Upstream unavailable")
		},
	}, nil
}
