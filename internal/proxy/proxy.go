// Package proxy implements the core HTTP proxy server.
//
// Traffic flow:
//   - HTTPS CONNECT requests: tunneled transparently (no TLS termination)
//   - HTTP requests to AI API domains: body is masked before forwarding,
//     and the response is unmasked (streaming-aware) before it reaches the
//     client
//   - HTTP requests to auth domains/paths: passed through unchanged
//   - All other HTTP requests: passed through unchanged
//
// Upstream proxy (corporate proxy) chaining is automatic: Go's net/http
// respects HTTP_PROXY / HTTPS_PROXY / NO_PROXY environment variables natively.
// No extra configuration is needed — just set those env vars before starting.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"ai-anonymizing-proxy/internal/config"
	"ai-anonymizing-proxy/internal/errs"
	"ai-anonymizing-proxy/internal/extract"
	"ai-anonymizing-proxy/internal/logger"
	"ai-anonymizing-proxy/internal/metrics"
	"ai-anonymizing-proxy/internal/orchestrator"
	"ai-anonymizing-proxy/internal/pii"
	"ai-anonymizing-proxy/internal/stream"
	"ai-anonymizing-proxy/internal/unmask"
)

// Server is the HTTP proxy server.
type Server struct {
	cfg         *config.Config
	engine      *orchestrator.Engine
	log         *logger.Logger
	metrics     *metrics.Metrics
	aiDomains   map[string]bool
	authDomains map[string]bool
	authPaths   map[string]bool
	transport   *http.Transport
}

// New creates and configures a new proxy server.
func New(cfg *config.Config, engine *orchestrator.Engine, log *logger.Logger, m *metrics.Metrics) *Server {
	s := &Server{
		cfg:         cfg,
		engine:      engine,
		log:         log,
		metrics:     m,
		aiDomains:   toSet(cfg.AIAPIDomains),
		authDomains: toSet(cfg.AuthDomains),
		authPaths:   toSet(cfg.AuthPaths),
	}

	// transport uses ProxyFromEnvironment — automatically picks up
	// HTTP_PROXY / HTTPS_PROXY / NO_PROXY env vars for upstream chaining.
	// DialContext refuses connections to private/loopback/link-local
	// addresses: the proxy forwards whatever Host header a client sends,
	// so without this check a client could use it to reach internal
	// services.
	s.transport = &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: ssrfSafeDialContext(&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}),
		MaxIdleConns:          200,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}

	return s
}

// ServeHTTP dispatches incoming proxy requests.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodConnect {
		s.handleTunnel(w, r)
		return
	}
	s.handleHTTP(w, r)
}

// handleTunnel handles HTTPS CONNECT requests by establishing a TCP tunnel.
// Traffic inside the tunnel is not inspected (no TLS termination). This
// applies to AI domains as well; package mitm is not used by this server.
func (s *Server) handleTunnel(w http.ResponseWriter, r *http.Request) {
	host := r.Host
	s.log.Infof("tunnel_connect", "CONNECT %s", host)

	destConn, err := dialSSRFSafe(r.Context(), host)
	if err != nil {
		http.Error(w, fmt.Sprintf("cannot connect to %s: %v", host, err), http.StatusBadGateway)
		return
	}
	defer destConn.Close() //nolint:errcheck // best-effort close

	hijacker, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "hijacking not supported", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK) // send "200 Connection established"

	clientConn, _, err := hijacker.Hijack()
	if err != nil {
		s.log.Errorf("tunnel_hijack", "hijack error for %s: %v", host, err)
		return
	}
	defer clientConn.Close() //nolint:errcheck // best-effort close

	done := make(chan struct{}, 2)
	go func() { io.Copy(destConn, clientConn); done <- struct{}{} }() //nolint:errcheck
	go func() { io.Copy(clientConn, destConn); done <- struct{}{} }() //nolint:errcheck
	<-done
}

// handleHTTP handles plain HTTP proxy requests.
func (s *Server) handleHTTP(w http.ResponseWriter, r *http.Request) {
	host := r.Host
	if host == "" {
		host = r.URL.Host
	}
	domain := host
	if h, _, err := net.SplitHostPort(host); err == nil {
		domain = h
	}

	isAuth := s.isAuthRequest(domain, r.URL.Path)
	isAI := s.aiDomains[domain]

	tag := "[PASS]"
	switch {
	case isAuth:
		tag = "[AUTH][PASS]"
	case isAI:
		tag = "[MASK]"
	}
	s.log.Infof("http_request", "%s %s%s %s", r.Method, domain, r.URL.Path, tag)
	s.metrics.RequestsTotal.Add(1)

	if isAuth {
		s.metrics.RequestsAuth.Add(1)
		s.forward(w, r)
		return
	}
	if !isAI || !s.cfg.PIIDetection.Enabled {
		s.metrics.RequestsPassthrough.Add(1)
		s.forward(w, r)
		return
	}

	s.metrics.RequestsAnonymized.Add(1)
	s.maskAndForward(w, r)
}

// maskAndForward runs the request body through the masking pipeline, then
// forwards it and unmasks the response on the way back.
func (s *Server) maskAndForward(w http.ResponseWriter, r *http.Request) {
	doc, err := readJSONBody(r)
	if err != nil {
		s.log.Warnf("mask_body", "not a JSON body, forwarding unmasked: %v", err)
		s.forward(w, r)
		return
	}

	mode := orchestrator.ModeMask
	if s.cfg.Mode == string(orchestrator.ModeRoute) {
		mode = orchestrator.ModeRoute
	}

	start := time.Now()
	result, err := s.engine.Process(r.Context(), doc, orchestrator.Options{
		Mode:           mode,
		Language:       firstOr(s.cfg.PIIDetection.Languages, "en"),
		Categories:     s.cfg.PIIDetection.Entities,
		ScoreThreshold: s.cfg.PIIDetection.ScoreThreshold,
		Whitelist:      pii.NewWhitelist(s.cfg.PIIDetection.Whitelist),
	})
	s.metrics.RecordAnonLatency(time.Since(start))
	if err != nil {
		s.metrics.ErrorsAnonymize.Add(1)
		s.log.Errorf("mask_process", "masking pipeline error: %v", err)
		status := http.StatusBadGateway
		if errs.Is(err, errs.ErrExtractionFailure) {
			status = http.StatusBadRequest
		}
		http.Error(w, "masking pipeline error", status)
		return
	}

	if result.Diverted {
		s.forwardTo(w, r, s.cfg.Providers["onprem"].BaseURL, doc)
		return
	}

	writeJSONBody(r, result.Doc)

	if result.Context == nil || len(result.Context.Tokens()) == 0 {
		s.forward(w, r)
		return
	}

	s.forwardAndUnmask(w, r, result.Context)
}

// forwardTo rewrites the request to target baseURL (an on-premise
// provider) and forwards the ORIGINAL, unmasked doc. Used by route mode's
// diversion decision (spec §4.7): a request containing sensitive data
// never leaves the network boundary masked or unmasked toward a
// third-party provider once a diversion target is configured.
func (s *Server) forwardTo(w http.ResponseWriter, r *http.Request, baseURL string, doc extract.Doc) {
	if baseURL == "" {
		s.log.Warnf("route_divert", "route mode diversion requested but no onprem provider configured")
		s.forward(w, r)
		return
	}
	writeJSONBody(r, doc)
	if u, err := parseAndJoin(baseURL, r.URL.Path); err == nil {
		r.URL = u
		r.Host = u.Host
	}
	s.forward(w, r)
}

func (s *Server) forward(w http.ResponseWriter, r *http.Request) {
	if r.URL.Scheme == "" {
		r.URL.Scheme = "http"
	}
	if r.URL.Host == "" {
		r.URL.Host = r.Host
	}

	r.RequestURI = ""
	removeHopByHop(r.Header)

	start := time.Now()
	resp, err := s.transport.RoundTrip(r)
	s.metrics.RecordUpstreamLatency(time.Since(start))
	if err != nil {
		s.metrics.ErrorsUpstream.Add(1)
		http.Error(w, fmt.Sprintf("proxy error: %v", err), http.StatusBadGateway)
		return
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort close

	removeHopByHop(resp.Header)
	copyHeader(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	flushingCopy(w, resp.Body)
}

// forwardAndUnmask forwards r and unmasks the response before writing it to
// w, using ctx to resolve placeholder tokens. Server-Sent-Events responses
// are unmasked incrementally via the stream package; everything else is
// buffered, unmasked as one document, and written whole.
func (s *Server) forwardAndUnmask(w http.ResponseWriter, r *http.Request, ctx *pii.Context) {
	if r.URL.Scheme == "" {
		r.URL.Scheme = "http"
	}
	if r.URL.Host == "" {
		r.URL.Host = r.Host
	}
	r.RequestURI = ""
	removeHopByHop(r.Header)

	start := time.Now()
	resp, err := s.transport.RoundTrip(r)
	s.metrics.RecordUpstreamLatency(time.Since(start))
	if err != nil {
		s.metrics.ErrorsUpstream.Add(1)
		http.Error(w, fmt.Sprintf("proxy error: %v", err), http.StatusBadGateway)
		return
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort close

	removeHopByHop(resp.Header)
	copyHeader(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)

	opts := unmask.Options{ShowMarkers: s.cfg.Masking.ShowMarkers, MarkerText: s.cfg.Masking.MarkerText}

	if isEventStream(resp.Header) {
		tr := stream.New(ctx, opts, s.metrics)
		if err := tr.Transform(flushWriter{w}, resp.Body); err != nil {
			s.log.Warnf("stream_unmask", "stream transform ended early: %v", err)
		}
		return
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		s.log.Errorf("unmask_read", "reading response body: %v", err)
		return
	}

	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		w.Write(body) //nolint:errcheck
		return
	}
	unmasked := unmask.Walk(doc, ctx, opts)
	out, err := json.Marshal(unmasked)
	if err != nil {
		w.Write(body) //nolint:errcheck
		return
	}
	w.Write(out) //nolint:errcheck
	tokens := int64(len(ctx.Tokens()))
	if tokens > 0 {
		s.metrics.TokensDeanonymized.Add(tokens)
	}
}

func (s *Server) isAuthRequest(domain, path string) bool {
	if s.authDomains[domain] {
		return true
	}
	authPrefixes := []string{"auth.", "login.", "accounts.", "sso.", "oauth."}
	for _, prefix := range authPrefixes {
		if strings.HasPrefix(domain, prefix) {
			return true
		}
	}
	for authPath := range s.authPaths {
		if strings.HasPrefix(path, authPath) {
			return true
		}
	}
	return false
}

// ReverseProxy returns an httputil.ReverseProxy-based handler for testing.
func (s *Server) ReverseProxy() *httputil.ReverseProxy {
	return &httputil.ReverseProxy{
		Transport: s.transport,
	}
}

// --- helpers ---

func readJSONBody(r *http.Request) (map[string]any, error) {
	if r.Body == nil || r.ContentLength == 0 {
		return nil, fmt.Errorf("empty body")
	}
	body, err := io.ReadAll(r.Body)
	r.Body.Close() //nolint:errcheck
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func writeJSONBody(r *http.Request, doc map[string]any) {
	out, err := json.Marshal(doc)
	if err != nil {
		return
	}
	r.Body = io.NopCloser(bytes.NewReader(out))
	r.ContentLength = int64(len(out))
}

func parseAndJoin(baseURL, path string) (*url.URL, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	return u, nil
}

func firstOr(items []string, fallback string) string {
	if len(items) == 0 {
		return fallback
	}
	return items[0]
}

func isEventStream(h http.Header) bool {
	return strings.HasPrefix(h.Get("Content-Type"), "text/event-stream")
}

// flushWriter adapts an http.ResponseWriter that may implement http.Flusher
// into an io.Writer that flushes after every write, so SSE frames reach the
// client as soon as they're unmasked rather than waiting for Go's default
// response buffering.
type flushWriter struct {
	w http.ResponseWriter
}

func (f flushWriter) Write(p []byte) (int, error) {
	n, err := f.w.Write(p)
	if flusher, ok := f.w.(http.Flusher); ok {
		flusher.Flush()
	}
	return n, err
}

func toSet(items []string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, v := range items {
		m[v] = true
	}
	return m
}

var hopByHopHeaders = []string{
	"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
	"Te", "Trailers", "Transfer-Encoding", "Upgrade", "Proxy-Connection",
}

func removeHopByHop(h http.Header) {
	for _, v := range hopByHopHeaders {
		h.Del(v)
	}
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

// flushingCopy copies src to dst, flushing dst after every chunk so a
// streaming response (SSE or otherwise) reaches the client incrementally.
func flushingCopy(dst io.Writer, src io.Reader) {
	flusher, canFlush := dst.(http.Flusher)
	buf := make([]byte, 32*1024)
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return
			}
			if canFlush {
				flusher.Flush()
			}
		}
		if readErr != nil {
			return
		}
	}
}

// --- SSRF guard ---
//
// The proxy dials whatever host a client asks for, via an attacker-
// controlled Host header or CONNECT target. Without a check here, the
// proxy itself becomes an SSRF primitive into the host's private network.
// isPrivateIP/isPrivateHost block literal private, loopback, and
// link-local addresses; hostnames are resolved normally (DNS rebinding
// against a public hostname is a known residual risk of this class of
// check, but literal-IP SSRF is the common case worth closing here).

var privateCIDRs = mustParseCIDRs([]string{
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"::1/128",
	"fc00::/7",
	"fe80::/10",
})

func mustParseCIDRs(cidrs []string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(err)
		}
		nets = append(nets, n)
	}
	return nets
}

func isPrivateIP(ip net.IP) bool {
	if ip == nil {
		return false
	}
	for _, n := range privateCIDRs {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// isPrivateHost reports whether host (optionally "host:port" or
// "[ipv6]:port") is a literal private/loopback/link-local IP address. Bare
// hostnames are never resolved here — resolving then dialing separately
// would reintroduce the TOCTOU DNS-rebinding gap this check tries to
// avoid for the literal-IP case.
func isPrivateHost(host string) bool {
	h := host
	if hostOnly, _, err := net.SplitHostPort(host); err == nil {
		h = hostOnly
	}
	h = strings.TrimPrefix(strings.TrimSuffix(h, "]"), "[")
	ip := net.ParseIP(h)
	if ip == nil {
		return false
	}
	return isPrivateIP(ip)
}

// ssrfSafeDialContext wraps d so it refuses to dial a literal private
// address, for use as an http.Transport.DialContext.
func ssrfSafeDialContext(d *net.Dialer) func(ctx context.Context, network, addr string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		if isPrivateHost(addr) {
			return nil, fmt.Errorf("refusing to dial private address %q", addr)
		}
		return d.DialContext(ctx, network, addr)
	}
}

// dialSSRFSafe dials host (as used by CONNECT tunneling) with the same
// private-address guard as ssrfSafeDialContext.
func dialSSRFSafe(ctx context.Context, host string) (net.Conn, error) {
	if isPrivateHost(host) {
		return nil, fmt.Errorf("refusing to dial private address %q", host)
	}
	d := net.Dialer{Timeout: 20 * time.Second}
	return d.DialContext(ctx, "tcp", host)
}
