// Command proxy is the AI-anonymizing HTTP proxy server.
//
// It intercepts outbound HTTP requests to known AI APIs, anonymizes PII in the
// request body using a regex secret scanner and an external Presidio-compatible
// PII analyzer, then forwards the masked request to the original destination.
//
// Authentication and OAuth endpoints always pass through unchanged.
//
// Upstream proxy chaining (e.g. a corporate proxy) is automatic: Go's net/http
// reads HTTP_PROXY / HTTPS_PROXY / NO_PROXY from the environment. No extra
// configuration is required — set those env vars before starting this process.
//
// Usage:
//
//	# Direct internet access
//	./proxy
//
//	# Behind a corporate proxy
//	HTTPS_PROXY=http://corporate-proxy:8888 ./proxy
//
//	# Custom ports
//	PROXY_PORT=3128 MANAGEMENT_PORT=3129 ./proxy
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ai-anonymizing-proxy/internal/config"
	"ai-anonymizing-proxy/internal/detector"
	"ai-anonymizing-proxy/internal/logger"
	"ai-anonymizing-proxy/internal/management"
	"ai-anonymizing-proxy/internal/metrics"
	"ai-anonymizing-proxy/internal/orchestrator"
	"ai-anonymizing-proxy/internal/proxy"
)

func main() {
	cfg := config.Load()

	printBanner(cfg)

	// Build the management domain registry. Runtime domain changes are persisted
	// to ai-domains.json and restored into the registry on restart. The proxy
	// server builds its own AI domain set from cfg.AIAPIDomains at startup and
	// does not read this registry.
	registry := management.NewDomainRegistry(cfg, "ai-domains.json")

	// Shared metrics collector — passed to both servers so counters are unified.
	m := metrics.New()

	// Start management API in background.
	// Fatal is intentional: the proxy should not run without its control plane.
	mgmt := management.New(cfg, registry, m)
	go func() {
		if err := mgmt.ListenAndServe(); err != nil {
			log.Fatalf("[MANAGEMENT] Fatal: %v", err)
		}
	}()

	// Detector response cache: bbolt-backed with S3-FIFO eviction when a
	// cache file is configured, in-memory otherwise.
	cache := detector.NewMemoryCache()
	if path := cfg.PIIDetection.CacheFile; path != "" {
		if bc, err := detector.NewBboltCache(path); err != nil {
			log.Printf("[DETECTOR] Cache open error, using in-memory cache: %v", err)
		} else {
			cache = detector.NewS3FIFOCache(bc, cfg.PIIDetection.CacheCapacity)
		}
	}
	defer func() {
		if err := cache.Close(); err != nil {
			log.Printf("[PROXY] Cache close error: %v", err)
		}
	}()

	det := detector.NewWithCache(cfg.PIIDetection.PresidioURL, logger.New("DETECTOR", cfg.LogLevel), cache)
	engine := orchestrator.New(det, logger.New("ORCHESTRATOR", cfg.LogLevel), m)

	// Start proxy server
	proxyServer := proxy.New(cfg, engine, logger.New("PROXY", cfg.LogLevel), m)

	addr := fmt.Sprintf("%s:%d", cfg.BindAddress, cfg.ProxyPort)
	log.Printf("[PROXY] Listening on %s", addr)

	srv := &http.Server{
		Addr:              addr,
		Handler:           proxyServer,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown on SIGINT / SIGTERM
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		log.Printf("[PROXY] Shutting down…")
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("[PROXY] Shutdown error: %v", err)
		}
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("[PROXY] Fatal: %v", err)
	}
}

func printBanner(cfg *config.Config) {
	upstreamProxy := os.Getenv("HTTPS_PROXY")
	if upstreamProxy == "" {
		upstreamProxy = os.Getenv("HTTP_PROXY")
	}
	if upstreamProxy == "" {
		upstreamProxy = "(direct — set HTTP_PROXY or HTTPS_PROXY to chain upstream)"
	}

	fmt.Printf(`
╔══════════════════════════════════════════════════════╗
║          AI Anonymizing Proxy  (Go)                  ║
╚══════════════════════════════════════════════════════╝
  Proxy port      : %d
  Management port : %d
  Upstream proxy  : %s
  Mode            : %s
  Presidio URL    : %s
  PII detection   : %v

  Point clients here:
    export HTTP_PROXY=http://localhost:%d
    export HTTPS_PROXY=http://localhost:%d

  Check status:
    curl http://localhost:%d/status
`, cfg.ProxyPort, cfg.ManagementPort,
		upstreamProxy,
		cfg.Mode, cfg.PIIDetection.PresidioURL, cfg.PIIDetection.Enabled,
		cfg.ProxyPort, cfg.ProxyPort,
		cfg.ManagementPort)
}
