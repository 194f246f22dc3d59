// Package config loads and holds all proxy configuration.
// Settings are layered: defaults → proxy-config.json → environment variables (env vars win).
// The UpstreamProxy field / UPSTREAM_PROXY env var is loaded but not used for
// forwarding; upstream chaining comes from HTTP_PROXY / HTTPS_PROXY / NO_PROXY.
package config

import (
	"encoding/json"
	"log"
	"os"
	"strconv"
	"strings"
)

// Config holds the full proxy configuration.
type Config struct {
	ProxyPort      int    `json:"proxyPort"`
	ManagementPort int    `json:"managementPort"`
	LogLevel       string `json:"logLevel"`

	CACertFile      string `json:"caCertFile"`
	CAKeyFile       string `json:"caKeyFile"`
	BindAddress     string `json:"bindAddress"`
	ManagementToken string `json:"managementToken"`
	UpstreamProxy   string `json:"upstreamProxy"`

	AIAPIDomains []string `json:"aiApiDomains"`
	AuthDomains  []string `json:"authDomains"`
	AuthPaths    []string `json:"authPaths"`

	// Mode selects what the orchestrator does once entities are found:
	// "mask" (default) always forwards the masked request; "route"
	// forwards the original request unmasked and signals the caller to
	// dispatch it to an on-premise provider instead.
	Mode string `json:"mode"`

	PIIDetection PIIDetectionConfig `json:"piiDetection"`
	Masking      MaskingConfig      `json:"masking"`
	Providers    map[string]ProviderConfig `json:"providers"`
}

// PIIDetectionConfig configures the external PII analyzer and the secret
// scanner that runs alongside it.
type PIIDetectionConfig struct {
	Enabled        bool     `json:"enabled"`
	PresidioURL    string   `json:"presidioUrl"`
	Entities       []string `json:"entities"`
	ScoreThreshold float64  `json:"scoreThreshold"`
	Whitelist      []string `json:"whitelist"`
	Languages      []string `json:"languages"`
	CacheFile      string   `json:"cacheFile"` // path to bbolt detector-response cache; empty = in-memory only
	CacheCapacity  int      `json:"cacheCapacity"`
}

// MaskingConfig configures the response unmasker (spec §4.8).
type MaskingConfig struct {
	ShowMarkers bool   `json:"showMarkers"`
	MarkerText  string `json:"markerText"`
}

// ProviderConfig holds the per-provider dispatch target used by the
// orchestrator's route-mode decision and by request forwarding generally.
type ProviderConfig struct {
	BaseURL string `json:"baseUrl"`
	APIKey  string `json:"apiKey"`
}

// Load returns config with defaults overridden by proxy-config.json and env vars.
func Load() *Config {
	cfg := defaults()
	loadFile(cfg, "proxy-config.json")
	loadEnv(cfg)
	return cfg
}

func defaults() *Config {
	return &Config{
		ProxyPort:      8080,
		ManagementPort: 8081,
		LogLevel:       "info",
		CACertFile:     "ca-cert.pem",
		CAKeyFile:      "ca-key.pem",
		BindAddress:    "127.0.0.1",
		Mode:           "mask",
		AIAPIDomains: []string{
			"api.anthropic.com",
			"api.openai.com",
			"api.cohere.ai",
			"generativelanguage.googleapis.com",
			"api.mistral.ai",
			"api.together.xyz",
			"api.perplexity.ai",
			"api.replicate.com",
			"api.huggingface.co",
		},
		AuthDomains: []string{
			"accounts.google.com",
			"login.microsoftonline.com",
			"auth0.com",
			"okta.com",
		},
		AuthPaths: []string{
			"/auth", "/login", "/signin", "/signup", "/register",
			"/token", "/oauth", "/authenticate", "/session",
			"/v1/auth", "/api/auth", "/api/login", "/api/token",
		},
		PIIDetection: PIIDetectionConfig{
			Enabled:        true,
			PresidioURL:    "http://localhost:5002",
			Entities:       nil, // empty = let the analyzer use its own default entity set
			ScoreThreshold: 0.6,
			Whitelist:      nil,
			Languages:      []string{"en"},
			CacheFile:      "detector-cache.db",
			CacheCapacity:  50_000,
		},
		Masking: MaskingConfig{
			ShowMarkers: false,
			MarkerText:  "[protected]",
		},
		Providers: map[string]ProviderConfig{},
	}
}

func loadFile(cfg *Config, path string) {
	data, err := os.ReadFile(path) //nolint:gosec // G703: path is a controlled config file path, not user input
	if err != nil {
		return // file is optional
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		log.Printf("[CONFIG] Warning: could not parse %s: %v", path, err)
	} else {
		log.Printf("[CONFIG] Loaded %s", path)
	}
}

func loadEnv(cfg *Config) {
	if v := os.Getenv("PROXY_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ProxyPort = n
		}
	}
	if v := os.Getenv("MANAGEMENT_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ManagementPort = n
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("CA_CERT_FILE"); v != "" {
		cfg.CACertFile = v
	}
	if v := os.Getenv("CA_KEY_FILE"); v != "" {
		cfg.CAKeyFile = v
	}
	if v := os.Getenv("BIND_ADDRESS"); v != "" {
		cfg.BindAddress = v
	}
	if v := os.Getenv("MANAGEMENT_TOKEN"); v != "" {
		cfg.ManagementToken = v
	}
	if v := os.Getenv("UPSTREAM_PROXY"); v != "" {
		cfg.UpstreamProxy = v
	}
	if v := os.Getenv("MODE"); v == "mask" || v == "route" {
		cfg.Mode = v
	}

	if v := os.Getenv("PII_DETECTION_ENABLED"); v == "false" {
		cfg.PIIDetection.Enabled = false
	}
	if v := os.Getenv("PRESIDIO_URL"); v != "" {
		cfg.PIIDetection.PresidioURL = v
	}
	if v := os.Getenv("PII_ENTITIES"); v != "" {
		cfg.PIIDetection.Entities = splitCSV(v)
	}
	if v := os.Getenv("PII_SCORE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.PIIDetection.ScoreThreshold = f
		}
	}
	if v := os.Getenv("PII_WHITELIST"); v != "" {
		cfg.PIIDetection.Whitelist = splitCSV(v)
	}
	if v := os.Getenv("PII_LANGUAGES"); v != "" {
		cfg.PIIDetection.Languages = splitCSV(v)
	}
	if v := os.Getenv("DETECTOR_CACHE_FILE"); v != "" {
		cfg.PIIDetection.CacheFile = v
	}

	if v := os.Getenv("MASKING_SHOW_MARKERS"); v == "true" {
		cfg.Masking.ShowMarkers = true
	}
	if v := os.Getenv("MASKING_MARKER_TEXT"); v != "" {
		cfg.Masking.MarkerText = v
	}
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
