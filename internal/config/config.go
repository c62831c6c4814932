package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultPort              = "8080"
	defaultSessionCookieName = "ore_session"
	defaultSessionTTLHours   = 168
	defaultModel             = "openai/gpt-oss-120b"
	defaultOpenRouterBaseURL = "https://openrouter.ai/api/v1"
	defaultFrontendOrigin    = "https://ore-ai.sanetomore.com"
)

type Config struct {
	Port                     string
	Environment              string
	FrontendOrigin           string
	AllowedOrigins           []string
	AuthRequired             bool
	CookieSecure             bool
	SessionCookieName        string
	SessionTTL               time.Duration
	AllowedGoogleEmails      map[string]struct{}
	GoogleClientID           string
	InsecureSkipGoogleVerify bool
	TursoDatabaseURL         string
	TursoAuthToken           string

	OpenRouterAPIKey  string
	OpenRouterBaseURL string
	Model             string

	MCPServerURL      string
	MCPInternalSecret string
	MCPProxyURL       string
	IPHashSecret      string

	AgentSystemPrompt          string
	AgentSystemPromptObjectKey string
	AgentPromptsBucket         string
}

func (c Config) ListenAddress() string {
	return fmt.Sprintf(":%s", c.Port)
}

func Load() (Config, error) {
	cfg := Config{
		Port:                     envOrDefault("PORT", defaultPort),
		Environment:              envOrDefault("APP_ENV", "development"),
		FrontendOrigin:           envOrDefault("FRONTEND_ORIGIN", defaultFrontendOrigin),
		AuthRequired:             boolOrDefault("AUTH_REQUIRED", true),
		CookieSecure:             boolOrDefault("COOKIE_SECURE", false),
		SessionCookieName:        envOrDefault("SESSION_COOKIE_NAME", defaultSessionCookieName),
		GoogleClientID:           strings.TrimSpace(os.Getenv("GOOGLE_CLIENT_ID")),
		InsecureSkipGoogleVerify: boolOrDefault("AUTH_INSECURE_SKIP_GOOGLE_VERIFY", false),
		TursoDatabaseURL:         strings.TrimSpace(os.Getenv("TURSO_DATABASE_URL")),
		TursoAuthToken:           strings.TrimSpace(os.Getenv("TURSO_AUTH_TOKEN")),

		OpenRouterAPIKey:  strings.TrimSpace(os.Getenv("OPENROUTER_API_KEY")),
		OpenRouterBaseURL: envOrDefault("OPENROUTER_BASE_URL", defaultOpenRouterBaseURL),
		Model:             envOrDefault("AGENT_MODEL", defaultModel),

		MCPServerURL:      strings.TrimSpace(os.Getenv("MCP_SERVER_URL")),
		MCPInternalSecret: strings.TrimSpace(os.Getenv("MCP_INTERNAL_SHARED_SECRET")),
		MCPProxyURL:       strings.TrimSpace(os.Getenv("MCP_PROXY_URL")),
		IPHashSecret:      strings.TrimSpace(os.Getenv("IP_HASH_SECRET")),

		AgentSystemPrompt:          strings.TrimSpace(os.Getenv("AGENT_SYSTEM_PROMPT")),
		AgentSystemPromptObjectKey: strings.TrimSpace(os.Getenv("AGENT_SYSTEM_PROMPT_OBJECT_KEY")),
		AgentPromptsBucket:         strings.TrimSpace(os.Getenv("AGENT_PROMPTS_BUCKET")),
	}

	if cfg.Environment == "production" {
		cfg.CookieSecure = true
	}

	sessionTTLHours := intOrDefault("SESSION_TTL_HOURS", defaultSessionTTLHours)
	cfg.SessionTTL = time.Duration(sessionTTLHours) * time.Hour
	if cfg.SessionTTL <= 0 {
		return Config{}, errors.New("SESSION_TTL_HOURS must be > 0")
	}

	emails := envOrDefault("ALLOWED_GOOGLE_EMAILS", "acastesol@gmail.com,obzen.black@gmail.com")
	cfg.AllowedGoogleEmails = parseEmailSet(emails)

	origins := parseList(envOrDefault("CORS_ALLOWED_ORIGINS", cfg.FrontendOrigin+",http://localhost:5173,http://localhost:4173"))
	if len(origins) == 0 {
		return Config{}, errors.New("CORS_ALLOWED_ORIGINS must include at least one origin")
	}
	cfg.AllowedOrigins = origins

	if cfg.TursoDatabaseURL == "" {
		return Config{}, errors.New("TURSO_DATABASE_URL is required")
	}
	if strings.HasPrefix(cfg.TursoDatabaseURL, "libsql://") && cfg.TursoAuthToken == "" {
		return Config{}, errors.New("TURSO_AUTH_TOKEN is required for libsql:// URLs")
	}
	if cfg.AuthRequired && !cfg.InsecureSkipGoogleVerify && cfg.GoogleClientID == "" {
		return Config{}, errors.New("GOOGLE_CLIENT_ID is required unless AUTH_INSECURE_SKIP_GOOGLE_VERIFY=true")
	}

	if cfg.MCPServerURL == "" {
		return Config{}, errors.New("MCP_SERVER_URL is required")
	}
	if err := validateHTTPURL(cfg.MCPServerURL); err != nil {
		return Config{}, fmt.Errorf("MCP_SERVER_URL is invalid: %w", err)
	}
	if cfg.MCPInternalSecret == "" {
		return Config{}, errors.New("MCP_INTERNAL_SHARED_SECRET is required")
	}
	if cfg.MCPProxyURL != "" {
		if err := validateHTTPURL(cfg.MCPProxyURL); err != nil {
			return Config{}, fmt.Errorf("MCP_PROXY_URL is invalid: %w", err)
		}
	}
	// Hashed client addresses must not be reversible by rainbow table, so a
	// salt is always present. The internal secret is the fallback salt.
	if cfg.IPHashSecret == "" {
		cfg.IPHashSecret = cfg.MCPInternalSecret
	}
	if cfg.AgentSystemPromptObjectKey != "" && cfg.AgentPromptsBucket == "" {
		return Config{}, errors.New("AGENT_PROMPTS_BUCKET is required when AGENT_SYSTEM_PROMPT_OBJECT_KEY is set")
	}

	return cfg, nil
}

func validateHTTPURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return errors.New("missing host")
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func boolOrDefault(key string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

func intOrDefault(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

func parseList(raw string) []string {
	items := strings.Split(raw, ",")
	out := make([]string, 0, len(items))
	for _, item := range items {
		trimmed := strings.TrimSpace(item)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func parseEmailSet(raw string) map[string]struct{} {
	emails := parseList(raw)
	out := make(map[string]struct{}, len(emails))
	for _, email := range emails {
		out[strings.ToLower(email)] = struct{}{}
	}
	return out
}
