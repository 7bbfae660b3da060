// Package config defines Supergateway's flat, flag-driven configuration and
// its validation rules. There is no YAML file: every setting is a CLI flag,
// each with a SUPERGATEWAY_-prefixed environment variable fallback bound by
// loader.go.
package config

import "time"

// InputMode names which of the three mutually-exclusive input transports is
// active.
type InputMode string

const (
	InputStdio           InputMode = "stdio"
	InputSSE              InputMode = "sse"
	InputStreamableHTTP InputMode = "streamableHttp"
)

// OutputTransport names the transport Supergateway exposes to inbound
// clients when the input side is a stdio child.
type OutputTransport string

const (
	OutputStdio          OutputTransport = "stdio"
	OutputSSE            OutputTransport = "sse"
	OutputWS             OutputTransport = "ws"
	OutputStreamableHTTP OutputTransport = "streamableHttp"
)

// LogLevel is the boundary log verbosity, mapped onto log/slog levels.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogNone  LogLevel = "none"
)

// Config is the fully parsed and validated set of flags a Supergateway
// process was started with.
type Config struct {
	// Input mode: exactly one of Stdio, SSE, StreamableHTTPURL is set.
	Stdio             string `validate:"required_without_all=SSE StreamableHTTPURL"`
	SSE               string `validate:"omitempty,url"`
	StreamableHTTPURL string `validate:"omitempty,url"`

	OutputTransport OutputTransport `validate:"required,oneof=stdio sse ws streamableHttp"`

	Port    int    `validate:"min=1,max=65535"`
	BaseURL string

	SSEPath             string `validate:"required"`
	MessagePath         string `validate:"required"`
	StreamableHTTPPath string `validate:"required"`

	Stateful       bool
	SessionTimeout time.Duration `validate:"min=0"`

	Headers       map[string]string
	OAuth2Bearer  string
	LogLevel      LogLevel `validate:"required,oneof=debug info none"`

	// CORS holds the raw --cors values: nil means disabled, a single empty
	// string means "allow all", any other entries are literal origins or
	// /regex/ patterns.
	CORS []string

	HealthEndpoints []string

	ProtocolVersion string `validate:"required"`

	RuntimePrompt    bool
	RuntimeAdminPort int `validate:"min=0,max=65535"`
}

// Defaults returns a Config pre-populated with every documented flag
// default, before flag/env parsing overrides them.
func Defaults() Config {
	return Config{
		OutputTransport:    OutputStdio,
		Port:               8000,
		SSEPath:            "/sse",
		MessagePath:        "/message",
		StreamableHTTPPath: "/mcp",
		SessionTimeout:     60 * time.Second,
		LogLevel:           LogInfo,
		ProtocolVersion:    "2025-06-18",
		Headers:            map[string]string{},
	}
}

// InputMode reports which input transport this config selects.
func (c Config) InputMode() InputMode {
	switch {
	case c.SSE != "":
		return InputSSE
	case c.StreamableHTTPURL != "":
		return InputStreamableHTTP
	default:
		return InputStdio
	}
}

// CORSEnabled reports whether --cors was supplied at all.
func (c Config) CORSEnabled() bool {
	return c.CORS != nil
}

// CORSAllowAll reports whether --cors was given with no value, i.e. allow
// every origin.
func (c Config) CORSAllowAll() bool {
	return len(c.CORS) == 1 && c.CORS[0] == ""
}
