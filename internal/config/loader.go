package config

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// envPrefix is the environment variable prefix every flag is bound under,
// e.g. --sessionTimeout binds to SUPERGATEWAY_SESSIONTIMEOUT.
const envPrefix = "SUPERGATEWAY"

// BindFlags registers every Supergateway flag on cmd with its documented
// default, and binds each to a SUPERGATEWAY_-prefixed environment variable
// via viper. There is no config file: this is the entirety of Supergateway's
// configuration surface.
func BindFlags(cmd *cobra.Command, v *viper.Viper) {
	d := Defaults()
	flags := cmd.Flags()

	flags.String("stdio", d.Stdio, "command to spawn an MCP stdio server")
	flags.String("sse", d.SSE, "URL of a remote MCP SSE server to bridge from")
	flags.String("streamableHttp", d.StreamableHTTPURL, "URL of a remote MCP Streamable HTTP server to bridge from")
	flags.String("outputTransport", string(d.OutputTransport), "stdio|sse|ws|streamableHttp")
	flags.Int("port", d.Port, "port to listen on for HTTP-based output transports")
	flags.String("baseUrl", d.BaseURL, "externally visible base URL used to build SSE endpoint events")
	flags.String("ssePath", d.SSEPath, "path for the SSE stream endpoint")
	flags.String("messagePath", d.MessagePath, "path for the SSE companion POST endpoint")
	flags.String("streamableHttpPath", d.StreamableHTTPPath, "path for the Streamable HTTP endpoint")
	flags.Bool("stateful", d.Stateful, "enable session-registry-backed Streamable HTTP")
	flags.Duration("sessionTimeout", d.SessionTimeout, "idle timeout before a stateful session is evicted")
	flags.StringArray("header", nil, `extra header to send upstream, "K: V" (repeatable)`)
	flags.String("oauth2Bearer", d.OAuth2Bearer, "bearer token added as Authorization header")
	flags.String("logLevel", string(d.LogLevel), "debug|info|none")
	flags.StringArray("cors", nil, "enable CORS; repeatable; no value means allow-all; /regex/ supported")
	cmd.Flags().Lookup("cors").NoOptDefVal = ""
	flags.StringArray("healthEndpoint", nil, "path that returns 200 ok when healthy (repeatable; served in ws output mode)")
	flags.String("protocolVersion", d.ProtocolVersion, "MCP protocol version to negotiate on auto-issued initialize calls")
	flags.Bool("runtimePrompt", d.RuntimePrompt, "enable the interactive stdin runtime-override prompt")
	flags.Int("runtimeAdminPort", d.RuntimeAdminPort, "loopback port for the admin HTTP surface (0 disables it)")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for _, name := range []string{
		"stdio", "sse", "streamableHttp", "outputTransport", "port", "baseUrl",
		"ssePath", "messagePath", "streamableHttpPath", "stateful", "sessionTimeout",
		"header", "oauth2Bearer", "logLevel", "cors", "healthEndpoint",
		"protocolVersion", "runtimePrompt", "runtimeAdminPort",
	} {
		_ = v.BindPFlag(name, flags.Lookup(name))
	}
}

// Load reads the bound flags/env into a validated Config. outputTransport
// defaults to "sse" when --stdio is set and the flag was left at its
// stdio default, else "stdio", matching the CLI's documented default rule.
func Load(cmd *cobra.Command, v *viper.Viper) (*Config, error) {
	cfg := Defaults()

	cfg.Stdio = v.GetString("stdio")
	cfg.SSE = v.GetString("sse")
	cfg.StreamableHTTPURL = v.GetString("streamableHttp")
	cfg.Port = v.GetInt("port")
	cfg.BaseURL = v.GetString("baseUrl")
	cfg.SSEPath = v.GetString("ssePath")
	cfg.MessagePath = v.GetString("messagePath")
	cfg.StreamableHTTPPath = v.GetString("streamableHttpPath")
	cfg.Stateful = v.GetBool("stateful")
	cfg.SessionTimeout = v.GetDuration("sessionTimeout")
	cfg.OAuth2Bearer = v.GetString("oauth2Bearer")
	cfg.LogLevel = LogLevel(v.GetString("logLevel"))
	cfg.HealthEndpoints = v.GetStringSlice("healthEndpoint")
	cfg.ProtocolVersion = v.GetString("protocolVersion")
	cfg.RuntimePrompt = v.GetBool("runtimePrompt")
	cfg.RuntimeAdminPort = v.GetInt("runtimeAdminPort")

	headers, err := parseHeaders(v.GetStringSlice("header"))
	if err != nil {
		return nil, err
	}
	cfg.Headers = headers

	if !cmd.Flags().Changed("outputTransport") {
		if cfg.Stdio != "" {
			cfg.OutputTransport = OutputSSE
		} else {
			cfg.OutputTransport = OutputStdio
		}
	} else {
		cfg.OutputTransport = OutputTransport(v.GetString("outputTransport"))
	}

	if cmd.Flags().Changed("cors") {
		cfg.CORS = v.GetStringSlice("cors")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// parseHeaders turns ["K: V", "X-A:1"] into a map, trimming surrounding
// whitespace around both the name and the value.
func parseHeaders(raw []string) (map[string]string, error) {
	headers := make(map[string]string, len(raw))
	for _, entry := range raw {
		idx := strings.IndexByte(entry, ':')
		if idx < 0 {
			return nil, fmt.Errorf(`header %q must be in "Name: Value" form`, entry)
		}
		name := strings.TrimSpace(entry[:idx])
		value := strings.TrimSpace(entry[idx+1:])
		if name == "" {
			return nil, fmt.Errorf(`header %q has an empty name`, entry)
		}
		headers[name] = value
	}
	return headers, nil
}
