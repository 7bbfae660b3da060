// Package cmd provides the supergateway CLI command.
package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/supercorp-ai/supergateway/internal/admin"
	"github.com/supercorp-ai/supergateway/internal/bridge"
	"github.com/supercorp-ai/supergateway/internal/child"
	"github.com/supercorp-ai/supergateway/internal/config"
	"github.com/supercorp-ai/supergateway/internal/framing"
	"github.com/supercorp-ai/supergateway/internal/runtime"
	"github.com/supercorp-ai/supergateway/internal/session"
	"github.com/supercorp-ai/supergateway/internal/telemetry"
	"github.com/supercorp-ai/supergateway/pkg/mcp"
)

var rootCmd = &cobra.Command{
	Use:   "supergateway",
	Short: "Bridge MCP transports: stdio, SSE, WebSocket, Streamable HTTP",
	Long: `Supergateway bridges Model Context Protocol transports.

Exactly one of --stdio, --sse, or --streamableHttp selects the input side.
--stdio spawns a child MCP server and exposes it over --outputTransport
(sse, ws, or streamableHttp). --sse and --streamableHttp instead dial a
remote MCP server and present it locally as an MCP stdio server.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runSupergateway,
}

func init() {
	config.BindFlags(rootCmd, viper.GetViper())
}

// Execute runs the root command, mapping failures onto the spec's exit
// code contract: 1 for configuration errors, 2 for a fatal child-spawn (or
// equivalent initial-connection) failure in a single-child mode.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if code, ok := err.(exitCoder); ok {
			os.Exit(code.ExitCode())
		}
		os.Exit(1)
	}
}

type exitCoder interface {
	error
	ExitCode() int
}

type exitError struct {
	error
	code int
}

func (e *exitError) ExitCode() int { return e.code }

func fatalf(code int, format string, args ...any) error {
	return &exitError{error: fmt.Errorf(format, args...), code: code}
}

func runSupergateway(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cmd, viper.GetViper())
	if err != nil {
		return fatalf(1, "configuration error: %w", err)
	}

	logger := buildLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	defer stop()
	go func() {
		<-ctx.Done()
		stop()
	}()

	tel, err := telemetry.New(ctx, "supergateway")
	if err != nil {
		logger.Warn("telemetry disabled", "error", err)
		tel = &telemetry.Providers{}
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tel.Shutdown(shutdownCtx)
	}()

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector())
	metrics := bridge.NewMetrics(promReg)

	headers := mergeOAuthHeader(cfg.Headers, cfg.OAuth2Bearer)
	overridesReg := runtime.New(runtime.Patch{Headers: headers})

	switch cfg.InputMode() {
	case config.InputSSE:
		return runReverseSSE(ctx, cfg, overridesReg, logger)
	case config.InputStreamableHTTP:
		return runReverseHTTP(ctx, cfg, overridesReg, logger)
	default:
		return runStdioInput(ctx, cfg, overridesReg, metrics, promReg, logger)
	}
}

// buildLogger constructs the single process-wide slog.Logger, written to
// stderr (stdout is reserved for the MCP byte stream in stdio output-
// transport mode), matching the teacher's start.go logger setup.
func buildLogger(level config.LogLevel) *slog.Logger {
	var w io.Writer = os.Stderr
	slogLevel := slog.LevelInfo
	switch level {
	case config.LogDebug:
		slogLevel = slog.LevelDebug
	case config.LogNone:
		w = io.Discard
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slogLevel}))
}

// mergeOAuthHeader folds --oauth2Bearer into the header map as a
// conventional Authorization: Bearer header, without mutating cfg.Headers.
func mergeOAuthHeader(headers map[string]string, bearer string) map[string]string {
	merged := make(map[string]string, len(headers)+1)
	for k, v := range headers {
		merged[k] = v
	}
	if bearer != "" {
		merged["Authorization"] = "Bearer " + bearer
	}
	return merged
}

// runReverseSSE implements the --sse input mode: dial a remote SSE server
// and present it locally over stdio.
func runReverseSSE(ctx context.Context, cfg *config.Config, overrides *runtime.Registry, logger *slog.Logger) error {
	snap := overrides.Defaults()
	a := bridge.NewSSEStdio(cfg.SSE, snap.Headers, logger)
	if err := a.Run(ctx, os.Stdin, os.Stdout); err != nil && ctx.Err() == nil {
		return fatalf(2, "sse bridge failed: %w", err)
	}
	return nil
}

// runReverseHTTP implements the --streamableHttp input mode: dial a remote
// Streamable HTTP server and present it locally over stdio.
func runReverseHTTP(ctx context.Context, cfg *config.Config, overrides *runtime.Registry, logger *slog.Logger) error {
	snap := overrides.Defaults()
	a := bridge.NewHTTPStdio(cfg.StreamableHTTPURL, snap.Headers, logger)
	if err := a.Run(ctx, os.Stdin, os.Stdout); err != nil && ctx.Err() == nil {
		return fatalf(2, "streamable http bridge failed: %w", err)
	}
	return nil
}

// runStdioInput implements the --stdio input mode: spawn a child and
// expose it over the configured output transport.
func runStdioInput(ctx context.Context, cfg *config.Config, overrides *runtime.Registry, metrics *bridge.Metrics, promReg *prometheus.Registry, logger *slog.Logger) error {
	words, err := splitCommandLine(cfg.Stdio)
	if err != nil {
		return fatalf(1, "configuration error: invalid --stdio command: %w", err)
	}
	command, cmdArgs := words[0], words[1:]

	if cfg.OutputTransport == config.OutputStreamableHTTP && cfg.Stateful {
		return runStatefulHTTP(ctx, cfg, overrides, metrics, promReg, command, cmdArgs, logger)
	}

	defaults := overrides.Defaults()
	sup := child.New(command, cmdArgs, logger)
	if err := sup.Spawn(ctx, defaults.ExtraCLIArgs, defaults.Env); err != nil {
		return fatalf(2, "failed to spawn child %q: %w", command, err)
	}
	defer func() { _ = sup.Shutdown() }()

	watchDefaultRestarts(ctx, overrides, sup, metrics, logger)

	adminHandler := admin.New(overrides, logger, admin.WithDefaultChild(sup))
	stopAdmin := startAdminSurface(ctx, cfg, overrides, adminHandler, logger)
	defer stopAdmin()

	switch cfg.OutputTransport {
	case config.OutputSSE:
		a := bridge.NewStdioSSE(cfg.SSEPath, cfg.MessagePath, cfg.BaseURL, sup, logger)
		return serveHTTP(ctx, cfg, "sse", a.Routes(), nil, metrics, promReg, logger)
	case config.OutputWS:
		a := bridge.NewStdioWS(cfg.MessagePath, sup, logger)
		return serveHTTP(ctx, cfg, "ws", a.Routes(), a.Health(), metrics, promReg, logger)
	case config.OutputStreamableHTTP:
		a := bridge.NewStdioHTTPStateless(cfg.StreamableHTTPPath, cfg.ProtocolVersion, sup, logger)
		return serveHTTP(ctx, cfg, "streamableHttp", a.Routes(), nil, metrics, promReg, logger)
	default:
		return runStdioPassthrough(ctx, sup, logger)
	}
}

func runStatefulHTTP(ctx context.Context, cfg *config.Config, overrides *runtime.Registry, metrics *bridge.Metrics, promReg *prometheus.Registry, command string, cmdArgs []string, logger *slog.Logger) error {
	sessions := session.New(cfg.SessionTimeout, logger)
	defer sessions.Shutdown()

	newChild := func(ctx context.Context, extraArgs []string, env map[string]string) (*child.Supervisor, error) {
		sup := child.New(command, cmdArgs, logger)
		if err := sup.Spawn(ctx, extraArgs, env); err != nil {
			return nil, err
		}
		return sup, nil
	}

	a := bridge.NewStdioHTTPStateful(cfg.StreamableHTTPPath, cfg.ProtocolVersion, sessions, overrides, newChild, logger)
	sessions.OnEvict(a.HandleEviction)

	adminHandler := admin.New(overrides, logger, admin.WithSessions(sessions))
	stopAdmin := startAdminSurface(ctx, cfg, overrides, adminHandler, logger)
	defer stopAdmin()

	return serveHTTP(ctx, cfg, "streamableHttp", a.Routes(), nil, metrics, promReg, logger)
}

// serveHTTP wraps routes with CORS, request logging, and metrics
// middleware, mounts /metrics, and runs the server until ctx is cancelled.
// The --healthEndpoint paths are mounted only when health is non-nil, which
// is the ws output mode; the sse and streamableHttp modes do not serve them.
func serveHTTP(ctx context.Context, cfg *config.Config, mode string, routes http.Handler, health *bridge.HealthChecker, metrics *bridge.Metrics, promReg *prometheus.Registry, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
	if health != nil {
		for _, path := range cfg.HealthEndpoints {
			mux.Handle(path, health.Handler())
		}
	}
	mux.Handle("/", routes)

	cors := bridge.NewCORSPolicy(cfg.CORS)
	handler := bridge.RequestLogging(logger)(cors.Middleware(metrics.Middleware(mode, mux)))

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()

	logger.Info("supergateway listening", "mode", mode, "port", cfg.Port)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fatalf(2, "http server failed: %w", err)
		}
		return nil
	}
}

// runStdioPassthrough relays local stdin to the child and the child's
// stdout back to local stdout, for the degenerate --outputTransport stdio
// case (useful mainly for testing a --stdio command in isolation).
func runStdioPassthrough(ctx context.Context, sup *child.Supervisor, logger *slog.Logger) error {
	ch, unsubscribe := sup.Subscribe()
	defer unsubscribe()

	enc := framing.NewEncoder(os.Stdout)
	go func() {
		for msg := range ch {
			if err := enc.WriteRaw(msg.Raw); err != nil {
				logger.Warn("stdio passthrough: write failed", "error", err)
				return
			}
		}
	}()

	go func() {
		dec := framing.NewDecoder(os.Stdin, mcp.ClientToServer, func(line []byte, err error) {
			logger.Warn("stdio passthrough: discarding unparsable line", "error", err, "line", string(line))
		})
		for {
			msg, ok := dec.Next()
			if !ok {
				return
			}
			if err := sup.Send(msg.Raw); err != nil {
				logger.Warn("stdio passthrough: send failed", "error", err)
				return
			}
		}
	}()

	<-ctx.Done()
	return nil
}

// watchDefaultRestarts restarts sup whenever an admin patch to the
// defaults scope requires it.
func watchDefaultRestarts(ctx context.Context, overrides *runtime.Registry, sup *child.Supervisor, metrics *bridge.Metrics, logger *slog.Logger) {
	events, unsubscribe := overrides.Subscribe("defaults")
	go func() {
		defer unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				if ev.Kind != runtime.RequiresRestart {
					continue
				}
				snap := overrides.Defaults()
				if err := sup.Restart(ctx, snap.ExtraCLIArgs, snap.Env); err != nil {
					logger.Warn("default child restart failed", "error", err)
					continue
				}
				metrics.ChildRestarts.WithLabelValues("defaults").Inc()
			}
		}
	}()
}

// startAdminSurface mounts the admin HTTP handler on its loopback listener
// (when --runtimeAdminPort > 0) and starts the interactive prompt (when
// --runtimePrompt is set). Returns a function to call at shutdown.
func startAdminSurface(ctx context.Context, cfg *config.Config, overrides *runtime.Registry, handler *admin.Handler, logger *slog.Logger) func() {
	var stopFns []func()

	if cfg.RuntimeAdminPort > 0 {
		addr, serve, err := admin.ListenLoopback(cfg.RuntimeAdminPort)
		if err != nil {
			logger.Warn("admin surface disabled", "error", err)
		} else {
			logger.Info("admin surface listening", "addr", addr)
			go func() {
				if err := serve(handler.Routes()); err != nil && err != http.ErrServerClosed {
					logger.Warn("admin surface stopped", "error", err)
				}
			}()
		}
	}

	if cfg.RuntimePrompt {
		prompt := admin.NewPrompt(overrides, handler, logger)
		promptCtx, cancel := context.WithCancel(ctx)
		go func() {
			if err := prompt.Run(promptCtx, os.Stdin, os.Stderr); err != nil && promptCtx.Err() == nil {
				logger.Warn("runtime prompt stopped", "error", err)
			}
		}()
		stopFns = append(stopFns, cancel)
	}

	return func() {
		for _, fn := range stopFns {
			fn()
		}
	}
}
