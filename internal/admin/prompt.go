package admin

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/supercorp-ai/supergateway/internal/runtime"
)

// promptLine is the JSON shape the interactive prompt accepts: a patch
// plus an optional session id. An absent id targets the defaults.
type promptLine struct {
	SessionID string `json:"session_id"`
	runtime.Patch
}

// Prompt reads one JSON patch per line from in (typically os.Stdin) and
// applies it to the override registry, echoing the resulting ChangeKind to
// out. Grounded on the teacher's preference for a small single-purpose
// cmd-level file rather than folding this into the server start path.
type Prompt struct {
	overrides *runtime.Registry
	handler   *Handler
	logger    *slog.Logger
}

// NewPrompt builds a Prompt over the shared registry and admin handler (so
// a session-targeted patch restarts that session's child the same way the
// HTTP route does).
func NewPrompt(overrides *runtime.Registry, handler *Handler, logger *slog.Logger) *Prompt {
	if logger == nil {
		logger = slog.Default()
	}
	return &Prompt{overrides: overrides, handler: handler, logger: logger}
}

// Run blocks reading lines from in until in reaches EOF. ctx is checked
// after each line is read, so a cancelled ctx stops Run at the next line
// rather than interrupting a pending read.
func (p *Prompt) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		p.applyLine(line, out)
	}
	return scanner.Err()
}

func (p *Prompt) applyLine(line string, out io.Writer) {
	var parsed promptLine
	if err := json.Unmarshal([]byte(line), &parsed); err != nil {
		fmt.Fprintf(out, "error: invalid patch: %v\n", err)
		return
	}

	var kind runtime.ChangeKind
	if parsed.SessionID == "" {
		kind = p.overrides.SetDefaults(parsed.Patch)
		if kind == runtime.RequiresRestart && p.handler.defaultChild != nil {
			go func() {
				snap := p.overrides.Defaults()
				if err := p.handler.defaultChild.Restart(context.Background(), snap.ExtraCLIArgs, snap.Env); err != nil {
					p.logger.Warn("admin prompt: default child restart failed", "error", err)
				}
			}()
		}
	} else {
		sup, ok := p.handler.lookupSession(parsed.SessionID)
		if !ok {
			fmt.Fprintf(out, "error: unknown session %q\n", parsed.SessionID)
			return
		}
		kind = p.overrides.SetSession(parsed.SessionID, parsed.Patch)
		if kind == runtime.RequiresRestart {
			go func() {
				snap, _ := p.overrides.Session(parsed.SessionID)
				if err := sup.Restart(context.Background(), snap.ExtraCLIArgs, snap.Env); err != nil {
					p.logger.Warn("admin prompt: session child restart failed", "session_id", parsed.SessionID, "error", err)
				}
			}()
		}
	}
	fmt.Fprintf(out, "ok: %s\n", changeKindString(kind))
}
