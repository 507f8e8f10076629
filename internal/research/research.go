// Package research gathers source material for the researcher stage.
package research

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cexll/ci-agent/internal/stream"
)

// Status steps reporting the outcome of a tool run
const (
	StepToolResult = "tool_result"
	StepToolError  = "tool_error"
)

// Target describes what to research. Competitor analyses set Competitor and
// optionally Website; discovery sets Idea.
type Target struct {
	Competitor string
	Website    string
	Idea       string
}

// Query is the free-text search term for the target
func (t Target) Query() string {
	if t.Competitor != "" {
		return t.Competitor
	}
	return t.Idea
}

// Tool is one source the researcher consults
type Tool interface {
	Name() string
	// Input returns the tool_call input for target, or nil when the tool
	// does not apply.
	Input(t Target) map[string]any
	Run(ctx context.Context, t Target) (string, error)
}

// Finding is the outcome of one tool run
type Finding struct {
	Tool   string
	Output string
	Err    error
}

// Researcher runs its tools concurrently
type Researcher struct {
	tools   []Tool
	timeout time.Duration
}

// New creates a Researcher. timeout bounds every tool run.
func New(timeout time.Duration, tools ...Tool) *Researcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Researcher{tools: tools, timeout: timeout}
}

// Collect runs every applicable tool and returns findings in tool order.
// Tool failures are reported through emit and never abort the others.
func (r *Researcher) Collect(ctx context.Context, t Target, emit stream.Emitter) []Finding {
	if emit == nil {
		emit = stream.Discard
	}

	findings := make([]Finding, len(r.tools))
	var g errgroup.Group
	for i, tool := range r.tools {
		input := tool.Input(t)
		if input == nil {
			continue
		}

		g.Go(func() error {
			emit(stream.ToolCall(tool.Name(), input))

			toolCtx, cancel := context.WithTimeout(ctx, r.timeout)
			defer cancel()

			start := time.Now()
			out, err := tool.Run(toolCtx, t)
			findings[i] = Finding{Tool: tool.Name(), Output: out, Err: err}

			emit(result(tool.Name(), out, err))

			if err != nil {
				zap.L().Warn("research tool failed",
					zap.String("tool", tool.Name()),
					zap.String("query", t.Query()),
					zap.Error(err))
			} else {
				zap.L().Debug("research tool finished",
					zap.String("tool", tool.Name()),
					zap.Int("chars", len(out)),
					zap.Duration("elapsed", time.Since(start)))
			}
			return nil
		})
	}
	_ = g.Wait()

	out := findings[:0]
	for _, f := range findings {
		if f.Tool != "" {
			out = append(out, f)
		}
	}
	return out
}

// result reports a finished tool run as a status update; only the start of
// a run is a tool_call.
func result(name, out string, err error) stream.Event {
	payload := map[string]any{"tool": name, "status": "ok", "chars": len(out)}
	ev := stream.Status(StepToolResult, fmt.Sprintf("%s returned %d characters", name, len(out)))
	if err != nil {
		payload = map[string]any{"tool": name, "status": "error", "error": err.Error()}
		ev = stream.Status(StepToolError, fmt.Sprintf("%s failed: %v", name, err))
	}
	ev.Data, _ = json.Marshal(payload)
	return ev
}

// Format renders successful findings as the collected sources block
func Format(findings []Finding) string {
	var sb strings.Builder
	for _, f := range findings {
		if f.Err != nil || strings.TrimSpace(f.Output) == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "[%s]\n%s", f.Tool, strings.TrimSpace(f.Output))
	}
	return sb.String()
}
