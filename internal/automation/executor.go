// Package automation runs scripts, on demand or from cron schedules, and
// records their executions.
package automation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"sre-platform/internal/models"
)

// Output is what one run of a script produced.
type Output struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Executor runs a script with parameters.
type Executor interface {
	Name() string
	Execute(ctx context.Context, script models.Script, params map[string]string) (Output, error)
}

// NewExecutor returns the executor named by name ("dry-run" or "shell").
func NewExecutor(name string, timeout time.Duration) (Executor, error) {
	switch name {
	case "", "dry-run":
		return DryRunExecutor{}, nil
	case "shell":
		return &ShellExecutor{Timeout: timeout}, nil
	default:
		return nil, fmt.Errorf("unknown executor %q", name)
	}
}

// DryRunExecutor records what would run without running it.
type DryRunExecutor struct{}

func (DryRunExecutor) Name() string { return "dry-run" }

func (DryRunExecutor) Execute(_ context.Context, script models.Script, params map[string]string) (Output, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "[dry-run] %s %s (%s)\n", interpreter(script), script.Name, versionOf(script))
	for _, kv := range paramEnv(params) {
		fmt.Fprintf(&b, "[dry-run] env %s\n", kv)
	}
	fmt.Fprintf(&b, "[dry-run] %d bytes of script content not executed\n", len(script.Content))
	return Output{Stdout: b.String()}, nil
}

// ShellExecutor runs script content with /bin/sh or python3. Parameters
// are passed as PARAM_<KEY> environment variables.
type ShellExecutor struct {
	Timeout time.Duration
}

func (e *ShellExecutor) Name() string { return "shell" }

func (e *ShellExecutor) Execute(ctx context.Context, script models.Script, params map[string]string) (Output, error) {
	if strings.TrimSpace(script.Content) == "" {
		return Output{}, errors.New("script has no content")
	}
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, interpreter(script))
	cmd.Stdin = strings.NewReader(script.Content)
	cmd.Env = append(os.Environ(), paramEnv(params)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	err := cmd.Run()
	out := Output{Stdout: stdout.String(), Stderr: stderr.String()}
	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case ctx.Err() != nil:
		out.ExitCode = -1
		err = fmt.Errorf("script timed out: %w", ctx.Err())
	case errors.As(err, &exitErr):
		out.ExitCode = exitErr.ExitCode()
		err = fmt.Errorf("script exited with code %d", out.ExitCode)
	}
	return out, err
}

func interpreter(s models.Script) string {
	if s.Type == "python" {
		return "python3"
	}
	return "/bin/sh"
}

func versionOf(s models.Script) string {
	if s.Version == "" {
		return "unversioned"
	}
	return s.Version
}

// paramEnv renders params as sorted PARAM_<KEY>=value pairs.
func paramEnv(params map[string]string) []string {
	out := make([]string, 0, len(params))
	for k, v := range params {
		key := strings.Map(func(r rune) rune {
			switch {
			case r >= 'a' && r <= 'z':
				return r - 'a' + 'A'
			case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
				return r
			default:
				return '_'
			}
		}, k)
		out = append(out, "PARAM_"+key+"="+v)
	}
	sort.Strings(out)
	return out
}

// truncate keeps at most limit bytes of s, cut on a rune boundary.
func truncate(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + fmt.Sprintf("\n... [truncated %d bytes]", len(s)-cut)
}
