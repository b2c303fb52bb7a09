package mesh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/PCL-Community/PCL.Core-sub001/internal/util"
)

// Process is a started child process.
type Process interface {
	Wait() error
	Kill() error
}

// Runner is the seam between the orchestrator and the operating system.
type Runner interface {
	// Start launches a long-running process.
	Start(ctx context.Context, name string, args []string) (Process, error)
	// Output runs a short-lived command and returns its stdout.
	Output(ctx context.Context, name string, args []string) ([]byte, error)
	// LookPath resolves an executable.
	LookPath(name string) (string, error)
}

// ExecRunner runs real processes through os/exec.
type ExecRunner struct{}

func (ExecRunner) Start(_ context.Context, name string, args []string) (Process, error) {
	// Not CommandContext: the process lives as long as its handle, not as
	// long as the start request.
	cmd := exec.Command(name, args...)
	cmd.Stdout = &lineLogger{prefix: "[mesh] "}
	cmd.Stderr = &lineLogger{prefix: "[mesh] ", warn: true}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &execProcess{cmd: cmd}, nil
}

func (ExecRunner) Output(ctx context.Context, name string, args []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && stderr.Len() > 0 {
			return out, fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(stderr.String()))
		}
		return out, fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}

func (ExecRunner) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

type execProcess struct {
	cmd *exec.Cmd
}

func (p *execProcess) Wait() error { return p.cmd.Wait() }

func (p *execProcess) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	return p.cmd.Process.Kill()
}

// lineLogger forwards child output to the logger one line at a time.
type lineLogger struct {
	prefix string
	warn   bool

	mu  sync.Mutex
	buf []byte
}

func (l *lineLogger) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.buf = append(l.buf, p...)
	for {
		i := bytes.IndexByte(l.buf, '\n')
		if i < 0 {
			break
		}
		line := strings.TrimRight(string(l.buf[:i]), "\r")
		l.buf = l.buf[i+1:]
		if line == "" {
			continue
		}
		if l.warn {
			util.LogWarning("%s%s", l.prefix, line)
		} else {
			util.LogDebug("%s%s", l.prefix, line)
		}
	}
	return len(p), nil
}
