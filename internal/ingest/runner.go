package ingest

import (
	"bytes"
	"context"
	"log/slog"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
)

// Runner executes external tools such as pdftoppm. Tests substitute a fake.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

const (
	maxStderrBytes = 16 << 10
	killGrace      = 5 * time.Second
)

type execRunner struct {
	logger *slog.Logger
}

func (r execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.WaitDelay = killGrace

	var stdout bytes.Buffer
	stderr := &headBuffer{max: maxStderrBytes}
	cmd.Stdout = &stdout
	cmd.Stderr = stderr

	start := time.Now()
	err := cmd.Run()
	attrs := []any{
		"tool", filepath.Base(name),
		"argc", len(args),
		"elapsed_ms", time.Since(start).Milliseconds(),
	}

	switch {
	case err == nil:
		r.logger.Debug("ingest.exec.ok", append(attrs, "stdout_bytes", stdout.Len())...)
	case ctx.Err() != nil:
		r.logger.Warn("ingest.exec.cancelled", append(attrs, "error", ctx.Err())...)
		err = errors.Wrapf(ctx.Err(), "%s stopped", filepath.Base(name))
	default:
		r.logger.Error("ingest.exec.failed", append(attrs, "error", err, "stderr", stderr.String())...)
	}
	return stdout.Bytes(), stderr.Bytes(), err
}

// headBuffer keeps the first max bytes written and counts the rest.
type headBuffer struct {
	buf     bytes.Buffer
	max     int
	dropped int
}

func (h *headBuffer) Write(p []byte) (int, error) {
	room := h.max - h.buf.Len()
	switch {
	case room <= 0:
		h.dropped += len(p)
	case len(p) > room:
		h.buf.Write(p[:room])
		h.dropped += len(p) - room
	default:
		h.buf.Write(p)
	}
	return len(p), nil
}

func (h *headBuffer) Bytes() []byte { return h.buf.Bytes() }

func (h *headBuffer) String() string {
	if h.dropped == 0 {
		return h.buf.String()
	}
	return h.buf.String() + "...(truncated)"
}
