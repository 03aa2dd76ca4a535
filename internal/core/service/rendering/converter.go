// Package rendering runs the external document converter behind a bounded
// pool. Each job gets a private working directory and a wall-clock deadline;
// runaway converter processes are killed by process group.
package rendering

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/dslipak/pdf"
	"golang.org/x/sync/semaphore"

	"github.com/rendis/docgen-engine/internal/core/entity"
	"github.com/rendis/docgen-engine/internal/core/port"
	"github.com/rendis/docgen-engine/internal/infra/metrics"
)

const (
	stderrTailBytes = 512
	killGrace       = 2 * time.Second
)

// Pool is a bounded converter. Excess calls block on the semaphore until a
// slot frees up or their context ends.
type Pool struct {
	binPath string
	workdir string
	timeout time.Duration
	sem     *semaphore.Weighted

	seq       atomic.Uint64
	active    atomic.Int64
	queued    atomic.Int64
	completed atomic.Uint64
	failed    atomic.Uint64
}

func NewPool(binPath, workdir string, timeout time.Duration, maxConcurrent int64) *Pool {
	return &Pool{
		binPath: binPath,
		workdir: workdir,
		timeout: timeout,
		sem:     semaphore.NewWeighted(maxConcurrent),
	}
}

// Convert renders docxBytes to PDF. Cancellation while queued or running is
// honored and does not count as a failure.
func (p *Pool) Convert(ctx context.Context, docxBytes []byte, correlationID string) ([]byte, error) {
	p.queued.Add(1)
	metrics.ConversionPoolQueued.Inc()
	err := p.sem.Acquire(ctx, 1)
	p.queued.Add(-1)
	metrics.ConversionPoolQueued.Dec()
	if err != nil {
		return nil, fmt.Errorf("waiting for a conversion slot: %w", err)
	}
	defer p.sem.Release(1)

	p.active.Add(1)
	metrics.ConversionPoolActive.Inc()
	defer func() {
		p.active.Add(-1)
		metrics.ConversionPoolActive.Dec()
	}()

	out, err := p.runJob(ctx, docxBytes, correlationID)
	switch {
	case err == nil:
		p.completed.Add(1)
	case ctx.Err() != nil:
		// Canceled jobs are neither completed nor failed.
	default:
		p.failed.Add(1)
	}
	return out, err
}

func (p *Pool) runJob(ctx context.Context, docxBytes []byte, correlationID string) ([]byte, error) {
	dir := filepath.Join(p.workdir, fmt.Sprintf("%s-%d", sanitizeID(correlationID), p.seq.Add(1)))
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, entity.WrapError(entity.KindConversionFailed, err, "creating conversion workdir")
	}
	defer func() {
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			slog.Warn("conversion workdir cleanup failed", "dir", dir, "error", rmErr)
		}
	}()

	inputPath := filepath.Join(dir, "input.docx")
	if err := os.WriteFile(inputPath, docxBytes, 0o600); err != nil {
		return nil, entity.WrapError(entity.KindConversionFailed, err, "writing conversion input")
	}

	cmd := exec.Command(p.binPath, "--headless", "--convert-to", "pdf", "--outdir", dir, inputPath)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, entity.WrapError(entity.KindConversionFailed, err, "starting converter")
	}

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()

	select {
	case err := <-waitCh:
		if err != nil {
			return nil, entity.NewError(entity.KindConversionFailed,
				"converter exited with an error: %s", stderrTail(&stderr))
		}
	case <-timer.C:
		killGroup(cmd, waitCh)
		return nil, entity.NewError(entity.KindConversionTimeout,
			"conversion exceeded %s", p.timeout)
	case <-ctx.Done():
		killGroup(cmd, waitCh)
		return nil, fmt.Errorf("conversion canceled: %w", ctx.Err())
	}

	pdfPath := filepath.Join(dir, "input.pdf")
	out, err := os.ReadFile(pdfPath)
	if err != nil {
		return nil, entity.NewError(entity.KindConversionFailed,
			"converter exited cleanly but produced no output: %s", stderrTail(&stderr))
	}
	if err := verifyPageCount(out, correlationID); err != nil {
		return nil, err
	}
	return out, nil
}

// verifyPageCount rejects output with an empty page tree, which the converter
// emits on some malformed inputs while still exiting zero. Output the parser
// cannot read at all is let through, since some converter builds emit
// nonstandard xrefs.
func verifyPageCount(data []byte, correlationID string) error {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		slog.Debug("pdf page probe could not parse output", "correlation_id", correlationID, "error", err)
		return nil
	}
	if reader.NumPage() == 0 {
		return entity.NewError(entity.KindConversionFailed, "converter produced a pdf with no pages")
	}
	slog.Debug("conversion finished", "correlation_id", correlationID,
		"pages", reader.NumPage(), "bytes", len(data))
	return nil
}

// killGroup tears down the converter and everything it forked. SIGTERM
// first, SIGKILL after a short grace period.
func killGroup(cmd *exec.Cmd, waitCh <-chan error) {
	pgid := cmd.Process.Pid
	_ = syscall.Kill(-pgid, syscall.SIGTERM)

	select {
	case <-waitCh:
		return
	case <-time.After(killGrace):
	}
	_ = syscall.Kill(-pgid, syscall.SIGKILL)
	<-waitCh
}

// Stats returns a point-in-time snapshot of pool activity.
func (p *Pool) Stats() port.ConverterStats {
	return port.ConverterStats{
		Active:    p.active.Load(),
		Queued:    p.queued.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
	}
}

func stderrTail(buf *bytes.Buffer) string {
	s := strings.TrimSpace(buf.String())
	if len(s) > stderrTailBytes {
		s = s[len(s)-stderrTailBytes:]
	}
	if s == "" {
		return "no stderr output"
	}
	return s
}

func sanitizeID(id string) string {
	var b strings.Builder
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "job"
	}
	return b.String()
}
