package cdk

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/livefn/livefn/pkg/logger"
)

func (t *Toolkit) run(ctx context.Context, step, name string, args ...string) error {
	l := t.opts.Logger.With("step", step)
	l.Debug("running command", "command", name, "args", args)

	out := &lineWriter{l: l}
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = t.opts.Dir
	cmd.Env = append(os.Environ(), t.opts.Env...)
	cmd.Stdout = out
	cmd.Stderr = out

	err := cmd.Run()
	out.Flush()
	if err != nil {
		return fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err)
	}
	return nil
}

// lineWriter logs every complete line written to it.
type lineWriter struct {
	l   logger.Logger
	mu  sync.Mutex
	buf bytes.Buffer
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(p)
	for {
		line, err := w.buf.ReadString('\n')
		if err != nil {
			// keep the partial line for the next write
			w.buf.Reset()
			w.buf.WriteString(line)
			break
		}
		w.emit(line)
	}
	return len(p), nil
}

func (w *lineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf.Len() > 0 {
		w.emit(w.buf.String())
		w.buf.Reset()
	}
}

func (w *lineWriter) emit(line string) {
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return
	}
	w.l.Info(line)
}
