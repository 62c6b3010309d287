package devserver

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/livefn/livefn/pkg/function"
	"github.com/livefn/livefn/pkg/handler"
	"github.com/livefn/livefn/pkg/pipeline"
	"github.com/sourcegraph/conc/pool"
)

// changedFunctions returns the functions whose watch patterns match any of
// paths.
func (s *Session) changedFunctions(paths []string) []function.Descriptor {
	var changed []function.Descriptor
	for _, fn := range s.functions() {
		def, err := s.handlers.Resolve(fn.Runtime)
		if err != nil {
			continue
		}
		w := def(handler.OptsFrom(fn)).Watcher
		for _, p := range paths {
			if w.Match(p) {
				changed = append(changed, fn)
				break
			}
		}
	}
	return changed
}

// drainChanged retires the processes of every function affected by paths,
// so their next invocation runs the new code.
func (s *Session) drainChanged(paths []string) {
	fns := s.changedFunctions(paths)
	if len(fns) == 0 {
		return
	}

	s.log.Info("rebuilding", "functions", len(fns))
	p := pool.New().WithContext(s.ctx)
	for _, fn := range fns {
		p.Go(func(ctx context.Context) error {
			if err := s.runtime.Drain(ctx, fn); err != nil {
				s.log.Warn("error draining function", "function_id", fn.ID, "error", err)
			}
			return nil
		})
	}
	_ = p.Wait()
	s.log.Info("done rebuilding", "functions", len(fns))
}

// infraChanged raises a file change when any path is in the stacks
// directory.
func (s *Session) infraChanged(paths []string) {
	dir := s.opts.InfraDir()
	for _, p := range paths {
		rel, err := filepath.Rel(dir, p)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		s.pipeline.FileChange()
		return
	}
}

func (s *Session) onTransition(t pipeline.Transition) {
	l := s.log.With("caller", "pipeline")
	l.Info("stacks "+t.To.String(), "from", t.From)

	switch {
	case t.To == pipeline.PhaseDeployable && !s.opts.AutoDeploy:
		l.Notice("Stacks changed. Press ENTER to deploy.")
	case t.From == pipeline.PhaseDeploying && t.Err != nil:
		l.Error("stacks deploy failed", "error", t.Err)
	case t.From == pipeline.PhaseDeploying:
		if err := s.opts.Functions.Reload(); err != nil {
			l.Error("error reloading functions", "error", err)
			return
		}
		l.Info("stacks deployed", "functions", len(s.opts.Functions.All()))
	case t.Err != nil:
		l.Warn("stacks "+t.From.String()+" failed", "error", t.Err)
	}
}

// readEnter triggers a deploy for every line read from stdin until ctx is
// done. The scanning goroutine stays blocked in Read until Stop closes stdin.
func (s *Session) readEnter(ctx context.Context) {
	lines := make(chan struct{})
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(s.opts.Stdin)
		for scanner.Scan() {
			select {
			case lines <- struct{}{}:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-lines:
			if !ok {
				return
			}
			s.pipeline.TriggerDeploy()
		}
	}
}

// closeStdin unblocks a pending stdin read, if the reader can be closed.
func (s *Session) closeStdin() error {
	c, ok := s.opts.Stdin.(io.Closer)
	if !ok {
		return nil
	}
	if err := c.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		return err
	}
	return nil
}
