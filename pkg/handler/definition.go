// Package handler turns a function descriptor into the instructions needed to
// build, run and watch it locally. Each runtime family registers a Definition.
package handler

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/livefn/livefn/pkg/function"
)

// Command is a process to start.
type Command struct {
	Command string            `json:"command"`
	Args    []string          `json:"args"`
	Env     map[string]string `json:"env,omitempty"`
	// Dir is the working directory. Empty means the current directory.
	Dir string `json:"dir,omitempty"`
}

type BundleResult struct {
	Directory string `json:"directory"`
	Handler   string `json:"handler"`
}

// Watcher lists absolute glob patterns for the files that affect a function.
type Watcher struct {
	Include []string `json:"include"`
	Ignore  []string `json:"ignore"`
}

// Match reports whether path is included and not ignored.
func (w Watcher) Match(path string) bool {
	for _, pattern := range w.Ignore {
		if ok, _ := doublestar.PathMatch(pattern, path); ok {
			return false
		}
	}
	for _, pattern := range w.Include {
		if ok, _ := doublestar.PathMatch(pattern, path); ok {
			return true
		}
	}
	return false
}

type Instructions struct {
	// Build is an optional step run before the process is started.
	Build   func(ctx context.Context) error
	Bundle  func() (BundleResult, error)
	Run     Command
	Watcher Watcher
}

type Opts struct {
	ID      string
	Root    string
	Runtime string
	// SrcPath is absolute.
	SrcPath string
	Handler string
	Bundle  map[string]any
}

// OptsFrom resolves a descriptor's paths against its root.
func OptsFrom(d function.Descriptor) Opts {
	src := d.SrcPath
	if !filepath.IsAbs(src) {
		src = filepath.Join(d.Root, src)
	}
	return Opts{
		ID:      d.ID,
		Root:    d.Root,
		Runtime: d.Runtime,
		SrcPath: filepath.Clean(src),
		Handler: d.Handler,
		Bundle:  d.Bundle,
	}
}

type Definition func(Opts) Instructions

// splitHandler splits "src/api.handler" into ("src", "api", "handler").
func splitHandler(h string) (dir, base, export string) {
	dir = filepath.Dir(h)
	file := filepath.Base(h)
	base, export, _ = strings.Cut(file, ".")
	return dir, base, export
}

// runBuild runs cmd and returns its output in the error on failure.
func runBuild(ctx context.Context, cmd Command) error {
	c := exec.CommandContext(ctx, cmd.Command, cmd.Args...)
	c.Dir = cmd.Dir
	c.Env = Environ(nil, cmd.Env)
	out := &bytes.Buffer{}
	c.Stdout = out
	c.Stderr = out
	if err := c.Run(); err != nil {
		return fmt.Errorf("error running %s: %w\n%s", cmd.Command, err, strings.TrimSpace(out.String()))
	}
	return nil
}
