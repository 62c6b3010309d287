package handler

import (
	"context"
	"path/filepath"
	"runtime"
)

// GoHandler compiles the handler package into the app's build directory and
// runs the binary directly.
func GoHandler() Definition {
	return func(opts Opts) Instructions {
		out := filepath.Join(opts.Root, ".build", opts.ID, "bootstrap")
		if runtime.GOOS == "windows" {
			out += ".exe"
		}

		return Instructions{
			Build: func(ctx context.Context) error {
				return runBuild(ctx, Command{
					Command: "go",
					Args:    []string{"build", "-ldflags", "-s -w", "-o", out, "./" + filepath.ToSlash(filepath.Clean(opts.Handler))},
					Env:     map[string]string{"CGO_ENABLED": "0"},
					Dir:     opts.SrcPath,
				})
			},
			Bundle: func() (BundleResult, error) {
				return BundleResult{Directory: filepath.Dir(out), Handler: filepath.Base(out)}, nil
			},
			Run: Command{
				Command: out,
				Dir:     opts.SrcPath,
			},
			Watcher: Watcher{
				Include: []string{
					filepath.Join(opts.SrcPath, "**", "*.go"),
					filepath.Join(opts.SrcPath, "go.mod"),
					filepath.Join(opts.SrcPath, "go.sum"),
				},
				Ignore: []string{filepath.Join(opts.SrcPath, "**", "vendor", "**")},
			},
		}
	}
}
