package handler

import (
	"path/filepath"
)

// NodeHandler runs functions through the node bootstrap shim. The shim
// imports the handler module and polls the runtime API.
func NodeHandler(shimsDir string) Definition {
	return func(opts Opts) Instructions {
		dir, base, export := splitHandler(opts.Handler)
		return Instructions{
			Bundle: func() (BundleResult, error) {
				return BundleResult{Directory: opts.SrcPath, Handler: opts.Handler}, nil
			},
			Run: Command{
				Command: "node",
				Args: []string{
					filepath.Join(shimsDir, "node", "bootstrap.mjs"),
					filepath.Join(opts.SrcPath, dir, base),
					export,
				},
				Dir: opts.SrcPath,
			},
			Watcher: Watcher{
				Include: []string{filepath.Join(opts.SrcPath, "**", "*.{js,jsx,mjs,cjs,ts,tsx,json}")},
				Ignore:  []string{filepath.Join(opts.SrcPath, "**", "node_modules", "**")},
			},
		}
	}
}
