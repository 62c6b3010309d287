package handler

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// PythonHandler runs functions through the python bootstrap shim. An active
// VIRTUAL_ENV is put first on PATH.
func PythonHandler(shimsDir string, getenv func(string) string) Definition {
	return func(opts Opts) Instructions {
		path := getenv("PATH")
		if venv := getenv("VIRTUAL_ENV"); venv != "" {
			bin := "bin"
			if runtime.GOOS == "windows" {
				bin = "Scripts"
			}
			path = filepath.Join(venv, bin) + string(os.PathListSeparator) + path
		}

		dir, base, export := splitHandler(opts.Handler)
		module := strings.ReplaceAll(filepath.ToSlash(filepath.Join(dir, base)), "/", ".")

		command := strings.Split(opts.Runtime, ".")[0]
		if runtime.GOOS == "windows" {
			command = "python.exe"
		}

		return Instructions{
			Bundle: func() (BundleResult, error) {
				return BundleResult{Directory: opts.SrcPath, Handler: opts.Handler}, nil
			},
			Run: Command{
				Command: command,
				Args: []string{
					"-u",
					filepath.Join(shimsDir, "python", "bootstrap.py"),
					module,
					opts.SrcPath,
					export,
				},
				Env: map[string]string{"PATH": path},
				Dir: opts.SrcPath,
			},
			Watcher: Watcher{
				Include: []string{filepath.Join(opts.SrcPath, "**", "*.py")},
				Ignore:  []string{},
			},
		}
	}
}
