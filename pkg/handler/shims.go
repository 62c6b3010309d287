package handler

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

//go:embed shims
var shims embed.FS

// WriteShims writes the bootstrap scripts for interpreted runtimes into dir
// and returns dir, ready to pass to NewDefaultRegistry.
func WriteShims(dir string) (string, error) {
	err := fs.WalkDir(shims, "shims", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel("shims", path)
		if err != nil {
			return err
		}
		target := filepath.Join(dir, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		byt, err := shims.ReadFile(path)
		if err != nil {
			return err
		}
		return os.WriteFile(target, byt, 0o644)
	})
	if err != nil {
		return "", fmt.Errorf("error writing runtime shims: %w", err)
	}
	return dir, nil
}
