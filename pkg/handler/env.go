package handler

import (
	"os"
	"sort"
	"strings"
)

// Environ returns the ambient environment minus the strip keys, with every
// layer applied in order. Later layers win.
func Environ(strip []string, layers ...map[string]string) []string {
	env := map[string]string{}
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		env[k] = v
	}
	for _, k := range strip {
		delete(env, k)
	}
	for _, layer := range layers {
		for k, v := range layer {
			env[k] = v
		}
	}

	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}
