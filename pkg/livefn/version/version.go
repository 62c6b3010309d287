// Package version reports the build version, set with -ldflags at release.
package version

import "fmt"

var (
	Version = "dev"
	Hash    = ""
)

func Print() string {
	if Hash == "" {
		return Version
	}
	return fmt.Sprintf("%s-%s", Version, Hash)
}

// UserAgent identifies livefn to the cloud APIs it calls.
func UserAgent() string {
	return "livefn/" + Print()
}
