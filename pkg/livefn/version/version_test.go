package version

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPrint(t *testing.T) {
	v, h := Version, Hash
	t.Cleanup(func() { Version, Hash = v, h })

	Version, Hash = "1.2.0", ""
	require.Equal(t, "1.2.0", Print())
	require.Equal(t, "livefn/1.2.0", UserAgent())

	Hash = "abc123"
	require.Equal(t, "1.2.0-abc123", Print())
}
