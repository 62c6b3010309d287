package util

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestXXHash(t *testing.T) {
	require.Equal(t, XXHash("template"), XXHash([]byte("template")))
	require.NotEqual(t, XXHash("a"), XXHash("b"))
	require.Equal(t, XXHash(42), XXHash("42"))
}
