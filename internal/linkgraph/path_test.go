package linkgraph

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPathAppend(t *testing.T) {
	require.Equal(t, "/a/b", PathAppend("/a/", "b"))
	require.Equal(t, "/a/b", PathAppend("/a", "b"))
	require.Equal(t, "/f", PathAppend("/", "f"))
	require.Equal(t, "/www/folder1/folder2/id_rsa", PathAppend("/www/folder1/folder2", "id_rsa"))
}

func TestPathAppendTruncatesAtMaxLen(t *testing.T) {
	base := "/" + strings.Repeat("a", MaxPathLen)
	got := PathAppend(base, "tail")
	require.Len(t, got, MaxPathLen)
}

func TestIsValidLinkName(t *testing.T) {
	require.True(t, isValidLinkName("sub/"))
	require.True(t, isValidLinkName("a.txt"))
	require.True(t, isValidLinkName("%20encoded"))
	require.False(t, isValidLinkName("http://example.com/x"))
	require.False(t, isValidLinkName("../up"))
	require.False(t, isValidLinkName("a/b"))
	require.False(t, isValidLinkName(""))
	require.False(t, isValidLinkName("?query=1"))
}
