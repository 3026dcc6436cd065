package linkgraph

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLinkTableSaveLoadRoundTrip(t *testing.T) {
	lt := newLinkTable("http://example.com/sub/", 1)
	lt.add("a.txt", "http://example.com/sub/a.txt", KindFile, 1)
	lt.add("dir", "http://example.com/sub/dir/", KindDir, 1)
	lt.Links[1].ContentLength = 1234
	lt.Links[1].ModTime = time.Unix(1700000000, 0).UTC()

	path := filepath.Join(t.TempDir(), ".LinkTable")
	require.NoError(t, saveLinkTable(path, lt))

	loaded, err := loadLinkTable(path, 1)
	require.NoError(t, err)

	require.Equal(t, len(lt.Links), len(loaded.Links))
	for i := range lt.Links {
		require.Equal(t, lt.Links[i].Name, loaded.Links[i].Name)
		require.Equal(t, lt.Links[i].URL, loaded.Links[i].URL)
		require.Equal(t, lt.Links[i].Kind, loaded.Links[i].Kind)
		require.Equal(t, lt.Links[i].ContentLength, loaded.Links[i].ContentLength)
	}
	require.True(t, lt.Links[1].ModTime.Equal(loaded.Links[1].ModTime))
}

func TestLoadLinkTableMissingFile(t *testing.T) {
	_, err := loadLinkTable(filepath.Join(t.TempDir(), "nope"), 0)
	require.Error(t, err)
}
