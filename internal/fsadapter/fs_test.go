package fsadapter

import (
	"testing"
	"time"

	"github.com/jacobsa/fuse"
	"github.com/stretchr/testify/require"

	"github.com/fangfufu/httpdirfs-sub000/internal/linkgraph"
)

func TestChildrenSkipsRootSentinel(t *testing.T) {
	require.Nil(t, children(nil))

	file := &linkgraph.Link{Name: "a.txt", Kind: linkgraph.KindFile}
	lt := &linkgraph.LinkTable{Links: []*linkgraph.Link{{Kind: linkgraph.KindRoot}, file}}
	require.Equal(t, []*linkgraph.Link{file}, children(lt))
}

func TestTranslateErr(t *testing.T) {
	require.Equal(t, fuse.ENOENT, translateErr(linkgraph.ErrNotFound))
	require.Equal(t, fuse.EIO, translateErr(linkgraph.ErrDepthExceeded))
}

func TestListableFiltersInvalidAndUninitializedEntries(t *testing.T) {
	dir := &linkgraph.Link{Name: "sub", Kind: linkgraph.KindDir}
	file := &linkgraph.Link{Name: "a.txt", Kind: linkgraph.KindFile}
	invalid := &linkgraph.Link{Name: "broken", Kind: linkgraph.KindInvalid}
	uninit := &linkgraph.Link{Name: "pending", Kind: linkgraph.KindUninitializedFile}
	lt := &linkgraph.LinkTable{Links: []*linkgraph.Link{
		{Kind: linkgraph.KindRoot},
		dir, file, invalid, uninit,
	}}

	got := listable(lt)
	require.Equal(t, []*linkgraph.Link{dir, file}, got)
}

func TestFileAttrUsesContentLengthAndModTime(t *testing.T) {
	mtime := time.Unix(1700000000, 0).UTC()
	link := &linkgraph.Link{
		Name:          "a.txt",
		Kind:          linkgraph.KindFile,
		ContentLength: 1234,
		ModTime:       mtime,
	}
	attr := attrForLink(time.Now(), link, 1000, 1000)
	require.EqualValues(t, 1234, attr.Size)
	require.True(t, attr.Mtime.Equal(mtime))
	require.Equal(t, uint32(1000), attr.Uid)
}

func TestDirAttrForDirKind(t *testing.T) {
	link := &linkgraph.Link{Name: "sub", Kind: linkgraph.KindDir}
	attr := attrForLink(time.Now(), link, 0, 0)
	require.True(t, attr.Mode.IsDir())
}

func TestInodeTableAssignsStableIDs(t *testing.T) {
	tbl := newInodeTable()
	link := &linkgraph.Link{Name: "a.txt"}

	id1 := tbl.lookup(link)
	id2 := tbl.lookup(link)
	require.Equal(t, id1, id2)
	require.NotEqual(t, rootInodeID, id1)

	got := tbl.link(id1)
	require.Same(t, link, got)
}

func TestInodeTableForget(t *testing.T) {
	tbl := newInodeTable()
	link := &linkgraph.Link{Name: "a.txt"}
	id := tbl.lookup(link)

	tbl.forget(id)
	require.Nil(t, tbl.link(id))
}
