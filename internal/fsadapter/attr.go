package fsadapter

import (
	"os"
	"time"

	"github.com/jacobsa/fuse/fuseops"

	"github.com/fangfufu/httpdirfs-sub000/internal/linkgraph"
)

// blockSize is the st_blksize/st_blocks unit spec.md §4.4 specifies for
// file attributes, matching the original's stat.st_blksize of 128 KiB.
const blockSize = 128 * 1024

// dirAttr is the attribute set synthesized for the mount point and every
// materialized directory: a read-only directory, 0755, owned by the uid/gid
// the caller passes in (FileSystem uses the mounting process's own ids).
// Nlink is 1 rather than the usual Unix "2 + subdirectory count", matching
// _examples/original_source/src/fuse_local.c's fs_getattr, which sets
// st_nlink = 1 uniformly since the link graph never reports '.'/'..' as
// real entries. now comes from the FileSystem's timeutil.Clock rather than
// a bare time.Now(), so attribute timestamps are swappable in tests the way
// _examples/jacobsa-fuse/samples/hellofs wires its clock.
func dirAttr(now time.Time, uid, gid uint32) fuseops.InodeAttributes {
	return fuseops.InodeAttributes{
		Size:  4096,
		Nlink: 1,
		Mode:  os.ModeDir | 0o755,
		Atime: now,
		Mtime: now,
		Ctime: now,
		Uid:   uid,
		Gid:   gid,
	}
}

// fileAttr synthesizes read-only regular-file attributes for link, per
// spec.md §4.4's getattr table: 0444, st_size from Link.ContentLength,
// st_mtime from Link.ModTime.
func fileAttr(now time.Time, link *linkgraph.Link, uid, gid uint32) fuseops.InodeAttributes {
	mtime := link.ModTime
	if mtime.IsZero() {
		mtime = now
	}
	size := link.ContentLength
	if size < 0 {
		size = 0
	}
	return fuseops.InodeAttributes{
		Size:  uint64(size),
		Nlink: 1,
		Mode:  0o444,
		Atime: mtime,
		Mtime: mtime,
		Ctime: mtime,
		Uid:   uid,
		Gid:   gid,
	}
}

// attrForLink picks dirAttr or fileAttr for link's current Kind. Callers
// are expected to have already turned away KindInvalid/KindUninitializedFile
// links with ENOENT (fs_getattr's "default: return -ENOENT;"); this function
// only ever sees a Kind it can synthesize a stat for.
func attrForLink(now time.Time, link *linkgraph.Link, uid, gid uint32) fuseops.InodeAttributes {
	switch link.Kind {
	case linkgraph.KindDir, linkgraph.KindRoot:
		return dirAttr(now, uid, gid)
	default:
		return fileAttr(now, link, uid, gid)
	}
}
