package fsadapter

import (
	"context"
	"io"
	"os"
	"sync"
	"syscall"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"
	"github.com/jacobsa/timeutil"

	"github.com/fangfufu/httpdirfs-sub000/internal/blockcache"
	"github.com/fangfufu/httpdirfs-sub000/internal/config"
	"github.com/fangfufu/httpdirfs-sub000/internal/httplog"
	"github.com/fangfufu/httpdirfs-sub000/internal/linkgraph"
	"github.com/fangfufu/httpdirfs-sub000/internal/transfer"
)

// FileSystem implements fuseutil.FileSystem against an internal/linkgraph
// Graph, realizing spec.md §4.4's getattr/readdir/open/read/release
// operations. Everything not listed there (mkdir, write, ...) is left to
// the embedded NotImplementedFileSystem, which answers ENOSYS.
type FileSystem struct {
	fuseutil.NotImplementedFileSystem

	cfg    *config.Config
	graph  *linkgraph.Graph
	engine *transfer.Engine
	cache  *blockcache.Manager
	log    *httplog.Logger
	clock  timeutil.Clock

	uid uint32
	gid uint32

	inodes *inodeTable

	mu       sync.Mutex
	dirs     map[fuseops.HandleID]*dirHandle
	nextDir  fuseops.HandleID
	files    map[fuseops.HandleID]*fileHandle
	nextFile fuseops.HandleID
}

type dirHandle struct {
	entries []*linkgraph.Link
}

type fileHandle struct {
	link   *linkgraph.Link
	fsPath string
	cache  *blockcache.Handle // nil when caching is disabled
}

// New builds a FileSystem ready to be wrapped by fuseutil.NewFileSystemServer
// and mounted via fuse.Mount.
func New(cfg *config.Config, graph *linkgraph.Graph, engine *transfer.Engine, cache *blockcache.Manager, log *httplog.Logger) *FileSystem {
	return &FileSystem{
		cfg:      cfg,
		graph:    graph,
		engine:   engine,
		cache:    cache,
		log:      log,
		clock:    timeutil.RealClock(),
		uid:      uint32(os.Getuid()),
		gid:      uint32(os.Getgid()),
		inodes:   newInodeTable(),
		dirs:     make(map[fuseops.HandleID]*dirHandle),
		files:    make(map[fuseops.HandleID]*fileHandle),
		nextDir:  1,
		nextFile: 1,
	}
}

func (fs *FileSystem) Init(op *fuseops.InitOp) {
	op.Respond(nil)
}

func children(lt *linkgraph.LinkTable) []*linkgraph.Link {
	if lt == nil || len(lt.Links) == 0 {
		return nil
	}
	return lt.Links[1:]
}

// listable filters lt's non-sentinel entries down to the kinds readdir may
// present, the same way _examples/original_source/src/fuse_local.c's
// fs_readdir skips any link whose type is LINK_INVALID.
func listable(lt *linkgraph.LinkTable) []*linkgraph.Link {
	var out []*linkgraph.Link
	for _, l := range children(lt) {
		switch l.Kind {
		case linkgraph.KindDir, linkgraph.KindFile:
			out = append(out, l)
		}
	}
	return out
}

// resolve maps an inode ID to its Link, treating the root inode specially
// since it has no backing Link of its own.
func (fs *FileSystem) resolve(ctx context.Context, id fuseops.InodeID) (link *linkgraph.Link, isRoot bool, err error) {
	if id == rootInodeID {
		return nil, true, nil
	}
	l := fs.inodes.link(id)
	if l == nil {
		return nil, false, fuse.ENOENT
	}
	return l, false, nil
}

func (fs *FileSystem) LookUpInode(op *fuseops.LookUpInodeOp) {
	parent, parentIsRoot, err := fs.resolve(context.Background(), op.Parent)
	if err != nil {
		op.Respond(err)
		return
	}

	var table *linkgraph.LinkTable
	if parentIsRoot {
		table = fs.graph.Root(context.Background())
	} else {
		if parent.Kind != linkgraph.KindDir {
			op.Respond(fuse.ENOENT)
			return
		}
		lt, err := fs.graph.ListDir(context.Background(), parent.Path())
		if err != nil {
			op.Respond(translateErr(err))
			return
		}
		table = lt
	}

	for _, l := range listable(table) {
		if l.Name == op.Name {
			id := fs.inodes.lookup(l)
			op.Entry = fuseops.ChildInodeEntry{
				Child:      id,
				Attributes: attrForLink(fs.clock.Now(), l, fs.uid, fs.gid),
			}
			op.Respond(nil)
			return
		}
	}
	op.Respond(fuse.ENOENT)
}

func (fs *FileSystem) GetInodeAttributes(op *fuseops.GetInodeAttributesOp) {
	link, isRoot, err := fs.resolve(context.Background(), op.Inode)
	if err != nil {
		op.Respond(err)
		return
	}
	if isRoot {
		op.Attributes = dirAttr(fs.clock.Now(), fs.uid, fs.gid)
	} else {
		switch link.Kind {
		case linkgraph.KindDir, linkgraph.KindFile:
			op.Attributes = attrForLink(fs.clock.Now(), link, fs.uid, fs.gid)
		default:
			// Unresolved/invalid links have no stat to report, matching
			// fs_getattr's "default: return -ENOENT;".
			op.Respond(fuse.ENOENT)
			return
		}
	}
	op.Respond(nil)
}

func (fs *FileSystem) ForgetInode(op *fuseops.ForgetInodeOp) {
	fs.inodes.forget(op.ID)
	op.Respond(nil)
}

// OpenDir corresponds to spec.md §4.4's opendir: read-only mounts need no
// per-open state beyond a snapshot of the directory's current children, so
// a handle is just that snapshot.
func (fs *FileSystem) OpenDir(op *fuseops.OpenDirOp) {
	link, isRoot, err := fs.resolve(context.Background(), op.Inode)
	if err != nil {
		op.Respond(err)
		return
	}

	var table *linkgraph.LinkTable
	if isRoot {
		table = fs.graph.Root(context.Background())
	} else {
		lt, err := fs.graph.ListDir(context.Background(), link.Path())
		if err != nil {
			op.Respond(translateErr(err))
			return
		}
		table = lt
	}

	fs.mu.Lock()
	id := fs.nextDir
	fs.nextDir++
	fs.dirs[id] = &dirHandle{entries: listable(table)}
	fs.mu.Unlock()

	op.Handle = id
	op.Respond(nil)
}

func (fs *FileSystem) ReadDir(op *fuseops.ReadDirOp) {
	fs.mu.Lock()
	h, ok := fs.dirs[op.Handle]
	fs.mu.Unlock()
	if !ok {
		op.Respond(fuse.EIO)
		return
	}

	// Offset counts directory entries already consumed by a prior call, the
	// realization of spec.md's "readdir resumes from the kernel-supplied
	// offset" requirement.
	idx := int(op.Offset)
	buf := make([]byte, op.Size)
	written := 0
	for idx < len(h.entries) {
		l := h.entries[idx]
		dt := fuseops.DT_File
		if l.Kind == linkgraph.KindDir {
			dt = fuseops.DT_Directory
		}
		n := fuseutil.WriteDirent(buf[written:], fuseops.Dirent{
			Offset: fuseops.DirOffset(idx + 1),
			Inode:  fs.inodes.lookup(l),
			Name:   l.Name,
			Type:   dt,
		})
		if n == 0 {
			break
		}
		written += n
		idx++
	}
	op.Data = buf[:written]
	op.Respond(nil)
}

func (fs *FileSystem) ReleaseDirHandle(op *fuseops.ReleaseDirHandleOp) {
	fs.mu.Lock()
	delete(fs.dirs, op.Handle)
	fs.mu.Unlock()
	op.Respond(nil)
}

// OpenFile implements spec.md §4.4's open(): any write-intent flag is
// rejected with EROFS since this is a read-only filesystem, matching
// _examples/original_source/src/fuse_local.c's fs_open; otherwise the
// cache (if enabled) is acquired via the open/create/ENOENT sequence
// documented in DESIGN.md.
func (fs *FileSystem) OpenFile(op *fuseops.OpenFileOp) {
	if uint32(op.Flags)&uint32(os.O_WRONLY|os.O_RDWR) != 0 {
		op.Respond(syscall.EROFS)
		return
	}

	link, _, err := fs.resolve(context.Background(), op.Inode)
	if err != nil {
		op.Respond(err)
		return
	}
	if link == nil || link.Kind != linkgraph.KindFile {
		op.Respond(fuse.ENOENT)
		return
	}

	fsPath := link.Path()
	fh := &fileHandle{link: link, fsPath: fsPath}

	if fs.cfg.CacheEnabled {
		ch, err := fs.cache.Acquire(context.Background(), link, fsPath)
		if err != nil {
			op.Respond(fuse.ENOENT)
			return
		}
		fh.cache = ch
	}

	fs.mu.Lock()
	id := fs.nextFile
	fs.nextFile++
	fs.files[id] = fh
	fs.mu.Unlock()

	op.Handle = id
	op.Respond(nil)
}

// ReadFile implements spec.md §4.4's read(): served from the block cache
// when caching is enabled, otherwise via a direct blocking range fetch.
func (fs *FileSystem) ReadFile(op *fuseops.ReadFileOp) {
	fs.mu.Lock()
	fh, ok := fs.files[op.Handle]
	fs.mu.Unlock()
	if !ok {
		op.Respond(fuse.EIO)
		return
	}

	buf := make([]byte, op.Size)
	var n int
	var err error
	if fh.cache != nil {
		n, err = fh.cache.ReadAt(context.Background(), buf, op.Offset)
	} else {
		n, err = fs.readDirect(context.Background(), fh.link, buf, op.Offset)
	}
	if err != nil && err != io.EOF {
		op.Respond(fuse.EIO)
		return
	}
	op.Data = buf[:n]
	op.Respond(nil)
}

// readDirect performs a single blocking range GET, used when the cache is
// disabled entirely (cfg.CacheEnabled == false).
func (fs *FileSystem) readDirect(ctx context.Context, link *linkgraph.Link, buf []byte, offset int64) (int, error) {
	if offset >= link.ContentLength {
		return 0, io.EOF
	}
	end := offset + int64(len(buf))
	if end > link.ContentLength {
		end = link.ContentLength
	}
	res, err := fs.engine.Do(ctx, &transfer.Request{
		Method: "GET",
		URL:    link.URL,
		Range:  &transfer.ByteRange{Start: offset, End: end},
		Kind:   transfer.KindData,
	})
	if err != nil {
		return 0, err
	}
	n := copy(buf, res.Body)
	return n, nil
}

func (fs *FileSystem) ReleaseFileHandle(op *fuseops.ReleaseFileHandleOp) {
	fs.mu.Lock()
	fh, ok := fs.files[op.Handle]
	delete(fs.files, op.Handle)
	fs.mu.Unlock()

	if ok && fh.cache != nil {
		_ = fs.cache.Release(fh.fsPath)
	}
	op.Respond(nil)
}

// translateErr maps linkgraph errors to the FUSE errno taxonomy spec.md §7
// prescribes.
func translateErr(err error) error {
	switch {
	case err == linkgraph.ErrNotFound:
		return fuse.ENOENT
	case err == linkgraph.ErrDepthExceeded:
		return fuse.EIO
	default:
		return fuse.EIO
	}
}
