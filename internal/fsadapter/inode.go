// Package fsadapter implements spec.md §4.4: a getattr/readdir/open/read/
// release filesystem backed by an internal/linkgraph.Graph, presented to
// the kernel through github.com/jacobsa/fuse's op-based fuseutil.FileSystem
// interface (see DESIGN.md's "jacobsa/fuse API resolution").
package fsadapter

import (
	"sync"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"

	"github.com/fangfufu/httpdirfs-sub000/internal/linkgraph"
)

// rootInodeID is the well-known inode ID the kernel always uses for the
// mount point itself.
const rootInodeID = fuseops.InodeID(fuse.RootInodeID)

// inodeTable assigns a stable fuseops.InodeID to every Link the kernel has
// looked up, and remembers it until ForgetInode drops the mapping (there is
// no other eviction; a Link looked up again after being forgotten is given a
// fresh ID).
type inodeTable struct {
	mu     sync.Mutex
	nextID fuseops.InodeID
	byID   map[fuseops.InodeID]*linkgraph.Link
	byLink map[*linkgraph.Link]fuseops.InodeID
}

func newInodeTable() *inodeTable {
	return &inodeTable{
		nextID: rootInodeID + 1,
		byID:   make(map[fuseops.InodeID]*linkgraph.Link),
		byLink: make(map[*linkgraph.Link]fuseops.InodeID),
	}
}

// lookup returns the stable inode ID for link, minting a new one on first
// sight.
func (t *inodeTable) lookup(link *linkgraph.Link) fuseops.InodeID {
	t.mu.Lock()
	defer t.mu.Unlock()

	if id, ok := t.byLink[link]; ok {
		return id
	}
	id := t.nextID
	t.nextID++
	t.byID[id] = link
	t.byLink[link] = id
	return id
}

// link resolves an inode ID back to its Link, or nil if unknown (which
// callers translate to ENOENT — the kernel is never supposed to reference
// an inode we haven't minted, but a defensive nil check costs nothing).
func (t *inodeTable) link(id fuseops.InodeID) *linkgraph.Link {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.byID[id]
}

func (t *inodeTable) forget(id fuseops.InodeID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if l, ok := t.byID[id]; ok {
		delete(t.byID, id)
		delete(t.byLink, l)
	}
}
