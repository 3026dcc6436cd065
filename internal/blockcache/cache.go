// Package blockcache implements spec.md §4.3: a two-file-per-object
// persistent cache recording which fixed-size segments of a remote file
// have been downloaded, serving reads from disk when possible and fetching
// (with background prefetch) when not.
package blockcache

import (
	"context"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/fangfufu/httpdirfs-sub000/internal/config"
	"github.com/fangfufu/httpdirfs-sub000/internal/httplog"
	"github.com/fangfufu/httpdirfs-sub000/internal/linkgraph"
	"github.com/fangfufu/httpdirfs-sub000/internal/transfer"
)

// ErrSegmentCountExceeded is returned by create when a file would need more
// segments than cfg.MaxSegmentCount permits.
var ErrSegmentCountExceeded = errors.New("blockcache: segment count exceeds configured maximum")

// Handle is one open cache for a single remote file: two on-disk files
// (metadata, data), a segment bitmap, an open count, and a background
// prefetch goroutine. Lifetime is owned by a Manager, which reference-counts
// concurrent opens of the same path.
type Handle struct {
	// mu is the "seek lock": it covers every mutation of the data file's
	// read/write position via ReadAt/WriteAt, and the bitmap mutation that
	// follows a fetch, per DESIGN.md's Open Question decision #3.
	mu sync.Mutex

	segLocksMu sync.Mutex
	segLocks   map[int]*sync.Mutex // the per-segment "write lock"

	metaFile *os.File
	dataFile *os.File
	metaPath string
	dataPath string

	contentLength int64
	modTime       time.Time
	segSize       int64
	segCount      int
	bitmap        []byte

	openCount int

	nextPrefetchOffset int64
	// gate is the background-gate semaphore: buffered with capacity 1, so a
	// foreground read "unlocks" it with a non-blocking send and the
	// background goroutine "locks" it by receiving, avoiding the original's
	// cross-thread-unlocked recursive mutex entirely (Design Notes).
	gate    chan struct{}
	closeCh chan struct{}
	wg      sync.WaitGroup

	acceptRangesCheckedOnce sync.Once
	acceptRangesErr         error

	engine *transfer.Engine
	cfg    *config.Config
	log    *httplog.Logger
	link   *linkgraph.Link
	fsPath string
}

// segmentCount returns how many fixed-size segments content bytes spans.
func segmentCount(contentLength, segSize int64) int {
	if contentLength <= 0 {
		return 0
	}
	return int((contentLength + segSize - 1) / segSize)
}

// create implements spec.md §4.3's `create(path)`: validate the segment
// count, pre-allocate the sparse data file, initialize a zero bitmap, and
// persist it.
func create(cfg *config.Config, engine *transfer.Engine, log *httplog.Logger, link *linkgraph.Link, fsPath string) (*Handle, error) {
	segSize := cfg.DataBlockSize
	segCount := segmentCount(link.ContentLength, segSize)
	if segCount > cfg.MaxSegmentCount {
		return nil, ErrSegmentCountExceeded
	}

	metaPath := MetaPath(cfg, fsPath)
	dataPath := DataPath(cfg, fsPath)
	if err := ensureParentDir(metaPath); err != nil {
		return nil, errors.Wrap(err, "blockcache: creating meta directory")
	}
	if err := ensureParentDir(dataPath); err != nil {
		return nil, errors.Wrap(err, "blockcache: creating data directory")
	}

	dataFile, err := os.OpenFile(dataPath, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "blockcache: creating data file")
	}
	if err := dataFile.Truncate(link.ContentLength); err != nil {
		dataFile.Close()
		return nil, errors.Wrap(err, "blockcache: pre-allocating data file")
	}

	metaFile, err := os.OpenFile(metaPath, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		dataFile.Close()
		return nil, errors.Wrap(err, "blockcache: creating metadata file")
	}

	h := &Handle{
		segLocks:      make(map[int]*sync.Mutex),
		metaFile:      metaFile,
		dataFile:      dataFile,
		metaPath:      metaPath,
		dataPath:      dataPath,
		contentLength: link.ContentLength,
		modTime:       link.ModTime,
		segSize:       segSize,
		segCount:      segCount,
		bitmap:        make([]byte, segCount),
		gate:          make(chan struct{}, 1),
		closeCh:       make(chan struct{}),
		engine:        engine,
		cfg:           cfg,
		log:           log,
		link:          link,
		fsPath:        fsPath,
	}

	if err := h.persistMetaLocked(); err != nil {
		metaFile.Close()
		dataFile.Close()
		return nil, err
	}

	h.openCount = 1
	h.wg.Add(1)
	go h.prefetchLoop()
	return h, nil
}

// open implements spec.md §4.3's `open(path)`: returns (nil, nil) if no
// cache files exist yet; otherwise validates the persisted metadata against
// the current Link and, on mismatch, deletes the stale files and returns
// (nil, nil) so the caller re-creates.
func open(cfg *config.Config, engine *transfer.Engine, log *httplog.Logger, link *linkgraph.Link, fsPath string) (*Handle, error) {
	metaPath := MetaPath(cfg, fsPath)
	dataPath := DataPath(cfg, fsPath)

	if _, err := os.Stat(metaPath); err != nil {
		return nil, nil
	}
	if _, err := os.Stat(dataPath); err != nil {
		return nil, nil
	}

	metaFile, err := os.OpenFile(metaPath, os.O_RDWR, 0o644)
	if err != nil {
		return nil, nil
	}
	header, bitmap, err := readMeta(metaFile)
	if err != nil {
		metaFile.Close()
		deleteFiles(metaPath, dataPath)
		return nil, nil
	}

	if int64(header.ContentLength) != link.ContentLength || header.ModTimeUnix != link.ModTime.Unix() {
		metaFile.Close()
		deleteFiles(metaPath, dataPath)
		return nil, nil
	}

	dataFile, err := os.OpenFile(dataPath, os.O_RDWR, 0o644)
	if err != nil {
		metaFile.Close()
		return nil, nil
	}

	h := &Handle{
		segLocks:           make(map[int]*sync.Mutex),
		metaFile:           metaFile,
		dataFile:           dataFile,
		metaPath:           metaPath,
		dataPath:           dataPath,
		contentLength:      int64(header.ContentLength),
		modTime:            link.ModTime,
		segSize:            int64(header.SegSize),
		segCount:           int(header.SegCount),
		bitmap:             bitmap,
		gate:               make(chan struct{}, 1),
		closeCh:            make(chan struct{}),
		engine:             engine,
		cfg:                cfg,
		log:                log,
		link:               link,
		fsPath:             fsPath,
		nextPrefetchOffset: 0,
	}

	h.openCount = 1
	h.wg.Add(1)
	go h.prefetchLoop()
	return h, nil
}

func deleteFiles(paths ...string) {
	for _, p := range paths {
		_ = os.Remove(p)
	}
}

// close releases the handle's files and stops its prefetch goroutine. The
// caller (Manager) is responsible for only calling this once the open count
// has reached zero.
func (h *Handle) close() error {
	close(h.closeCh)
	h.wg.Wait()

	err1 := h.metaFile.Close()
	err2 := h.dataFile.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// ReadAt implements spec.md §4.3's read algorithm: at most one segment is
// served per call (the FS adapter loops), fetching it on demand if its
// bitmap bit is unset.
func (h *Handle) ReadAt(ctx context.Context, buf []byte, offset int64) (int, error) {
	if offset >= h.contentLength {
		return 0, io.EOF
	}
	s := int(offset / h.segSize)

	h.mu.Lock()
	set := h.bitmapSet(s)
	h.mu.Unlock()

	if !set {
		if err := h.fetchSegment(ctx, s); err != nil {
			return 0, err
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	segEnd := int64(s+1) * h.segSize
	if segEnd > h.contentLength {
		segEnd = h.contentLength
	}
	maxLen := segEnd - offset
	n := int64(len(buf))
	if n > maxLen {
		n = maxLen
	}
	if n <= 0 {
		return 0, io.EOF
	}

	read, err := h.dataFile.ReadAt(buf[:n], offset)
	if err != nil && err != io.EOF {
		return read, errors.Wrap(err, "blockcache: reading data file")
	}

	h.wakePrefetchLocked(s)
	return read, nil
}

func (h *Handle) bitmapSet(s int) bool {
	if s < 0 || s >= len(h.bitmap) {
		return false
	}
	return h.bitmap[s] != 0
}

// wakePrefetchLocked signals the background gate if the segment just served
// is at or ahead of the next scheduled prefetch offset. h.mu must be held.
func (h *Handle) wakePrefetchLocked(s int) {
	if int64(s)*h.segSize < h.nextPrefetchOffset {
		return
	}
	select {
	case h.gate <- struct{}{}:
	default:
	}
}

func (h *Handle) segmentLock(s int) *sync.Mutex {
	h.segLocksMu.Lock()
	defer h.segLocksMu.Unlock()
	l, ok := h.segLocks[s]
	if !ok {
		l = &sync.Mutex{}
		h.segLocks[s] = l
	}
	return l
}

// fetchSegment downloads segment s in full via a blocking range request and
// writes it to the data file, the realization of spec.md step 3 of the read
// algorithm. Concurrent callers for the same segment serialize on its
// per-segment write lock and double-check the bitmap once inside, giving
// the "at-most-once fetch per segment" testable property.
func (h *Handle) fetchSegment(ctx context.Context, s int) error {
	lock := h.segmentLock(s)
	lock.Lock()
	defer lock.Unlock()

	h.mu.Lock()
	already := h.bitmapSet(s)
	h.mu.Unlock()
	if already {
		return nil
	}

	start := int64(s) * h.segSize
	end := start + h.segSize
	if end > h.contentLength {
		end = h.contentLength
	}

	res, err := h.engine.Do(ctx, &transfer.Request{
		Method: http.MethodGet,
		URL:    h.link.URL,
		Range:  &transfer.ByteRange{Start: start, End: end},
		Kind:   transfer.KindData,
	})
	if err != nil {
		return errors.Wrapf(err, "blockcache: fetching segment %d of %s", s, h.fsPath)
	}
	if res.StatusCode != http.StatusPartialContent && res.StatusCode != http.StatusOK {
		return errors.Errorf("blockcache: range GET %s returned status %d", h.link.URL, res.StatusCode)
	}

	h.acceptRangesCheckedOnce.Do(func() {
		h.acceptRangesErr = h.engine.CheckAcceptRanges(res)
	})
	if h.acceptRangesErr != nil {
		return h.acceptRangesErr
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, err := h.dataFile.WriteAt(res.Body, start); err != nil {
		return errors.Wrap(err, "blockcache: writing data file")
	}
	if s >= len(h.bitmap) {
		return errors.New("blockcache: segment index out of range")
	}
	h.bitmap[s] = 1
	return h.persistMetaLocked()
}

// persistMetaLocked writes the metadata header and bitmap to disk. h.mu
// must be held by the caller.
func (h *Handle) persistMetaLocked() error {
	return writeMeta(h.metaFile, metaHeader{
		ContentLength: uint64(h.contentLength),
		ModTimeUnix:   h.modTime.Unix(),
		SegSize:       uint32(h.segSize),
		SegCount:      uint32(h.segCount),
	}, h.bitmap)
}
