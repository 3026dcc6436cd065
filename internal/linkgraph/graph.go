package linkgraph

import (
	"bytes"
	"context"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/fangfufu/httpdirfs-sub000/internal/config"
	"github.com/fangfufu/httpdirfs-sub000/internal/httplog"
	"github.com/fangfufu/httpdirfs-sub000/internal/transfer"
)

// ErrNotFound is returned by PathToLink when no entry matches a path
// segment; callers translate this to ENOENT.
var ErrNotFound = errors.New("linkgraph: no such entry")

// ErrDepthExceeded is returned when descending would exceed maxDirDepth,
// the guard DESIGN.md's Open Question decision #1 adds against a cyclic or
// adversarial remote tree, which spec.md §9 flags as unguarded in the
// source.
var ErrDepthExceeded = errors.New("linkgraph: maximum directory depth exceeded")

// defaultMaxDirDepth bounds how deep buildLinkTable will recurse.
const defaultMaxDirDepth = 32

// Graph owns every Link and LinkTable reachable from the configured base
// URL. It is the single mutable structure behind spec.md §4.2's path
// resolution and tree growth, serialized by one process-wide "link lock".
type Graph struct {
	mu sync.Mutex

	cfg    *config.Config
	engine *transfer.Engine
	log    *httplog.Logger
	source DirectorySource

	root           *LinkTable
	maxDirDepth    int
	persistEnabled bool
}

// NewGraph installs the root listing per spec.md §4.2's `init(base_url)`,
// dispatching on cfg.Mode: NORMAL and SONIC eagerly fetch/parse the base
// URL's listing, SINGLE synthesizes a one-entry root.
func NewGraph(ctx context.Context, cfg *config.Config, engine *transfer.Engine, log *httplog.Logger) (*Graph, error) {
	g := &Graph{
		cfg:            cfg,
		engine:         engine,
		log:            log,
		maxDirDepth:    defaultMaxDirDepth,
		persistEnabled: cfg.CacheEnabled && cfg.Mode != config.ModeSingle,
	}

	switch cfg.Mode {
	case config.ModeSingle:
		lt, err := buildSingleRoot(cfg.BaseURL)
		if err != nil {
			return nil, errors.Wrap(err, "linkgraph: building single-file root")
		}
		if err := g.fillUnknown(ctx, lt); err != nil {
			return nil, err
		}
		g.root = lt
	case config.ModeSonic:
		g.source = unimplementedSonicSource{}
		lt, err := g.buildLinkTable(ctx, nil)
		if err != nil {
			return nil, err
		}
		g.root = lt
	default:
		lt, err := g.buildLinkTable(ctx, nil)
		if err != nil {
			return nil, err
		}
		g.root = lt
	}

	return g, nil
}

// PathToLink resolves a '/'-separated path by descending from root,
// building any not-yet-materialized directory along the way. The whole
// walk holds the link lock, so concurrent resolvers and tree growth never
// observe a half-built table, and (per spec.md §5) link-lock is always
// acquired before any transfer-lock use during growth.
func (g *Graph) PathToLink(ctx context.Context, path string) (*Link, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	segs := splitPath(path)
	if len(segs) == 0 {
		return nil, errors.New("linkgraph: PathToLink called with the root path; callers must special-case \"/\"")
	}

	table := g.root
	var match *Link
	for i, seg := range segs {
		match = nil
		for _, l := range table.children() {
			if l.Name == seg {
				match = l
				break
			}
		}
		if match == nil {
			return nil, ErrNotFound
		}
		if i == len(segs)-1 {
			return match, nil
		}
		if match.Kind != KindDir {
			return nil, ErrNotFound
		}
		sub, err := g.buildLinkTable(ctx, match)
		if err != nil {
			return nil, err
		}
		table = sub
	}
	return match, nil
}

// Root returns the graph's top-level LinkTable, e.g. for readdir("/").
func (g *Graph) Root(ctx context.Context) *LinkTable {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.root
}

// ListDir resolves a directory path to its (possibly freshly built)
// LinkTable, for readdir on a non-root directory.
func (g *Graph) ListDir(ctx context.Context, path string) (*LinkTable, error) {
	if splitPathLen(path) == 0 {
		return g.Root(ctx), nil
	}
	l, err := g.PathToLink(ctx, path)
	if err != nil {
		return nil, err
	}
	if l.Kind != KindDir {
		return nil, ErrNotFound
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.buildLinkTable(ctx, l)
}

func splitPathLen(path string) int {
	return len(splitPath(path))
}

// buildLinkTable materializes owner's child listing (or, when owner is nil,
// the global root listing), the realization of spec.md's `linktable_build`.
// Must be called with g.mu held.
func (g *Graph) buildLinkTable(ctx context.Context, owner *Link) (*LinkTable, error) {
	if owner != nil && owner.children != nil {
		return owner.children, nil
	}

	depth := 0
	listingURL := g.cfg.BaseURL
	if owner != nil {
		depth = owner.Depth + 1
		listingURL = owner.URL
		if depth > g.maxDirDepth {
			return nil, ErrDepthExceeded
		}
	}

	fresh, err := g.fetchAndParse(ctx, listingURL, depth)
	if err != nil {
		return nil, err
	}

	var metaPath string
	if g.persistEnabled {
		metaPath = g.linkTableMetaPath(owner)
		if disk, loadErr := loadLinkTable(metaPath, depth); loadErr == nil {
			if len(disk.Links) == len(fresh.Links) {
				disk.Owner = owner
				if owner != nil {
					owner.children = disk
				}
				return disk, nil
			}
		}
	}

	if err := g.fillUnknown(ctx, fresh); err != nil {
		return nil, err
	}
	fresh.Owner = owner
	if owner != nil {
		owner.children = fresh
	}

	if g.persistEnabled {
		if err := os.MkdirAll(filepath.Dir(metaPath), 0o755); err != nil {
			g.log.Warnf("linkgraph: creating meta directory for %s: %v", listingURL, err)
		} else if err := saveLinkTable(metaPath, fresh); err != nil {
			g.log.Warnf("linkgraph: saving .LinkTable for %s: %v", listingURL, err)
		}
	}

	return fresh, nil
}

// linkTableMetaPath returns where owner's child listing would be persisted:
// <meta_dir>/.LinkTable for the root, <meta_dir>/<owner path>/.LinkTable
// otherwise.
func (g *Graph) linkTableMetaPath(owner *Link) string {
	if owner == nil {
		return filepath.Join(g.cfg.MetaDir(), LinkTableFileName)
	}
	return filepath.Join(g.cfg.MetaDir(), owner.Path(), LinkTableFileName)
}

// fetchAndParse fetches listingURL (via the configured DirectorySource in
// SONIC mode, or an HTML GET otherwise) and builds a fresh LinkTable from
// the entries found, before any stat fill has run.
func (g *Graph) fetchAndParse(ctx context.Context, listingURL string, depth int) (*LinkTable, error) {
	if g.source != nil {
		entries, err := g.source.ListDirectory(ctx, listingURL)
		if err != nil {
			return nil, errors.Wrap(err, "linkgraph: listing directory via directory source")
		}
		lt := newLinkTable(listingURL, depth)
		for _, e := range entries {
			kind := KindUninitializedFile
			if e.IsDir {
				kind = KindDir
			}
			lt.add(e.Name, e.URL, kind, depth)
		}
		return lt, nil
	}

	res, err := g.engine.Do(ctx, &transfer.Request{Method: http.MethodGet, URL: listingURL, Kind: transfer.KindData})
	if err != nil {
		return nil, errors.Wrapf(err, "linkgraph: fetching %s", listingURL)
	}
	if res.StatusCode != http.StatusOK {
		return nil, errors.Errorf("linkgraph: GET %s returned status %d", listingURL, res.StatusCode)
	}

	entries, err := parseIndex(bytes.NewReader(res.Body))
	if err != nil {
		return nil, errors.Wrapf(err, "linkgraph: parsing index at %s", listingURL)
	}

	lt := newLinkTable(listingURL, depth)
	for _, e := range entries {
		full, err := resolveURL(listingURL, e.href)
		if err != nil {
			continue
		}
		kind := KindUninitializedFile
		if e.isDir {
			kind = KindDir
		}
		lt.add(e.name, full, kind, depth)
	}
	return lt, nil
}

// resolveURL composes an absolute URL from a directory listing's URL and a
// relative href found in its HTML, the Go equivalent of the original's
// "base + link" string concatenation but correct in the face of
// dot-segments and differing trailing slashes.
func resolveURL(base, href string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	r, err := url.Parse(href)
	if err != nil {
		return "", err
	}
	return b.ResolveReference(r).String(), nil
}

// fillUnknown implements spec.md §4.2's `fill_unknown`: repeatedly issue
// non-blocking FILESTAT requests for every still-unknown entry and drive
// the engine until they all complete, looping again if any remain
// UninitializedFile (they do only when they hit a temporary failure).
func (g *Graph) fillUnknown(ctx context.Context, lt *LinkTable) error {
	for {
		pending := make(map[*Link]*transfer.Transfer)
		for _, l := range lt.children() {
			if l.Kind != KindUninitializedFile {
				continue
			}
			pending[l] = g.engine.DoAsync(ctx, &transfer.Request{
				Method: http.MethodHead,
				URL:    l.URL,
				Kind:   transfer.KindFileStat,
			})
		}
		if len(pending) == 0 {
			return nil
		}

		for !allDone(pending) {
			g.engine.DriveOnce(ctx)
			if err := ctx.Err(); err != nil {
				return err
			}
		}

		for l, xfer := range pending {
			res, err := xfer.Result()
			g.applyStat(l, res, err)
		}
	}
}

func allDone(pending map[*Link]*transfer.Transfer) bool {
	for _, xfer := range pending {
		if !xfer.Done() {
			return false
		}
	}
	return true
}

// applyStat realizes spec.md §4.1's completion-handling algorithm for a
// FILESTAT transfer: 200 with a positive Content-Length sets the link to
// FILE with its stat recorded; a documented temporary failure leaves it
// UninitializedFile for the next fillUnknown pass; anything else sets it
// INVALID.
func (g *Graph) applyStat(l *Link, res *transfer.Result, err error) {
	if err != nil {
		g.log.Warnf("linkgraph: stat %s: %v", l.URL, err)
		l.Kind = KindInvalid
		return
	}
	switch {
	case res.StatusCode == http.StatusOK:
		cl := parseContentLength(res.Header)
		if cl <= 0 {
			l.Kind = KindInvalid
			return
		}
		l.ContentLength = cl
		l.ModTime = parseLastModified(res.Header)
		l.Kind = KindFile
	case transfer.IsTemporary(res.StatusCode):
		// Leave UninitializedFile; the next fillUnknown pass retries it.
	default:
		g.log.Warnf("linkgraph: stat %s: unexpected status %d", l.URL, res.StatusCode)
		l.Kind = KindInvalid
	}
}

func parseContentLength(h http.Header) int64 {
	v := h.Get("Content-Length")
	if v == "" {
		return 0
	}
	var n int64
	for _, c := range v {
		if c < '0' || c > '9' {
			return 0
		}
		n = n*10 + int64(c-'0')
	}
	return n
}

func parseLastModified(h http.Header) time.Time {
	v := h.Get("Last-Modified")
	if v == "" {
		return time.Time{}
	}
	t, err := http.ParseTime(v)
	if err != nil {
		return time.Time{}
	}
	return t
}
