package linkgraph

import (
	"context"
	"errors"
)

// DirectoryEntry is the shape a DirectorySource must produce for each entry
// of a listing: a name, full URL, and whether it is itself a directory.
// Stat fill and path resolution downstream are unaffected by which
// DirectorySource produced them, per spec.md §4.2's SONIC mode note.
type DirectoryEntry struct {
	Name  string
	URL   string
	IsDir bool
}

// DirectorySource abstracts "fetch and parse a directory listing" so that
// NORMAL mode's HTML scraping and SONIC mode's Subsonic API client can share
// the rest of the link graph (stat fill, persistence, path resolution).
//
// SONIC mode itself is out of scope (spec.md §1: "the Subsonic-specific
// variant of directory enumeration ... plugs into the same link-graph
// contract"); this interface is the seam SPEC_FULL.md §4.2 calls for, with
// no implementation behind it.
type DirectorySource interface {
	ListDirectory(ctx context.Context, listingURL string) ([]DirectoryEntry, error)
}

// ErrSonicNotImplemented is returned by the stub SONIC source so that a
// Graph configured for ModeSonic fails loudly rather than silently behaving
// like NORMAL mode.
var ErrSonicNotImplemented = errors.New("linkgraph: sonic mode directory source is not implemented")

// unimplementedSonicSource is wired in for config.ModeSonic until a real
// Subsonic API client is implemented; it satisfies DirectorySource so Graph
// construction doesn't need a special case for the mode it can't serve.
type unimplementedSonicSource struct{}

func (unimplementedSonicSource) ListDirectory(context.Context, string) ([]DirectoryEntry, error) {
	return nil, ErrSonicNotImplemented
}
