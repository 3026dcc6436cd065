// Package linkgraph implements spec.md §4.2: a lazily-expanded tree of
// directory listings, materialized by parsing remote HTML index pages and
// resolving POSIX paths down to individual Links.
package linkgraph

import (
	"fmt"
	"time"
)

// Kind is a Link's lifecycle state. Transitions are monotonic except
// UninitializedFile -> {File, Invalid}, per spec.md §3.
type Kind byte

const (
	KindRoot              Kind = 'H' // the LinkTable's own sentinel, index 0
	KindDir               Kind = 'D'
	KindFile              Kind = 'F'
	KindInvalid           Kind = 'I'
	KindUninitializedFile Kind = 'U'
)

func (k Kind) String() string {
	switch k {
	case KindRoot:
		return "root"
	case KindDir:
		return "dir"
	case KindFile:
		return "file"
	case KindInvalid:
		return "invalid"
	case KindUninitializedFile:
		return "uninitialized_file"
	default:
		return fmt.Sprintf("kind(%q)", byte(k))
	}
}

// Link is one entry in a directory: either the sentinel root of a LinkTable,
// or one of its children.
type Link struct {
	Name          string
	URL           string
	Kind          Kind
	ContentLength int64
	ModTime       time.Time

	// Depth is this link's distance from the global root, used to enforce
	// the depth bound decided in DESIGN.md's Open Question #1.
	Depth int

	// SonicID is the mode-specific identifier spec.md §3 calls out for
	// Subsonic mode; unused in NORMAL/SINGLE mode.
	SonicID string

	// Parent is the LinkTable this Link is a member of (nil only for the
	// never-exposed synthetic object backing the global root pointer).
	Parent *LinkTable

	// children is the lazily-built listing for a KindDir link. Nil until
	// Graph.buildLinkTable populates it. Only ever set once, per spec.md's
	// "a DIR's child listing, once built, is not rebuilt within the process
	// lifetime" invariant.
	children *LinkTable
}

// LinkTable is one directory's materialized listing. Links[0] is always the
// KindRoot sentinel carrying the table's base URL; Links[1:] are children in
// document order.
type LinkTable struct {
	Links []*Link

	// Owner is the Link whose expansion produced this table: nil for the
	// global root table, otherwise the KindDir Link this is the child
	// listing of. Used to reconstruct a Link's path (Link.Path).
	Owner *Link
}

// newLinkTable allocates a table with just its sentinel root entry, the Go
// analogue of the original's LinkTable_alloc + LinkTable_new.
func newLinkTable(baseURL string, depth int) *LinkTable {
	lt := &LinkTable{}
	root := &Link{
		Name:   "",
		URL:    baseURL,
		Kind:   KindRoot,
		Depth:  depth,
		Parent: lt,
	}
	lt.Links = append(lt.Links, root)
	return lt
}

// Path reconstructs l's POSIX path from the root, by walking the chain of
// owning Links back to the global root table (whose Owner is nil).
func (l *Link) Path() string {
	if l == nil {
		return "/"
	}
	if l.Parent == nil || l.Parent.Owner == nil {
		return "/" + l.Name
	}
	return PathAppend(l.Parent.Owner.Path(), l.Name)
}

// rootLink returns the table's sentinel entry.
func (lt *LinkTable) rootLink() *Link {
	return lt.Links[0]
}

// children returns the non-sentinel entries, i.e. what readdir(2) should
// enumerate after "." and "..".
func (lt *LinkTable) children() []*Link {
	if len(lt.Links) == 0 {
		return nil
	}
	return lt.Links[1:]
}

// add appends a new child link, suppressing duplicates that differ from the
// immediately preceding entry only by a trailing slash — the behavior Apache's
// IconsAreLinks option triggers (spec.md §3/§4.2), grounded on
// _examples/original_source/src/link.c's LinkTable_add + linknames_equal.
func (lt *LinkTable) add(name, url string, kind Kind, depth int) *Link {
	if n := len(lt.Links); n > 0 {
		if linknamesEqual(lt.Links[n-1].Name, name) {
			return nil
		}
	}
	l := &Link{Name: name, URL: url, Kind: kind, Depth: depth, Parent: lt}
	lt.Links = append(lt.Links, l)
	return l
}

// linknamesEqual reports whether a and b name the same entry, differing at
// most by a single trailing slash.
func linknamesEqual(a, b string) bool {
	return trimTrailingSlash(a) == trimTrailingSlash(b)
}

func trimTrailingSlash(s string) string {
	if len(s) > 0 && s[len(s)-1] == '/' {
		return s[:len(s)-1]
	}
	return s
}
