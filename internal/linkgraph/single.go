package linkgraph

import (
	"net/url"
	"path"
	"strings"
)

// buildSingleRoot implements spec.md §4.2's SINGLE mode: the root listing
// contains exactly one synthetic entry named for the URL's basename, which
// the path resolver treats as a top-level file. It starts UninitializedFile
// so the normal stat-fill pass fetches its content length and mtime.
func buildSingleRoot(baseURL string) (*LinkTable, error) {
	lt := newLinkTable(baseURL, 0)

	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	name := path.Base(strings.TrimSuffix(u.Path, "/"))
	if name == "" || name == "." || name == "/" {
		name = u.Host
	}

	lt.add(name, baseURL, KindUninitializedFile, 1)
	return lt, nil
}
