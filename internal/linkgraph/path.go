package linkgraph

import "strings"

// MaxPathLen bounds the result of PathAppend, matching the original's
// MAX_PATH_LEN (_examples/original_source/src/config.h).
const MaxPathLen = 4096

// PathAppend joins base and name the way the original's path_append did
// (_examples/original_source/src/util.c, supplemented per SPEC_FULL.md §11):
// a single '/' always separates the two, regardless of whether base already
// ends in one, and the result is truncated cleanly at MaxPathLen rather than
// overflowing a fixed buffer.
func PathAppend(base, name string) string {
	var b strings.Builder
	b.WriteString(strings.TrimSuffix(base, "/"))
	b.WriteByte('/')
	b.WriteString(name)
	s := b.String()
	if len(s) > MaxPathLen {
		s = s[:MaxPathLen]
	}
	return s
}

// splitPath breaks a '/'-separated POSIX path into its non-empty segments.
func splitPath(path string) []string {
	var segs []string
	for _, s := range strings.Split(path, "/") {
		if s != "" {
			segs = append(segs, s)
		}
	}
	return segs
}
