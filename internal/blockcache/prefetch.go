package blockcache

import (
	"context"

	"github.com/fangfufu/httpdirfs-sub000/internal/httplog"
)

// prefetchLoop is the background half of spec.md §4.3's "Background
// prefetch" paragraph: it sleeps on the gate until woken by a foreground
// read, then advances nextPrefetchOffset a segment at a time past any segment
// already cached and pulls in the first one that is not, so sequential
// readers stay ahead of the reader instead of stalling on every segment
// boundary; it then waits on the gate again. It exits once closeCh is closed
// or nextPrefetchOffset reaches the end of the file.
func (h *Handle) prefetchLoop() {
	defer h.wg.Done()
	ctx := context.Background()

	for {
		select {
		case <-h.closeCh:
			return
		case <-h.gate:
		}

		for {
			h.mu.Lock()
			h.nextPrefetchOffset += h.segSize
			offset := h.nextPrefetchOffset
			exhausted := offset >= h.contentLength
			h.mu.Unlock()
			if exhausted {
				return
			}

			s := int(offset / h.segSize)

			h.mu.Lock()
			set := h.bitmapSet(s)
			h.mu.Unlock()
			if !set {
				if err := h.fetchSegment(ctx, s); err != nil {
					if h.log != nil {
						h.log.Debugf(httplog.ChannelCache, "blockcache: prefetch of segment %d of %s failed: %v", s, h.fsPath, err)
					}
				}
				break
			}
		}
	}
}
