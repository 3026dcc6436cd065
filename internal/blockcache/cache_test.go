package blockcache

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fangfufu/httpdirfs-sub000/internal/config"
	"github.com/fangfufu/httpdirfs-sub000/internal/httplog"
	"github.com/fangfufu/httpdirfs-sub000/internal/linkgraph"
	"github.com/fangfufu/httpdirfs-sub000/internal/transfer"
)

const testContent = "0123456789ABCDEFGHIJ" // 20 bytes

// parseRangeHeader parses a "bytes=START-END" request header into an
// inclusive-start/exclusive-end pair; test-only, the engine itself never
// needs to parse Range headers it sent.
func parseRangeHeader(header string, start, end *int64) error {
	spec := strings.TrimPrefix(header, "bytes=")
	parts := strings.SplitN(spec, "-", 2)
	if len(parts) != 2 {
		return fmt.Errorf("malformed range header %q", header)
	}
	var endInclusive int64
	if _, err := fmt.Sscanf(parts[0], "%d", start); err != nil {
		return err
	}
	if parts[1] == "" {
		*end = int64(len(testContent))
		return nil
	}
	if _, err := fmt.Sscanf(parts[1], "%d", &endInclusive); err != nil {
		return err
	}
	*end = endInclusive + 1
	return nil
}

func newTestManager(t *testing.T, segSize int64) (*Manager, *linkgraph.Link, *httptest.Server, *int32) {
	t.Helper()
	var fetches int32
	mux := http.NewServeMux()
	mux.HandleFunc("/file.bin", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&fetches, 1)
		w.Header().Set("Accept-Ranges", "bytes")
		rng := r.Header.Get("Range")
		if rng == "" {
			w.Header().Set("Content-Length", "20")
			_, _ = w.Write([]byte(testContent))
			return
		}
		var start, end int64
		err := parseRangeHeader(rng, &start, &end)
		require.NoError(t, err)
		if end > int64(len(testContent)) {
			end = int64(len(testContent))
		}
		w.Header().Set("Content-Range", "bytes */20")
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write([]byte(testContent[start:end]))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	cfg := config.Default()
	cfg.BaseURL = srv.URL + "/"
	cfg.CacheDir = t.TempDir()
	cfg.DataBlockSize = segSize
	log := httplog.New(0)
	engine, err := transfer.NewEngine(cfg, log)
	require.NoError(t, err)

	link := &linkgraph.Link{
		Name:          "file.bin",
		URL:           srv.URL + "/file.bin",
		Kind:          linkgraph.KindFile,
		ContentLength: int64(len(testContent)),
		ModTime:       time.Unix(1700000000, 0).UTC(),
	}

	return NewManager(cfg, engine, log), link, srv, &fetches
}

func TestCacheReadServesFullFile(t *testing.T) {
	mgr, link, _, _ := newTestManager(t, 8)
	h, err := mgr.Acquire(context.Background(), link, "/file.bin")
	require.NoError(t, err)
	defer mgr.Release("/file.bin")

	buf := make([]byte, len(testContent))
	got := 0
	for got < len(buf) {
		n, err := h.ReadAt(context.Background(), buf[got:], int64(got))
		got += n
		if err != nil {
			break
		}
	}
	require.Equal(t, testContent, string(buf[:got]))
}

func TestCacheReadIsIdempotent(t *testing.T) {
	// One segment covers the whole file, so background prefetch has nothing
	// to fetch and every counted request comes from ReadAt itself.
	mgr, link, _, fetches := newTestManager(t, 20)
	h, err := mgr.Acquire(context.Background(), link, "/file.bin")
	require.NoError(t, err)
	defer mgr.Release("/file.bin")

	buf := make([]byte, 5)
	n1, err := h.ReadAt(context.Background(), buf, 0)
	require.NoError(t, err)
	first := atomic.LoadInt32(fetches)

	n2, err := h.ReadAt(context.Background(), buf, 0)
	require.NoError(t, err)
	require.Equal(t, n1, n2)
	require.Equal(t, first, atomic.LoadInt32(fetches))
}

func TestCacheConcurrentReadsFetchSegmentOnce(t *testing.T) {
	mgr, link, _, fetches := newTestManager(t, 20)
	h, err := mgr.Acquire(context.Background(), link, "/file.bin")
	require.NoError(t, err)
	defer mgr.Release("/file.bin")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			buf := make([]byte, 4)
			_, _ = h.ReadAt(context.Background(), buf, 0)
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), atomic.LoadInt32(fetches))
}

func TestCacheReopenReusesDiskCopy(t *testing.T) {
	// One segment covers the whole file, so background prefetch has nothing
	// to fetch and every counted request comes from ReadAt itself.
	mgr, link, _, fetches := newTestManager(t, 20)
	h, err := mgr.Acquire(context.Background(), link, "/file.bin")
	require.NoError(t, err)

	buf := make([]byte, 8)
	_, err = h.ReadAt(context.Background(), buf, 0)
	require.NoError(t, err)
	require.NoError(t, mgr.Release("/file.bin"))

	afterFirstClose := atomic.LoadInt32(fetches)

	h2, err := mgr.Acquire(context.Background(), link, "/file.bin")
	require.NoError(t, err)
	defer mgr.Release("/file.bin")

	got := make([]byte, 8)
	_, err = h2.ReadAt(context.Background(), got, 0)
	require.NoError(t, err)
	require.Equal(t, testContent[:8], string(got))
	require.Equal(t, afterFirstClose, atomic.LoadInt32(fetches))
}

func TestCacheAcquireSharesHandleAcrossConcurrentOpeners(t *testing.T) {
	mgr, link, _, _ := newTestManager(t, 8)

	h1, err := mgr.Acquire(context.Background(), link, "/file.bin")
	require.NoError(t, err)
	h2, err := mgr.Acquire(context.Background(), link, "/file.bin")
	require.NoError(t, err)
	require.Same(t, h1, h2)

	require.NoError(t, mgr.Release("/file.bin"))
	require.NoError(t, mgr.Release("/file.bin"))
}
