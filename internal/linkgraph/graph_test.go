package linkgraph

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fangfufu/httpdirfs-sub000/internal/config"
	"github.com/fangfufu/httpdirfs-sub000/internal/httplog"
	"github.com/fangfufu/httpdirfs-sub000/internal/transfer"
)

const rootIndexHTML = `<html><body>
<a href="a.txt">a.txt</a>
<a href="sub/">sub/</a>
</body></html>`

const subIndexHTML = `<html><body>
<a href="b.txt">b.txt</a>
</body></html>`

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodHead && r.URL.Path == "/a.txt":
			w.Header().Set("Content-Length", "10")
			w.Header().Set("Accept-Ranges", "bytes")
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodHead && r.URL.Path == "/sub/b.txt":
			w.Header().Set("Content-Length", "5")
			w.WriteHeader(http.StatusOK)
		case r.URL.Path == "/" || r.URL.Path == "":
			_, _ = w.Write([]byte(rootIndexHTML))
		case r.URL.Path == "/sub/":
			_, _ = w.Write([]byte(subIndexHTML))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	return httptest.NewServer(mux)
}

func newTestGraph(t *testing.T, srv *httptest.Server) *Graph {
	t.Helper()
	cfg := config.Default()
	cfg.BaseURL = srv.URL + "/"
	log := httplog.New(0)
	engine, err := transfer.NewEngine(cfg, log)
	require.NoError(t, err)
	g, err := NewGraph(context.Background(), cfg, engine, log)
	require.NoError(t, err)
	return g
}

func TestGraphScenario1DirectoryListing(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()
	g := newTestGraph(t, srv)

	root := g.Root(context.Background())
	require.Len(t, root.children(), 2)

	names := map[string]*Link{}
	for _, l := range root.children() {
		names[l.Name] = l
	}
	require.Contains(t, names, "a.txt")
	require.Contains(t, names, "sub")
	require.Equal(t, KindFile, names["a.txt"].Kind)
	require.EqualValues(t, 10, names["a.txt"].ContentLength)
	require.Equal(t, KindDir, names["sub"].Kind)
}

func TestGraphPathToLinkDescends(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()
	g := newTestGraph(t, srv)

	l, err := g.PathToLink(context.Background(), "/sub/b.txt")
	require.NoError(t, err)
	require.Equal(t, KindFile, l.Kind)
	require.EqualValues(t, 5, l.ContentLength)
}

func TestGraphPathToLinkNotFound(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()
	g := newTestGraph(t, srv)

	_, err := g.PathToLink(context.Background(), "/missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestGraphRetryOnTemporaryFailure(t *testing.T) {
	var calls int
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead && r.URL.Path == "/a.txt" {
			calls++
			if calls == 1 {
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			w.Header().Set("Content-Length", "10")
			w.WriteHeader(http.StatusOK)
			return
		}
		if r.URL.Path == "/" {
			_, _ = w.Write([]byte(`<a href="a.txt">a.txt</a>`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	g := newTestGraph(t, srv)
	root := g.Root(context.Background())
	require.Len(t, root.children(), 1)
	require.Equal(t, KindFile, root.children()[0].Kind)
	require.GreaterOrEqual(t, calls, 2)
}

func TestSingleModeRoot(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", "42")
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cfg := config.Default()
	cfg.Mode = config.ModeSingle
	cfg.BaseURL = srv.URL + "/movie.mkv"
	log := httplog.New(0)
	engine, err := transfer.NewEngine(cfg, log)
	require.NoError(t, err)

	g, err := NewGraph(context.Background(), cfg, engine, log)
	require.NoError(t, err)

	root := g.Root(context.Background())
	require.Len(t, root.children(), 1)
	require.Equal(t, "movie.mkv", root.children()[0].Name)
	require.Equal(t, KindFile, root.children()[0].Kind)
}
