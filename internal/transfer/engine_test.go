package transfer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fangfufu/httpdirfs-sub000/internal/config"
	"github.com/fangfufu/httpdirfs-sub000/internal/httplog"
)

func newTestEngine(t *testing.T, cfg *config.Config) *Engine {
	t.Helper()
	if cfg == nil {
		cfg = config.Default()
	}
	e, err := NewEngine(cfg, httplog.New(0))
	require.NoError(t, err)
	return e
}

func TestDoReturnsBodyAndStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Accept-Ranges", "bytes")
		_, _ = w.Write([]byte("hello world"))
	}))
	defer srv.Close()

	e := newTestEngine(t, nil)
	res, err := e.Do(context.Background(), &Request{Method: http.MethodGet, URL: srv.URL})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, "hello world", string(res.Body))
	require.True(t, res.AcceptsRanges())
}

func TestDoRetriesTemporaryFailure(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := config.Default()
	cfg.RetryWaitSec = 0
	e := newTestEngine(t, cfg)

	res, err := e.Do(context.Background(), &Request{Method: http.MethodGet, URL: srv.URL})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.EqualValues(t, 2, atomic.LoadInt32(&attempts))
}

func TestDoAsyncAndDriveOnce(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(10 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	e := newTestEngine(t, nil)
	xfer := e.DoAsync(context.Background(), &Request{Method: http.MethodHead, URL: srv.URL, Kind: KindFileStat})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for !xfer.Done() {
		e.DriveOnce(ctx)
	}

	res, err := xfer.Result()
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)
}

func TestCheckAcceptRanges(t *testing.T) {
	cfg := config.Default()
	e := newTestEngine(t, cfg)

	ok := &Result{Header: http.Header{"Accept-Ranges": []string{"bytes"}}}
	require.NoError(t, e.CheckAcceptRanges(ok))

	missing := &Result{Header: http.Header{}}
	require.Error(t, e.CheckAcceptRanges(missing))

	cfg.NoRangeCheck = true
	require.NoError(t, e.CheckAcceptRanges(missing))
}
