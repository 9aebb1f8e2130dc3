package downloader_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"motionbus.dev/gtfs/downloader"
)

func TestHTTPGet(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/feed":
			if r.Header.Get("X-Api-Key") != "secret" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.Write([]byte("0123456789"))
		case "/slow":
			time.Sleep(200 * time.Millisecond)
			w.Write([]byte("late"))
		case "/empty":
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	ctx := context.Background()
	headers := map[string]string{"X-Api-Key": "secret"}

	body, err := downloader.HTTPGet(ctx, server.URL+"/feed", headers, downloader.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(body))

	// Exactly at the limit is fine.
	body, err = downloader.HTTPGet(ctx, server.URL+"/feed", headers, downloader.GetOptions{MaxSize: 10})
	require.NoError(t, err)
	assert.Equal(t, 10, len(body))

	_, err = downloader.HTTPGet(ctx, server.URL+"/feed", headers, downloader.GetOptions{MaxSize: 9})
	assert.ErrorIs(t, err, downloader.ErrTooLarge)

	_, err = downloader.HTTPGet(ctx, server.URL+"/empty", nil, downloader.GetOptions{})
	assert.ErrorIs(t, err, downloader.ErrEmptyBody)

	_, err = downloader.HTTPGet(ctx, server.URL+"/feed", nil, downloader.GetOptions{})
	assert.ErrorContains(t, err, "status 401")

	_, err = downloader.HTTPGet(ctx, server.URL+"/nope", headers, downloader.GetOptions{})
	assert.ErrorContains(t, err, "status 404")

	_, err = downloader.HTTPGet(ctx, server.URL+"/slow", nil, downloader.GetOptions{Timeout: 20 * time.Millisecond})
	assert.Error(t, err)

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = downloader.HTTPGet(canceled, server.URL+"/feed", headers, downloader.GetOptions{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryDownloader(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := requests.Add(1)
		w.Write([]byte{byte('0' + n)})
	}))
	defer server.Close()

	ctx := context.Background()
	now := time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC)
	d := downloader.NewMemoryDownloader()
	d.TimeNow = func() time.Time { return now }

	cached := downloader.GetOptions{Cache: true, CacheTTL: 30 * time.Second}

	// Uncached requests always hit the server.
	body, err := d.Get(ctx, server.URL, nil, downloader.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "1", string(body))
	body, err = d.Get(ctx, server.URL, nil, downloader.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "2", string(body))

	body, err = d.Get(ctx, server.URL, nil, cached)
	require.NoError(t, err)
	assert.Equal(t, "3", string(body))

	now = now.Add(29 * time.Second)
	body, err = d.Get(ctx, server.URL, nil, cached)
	require.NoError(t, err)
	assert.Equal(t, "3", string(body))

	now = now.Add(2 * time.Second)
	body, err = d.Get(ctx, server.URL, nil, cached)
	require.NoError(t, err)
	assert.Equal(t, "4", string(body))

	assert.Equal(t, int32(4), requests.Load())
}

func TestMemoryDownloaderDoesNotCacheErrors(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	ctx := context.Background()
	d := downloader.NewMemoryDownloader()
	cached := downloader.GetOptions{Cache: true, CacheTTL: time.Minute}

	_, err := d.Get(ctx, server.URL, nil, cached)
	assert.Error(t, err)

	fail.Store(false)
	body, err := d.Get(ctx, server.URL, nil, cached)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
}

func TestMemoryDownloaderRevalidates(t *testing.T) {
	var full, notModified atomic.Int32
	var version atomic.Value
	version.Store("v1")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		etag := `"` + version.Load().(string) + `"`
		if r.Header.Get("If-None-Match") == etag {
			notModified.Add(1)
			w.WriteHeader(http.StatusNotModified)
			return
		}
		full.Add(1)
		w.Header().Set("ETag", etag)
		w.Write([]byte(version.Load().(string)))
	}))
	defer server.Close()

	ctx := context.Background()
	now := time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC)
	d := downloader.NewMemoryDownloader()
	d.TimeNow = func() time.Time { return now }
	cached := downloader.GetOptions{Cache: true, CacheTTL: 10 * time.Second}

	body, err := d.Get(ctx, server.URL, nil, cached)
	require.NoError(t, err)
	assert.Equal(t, "v1", string(body))

	// Expired but unchanged: 304, same body, extended.
	now = now.Add(11 * time.Second)
	body, err = d.Get(ctx, server.URL, nil, cached)
	require.NoError(t, err)
	assert.Equal(t, "v1", string(body))
	assert.Equal(t, int32(1), notModified.Load())

	now = now.Add(5 * time.Second)
	_, err = d.Get(ctx, server.URL, nil, cached)
	require.NoError(t, err)
	assert.Equal(t, int32(1), notModified.Load())
	assert.Equal(t, int32(1), full.Load())

	version.Store("v2")
	now = now.Add(11 * time.Second)
	body, err = d.Get(ctx, server.URL, nil, cached)
	require.NoError(t, err)
	assert.Equal(t, "v2", string(body))
	assert.Equal(t, int32(2), full.Load())
}
