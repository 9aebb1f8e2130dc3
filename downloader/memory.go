package downloader

import (
	"context"
	"sync"
	"time"
)

// Keeps the last snapshot per URL in memory. Requests with
// GetOptions.Cache unset always go to the network.
//
// A fresh snapshot is served without a request. Once it expires, a
// snapshot that came with an ETag is revalidated, and a 304 extends
// it for another CacheTTL.
type MemoryDownloader struct {
	mutex     sync.Mutex
	snapshots map[string]*snapshot

	TimeNow func() time.Time
}

func NewMemoryDownloader() *MemoryDownloader {
	return &MemoryDownloader{
		snapshots: make(map[string]*snapshot),
		TimeNow:   time.Now,
	}
}

type snapshot struct {
	body    []byte
	etag    string
	expires time.Time
}

func (d *MemoryDownloader) Get(
	ctx context.Context,
	url string,
	headers map[string]string,
	options GetOptions,
) ([]byte, error) {
	if !options.Cache {
		return HTTPGet(ctx, url, headers, options)
	}

	d.mutex.Lock()
	defer d.mutex.Unlock()

	now := d.TimeNow()

	prev := d.snapshots[url]
	if prev != nil && prev.expires.After(now) {
		return prev.body, nil
	}

	etag := ""
	if prev != nil {
		etag = prev.etag
	}

	resp, err := fetch(ctx, url, headers, options, etag)
	if err != nil {
		delete(d.snapshots, url)
		return nil, err
	}

	if resp.notModified {
		prev.expires = now.Add(options.CacheTTL)
		return prev.body, nil
	}

	d.snapshots[url] = &snapshot{
		body:    resp.body,
		etag:    resp.etag,
		expires: now.Add(options.CacheTTL),
	}

	return resp.body, nil
}
