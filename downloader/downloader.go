package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

var (
	ErrTooLarge  = errors.New("response exceeds max size")
	ErrEmptyBody = errors.New("empty response body")
)

type GetOptions struct {
	MaxSize  int
	Timeout  time.Duration
	Cache    bool
	CacheTTL time.Duration
}

// A thing capable of downloading a file, optionally with caching
type Downloader interface {
	Get(ctx context.Context, url string, headers map[string]string, options GetOptions) ([]byte, error)
}

// Gets a file. Doesn't cache. An empty body is an error: a realtime
// server answering 200 with nothing has no snapshot to give.
func HTTPGet(ctx context.Context, url string, headers map[string]string, options GetOptions) ([]byte, error) {
	resp, err := fetch(ctx, url, headers, options, "")
	if err != nil {
		return nil, err
	}
	return resp.body, nil
}

type response struct {
	body        []byte
	etag        string
	notModified bool
}

// Performs the GET. With etag set, the request is conditional and a
// 304 comes back as notModified with no body.
func fetch(ctx context.Context, url string, headers map[string]string, options GetOptions, etag string) (*response, error) {
	client := &http.Client{Timeout: options.Timeout}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	for k, v := range headers {
		req.Header.Add(k, v)
	}
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("making request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case etag != "" && resp.StatusCode == http.StatusNotModified:
		return &response{etag: etag, notModified: true}, nil
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var reader io.Reader = resp.Body
	if options.MaxSize > 0 {
		reader = io.LimitReader(resp.Body, int64(options.MaxSize)+1)
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}
	if options.MaxSize > 0 && len(body) > options.MaxSize {
		return nil, fmt.Errorf("%w (%d bytes)", ErrTooLarge, options.MaxSize)
	}
	if len(body) == 0 {
		return nil, ErrEmptyBody
	}

	return &response{body: body, etag: resp.Header.Get("ETag")}, nil
}
