package ingest

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/lox/harmoclimate/internal/httputil"
)

// Fetcher downloads station archives, retrying rate limits and server errors.
type Fetcher struct {
	Client          *http.Client
	MaxElapsed      time.Duration
	InitialInterval time.Duration
}

func NewFetcher(timeout, maxElapsed time.Duration) *Fetcher {
	return &Fetcher{
		Client:     httputil.NewClient(timeout),
		MaxElapsed: maxElapsed,
	}
}

func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

// Fetch returns the body of url. 429 and 5xx responses are retried with
// exponential backoff until MaxElapsed; other failures are permanent.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	var body []byte
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("fetch %s: %w", url, err))
		}
		resp, err := f.Client.Do(req)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("fetch %s: %w", url, err))
		}
		defer resp.Body.Close()

		if retryable(resp.StatusCode) {
			return fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return backoff.Permanent(fmt.Errorf("fetch %s: status %d: %s", url, resp.StatusCode, strings.TrimSpace(string(b))))
		}

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("read %s: %w", url, err))
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	if f.MaxElapsed > 0 {
		bo.MaxElapsedTime = f.MaxElapsed
	}
	if f.InitialInterval > 0 {
		bo.InitialInterval = f.InitialInterval
	}
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return nil, err
	}
	return body, nil
}

// Open returns a reader over a local path or an http(s) URL. Gzip content is
// decompressed transparently.
func (f *Fetcher) Open(ctx context.Context, source string) (io.ReadCloser, error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		body, err := f.Fetch(ctx, source)
		if err != nil {
			return nil, err
		}
		return maybeGzip(io.NopCloser(bytes.NewReader(body)))
	}

	file, err := os.Open(source)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	return maybeGzip(file)
}

type gzipReadCloser struct {
	*gzip.Reader
	underlying io.Closer
}

func (g gzipReadCloser) Close() error {
	err := g.Reader.Close()
	if cerr := g.underlying.Close(); err == nil {
		err = cerr
	}
	return err
}

type bufferedReadCloser struct {
	*bufio.Reader
	io.Closer
}

func maybeGzip(rc io.ReadCloser) (io.ReadCloser, error) {
	br := bufio.NewReader(rc)
	magic, _ := br.Peek(2)
	if len(magic) < 2 || magic[0] != 0x1f || magic[1] != 0x8b {
		return bufferedReadCloser{Reader: br, Closer: rc}, nil
	}
	zr, err := gzip.NewReader(br)
	if err != nil {
		rc.Close()
		return nil, fmt.Errorf("gzip: %w", err)
	}
	return gzipReadCloser{Reader: zr, underlying: rc}, nil
}
