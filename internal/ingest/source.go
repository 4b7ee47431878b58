package ingest

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

const defaultFetchTimeout = 30 * time.Second

// Reader opens sources and decodes them into tables. The zero value is not
// usable; build one with NewReader.
type Reader struct {
	client *http.Client
}

// Option configures a Reader.
type Option func(*Reader)

// WithHTTPClient replaces the client used for http(s) sources.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Reader) { r.client = c }
}

// WithBearerToken authenticates every http(s) request with token.
// An empty token is ignored.
func WithBearerToken(token string) Option {
	return func(r *Reader) {
		if token == "" {
			return
		}
		base := r.client.Transport
		if base == nil {
			base = http.DefaultTransport
		}
		c := *r.client
		c.Transport = &authRoundTripper{base: base, token: token}
		r.client = &c
	}
}

// NewReader returns a Reader with a default HTTP client.
func NewReader(opts ...Option) *Reader {
	r := &Reader{client: &http.Client{Timeout: defaultFetchTimeout}}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// authRoundTripper injects a bearer token into every outgoing request.
type authRoundTripper struct {
	base  http.RoundTripper
	token string
}

func (t *authRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+t.token)
	return t.base.RoundTrip(req)
}

// Open returns the decompressed contents of src.
func (r *Reader) Open(ctx context.Context, src string) (io.ReadCloser, error) {
	raw, name, err := r.openRaw(ctx, src)
	if err != nil {
		return nil, err
	}
	rc, err := decompress(raw, name)
	if err != nil {
		raw.Close()
		return nil, fmt.Errorf("ingest: %s: %w", src, err)
	}
	return rc, nil
}

// openRaw returns the undecoded stream for src plus the name whose suffix
// selects decompression.
func (r *Reader) openRaw(ctx context.Context, src string) (io.ReadCloser, string, error) {
	if u, err := url.Parse(src); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		body, err := r.fetch(ctx, src)
		if err != nil {
			return nil, "", fmt.Errorf("ingest: fetch %s: %w", src, err)
		}
		return body, path.Base(u.Path), nil
	}
	f, err := os.Open(src)
	if err != nil {
		return nil, "", fmt.Errorf("ingest: open: %w", err)
	}
	return f, src, nil
}

func (r *Reader) fetch(ctx context.Context, src string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return resp.Body, nil
}

func decompress(raw io.ReadCloser, name string) (io.ReadCloser, error) {
	switch {
	case strings.HasSuffix(name, ".gz"):
		zr, err := gzip.NewReader(raw)
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		return &stackedCloser{Reader: zr, closers: []io.Closer{zr, raw}}, nil
	case strings.HasSuffix(name, ".zst"):
		zr, err := zstd.NewReader(raw)
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		dec := zr.IOReadCloser()
		return &stackedCloser{Reader: dec, closers: []io.Closer{dec, raw}}, nil
	default:
		return raw, nil
	}
}

// stackedCloser closes a decoder and the stream beneath it.
type stackedCloser struct {
	io.Reader
	closers []io.Closer
}

func (s *stackedCloser) Close() error {
	var first error
	for _, c := range s.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// sniffDelimiter reads the header line and reports the delimiter it uses.
// The returned reader replays the header.
func sniffDelimiter(r io.Reader) (rune, io.Reader, error) {
	br := bufio.NewReader(r)
	header, err := br.ReadString('\n')
	if err != nil && err != io.EOF {
		return 0, nil, err
	}
	delim := ','
	if strings.ContainsRune(header, '\t') {
		delim = '\t'
	}
	return delim, io.MultiReader(strings.NewReader(header), br), nil
}
