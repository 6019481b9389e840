// Package origin fetches byte ranges from remote origins.
package origin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/hszk-dev/mediacache/internal/domain/repository"
	"github.com/hszk-dev/mediacache/internal/infrastructure/metrics"
)

// DefaultMaxRedirects matches net/http's own redirect limit.
const DefaultMaxRedirects = 10

// ErrCrossProtocolRedirect is returned when a redirect switches between http
// and https and the request does not allow it.
var ErrCrossProtocolRedirect = errors.New("cross-protocol redirect not allowed")

// HTTPFetcher implements repository.Fetcher with HTTP range requests.
type HTTPFetcher struct {
	client       *http.Client
	maxRedirects int
}

var _ repository.Fetcher = (*HTTPFetcher)(nil)

// HTTPOption configures an HTTPFetcher.
type HTTPOption func(*HTTPFetcher)

// WithClient sets the HTTP client used for requests. Its CheckRedirect is
// replaced per request.
func WithClient(client *http.Client) HTTPOption {
	return func(f *HTTPFetcher) {
		if client != nil {
			f.client = client
		}
	}
}

// WithMaxRedirects sets how many redirects a request may follow.
func WithMaxRedirects(n int) HTTPOption {
	return func(f *HTTPFetcher) {
		if n >= 0 {
			f.maxRedirects = n
		}
	}
}

// NewHTTPFetcher creates an HTTPFetcher.
func NewHTTPFetcher(opts ...HTTPOption) *HTTPFetcher {
	f := &HTTPFetcher{
		client:       &http.Client{},
		maxRedirects: DefaultMaxRedirects,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch issues a GET for the requested range. Servers that ignore Range and
// answer 200 are handled by skipping to the offset.
func (f *HTTPFetcher) Fetch(ctx context.Context, req repository.FetchRequest) (*repository.FetchResult, error) {
	res, err := f.fetch(ctx, req)
	status := metrics.StatusSuccess
	if err != nil {
		status = metrics.StatusError
	}
	metrics.OriginRequestsTotal.WithLabelValues(scheme(req.Address), status).Inc()
	return res, err
}

func (f *HTTPFetcher) fetch(ctx context.Context, req repository.FetchRequest) (*repository.FetchResult, error) {
	if req.Offset < 0 {
		return nil, fmt.Errorf("%w: invalid offset %d", repository.ErrNetwork, req.Offset)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.Address, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", repository.ErrNetwork, err)
	}
	for name, values := range req.Header {
		for _, value := range values {
			httpReq.Header.Add(name, value)
		}
	}
	if httpReq.Header.Get("Accept-Encoding") == "" {
		httpReq.Header.Set("Accept-Encoding", "identity")
	}
	if r := rangeHeader(req.Offset, req.Length); r != "" {
		httpReq.Header.Set("Range", r)
	}

	client := *f.client
	client.CheckRedirect = f.redirectPolicy(req.AllowCrossProtocolRedirects)

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", repository.ErrNetwork, err)
	}

	var total int64
	body := io.Reader(resp.Body)
	switch resp.StatusCode {
	case http.StatusPartialContent:
		var first int64
		first, total = parseContentRange(resp.Header.Get("Content-Range"))
		if first != req.Offset {
			_ = resp.Body.Close()
			return nil, fmt.Errorf("%w: partial content starts at %d, requested %d", repository.ErrNetwork, first, req.Offset)
		}
	case http.StatusOK:
		total = resp.ContentLength
		if req.Offset > 0 {
			if _, err := io.CopyN(io.Discard, resp.Body, req.Offset); err != nil {
				_ = resp.Body.Close()
				if errors.Is(err, io.EOF) {
					return nil, fmt.Errorf("%w: offset %d", repository.ErrRangeNotSatisfiable, req.Offset)
				}
				return nil, fmt.Errorf("%w: skipping to offset %d: %w", repository.ErrNetwork, req.Offset, err)
			}
		}
	case http.StatusRequestedRangeNotSatisfiable:
		_ = resp.Body.Close()
		return nil, fmt.Errorf("%w: offset %d", repository.ErrRangeNotSatisfiable, req.Offset)
	default:
		_ = resp.Body.Close()
		return nil, fmt.Errorf("%w: unexpected status %s", repository.ErrNetwork, resp.Status)
	}

	if req.Length >= 0 {
		body = io.LimitReader(body, req.Length)
	}
	return &repository.FetchResult{
		Body:        &responseBody{body: resp.Body, reader: body},
		TotalLength: total,
		ContentType: resp.Header.Get("Content-Type"),
	}, nil
}

func (f *HTTPFetcher) redirectPolicy(allowCrossProtocol bool) func(*http.Request, []*http.Request) error {
	return func(req *http.Request, via []*http.Request) error {
		if len(via) >= f.maxRedirects {
			return fmt.Errorf("stopped after %d redirects", f.maxRedirects)
		}
		if !allowCrossProtocol && req.URL.Scheme != via[len(via)-1].URL.Scheme {
			return fmt.Errorf("%w: %s to %s", ErrCrossProtocolRedirect, via[len(via)-1].URL.Scheme, req.URL.Scheme)
		}
		return nil
	}
}

func rangeHeader(offset, length int64) string {
	switch {
	case length >= 0:
		if length == 0 {
			// An empty range cannot be expressed; ask for one byte and let the
			// length limit cut it.
			return fmt.Sprintf("bytes=%d-%d", offset, offset)
		}
		return fmt.Sprintf("bytes=%d-%d", offset, offset+length-1)
	case offset > 0:
		return fmt.Sprintf("bytes=%d-", offset)
	default:
		return ""
	}
}

// parseContentRange extracts the first byte position and the complete length
// from a Content-Range value like "bytes 0-99/1000". Either is -1 when it
// cannot be read; the length is also -1 when the origin sends "*".
func parseContentRange(value string) (first, total int64) {
	first, total = -1, -1
	rest, ok := strings.CutPrefix(strings.TrimSpace(value), "bytes ")
	if !ok {
		return first, total
	}
	rng, size, ok := strings.Cut(rest, "/")
	if !ok {
		return first, total
	}
	if lo, _, ok := strings.Cut(rng, "-"); ok {
		if n, err := strconv.ParseInt(lo, 10, 64); err == nil && n >= 0 {
			first = n
		}
	}
	if size != "*" {
		if n, err := strconv.ParseInt(size, 10, 64); err == nil && n >= 0 {
			total = n
		}
	}
	return first, total
}

// responseBody marks read failures as network errors.
type responseBody struct {
	body   io.Closer
	reader io.Reader
}

func (b *responseBody) Read(p []byte) (int, error) {
	n, err := b.reader.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		err = fmt.Errorf("%w: %w", repository.ErrNetwork, err)
	}
	return n, err
}

func (b *responseBody) Close() error {
	return b.body.Close()
}
