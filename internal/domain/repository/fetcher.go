package repository

import (
	"context"
	"io"
	"net/http"
)

// FetchRequest describes one upstream byte-range request.
type FetchRequest struct {
	Address string
	Header  http.Header
	Offset  int64
	// Length is the number of bytes wanted; negative means up to the end of the resource.
	Length int64
	// AllowCrossProtocolRedirects permits http<->https redirects.
	AllowCrossProtocolRedirects bool
}

// FetchResult is an open upstream response positioned at FetchRequest.Offset.
type FetchResult struct {
	Body io.ReadCloser
	// TotalLength is the full resource size, or -1 when the origin did not report it.
	TotalLength int64
	ContentType string
}

// Fetcher reads bytes from an origin.
// Implementations wrap every failure with ErrNetwork and do not retry.
type Fetcher interface {
	Fetch(ctx context.Context, req FetchRequest) (*FetchResult, error)
}
