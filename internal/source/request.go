// Package source builds player-facing byte streams for assets, serving cached
// spans locally and fetching the rest from the origin.
package source

import (
	"net/http"

	"github.com/hszk-dev/mediacache/internal/domain/model"
	"github.com/hszk-dev/mediacache/internal/domain/repository"
)

// DefaultUserAgent identifies origin requests for assets without a User-Agent header.
const DefaultUserAgent = "mediacache"

// RequestConfig is everything an origin request for one asset needs.
type RequestConfig struct {
	UserAgent string
	// Header holds every asset header; it is forwarded as-is on each request.
	Header                      http.Header
	AllowCrossProtocolRedirects bool
}

// FetchRequest builds the origin request for a byte range of address.
func (c RequestConfig) FetchRequest(address string, offset, length int64) repository.FetchRequest {
	header := c.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	header.Set(model.HeaderUserAgent, c.UserAgent)

	return repository.FetchRequest{
		Address:                     address,
		Header:                      header,
		Offset:                      offset,
		Length:                      length,
		AllowCrossProtocolRedirects: c.AllowCrossProtocolRedirects,
	}
}

// RequestConfigurator derives the origin request configuration of assets.
type RequestConfigurator struct {
	defaultUserAgent string
}

// NewRequestConfigurator creates a configurator that falls back to
// defaultUserAgent, or DefaultUserAgent when it is empty.
func NewRequestConfigurator(defaultUserAgent string) *RequestConfigurator {
	if defaultUserAgent == "" {
		defaultUserAgent = DefaultUserAgent
	}
	return &RequestConfigurator{defaultUserAgent: defaultUserAgent}
}

// Configure resolves the user agent and the header set for asset.
// Cross-protocol redirects are always allowed.
func (c *RequestConfigurator) Configure(asset *model.Asset) RequestConfig {
	userAgent := c.defaultUserAgent
	// A present header wins even when empty; net/http then sends no User-Agent.
	if ua, ok := asset.HeaderValue(model.HeaderUserAgent); ok {
		userAgent = ua
	}

	return RequestConfig{
		UserAgent:                   userAgent,
		Header:                      asset.Header(),
		AllowCrossProtocolRedirects: true,
	}
}
