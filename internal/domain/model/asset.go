package model

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// StreamingFormat describes how a playable resource is packaged.
type StreamingFormat string

const (
	FormatSmooth          StreamingFormat = "SMOOTH"
	FormatDynamicAdaptive StreamingFormat = "DYNAMIC_ADAPTIVE"
	FormatHTTPLive        StreamingFormat = "HTTP_LIVE"
	FormatProgressive     StreamingFormat = "PROGRESSIVE"
)

// Manifest MIME types handed to the player integration.
const (
	MimeTypeSmoothStreaming = "application/vnd.ms-sstr+xml"
	MimeTypeDASH            = "application/dash+xml"
	MimeTypeHLS             = "application/x-mpegURL"
)

var formatMimeTypes = map[StreamingFormat]string{
	FormatSmooth:          MimeTypeSmoothStreaming,
	FormatDynamicAdaptive: MimeTypeDASH,
	FormatHTTPLive:        MimeTypeHLS,
	FormatProgressive:     "",
}

func (f StreamingFormat) IsValid() bool {
	_, ok := formatMimeTypes[f]
	return ok
}

// MimeType returns the container/manifest MIME type for the format.
// Progressive resources have none and return "".
func (f StreamingFormat) MimeType() string {
	return formatMimeTypes[f]
}

func (f StreamingFormat) String() string {
	return string(f)
}

// HeaderUserAgent is the asset header that overrides the default user agent.
const HeaderUserAgent = "User-Agent"

var (
	ErrInvalidFormat = errors.New("invalid streaming format")
	ErrInvalidHeader = errors.New("header name cannot be empty")
)

// Asset identifies a playable resource and the headers needed to fetch it.
// Assets are immutable once constructed; Header returns a copy.
type Asset struct {
	ID        uuid.UUID
	Address   string
	Format    StreamingFormat
	CreatedAt time.Time

	header http.Header
}

// NewAsset creates an Asset with a fresh ID.
// Address may be empty for resources that are not fetched over the network.
func NewAsset(address string, format StreamingFormat, headers map[string]string) (*Asset, error) {
	return RestoreAsset(uuid.New(), address, format, headers, time.Now())
}

// RestoreAsset rebuilds a persisted Asset without generating a new identity.
func RestoreAsset(id uuid.UUID, address string, format StreamingFormat, headers map[string]string, createdAt time.Time) (*Asset, error) {
	if !format.IsValid() {
		return nil, ErrInvalidFormat
	}

	h := make(http.Header, len(headers))
	for name, value := range headers {
		if name == "" {
			return nil, ErrInvalidHeader
		}
		h.Set(name, value)
	}

	return &Asset{
		ID:        id,
		Address:   address,
		Format:    format,
		CreatedAt: createdAt,
		header:    h,
	}, nil
}

// HasAddress reports whether the asset can be fetched from an origin.
func (a *Asset) HasAddress() bool {
	return a.Address != ""
}

// Header returns a copy of the asset's request headers.
func (a *Asset) Header() http.Header {
	return a.header.Clone()
}

// HeaderValue looks up a header case-insensitively.
func (a *Asset) HeaderValue(name string) (string, bool) {
	values := a.header.Values(name)
	if len(values) == 0 {
		return "", false
	}
	return values[0], true
}

// Headers returns the headers as a flat map keyed by canonical header name.
func (a *Asset) Headers() map[string]string {
	out := make(map[string]string, len(a.header))
	for name := range a.header {
		out[name] = a.header.Get(name)
	}
	return out
}

// ResourceKey returns the cache namespace for the asset's address.
func (a *Asset) ResourceKey() ResourceKey {
	return NewResourceKey(a.Address)
}

func (a *Asset) MimeType() string {
	return a.Format.MimeType()
}
