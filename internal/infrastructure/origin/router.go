package origin

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/hszk-dev/mediacache/internal/domain/repository"
)

// Router dispatches fetches to a Fetcher by the address scheme.
type Router struct {
	fetchers map[string]repository.Fetcher
}

var _ repository.Fetcher = (*Router)(nil)

// NewRouter creates an empty Router.
func NewRouter() *Router {
	return &Router{fetchers: make(map[string]repository.Fetcher)}
}

// Handle registers fetcher for the given schemes, replacing earlier ones.
func (r *Router) Handle(fetcher repository.Fetcher, schemes ...string) {
	for _, s := range schemes {
		r.fetchers[strings.ToLower(s)] = fetcher
	}
}

// Supports reports whether address can be fetched.
func (r *Router) Supports(address string) bool {
	_, ok := r.fetchers[scheme(address)]
	return ok
}

func (r *Router) Fetch(ctx context.Context, req repository.FetchRequest) (*repository.FetchResult, error) {
	s := scheme(req.Address)
	fetcher, ok := r.fetchers[s]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported scheme %q", repository.ErrNetwork, s)
	}
	return fetcher.Fetch(ctx, req)
}

func scheme(address string) string {
	u, err := url.Parse(address)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Scheme)
}
