package stream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/danmuck/vizlink/internal/protocol"
)

// ResourceFetcher retrieves one named resource payload bound to its
// declared byte length.
type ResourceFetcher interface {
	Fetch(ctx context.Context, kind protocol.ResourceKind, sessionID string, lengths map[string]int, name string) ([]byte, error)
}

// HTTPFetcher issues one GET per resource against the worker.
type HTTPFetcher struct {
	baseURL string
	client  *http.Client
}

func NewHTTPFetcher(baseURL string, client *http.Client) *HTTPFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPFetcher{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

// ResourceURL is baseURL/{kind}?{kind}=<name>&id=<sessionID>.
func ResourceURL(baseURL string, kind protocol.ResourceKind, sessionID, name string) string {
	return fmt.Sprintf("%s/%s?%s=%s&id=%s",
		strings.TrimRight(baseURL, "/"), kind, kind, url.QueryEscape(name), url.QueryEscape(sessionID))
}

// Fetch returns the body truncated to lengths[name]. A shorter body is
// returned as is, and a name with no declared length gets the whole body.
func (f *HTTPFetcher) Fetch(ctx context.Context, kind protocol.ResourceKind, sessionID string, lengths map[string]int, name string) ([]byte, error) {
	declared, bounded := lengths[name]
	if bounded && declared < 0 {
		return nil, fmt.Errorf("%w: %s %q declared negative length %d", ErrFetch, kind, name, declared)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ResourceURL(f.baseURL, kind, sessionID, name), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %q: %v", ErrFetch, kind, name, err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %q: %v", ErrFetch, kind, name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("%w: %s %q: status %d", ErrFetch, kind, name, resp.StatusCode)
	}
	body := io.Reader(resp.Body)
	if bounded {
		body = io.LimitReader(resp.Body, int64(declared))
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %q: read body: %v", ErrFetch, kind, name, err)
	}
	return data, nil
}
