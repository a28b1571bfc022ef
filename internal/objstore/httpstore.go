package objstore

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/packforge/packforge/internal/utils/network"
)

// HTTPStore is a Store over a plain HTTP(S) endpoint: GET/HEAD/PUT against
// baseURL/key. Plain HTTP cannot enumerate keys, so listings report
// ErrListingUnsupported and callers skip listing-dependent work.
type HTTPStore struct {
	baseURL string
	client  *http.Client
}

// NewHTTPStore returns a store over the given base URL using the shared
// TLS-hardened client.
func NewHTTPStore(baseURL string) *HTTPStore {
	return &HTTPStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  network.NewSecureHTTPClient(),
	}
}

func (s *HTTPStore) url(key string) string {
	return s.baseURL + "/" + strings.TrimPrefix(key, "/")
}

func (s *HTTPStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url(key), nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", key, err)
	}
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("fetching %s: bad status %s", key, resp.Status)
	}
	return resp.Body, nil
}

func (s *HTTPStore) Put(ctx context.Context, key string, r io.Reader) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.url(key), r)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("uploading %s: %w", key, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("uploading %s: bad status %s", key, resp.Status)
	}
	return nil
}

func (s *HTTPStore) Exists(ctx context.Context, key string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, s.url(key), nil)
	if err != nil {
		return false, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("probing %s: %w", key, err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusOK:
		return true, nil
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("probing %s: bad status %s", key, resp.Status)
	}
}

func (s *HTTPStore) List(ctx context.Context, prefix string) ([]string, error) {
	return nil, ErrListingUnsupported
}

func (s *HTTPStore) ListDir(ctx context.Context, prefix string) ([]string, []string, error) {
	return nil, nil, ErrListingUnsupported
}
