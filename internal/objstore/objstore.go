// Package objstore abstracts the remote object store the repository
// publisher targets: key-based get/put/list/head under a hierarchical prefix
// addressing scheme, with no transactions. Consistency is the publisher's
// job, not the store's.
package objstore

import (
	"context"
	"errors"
	"io"
	"os"
)

// ErrNotFound is returned by Get when a key does not exist.
var ErrNotFound = errors.New("object not found")

// ErrListingUnsupported is returned by stores that cannot enumerate keys
// (plain HTTP); callers degrade to listing-free behavior.
var ErrListingUnsupported = errors.New("listing not supported by this store")

// Store is the narrow contract the publisher depends on.
type Store interface {
	// Get opens the object at key for reading.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Put writes the object at key from r, replacing any existing object.
	Put(ctx context.Context, key string, r io.Reader) error

	// Exists is a single existence probe for key; it never compares content.
	Exists(ctx context.Context, key string) (bool, error)

	// List returns every key under prefix, recursively.
	List(ctx context.Context, prefix string) ([]string, error)

	// ListDir returns the immediate children of prefix: object keys and
	// one level of sub-prefixes (a delimiter listing).
	ListDir(ctx context.Context, prefix string) (files []string, dirs []string, err error)
}

// PutFile uploads a local file to key.
func PutFile(ctx context.Context, store Store, key, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()
	return store.Put(ctx, key, f)
}

// GetBytes reads the whole object at key.
func GetBytes(ctx context.Context, store Store, key string) ([]byte, error) {
	r, err := store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
