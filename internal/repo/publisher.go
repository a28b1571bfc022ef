// Package repo publishes built packages into a remote package repository.
// Uploads are deduplicated by key-existence probes and repository metadata is
// merged incrementally: only the remote's existing metadata is downloaded,
// never the full package set. The remote store is the single source of truth
// for what the repository contains.
package repo

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/packforge/packforge/internal/naming"
	"github.com/packforge/packforge/internal/objstore"
	"github.com/packforge/packforge/internal/utils/logger"
)

// Format aliases keep call sites inside this package short.
const (
	FormatDeb = naming.FormatDeb
	FormatRpm = naming.FormatRpm
)

// ErrPublishTransport wraps store failures during layout or upload; any such
// failure aborts the whole publish before metadata is touched.
var ErrPublishTransport = errors.New("publish transport failure")

// RepositoryState describes what exists under the publish prefix after a
// publish, read back from the remote listing.
type RepositoryState struct {
	PackageKeys  []string
	MetadataKeys []string
}

// Publisher publishes one local package directory to one (format, prefix)
// pair. The metadata merge is a single serialized step per pair; concurrent
// publishers targeting the same prefix need external mutual exclusion.
type Publisher struct {
	Store   objstore.Store
	Format  naming.Format
	Prefix  string
	Dedupe  bool
	Workers int

	// DebSuite and DebArch name the dists/ directory the deb index lives
	// under; unset values fall back to stable/amd64.
	DebSuite string
	DebArch  string

	// SigningKeyPath, when set, points at an armored private key used to
	// clearsign the deb Release file.
	SigningKeyPath string
}

func (p *Publisher) suite() string {
	if p.DebSuite == "" {
		return "stable"
	}
	return p.DebSuite
}

func (p *Publisher) arch() string {
	if p.DebArch == "" {
		return "amd64"
	}
	return p.DebArch
}

func (p *Publisher) workers() int {
	if p.Workers <= 0 {
		return 4
	}
	return p.Workers
}

func (p *Publisher) key(parts ...string) string {
	return path.Join(append([]string{p.Prefix}, parts...)...)
}

// Publish arranges, uploads and indexes the packages in localDir. Steps 1-2
// (layout, upload) are fatal on error; step 4 (browsable indexes) is best
// effort per directory.
func (p *Publisher) Publish(ctx context.Context, localDir string) (*RepositoryState, error) {
	log := logger.Logger()

	entries, err := p.arrangePackages(localDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPublishTransport, err)
	}
	log.Infof("publishing %d %s packages to %s", len(entries), p.Format, p.Prefix)

	uploaded, err := p.uploadPackages(ctx, entries)
	if err != nil {
		return nil, err
	}
	log.Infof("uploaded %d new package files (%d deduplicated)", len(uploaded), len(entries)-len(uploaded))

	if len(uploaded) == 0 {
		// Nothing new to describe: a no-op publish skips metadata entirely.
		log.Infof("no new packages to process, skipping metadata regeneration")
	} else {
		switch p.Format {
		case FormatDeb:
			err = p.mergeDebMetadata(ctx, uploaded)
		case FormatRpm:
			err = p.mergeRpmMetadata(ctx, uploaded)
		default:
			err = fmt.Errorf("unsupported package format %q", p.Format)
		}
		if err != nil {
			return nil, err
		}
	}

	// Indexes are a convenience view, not the source of truth: errors are
	// logged per directory and never fail the publish.
	p.generateIndexes(ctx)

	return p.currentState(ctx)
}

// uploadPackages pushes every non-metadata file under the prefix with a
// bounded worker pool. With dedupe enabled, keys that already exist remotely
// are skipped on the strength of a single existence probe; identical keys
// are assumed identical content.
func (p *Publisher) uploadPackages(ctx context.Context, entries []packageEntry) ([]packageEntry, error) {
	log := logger.Logger()

	bar := progressbar.NewOptions(len(entries),
		progressbar.OptionSetDescription("uploading"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionThrottle(100*time.Millisecond),
	)

	jobs := make(chan packageEntry, len(entries))
	var wg sync.WaitGroup
	var mu sync.Mutex
	var uploadErr error
	var uploaded []packageEntry

	for i := 0; i < p.workers(); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for entry := range jobs {
				err := func() error {
					key := p.key(entry.Key)
					if p.Dedupe {
						exists, err := p.Store.Exists(ctx, key)
						if err != nil {
							return fmt.Errorf("probing %s: %w", key, err)
						}
						if exists {
							log.Debugf("skipping upload, key exists: %s", key)
							return nil
						}
					}
					if err := objstore.PutFile(ctx, p.Store, key, entry.LocalPath); err != nil {
						return fmt.Errorf("uploading %s: %w", key, err)
					}
					mu.Lock()
					uploaded = append(uploaded, entry)
					mu.Unlock()
					return nil
				}()
				if err != nil {
					mu.Lock()
					if uploadErr == nil {
						uploadErr = err
					}
					mu.Unlock()
				}
				_ = bar.Add(1)
			}
		}()
	}

	for _, entry := range entries {
		jobs <- entry
	}
	close(jobs)
	wg.Wait()
	_ = bar.Finish()

	if uploadErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrPublishTransport, uploadErr)
	}
	return uploaded, nil
}

// currentState reads what the repository now contains from the remote
// listing, never from local state.
func (p *Publisher) currentState(ctx context.Context) (*RepositoryState, error) {
	keys, err := p.Store.List(ctx, p.Prefix)
	if err != nil {
		if errors.Is(err, objstore.ErrListingUnsupported) {
			return &RepositoryState{}, nil
		}
		return nil, fmt.Errorf("%w: listing repository state: %v", ErrPublishTransport, err)
	}

	state := &RepositoryState{}
	for _, key := range keys {
		if isMetadataKey(key) {
			state.MetadataKeys = append(state.MetadataKeys, key)
		} else {
			state.PackageKeys = append(state.PackageKeys, key)
		}
	}
	return state, nil
}

func isMetadataKey(key string) bool {
	if strings.Contains(key, "/dists/") || strings.Contains(key, "/repodata/") {
		return true
	}
	return path.Base(key) == "index.html"
}
