package repo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html"
	"path"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/packforge/packforge/internal/objstore"
	"github.com/packforge/packforge/internal/utils/logger"
)

// maxIndexDepth bounds the recursive index walk so a pathological listing
// cannot spin the publisher forever.
const maxIndexDepth = 8

// generateIndexes writes a browsable index.html into every directory under
// the prefix. Indexes are regenerated from the remote listing each publish;
// a store that cannot list (plain HTTP) skips them entirely, and any
// per-directory failure is logged and skipped rather than failing the
// publish.
func (p *Publisher) generateIndexes(ctx context.Context) {
	log := logger.Logger()
	if err := p.indexDir(ctx, p.Prefix, 0); err != nil {
		if errors.Is(err, objstore.ErrListingUnsupported) {
			log.Debugf("store does not support listing, skipping index generation")
			return
		}
		log.Warnf("index generation incomplete: %v", err)
	}
}

func (p *Publisher) indexDir(ctx context.Context, dir string, depth int) error {
	if depth > maxIndexDepth {
		return nil
	}
	log := logger.Logger()

	files, subdirs, err := p.Store.ListDir(ctx, dir)
	if err != nil {
		if errors.Is(err, objstore.ErrListingUnsupported) {
			return err
		}
		log.Warnf("listing %s for index: %v", dir, err)
		return nil
	}
	if len(files) == 0 && len(subdirs) == 0 {
		return nil
	}

	page := renderIndexPage(dir, files, subdirs)
	key := path.Join(dir, "index.html")
	if err := p.Store.Put(ctx, key, bytes.NewReader(page)); err != nil {
		log.Warnf("writing %s: %v", key, err)
	}

	for _, sub := range subdirs {
		if err := p.indexDir(ctx, sub, depth+1); err != nil {
			return err
		}
	}
	return nil
}

// renderIndexPage emits a minimal directory listing. ListDir hands back full
// keys, so entries reduce to their base name for display. Entries that parse
// as versions sort newest first; everything else sorts lexically after them.
func renderIndexPage(dir string, files, subdirs []string) []byte {
	names := make([]string, 0, len(files)+len(subdirs))
	for _, d := range subdirs {
		names = append(names, path.Base(d)+"/")
	}
	for _, f := range files {
		if path.Base(f) == "index.html" {
			continue
		}
		names = append(names, path.Base(f))
	}
	sortIndexEntries(names)

	var b strings.Builder
	title := html.EscapeString(path.Base(dir))
	fmt.Fprintf(&b, "<!DOCTYPE html>\n<html>\n<head><title>Index of %s</title></head>\n<body>\n", title)
	fmt.Fprintf(&b, "<h1>Index of %s</h1>\n<ul>\n", title)
	b.WriteString("<li><a href=\"../\">../</a></li>\n")
	for _, name := range names {
		escaped := html.EscapeString(name)
		fmt.Fprintf(&b, "<li><a href=%q>%s</a></li>\n", escaped, escaped)
	}
	b.WriteString("</ul>\n</body>\n</html>\n")
	return []byte(b.String())
}

func sortIndexEntries(names []string) {
	sort.Slice(names, func(i, j int) bool {
		vi, iok := parseEntryVersion(names[i])
		vj, jok := parseEntryVersion(names[j])
		switch {
		case iok && jok:
			if vi.Equal(vj) {
				return names[i] < names[j]
			}
			return vi.GreaterThan(vj)
		case iok:
			return true
		case jok:
			return false
		default:
			return names[i] < names[j]
		}
	})
}

func parseEntryVersion(name string) (*semver.Version, bool) {
	v, err := semver.NewVersion(strings.TrimSuffix(name, "/"))
	if err != nil {
		return nil, false
	}
	return v, true
}
