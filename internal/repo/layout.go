package repo

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sassoftware/go-rpmutils"
)

// packageEntry maps one built package file to its key in the repository's
// canonical on-disk layout.
type packageEntry struct {
	LocalPath string
	// Key is the path relative to the publish prefix.
	Key string
}

// debPoolKey lays a .deb out under pool/ the way apt repositories expect:
// pool/main/<initial>/<source>/<file>.
func debPoolKey(fileName string) string {
	source := fileName
	if idx := strings.Index(fileName, "_"); idx > 0 {
		source = fileName[:idx]
	}
	initial := source[:1]
	// lib* packages shard under their four-letter initial, per pool convention.
	if strings.HasPrefix(source, "lib") && len(source) > 3 {
		initial = source[:4]
	}
	return "pool/main/" + initial + "/" + source + "/" + fileName
}

// rpmArch reads the architecture from the rpm header; file-name parsing is
// the fallback when the header cannot be read.
func rpmArch(path string) string {
	f, err := os.Open(path)
	if err == nil {
		defer f.Close()
		if pkg, err := rpmutils.ReadRpm(f); err == nil {
			if nevra, err := pkg.Header.GetNEVRA(); err == nil && nevra.Arch != "" {
				return nevra.Arch
			}
		}
	}

	base := strings.TrimSuffix(filepath.Base(path), ".rpm")
	if idx := strings.LastIndex(base, "."); idx > 0 {
		return base[idx+1:]
	}
	return "noarch"
}

// arrangePackages maps every package file in localDir into the format's
// canonical repository layout: pool-and-dists for deb, arch subdirectories
// for rpm. Metadata files already in localDir are ignored; only package
// files are arranged.
func (p *Publisher) arrangePackages(localDir string) ([]packageEntry, error) {
	pattern := "*.deb"
	if p.Format == FormatRpm {
		pattern = "*.rpm"
	}

	matches, err := filepath.Glob(filepath.Join(localDir, pattern))
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", localDir, err)
	}
	sort.Strings(matches)

	entries := make([]packageEntry, 0, len(matches))
	for _, match := range matches {
		fileName := filepath.Base(match)
		var key string
		if p.Format == FormatDeb {
			key = debPoolKey(fileName)
		} else {
			key = rpmArch(match) + "/" + fileName
		}
		entries = append(entries, packageEntry{LocalPath: match, Key: key})
	}
	return entries, nil
}

func copyLocalFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}
