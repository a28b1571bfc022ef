package repo

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"github.com/ulikunitz/xz"

	"github.com/packforge/packforge/internal/objstore"
	"github.com/packforge/packforge/internal/utils/logger"
	"github.com/packforge/packforge/internal/utils/shell"
)

// scanPackages generates apt Packages stanzas for the pool/ tree under
// workspaceDir. Declared as a variable so tests substitute canned stanzas.
var scanPackages = func(workspaceDir string) (string, error) {
	out, err := shell.ExecCmd("dpkg-scanpackages --multiversion pool /dev/null", false, workspaceDir, nil)
	if err != nil {
		return "", fmt.Errorf("dpkg-scanpackages: %s: %w", strings.TrimSpace(out), err)
	}
	return out, nil
}

// mergeDebMetadata implements the incremental merge for the deb format:
// download only the remote's existing Packages index, generate stanzas for
// the new packages in an isolated workspace, concatenate old and new, then
// recompress and republish together with a fresh Release.
func (p *Publisher) mergeDebMetadata(ctx context.Context, newEntries []packageEntry) error {
	log := logger.Logger()

	workspace := filepath.Join(os.TempDir(), "packforge-"+uuid.NewString())
	defer os.RemoveAll(workspace)

	for _, entry := range newEntries {
		if err := copyLocalFile(entry.LocalPath, filepath.Join(workspace, filepath.FromSlash(entry.Key))); err != nil {
			return fmt.Errorf("staging %s into merge workspace: %w", entry.Key, err)
		}
	}

	newStanzas, err := scanPackages(workspace)
	if err != nil {
		return err
	}
	newStanzas = strings.TrimRight(newStanzas, "\n") + "\n"

	binaryDir := "dists/" + p.suite() + "/main/binary-" + p.arch()
	packagesGzKey := p.key(binaryDir, "Packages.gz")

	oldText, err := p.downloadPackagesIndex(ctx, packagesGzKey)
	switch {
	case errors.Is(err, objstore.ErrNotFound):
		// First publish at this prefix: the new metadata stands alone.
		log.Infof("no existing Packages index at %s, treating as first publish", packagesGzKey)
		oldText = ""
	case err != nil:
		return fmt.Errorf("downloading existing Packages index: %w", err)
	}

	// The previous index is appended verbatim, with no dedup by package
	// key; re-merging an identical stanza accumulates duplicates. Kept
	// intentionally until the intended behavior is confirmed.
	merged := newStanzas
	if oldText != "" {
		merged = strings.TrimRight(oldText, "\n") + "\n\n" + newStanzas
	}

	if err := p.uploadDebIndexes(ctx, binaryDir, merged); err != nil {
		return err
	}
	log.Infof("merged Packages index now %d bytes", len(merged))
	return nil
}

func (p *Publisher) downloadPackagesIndex(ctx context.Context, key string) (string, error) {
	data, err := objstore.GetBytes(ctx, p.Store, key)
	if err != nil {
		return "", err
	}
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("decompressing %s: %w", key, err)
	}
	defer zr.Close()
	text, err := io.ReadAll(zr)
	if err != nil {
		return "", fmt.Errorf("decompressing %s: %w", key, err)
	}
	return string(text), nil
}

// uploadDebIndexes writes Packages, Packages.gz, Packages.xz and the
// Release file (plus InRelease when signing is configured).
func (p *Publisher) uploadDebIndexes(ctx context.Context, binaryDir, merged string) error {
	gzData, err := gzipBytes([]byte(merged))
	if err != nil {
		return fmt.Errorf("compressing Packages.gz: %w", err)
	}
	xzData, err := xzBytes([]byte(merged))
	if err != nil {
		return fmt.Errorf("compressing Packages.xz: %w", err)
	}

	indexFiles := map[string][]byte{
		binaryDir + "/Packages":    []byte(merged),
		binaryDir + "/Packages.gz": gzData,
		binaryDir + "/Packages.xz": xzData,
	}
	for rel, data := range indexFiles {
		if err := p.Store.Put(ctx, p.key(rel), bytes.NewReader(data)); err != nil {
			return fmt.Errorf("%w: uploading %s: %v", ErrPublishTransport, rel, err)
		}
	}

	release := p.renderRelease(indexFiles)
	releaseKey := p.key("dists", p.suite(), "Release")
	if err := p.Store.Put(ctx, releaseKey, strings.NewReader(release)); err != nil {
		return fmt.Errorf("%w: uploading Release: %v", ErrPublishTransport, err)
	}

	if p.SigningKeyPath != "" {
		signed, err := clearsignRelease(release, p.SigningKeyPath)
		if err != nil {
			return fmt.Errorf("signing Release: %w", err)
		}
		inReleaseKey := p.key("dists", p.suite(), "InRelease")
		if err := p.Store.Put(ctx, inReleaseKey, bytes.NewReader(signed)); err != nil {
			return fmt.Errorf("%w: uploading InRelease: %v", ErrPublishTransport, err)
		}
	}
	return nil
}

// renderRelease produces the suite Release file with SHA256 checksums over
// every index file, keyed by path relative to the suite directory.
func (p *Publisher) renderRelease(indexFiles map[string][]byte) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Origin: packforge\n")
	fmt.Fprintf(&b, "Label: packforge\n")
	fmt.Fprintf(&b, "Suite: %s\n", p.suite())
	fmt.Fprintf(&b, "Codename: %s\n", p.suite())
	fmt.Fprintf(&b, "Architectures: %s\n", p.arch())
	fmt.Fprintf(&b, "Components: main\n")
	fmt.Fprintf(&b, "Date: %s\n", time.Now().UTC().Format(time.RFC1123))
	fmt.Fprintf(&b, "SHA256:\n")

	suitePrefix := "dists/" + p.suite() + "/"
	for _, rel := range sortedKeys(indexFiles) {
		data := indexFiles[rel]
		relToSuite := strings.TrimPrefix(rel, suitePrefix)
		fmt.Fprintf(&b, " %x %d %s\n", sha256.Sum256(data), len(data), relToSuite)
	}
	return b.String()
}

func sortedKeys(m map[string][]byte) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func xzBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	xw, err := xz.NewWriter(&buf)
	if err != nil {
		return nil, err
	}
	if _, err := xw.Write(data); err != nil {
		return nil, err
	}
	if err := xw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
