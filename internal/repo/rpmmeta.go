package repo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/packforge/packforge/internal/objstore"
	"github.com/packforge/packforge/internal/utils/logger"
	"github.com/packforge/packforge/internal/utils/shell"
)

// createRepo and mergeRepo wrap the createrepo_c tool family. Declared as
// variables so tests substitute fakes that fabricate repodata trees.
var createRepo = func(repoDir string) error {
	out, err := shell.ExecCmd("createrepo_c .", false, repoDir, nil)
	if err != nil {
		return fmt.Errorf("createrepo_c: %s: %w", strings.TrimSpace(out), err)
	}
	return nil
}

var mergeRepo = func(outDir string, repoDirs []string) error {
	cmd := "mergerepo_c -o " + outDir
	for _, d := range repoDirs {
		cmd += " --repo " + d
	}
	out, err := shell.ExecCmd(cmd, false, outDir, nil)
	if err != nil {
		return fmt.Errorf("mergerepo_c: %s: %w", strings.TrimSpace(out), err)
	}
	return nil
}

// mergeRpmMetadata implements the incremental merge for the rpm format: the
// remote's existing repodata/ is downloaded (never its packages), fresh
// repodata is generated for the new packages only, and the two are merged
// with mergerepo_c. A missing remote repodata/ means first publish, in which
// case the fresh repodata is uploaded verbatim.
func (p *Publisher) mergeRpmMetadata(ctx context.Context, newEntries []packageEntry) error {
	log := logger.Logger()

	workspace := filepath.Join(os.TempDir(), "packforge-"+uuid.NewString())
	defer os.RemoveAll(workspace)

	newDir := filepath.Join(workspace, "new")
	for _, entry := range newEntries {
		dst := filepath.Join(newDir, filepath.FromSlash(entry.Key))
		if err := copyLocalFile(entry.LocalPath, dst); err != nil {
			return fmt.Errorf("staging %s into merge workspace: %w", entry.Key, err)
		}
	}
	if err := createRepo(newDir); err != nil {
		return err
	}

	oldDir, hasOld, err := p.fetchExistingRepodata(ctx, workspace)
	if err != nil {
		return err
	}

	resultDir := newDir
	if hasOld {
		mergedDir := filepath.Join(workspace, "merged")
		if err := os.MkdirAll(mergedDir, 0o755); err != nil {
			return fmt.Errorf("creating merge dir: %w", err)
		}
		if err := mergeRepo(mergedDir, []string{oldDir, newDir}); err != nil {
			return err
		}
		resultDir = mergedDir
	} else {
		log.Infof("no existing repodata under %s, treating as first publish", p.Prefix)
	}

	return p.uploadRepodata(ctx, filepath.Join(resultDir, "repodata"))
}

// fetchExistingRepodata mirrors the remote repodata/ directory into the
// workspace so mergerepo_c can treat it as a local repository. A store that
// cannot list degrades to first-publish semantics.
func (p *Publisher) fetchExistingRepodata(ctx context.Context, workspace string) (string, bool, error) {
	keys, err := p.Store.List(ctx, p.key("repodata"))
	if err != nil {
		if errors.Is(err, objstore.ErrListingUnsupported) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("%w: listing existing repodata: %v", ErrPublishTransport, err)
	}
	if len(keys) == 0 {
		return "", false, nil
	}

	oldDir := filepath.Join(workspace, "old")
	for _, key := range keys {
		data, err := objstore.GetBytes(ctx, p.Store, key)
		if err != nil {
			return "", false, fmt.Errorf("%w: downloading %s: %v", ErrPublishTransport, key, err)
		}
		rel := strings.TrimPrefix(key, p.Prefix)
		rel = strings.TrimPrefix(rel, "/")
		dst := filepath.Join(oldDir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return "", false, err
		}
		if err := os.WriteFile(dst, data, 0o644); err != nil {
			return "", false, err
		}
	}
	return oldDir, true, nil
}

func (p *Publisher) uploadRepodata(ctx context.Context, repodataDir string) error {
	entries, err := os.ReadDir(repodataDir)
	if err != nil {
		return fmt.Errorf("reading generated repodata: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		key := p.key("repodata", entry.Name())
		local := filepath.Join(repodataDir, entry.Name())
		if err := objstore.PutFile(ctx, p.Store, key, local); err != nil {
			return fmt.Errorf("%w: uploading %s: %v", ErrPublishTransport, key, err)
		}
	}
	return nil
}
