// Package buildpipe assembles and builds format-specific packages from the
// generic artifact tree. Per package and per build pass it renders the
// packaging metadata, stages the selected artifacts, invokes the external
// packaging tool and collects the produced files into a flat destination
// directory.
package buildpipe

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/multierr"

	"github.com/packforge/packforge/internal/artifacts"
	"github.com/packforge/packforge/internal/naming"
	"github.com/packforge/packforge/internal/pkgdef"
	"github.com/packforge/packforge/internal/utils/logger"
)

// ErrEmptyArtifactSet is raised when a real (non-meta, non-disabled) package
// resolves to zero artifact files. Publishing an empty package would be
// worse than failing the build, so this aborts the whole pipeline.
var ErrEmptyArtifactSet = errors.New("empty artifact set for real package")

// ErrBuildToolFailure wraps a non-zero exit of the external packaging tool.
var ErrBuildToolFailure = errors.New("package build tool failed")

const (
	defaultMaintainer = "Package Pipeline <packages@packforge.dev>"
	defaultRevision   = "1"
	defaultWorkers    = 4
)

// Pipeline drives package builds for one build context.
type Pipeline struct {
	Defs    *pkgdef.Store
	Ctx     naming.BuildContext
	Workers int
}

// New returns a Pipeline over the given definitions and context.
func New(defs *pkgdef.Store, ctx naming.BuildContext, workers int) *Pipeline {
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &Pipeline{Defs: defs, Ctx: ctx, Workers: workers}
}

// passes returns the build passes to run: the versioned pass always, the
// non-versioned pass only when rpath linking is off. An rpath-linked build is
// not relocatable and is published as a single variant.
func (p *Pipeline) passes() []naming.BuildContext {
	versioned := p.Ctx
	versioned.IsVersionedPass = true
	if p.Ctx.EnableRpath {
		return []naming.BuildContext{versioned}
	}
	nonVersioned := p.Ctx
	nonVersioned.IsVersionedPass = false
	return []naming.BuildContext{versioned, nonVersioned}
}

// Run builds every enabled definition across all build passes using a
// bounded worker pool. Any per-package error is fatal for the run; all
// workers drain before the aggregate error is returned.
func (p *Pipeline) Run() error {
	log := logger.Logger()
	defs := p.Defs.Enabled()
	log.Debugf("definitions in scope: %s", strings.Join(p.Defs.SortedNames(), ", "))

	jobs := make(chan *pkgdef.Definition, len(defs))
	var wg sync.WaitGroup
	var mu sync.Mutex
	var runErr error

	for i := 0; i < p.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for def := range jobs {
				if err := p.buildPackage(def); err != nil {
					mu.Lock()
					runErr = multierr.Append(runErr, err)
					mu.Unlock()
				}
			}
		}()
	}

	for _, def := range defs {
		jobs <- def
	}
	close(jobs)
	wg.Wait()

	if runErr != nil {
		return runErr
	}
	log.Infof("built %d package definitions into %s", len(defs), p.Ctx.DestDir)
	return nil
}

// buildPackage runs every build pass for one definition.
func (p *Pipeline) buildPackage(def *pkgdef.Definition) error {
	for _, passCtx := range p.passes() {
		if err := p.buildPass(def, passCtx); err != nil {
			return fmt.Errorf("building %s: %w", def.Name, err)
		}
	}
	return nil
}

// buildPass is the per-package state machine:
// RenderMetadata -> CopyArtifacts -> ConvertLinkageMode -> InvokeBuildTool
// -> CollectOutputs.
func (p *Pipeline) buildPass(def *pkgdef.Definition, ctx naming.BuildContext) error {
	log := logger.Logger()

	name, err := naming.DeriveName(def, ctx)
	if err != nil {
		return err
	}

	files, err := artifacts.Select(def, ctx.ArtifactsDir, ctx.GfxArch)
	if err != nil {
		return err
	}
	if len(files) == 0 && !def.Metapackage {
		return fmt.Errorf("%w: %s", ErrEmptyArtifactSet, def.Name)
	}

	// Each package/pass pair gets its own work tree; the build tool drops
	// outputs one level above the source dir, so that level is per-package
	// too, keeping concurrent builds from collecting each other's files.
	pkgRoot := filepath.Join(ctx.DestDir, ".work", name)
	workDir := filepath.Join(pkgRoot, "src")
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return fmt.Errorf("creating work dir: %w", err)
	}
	defer os.RemoveAll(pkgRoot)

	stageDir := filepath.Join(workDir, "stage")
	staged, err := stageArtifacts(files, stageDir, ctx.InstallPrefix)
	if err != nil {
		return err
	}

	if ctx.EnableRpath {
		if err := convertLinkageMode(staged); err != nil {
			return err
		}
	}

	log.Infof("building %s (%s, versioned=%v): %d files", name, ctx.Format, ctx.IsVersionedPass, len(files))

	switch ctx.Format {
	case naming.FormatDeb:
		return p.buildDeb(def, ctx, name, workDir, stageDir, staged)
	case naming.FormatRpm:
		return p.buildRpm(def, ctx, name, workDir, stageDir, staged)
	default:
		return fmt.Errorf("unsupported package format %q", ctx.Format)
	}
}

// stageArtifacts copies the selected files into the staged tree under the
// install prefix and returns the staged absolute paths. Metapackages stage
// nothing.
func stageArtifacts(files []artifacts.SelectedFile, stageDir, installPrefix string) ([]string, error) {
	prefix := strings.TrimPrefix(installPrefix, "/")
	staged := make([]string, 0, len(files))
	for _, f := range files {
		dst := filepath.Join(stageDir, prefix, f.RelPath)
		if err := copyFile(f.AbsPath, dst); err != nil {
			return nil, fmt.Errorf("staging %s: %w", f.RelPath, err)
		}
		staged = append(staged, dst)
	}
	return staged, nil
}

func copyFile(src, dst string) error {
	info, err := os.Lstat(src)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}

	// Symlinks are re-created, not followed, so library soname links survive.
	if info.Mode()&os.ModeSymlink != 0 {
		target, err := os.Readlink(src)
		if err != nil {
			return err
		}
		_ = os.Remove(dst)
		return os.Symlink(target, dst)
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return nil
}

// moveOutputs relocates produced package files into the flat destination
// directory.
func moveOutputs(patterns []string, destDir string) ([]string, error) {
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return nil, fmt.Errorf("creating dest dir: %w", err)
	}

	var moved []string
	for _, pattern := range patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("globbing outputs %s: %w", pattern, err)
		}
		for _, match := range matches {
			dst := filepath.Join(destDir, filepath.Base(match))
			if err := os.Rename(match, dst); err != nil {
				// Rename fails across filesystems; fall back to copy.
				if err := copyFile(match, dst); err != nil {
					return nil, fmt.Errorf("collecting output %s: %w", match, err)
				}
				_ = os.Remove(match)
			}
			moved = append(moved, dst)
		}
	}
	return moved, nil
}

// fullVersion is the complete package version: product version plus the
// build revision (defaulting to 1 when no revision suffix is set).
func fullVersion(ctx naming.BuildContext) string {
	revision := ctx.VersionRevisionSuffix
	if revision == "" {
		revision = defaultRevision
	}
	return ctx.ProductVersion + "-" + revision
}

// renderScript substitutes the version and prefix tokens into a
// package-type-specific script body.
func renderScript(body string, ctx naming.BuildContext) (string, error) {
	shortVer, err := naming.DeriveShortVersionToken(ctx.ProductVersion)
	if err != nil {
		return "", err
	}
	out := strings.ReplaceAll(body, "{{SHORTVER}}", shortVer)
	out = strings.ReplaceAll(out, "{{PREFIX}}", ctx.InstallPrefix)
	return out, nil
}

// postinstFor returns the rendered post-install script body for a
// definition, keyed by definition name with a generic fallback.
func postinstFor(def *pkgdef.Definition, ctx naming.BuildContext) (string, error) {
	body, ok := postinstBodies[def.Name]
	if !ok {
		body = genericPostinst
	}
	return renderScript(body, ctx)
}

func prermFor(def *pkgdef.Definition, ctx naming.BuildContext) (string, error) {
	return renderScript(genericPrerm, ctx)
}
