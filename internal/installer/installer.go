package installer

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"go.uber.org/multierr"

	"github.com/packforge/packforge/internal/naming"
	"github.com/packforge/packforge/internal/utils/logger"
	"github.com/packforge/packforge/internal/utils/shell"
)

// Mode selects where install units come from.
type Mode string

const (
	// ModeLocal installs package files out of a local directory.
	ModeLocal Mode = "local"
	// ModeRepository installs by name from the published repository.
	ModeRepository Mode = "repository"
)

// ParseMode validates a mode flag value.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeLocal, ModeRepository:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("unknown install mode %q (expected local or repository)", s)
	}
}

// Request describes one installer invocation. It drives resolution and is
// never persisted.
type Request struct {
	Packages []string
	Mode     Mode

	// VersionFlag true restricts candidates to the versioned name only;
	// false also tries the non-versioned name, mirroring the build's own
	// two-pass logic.
	VersionFlag bool

	ProductVersion        string
	VersionRevisionSuffix string
	GfxArch               string
	ReleaseChannel        string

	// RepoLocation is the repository base URL (repository mode).
	RepoLocation string
	// DestDir holds the package files to install from (local mode).
	DestDir string

	Workers int
}

// PackageResult is the outcome for one requested package. Err non-nil marks
// that package failed; the batch always runs to completion regardless.
type PackageResult struct {
	Name  string
	Units []string
	Err   error
}

// FailedCount counts results that carry an error.
func FailedCount(results []PackageResult) int {
	n := 0
	for _, r := range results {
		if r.Err != nil {
			n++
		}
	}
	return n
}

// AggregateError combines every per-package failure into one error, nil when
// the whole batch succeeded.
func AggregateError(results []PackageResult) error {
	var agg error
	for _, r := range results {
		if r.Err != nil {
			agg = multierr.Append(agg, fmt.Errorf("%s: %w", r.Name, r.Err))
		}
	}
	return agg
}

// Resolver looks up package definitions for name derivation. Requested names
// with no definition are treated as plain non-gfx packages.
type Resolver interface {
	Lookup(name string) (naming.Definition, bool)
}

// literalDef backs requested names that have no definition on record.
type literalDef string

func (d literalDef) PackageName() string    { return string(d) }
func (d literalDef) IsGfxArchSpecific() bool { return false }

// Installer drives one package-manager family against one request.
type Installer struct {
	Family Family
	Defs   Resolver

	// Sudo gates privilege escalation for package manager calls; tests
	// and containers running as root leave it off.
	Sudo bool
}

func (ins *Installer) workers(req *Request) int {
	if req.Workers <= 0 {
		return 1
	}
	return req.Workers
}

// Install resolves and installs every requested package. Bootstrap failures
// (repository provisioning) abort with an error; per-package failures are
// recorded in the returned results and never abort the batch.
func (ins *Installer) Install(req *Request) ([]PackageResult, error) {
	log := logger.Logger()

	if req.Mode == ModeRepository {
		if err := ins.provisionRepository(req); err != nil {
			return nil, err
		}
	}

	results := make([]PackageResult, len(req.Packages))
	jobs := make(chan int, len(req.Packages))
	var wg sync.WaitGroup

	for i := 0; i < ins.workers(req); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				name := req.Packages[idx]
				units, err := ins.installOne(name, req)
				results[idx] = PackageResult{Name: name, Units: units, Err: err}
				if err != nil {
					log.Errorf("install %s: %v", name, err)
				}
			}
		}()
	}
	for idx := range req.Packages {
		jobs <- idx
	}
	close(jobs)
	wg.Wait()

	log.Infof("installed %d/%d packages", len(results)-FailedCount(results), len(results))
	return results, nil
}

// Remove uninstalls previously installed packages by their derived names,
// with the same per-package isolation as Install.
func (ins *Installer) Remove(req *Request) ([]PackageResult, error) {
	results := make([]PackageResult, len(req.Packages))
	for idx, name := range req.Packages {
		candidates, err := ins.candidateNames(name, req)
		if err != nil {
			results[idx] = PackageResult{Name: name, Err: err}
			continue
		}
		out, err := shell.ExecCmd(ins.Family.RemoveCmd(candidates), ins.Sudo, "", nil)
		if err != nil {
			err = fmt.Errorf("%s: %s", strings.TrimSpace(out), err)
		}
		results[idx] = PackageResult{Name: name, Units: candidates, Err: err}
	}
	return results, nil
}

func (ins *Installer) installOne(name string, req *Request) ([]string, error) {
	candidates, err := ins.candidateNames(name, req)
	if err != nil {
		return nil, err
	}

	var units []string
	if req.Mode == ModeLocal {
		units, err = ins.resolveLocalUnits(candidates, req)
		if err != nil {
			return nil, err
		}
	} else {
		// In repository mode the candidate name is the install unit.
		units = candidates
	}

	out, err := shell.ExecCmd(ins.Family.InstallCmd(units), ins.Sudo, "", nil)
	if err != nil {
		return units, fmt.Errorf("%s: %s", strings.TrimSpace(out), err)
	}
	return units, nil
}

// candidateNames derives the versioned name, plus the non-versioned name
// when the version flag is off, so install-time names always match what the
// build published.
func (ins *Installer) candidateNames(name string, req *Request) ([]string, error) {
	var def naming.Definition = literalDef(name)
	if ins.Defs != nil {
		if d, ok := ins.Defs.Lookup(name); ok {
			def = d
		}
	}

	ctx := naming.BuildContext{
		Format:                ins.Family.PackageFormat(),
		ProductVersion:        req.ProductVersion,
		VersionRevisionSuffix: req.VersionRevisionSuffix,
		GfxArch:               req.GfxArch,
		IsVersionedPass:       true,
	}

	versioned, err := naming.DeriveName(def, ctx)
	if err != nil {
		return nil, err
	}
	candidates := []string{versioned}

	if !req.VersionFlag {
		ctx.IsVersionedPass = false
		plain, err := naming.DeriveName(def, ctx)
		if err != nil {
			return nil, err
		}
		if plain != versioned {
			candidates = append(candidates, plain)
		}
	}
	return candidates, nil
}

// resolveLocalUnits matches candidate names against package files in the
// destination directory by name and exact version. Several files matching
// one candidate is legal (split sub-packages sharing a base name).
func (ins *Installer) resolveLocalUnits(candidates []string, req *Request) ([]string, error) {
	ext, sep := ".deb", "_"
	if ins.Family.PackageFormat() == naming.FormatRpm {
		ext, sep = ".rpm", "-"
	}

	entries, err := os.ReadDir(req.DestDir)
	if err != nil {
		return nil, fmt.Errorf("reading package dir %s: %w", req.DestDir, err)
	}

	var units []string
	for _, candidate := range candidates {
		pattern := "^" + regexp.QuoteMeta(candidate) + regexp.QuoteMeta(sep) + regexp.QuoteMeta(req.ProductVersion) + "[._-]"
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("building match pattern for %s: %w", candidate, err)
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ext) {
				continue
			}
			if re.MatchString(entry.Name()) {
				units = append(units, filepath.Join(req.DestDir, entry.Name()))
			}
		}
	}
	if len(units) == 0 {
		return nil, fmt.Errorf("no package files matching %s in %s", strings.Join(candidates, " or "), req.DestDir)
	}
	sort.Strings(units)
	return units, nil
}

// provisionRepository writes the family's repository source file and
// refreshes the package cache once, before any install starts.
func (ins *Installer) provisionRepository(req *Request) error {
	log := logger.Logger()
	if req.RepoLocation == "" {
		return fmt.Errorf("%w: repository location is required in repository mode", ErrRepositoryProvision)
	}

	contents := ins.Family.RepoFileContents(req.RepoLocation, req.ReleaseChannel)
	path := ins.Family.RepoFilePath()
	log.Infof("provisioning %s repository source at %s", ins.Family.Name(), path)

	if out, err := shell.ExecCmdWithInput(contents, "tee "+path, ins.Sudo, nil); err != nil {
		return fmt.Errorf("%w: writing %s: %s: %v", ErrRepositoryProvision, path, strings.TrimSpace(out), err)
	}
	if out, err := shell.ExecCmd(ins.Family.RefreshCmd(), ins.Sudo, "", nil); err != nil {
		return fmt.Errorf("%w: refreshing package cache: %s: %v", ErrRepositoryProvision, strings.TrimSpace(out), err)
	}
	return nil
}
