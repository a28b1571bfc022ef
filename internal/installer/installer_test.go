package installer

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"go.uber.org/multierr"

	"github.com/packforge/packforge/internal/utils/shell"
)

func writeOsRelease(t *testing.T, contents string) {
	t.Helper()
	orig := OsReleaseFile
	path := filepath.Join(t.TempDir(), "os-release")
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatalf("writing os-release fixture: %v", err)
	}
	OsReleaseFile = path
	t.Cleanup(func() { OsReleaseFile = orig })
}

func TestDetectFamilyByID(t *testing.T) {
	writeOsRelease(t, "NAME=\"Ubuntu\"\nID=ubuntu\nID_LIKE=debian\nVERSION_ID=\"24.04\"\n")
	family, err := DetectFamily()
	if err != nil {
		t.Fatalf("DetectFamily failed: %v", err)
	}
	if family.Name() != "apt" {
		t.Errorf("expected apt family, got %s", family.Name())
	}
}

func TestDetectFamilyByIDLike(t *testing.T) {
	writeOsRelease(t, "ID=rocky9-custom\nID_LIKE=\"rhel centos fedora\"\n")
	family, err := DetectFamily()
	if err != nil {
		t.Fatalf("DetectFamily failed: %v", err)
	}
	if family.Name() != "dnf" {
		t.Errorf("expected dnf family, got %s", family.Name())
	}
}

func TestDetectFamilyUnsupported(t *testing.T) {
	writeOsRelease(t, "ID=plan9\n")
	if _, err := DetectFamily(); !errors.Is(err, ErrUnsupportedOSFamily) {
		t.Fatalf("expected ErrUnsupportedOSFamily, got %v", err)
	}
}

func TestCandidateNamesVersionFlag(t *testing.T) {
	ins := &Installer{Family: aptFamily{}}
	req := &Request{ProductVersion: "7.1.0", VersionFlag: true}

	candidates, err := ins.candidateNames("libfoo-devel", req)
	if err != nil {
		t.Fatalf("candidateNames failed: %v", err)
	}
	if len(candidates) != 1 || candidates[0] != "libfoo-dev7.1" {
		t.Errorf("expected [libfoo-dev7.1], got %v", candidates)
	}

	req.VersionFlag = false
	candidates, err = ins.candidateNames("libfoo-devel", req)
	if err != nil {
		t.Fatalf("candidateNames failed: %v", err)
	}
	if len(candidates) != 2 || candidates[0] != "libfoo-dev7.1" || candidates[1] != "libfoo-dev" {
		t.Errorf("expected versioned then plain candidate, got %v", candidates)
	}
}

func TestResolveLocalUnits(t *testing.T) {
	destDir := t.TempDir()
	for _, name := range []string{
		"libfoo7.1_7.1.0-1_amd64.deb",
		"libfoo7.1-doc_7.1.0-1_all.deb",
		"libfoo7.1_7.0.0-1_amd64.deb",
		"libbar7.1_7.1.0-1_amd64.deb",
	} {
		if err := os.WriteFile(filepath.Join(destDir, name), []byte("x"), 0644); err != nil {
			t.Fatalf("writing fixture: %v", err)
		}
	}

	ins := &Installer{Family: aptFamily{}}
	req := &Request{Mode: ModeLocal, DestDir: destDir, ProductVersion: "7.1.0"}

	units, err := ins.resolveLocalUnits([]string{"libfoo7.1"}, req)
	if err != nil {
		t.Fatalf("resolveLocalUnits failed: %v", err)
	}
	if len(units) != 1 || filepath.Base(units[0]) != "libfoo7.1_7.1.0-1_amd64.deb" {
		t.Errorf("expected exact-version match only, got %v", units)
	}

	if _, err := ins.resolveLocalUnits([]string{"libmissing"}, req); err == nil {
		t.Error("expected error for unmatched candidate")
	}
}

// stubShell swaps both shell entry points for a canned handler.
func stubShell(t *testing.T, fn func(cmdStr string) (string, error)) {
	t.Helper()
	var mu sync.Mutex
	origExec := shell.ExecCmd
	origInput := shell.ExecCmdWithInput
	shell.ExecCmd = func(cmdStr string, sudo bool, workDir string, envVal []string) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		return fn(cmdStr)
	}
	shell.ExecCmdWithInput = func(inputStr, cmdStr string, sudo bool, envVal []string) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		return fn(cmdStr)
	}
	t.Cleanup(func() {
		shell.ExecCmd = origExec
		shell.ExecCmdWithInput = origInput
	})
}

func TestInstallIsolatesPerPackageFailures(t *testing.T) {
	var commands []string
	stubShell(t, func(cmdStr string) (string, error) {
		commands = append(commands, cmdStr)
		if strings.Contains(cmdStr, "libbad") {
			return "E: Unable to locate package libbad70100", errors.New("exit status 100")
		}
		return "", nil
	})

	ins := &Installer{Family: aptFamily{}}
	req := &Request{
		Packages:       []string{"libgood", "libbad", "libalso"},
		Mode:           ModeRepository,
		VersionFlag:    true,
		ProductVersion: "7.1.0",
		RepoLocation:   "https://repo.example.com/apt/7.1",
	}

	results, err := ins.Install(req)
	if err != nil {
		t.Fatalf("Install failed: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results[0].Err != nil || results[2].Err != nil {
		t.Errorf("expected first and third to succeed: %v / %v", results[0].Err, results[2].Err)
	}
	if results[1].Err == nil {
		t.Error("expected second package to fail")
	}
	if FailedCount(results) != 1 {
		t.Errorf("expected 1 failure, got %d", FailedCount(results))
	}
}

func TestInstallProvisionsRepositoryOnce(t *testing.T) {
	var tees, refreshes int
	stubShell(t, func(cmdStr string) (string, error) {
		switch {
		case strings.HasPrefix(cmdStr, "tee "):
			tees++
		case cmdStr == "apt-get update":
			refreshes++
		}
		return "", nil
	})

	ins := &Installer{Family: aptFamily{}}
	req := &Request{
		Packages:       []string{"liba", "libb"},
		Mode:           ModeRepository,
		VersionFlag:    true,
		ProductVersion: "7.1.0",
		RepoLocation:   "https://repo.example.com/apt/7.1",
	}
	if _, err := ins.Install(req); err != nil {
		t.Fatalf("Install failed: %v", err)
	}
	if tees != 1 || refreshes != 1 {
		t.Errorf("expected one source write and one refresh, got %d/%d", tees, refreshes)
	}
}

func TestInstallRepositoryModeRequiresLocation(t *testing.T) {
	ins := &Installer{Family: aptFamily{}}
	req := &Request{Packages: []string{"liba"}, Mode: ModeRepository, ProductVersion: "7.1.0"}
	if _, err := ins.Install(req); !errors.Is(err, ErrRepositoryProvision) {
		t.Fatalf("expected ErrRepositoryProvision, got %v", err)
	}
}

func TestRemoveIsolatesPerPackageFailures(t *testing.T) {
	var commands []string
	stubShell(t, func(cmdStr string) (string, error) {
		commands = append(commands, cmdStr)
		if strings.Contains(cmdStr, "libbad") {
			return "E: libbad7.1 is not installed", errors.New("exit status 100")
		}
		return "", nil
	})

	ins := &Installer{Family: aptFamily{}}
	req := &Request{
		Packages:       []string{"libgood", "libbad"},
		VersionFlag:    true,
		ProductVersion: "7.1.0",
	}

	results, err := ins.Remove(req)
	if err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Err != nil {
		t.Errorf("expected first removal to succeed: %v", results[0].Err)
	}
	if results[1].Err == nil {
		t.Error("expected second removal to fail")
	}
	if len(commands) != 2 || !strings.HasPrefix(commands[0], "apt-get remove -y libgood7.1") {
		t.Errorf("unexpected remove commands: %v", commands)
	}
}

func TestAggregateErrorCombinesFailures(t *testing.T) {
	results := []PackageResult{
		{Name: "liba"},
		{Name: "libb", Err: errors.New("exit status 100")},
		{Name: "libc", Err: errors.New("exit status 1")},
	}

	agg := AggregateError(results)
	if agg == nil {
		t.Fatal("expected aggregate error")
	}
	if got := len(multierr.Errors(agg)); got != 2 {
		t.Fatalf("expected 2 aggregated errors, got %d", got)
	}
	if !strings.Contains(agg.Error(), "libb") || !strings.Contains(agg.Error(), "libc") {
		t.Errorf("aggregate should name both failed packages: %v", agg)
	}

	if err := AggregateError([]PackageResult{{Name: "liba"}}); err != nil {
		t.Errorf("expected nil aggregate for a clean batch, got %v", err)
	}
}

func TestRepoFileContents(t *testing.T) {
	apt := aptFamily{}.RepoFileContents("https://repo.example.com/apt/7.1", "")
	if apt != "deb [trusted=yes] https://repo.example.com/apt/7.1 stable main\n" {
		t.Errorf("unexpected apt source line: %q", apt)
	}

	dnf := dnfFamily{}.RepoFileContents("https://repo.example.com/yum/7.1", "testing")
	if !strings.Contains(dnf, "[packforge-testing]") || !strings.Contains(dnf, "baseurl=https://repo.example.com/yum/7.1") {
		t.Errorf("unexpected dnf repo file: %q", dnf)
	}
}
