package buildpipe

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/packforge/packforge/internal/artifacts"
	"github.com/packforge/packforge/internal/naming"
	"github.com/packforge/packforge/internal/pkgdef"
	"github.com/packforge/packforge/internal/utils/shell"
)

func testStore(t *testing.T) *pkgdef.Store {
	t.Helper()
	store, err := pkgdef.DefaultStore("rocm-meta", []string{"librocblas"}, []string{"librocblas"})
	if err != nil {
		t.Fatalf("building store: %v", err)
	}
	return store
}

func writeArtifactDir(t *testing.T, root, dirName string, lines []string) {
	t.Helper()
	dir := filepath.Join(root, dirName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
	contents := strings.Join(lines, "\n") + "\n"
	if err := os.WriteFile(filepath.Join(dir, artifacts.ManifestFileName), []byte(contents), 0644); err != nil {
		t.Fatalf("writing manifest: %v", err)
	}
	for _, line := range lines {
		path := filepath.Join(dir, line)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatalf("mkdir for %s: %v", line, err)
		}
		if err := os.WriteFile(path, []byte("payload"), 0644); err != nil {
			t.Fatalf("writing %s: %v", line, err)
		}
	}
}

func stubExec(t *testing.T, fn func(cmdStr string, sudo bool, workDir string, envVal []string) (string, error)) {
	t.Helper()
	prev := shell.ExecCmd
	shell.ExecCmd = fn
	t.Cleanup(func() { shell.ExecCmd = prev })
}

func TestPassesSkipsNonVersionedWhenRpath(t *testing.T) {
	p := New(testStore(t), naming.BuildContext{EnableRpath: true}, 1)
	if got := len(p.passes()); got != 1 {
		t.Fatalf("expected 1 pass with rpath enabled, got %d", got)
	}

	p = New(testStore(t), naming.BuildContext{}, 1)
	passes := p.passes()
	if len(passes) != 2 {
		t.Fatalf("expected 2 passes without rpath, got %d", len(passes))
	}
	if !passes[0].IsVersionedPass || passes[1].IsVersionedPass {
		t.Errorf("expected versioned pass first, non-versioned second")
	}
}

func TestEmptyArtifactSetIsFatal(t *testing.T) {
	artifactsDir := t.TempDir()
	destDir := t.TempDir()
	writeArtifactDir(t, artifactsDir, "blas_lib_generic", []string{"share/doc/README"})

	stubExec(t, func(cmdStr string, sudo bool, workDir string, envVal []string) (string, error) {
		t.Fatalf("build tool must not run for empty artifact set, got: %s", cmdStr)
		return "", nil
	})

	defs := []*pkgdef.Definition{{
		Name: "librocblas",
		Artifacts: []pkgdef.ArtifactRule{{
			Source:  "blas",
			Subdirs: []pkgdef.SubdirRule{{Component: "lib"}},
		}},
	}}
	store := storeFromDefs(t, defs)

	ctx := naming.BuildContext{
		ArtifactsDir:   artifactsDir,
		DestDir:        destDir,
		Format:         naming.FormatDeb,
		ProductVersion: "7.1.0",
	}

	err := New(store, ctx, 1).Run()
	if !errors.Is(err, ErrEmptyArtifactSet) {
		t.Fatalf("expected ErrEmptyArtifactSet, got %v", err)
	}

	entries, _ := filepath.Glob(filepath.Join(destDir, "*.deb"))
	if len(entries) != 0 {
		t.Errorf("no output files expected after fatal build, found %v", entries)
	}
}

func TestMetapackageBuildsWithoutArtifacts(t *testing.T) {
	destDir := t.TempDir()

	var invoked int
	stubExec(t, func(cmdStr string, sudo bool, workDir string, envVal []string) (string, error) {
		if !strings.HasPrefix(cmdStr, "dpkg-buildpackage") {
			t.Fatalf("unexpected command: %s", cmdStr)
		}
		invoked++
		// dpkg-buildpackage drops the .deb next to the source tree.
		pkgName := filepath.Base(filepath.Dir(workDir))
		deb := filepath.Join(filepath.Dir(workDir), pkgName+"_7.1.0-1_all.deb")
		return "", os.WriteFile(deb, []byte("fake deb"), 0644)
	})

	store := testStore(t)
	ctx := naming.BuildContext{
		ArtifactsDir:   t.TempDir(),
		DestDir:        destDir,
		Format:         naming.FormatDeb,
		ProductVersion: "7.1.0",
	}

	if err := New(store, ctx, 1).Run(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if invoked != 2 {
		t.Errorf("expected build tool once per pass, got %d invocations", invoked)
	}

	debs, _ := filepath.Glob(filepath.Join(destDir, "*.deb"))
	if len(debs) != 2 {
		t.Errorf("expected 2 collected debs (versioned and non-versioned), got %v", debs)
	}
}

func TestRpmOutputsCollected(t *testing.T) {
	artifactsDir := t.TempDir()
	destDir := t.TempDir()
	writeArtifactDir(t, artifactsDir, "blas_lib_generic", []string{"lib/librocblas.so.7"})

	stubExec(t, func(cmdStr string, sudo bool, workDir string, envVal []string) (string, error) {
		if !strings.HasPrefix(cmdStr, "rpmbuild") {
			t.Fatalf("unexpected command: %s", cmdStr)
		}
		rpmDir := filepath.Join(workDir, "rpmbuild", "RPMS", "x86_64")
		if err := os.MkdirAll(rpmDir, 0755); err != nil {
			return "", err
		}
		rpm := filepath.Join(rpmDir, filepath.Base(filepath.Dir(workDir))+"-7.1.0-1.x86_64.rpm")
		return "", os.WriteFile(rpm, []byte("fake rpm"), 0644)
	})

	defs := []*pkgdef.Definition{{
		Name: "librocblas",
		Artifacts: []pkgdef.ArtifactRule{{
			Source:  "blas",
			Subdirs: []pkgdef.SubdirRule{{Component: "lib"}},
		}},
	}}
	store := storeFromDefs(t, defs)

	ctx := naming.BuildContext{
		ArtifactsDir:   artifactsDir,
		DestDir:        destDir,
		Format:         naming.FormatRpm,
		ProductVersion: "7.1.0",
		InstallPrefix:  "/opt/rocm",
	}

	if err := New(store, ctx, 2).Run(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	rpms, _ := filepath.Glob(filepath.Join(destDir, "*.rpm"))
	if len(rpms) != 2 {
		t.Errorf("expected 2 collected rpms, got %v", rpms)
	}
}

func TestRpathConversionRewritesOnlyELFFiles(t *testing.T) {
	artifactsDir := t.TempDir()
	destDir := t.TempDir()
	writeArtifactDir(t, artifactsDir, "blas_lib_generic", []string{
		"lib/librocblas.so.7",
	})
	writeArtifactDir(t, artifactsDir, "blas_share_generic", []string{
		"share/doc/README",
	})

	// Only the shared library carries the ELF magic.
	elf := append([]byte{0x7f, 'E', 'L', 'F'}, []byte("rest of header")...)
	soPath := filepath.Join(artifactsDir, "blas_lib_generic", "lib", "librocblas.so.7")
	if err := os.WriteFile(soPath, elf, 0755); err != nil {
		t.Fatalf("writing elf fixture: %v", err)
	}

	var patchelfCmds []string
	stubExec(t, func(cmdStr string, sudo bool, workDir string, envVal []string) (string, error) {
		if strings.HasPrefix(cmdStr, "patchelf") {
			patchelfCmds = append(patchelfCmds, cmdStr)
			return "", nil
		}
		if !strings.HasPrefix(cmdStr, "dpkg-buildpackage") {
			t.Fatalf("unexpected command: %s", cmdStr)
		}
		pkgName := filepath.Base(filepath.Dir(workDir))
		deb := filepath.Join(filepath.Dir(workDir), pkgName+"_7.1.0-1_amd64.deb")
		return "", os.WriteFile(deb, []byte("fake deb"), 0644)
	})

	defs := []*pkgdef.Definition{{
		Name: "librocblas",
		Artifacts: []pkgdef.ArtifactRule{{
			Source:  "blas",
			Subdirs: []pkgdef.SubdirRule{{Component: "lib"}, {Component: "share"}},
		}},
	}}
	store := storeFromDefs(t, defs)

	ctx := naming.BuildContext{
		ArtifactsDir:   artifactsDir,
		DestDir:        destDir,
		Format:         naming.FormatDeb,
		ProductVersion: "7.1.0",
		InstallPrefix:  "/opt/rocm",
		EnableRpath:    true,
	}

	if err := New(store, ctx, 1).Run(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(patchelfCmds) != 1 {
		t.Fatalf("expected patchelf for the ELF file only, got %v", patchelfCmds)
	}
	if !strings.Contains(patchelfCmds[0], "--force-rpath") ||
		!strings.Contains(patchelfCmds[0], "librocblas.so.7") {
		t.Errorf("unexpected patchelf invocation: %s", patchelfCmds[0])
	}

	// Rpath builds are a single versioned variant.
	debs, _ := filepath.Glob(filepath.Join(destDir, "*.deb"))
	if len(debs) != 1 {
		t.Errorf("expected 1 collected deb for the rpath build, got %v", debs)
	}
	if len(debs) == 1 && !strings.Contains(filepath.Base(debs[0]), "librocblas-rpath7.1") {
		t.Errorf("expected rpath-marked versioned name, got %s", filepath.Base(debs[0]))
	}
}

func TestBuildToolFailureIsFatal(t *testing.T) {
	destDir := t.TempDir()

	stubExec(t, func(cmdStr string, sudo bool, workDir string, envVal []string) (string, error) {
		return "dpkg-buildpackage: error", errors.New("exit status 2")
	})

	store := testStore(t)
	ctx := naming.BuildContext{
		ArtifactsDir:   t.TempDir(),
		DestDir:        destDir,
		Format:         naming.FormatDeb,
		ProductVersion: "7.1.0",
	}

	err := New(store, ctx, 1).Run()
	if !errors.Is(err, ErrBuildToolFailure) {
		t.Fatalf("expected ErrBuildToolFailure, got %v", err)
	}
}

func storeFromDefs(t *testing.T, defs []*pkgdef.Definition) *pkgdef.Store {
	t.Helper()
	contents := "packages:\n"
	for _, def := range defs {
		contents += "  - name: " + def.Name + "\n"
		if len(def.Artifacts) > 0 {
			contents += "    artifacts:\n"
			for _, rule := range def.Artifacts {
				contents += "      - source: " + rule.Source + "\n        subdirs:\n"
				for _, sub := range rule.Subdirs {
					contents += "          - component: " + sub.Component + "\n"
				}
			}
		}
	}
	path := filepath.Join(t.TempDir(), "packages.yml")
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatalf("writing manifest: %v", err)
	}
	store, err := pkgdef.Load(path)
	if err != nil {
		t.Fatalf("loading manifest: %v", err)
	}
	return store
}
