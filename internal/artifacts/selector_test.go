package artifacts

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/packforge/packforge/internal/pkgdef"
)

func writeArtifactDir(t *testing.T, root, dirName string, lines []string) {
	t.Helper()
	dir := filepath.Join(root, dirName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
	contents := ""
	for _, line := range lines {
		contents += line + "\n"
	}
	if err := os.WriteFile(filepath.Join(dir, ManifestFileName), []byte(contents), 0644); err != nil {
		t.Fatalf("writing manifest: %v", err)
	}
}

func TestSelectMetapackageIsEmpty(t *testing.T) {
	def := &pkgdef.Definition{Name: "rocm-meta", Metapackage: true}
	files, err := Select(def, t.TempDir(), "gfx900")
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if len(files) != 0 {
		t.Errorf("metapackage selection should be empty, got %d files", len(files))
	}
}

func TestSelectPrefixFiltering(t *testing.T) {
	root := t.TempDir()
	writeArtifactDir(t, root, "blas_lib_generic", []string{
		"lib/librocblas.so.7",
		"lib/cmake/rocblas-config.cmake",
		"share/doc/rocblas/README",
	})

	def := &pkgdef.Definition{
		Name: "librocblas",
		Artifacts: []pkgdef.ArtifactRule{{
			Source:  "blas",
			Subdirs: []pkgdef.SubdirRule{{Component: "lib"}},
		}},
	}

	files, err := Select(def, root, "")
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 files, got %d: %+v", len(files), files)
	}
	for _, f := range files {
		if f.RelPath == "share/doc/rocblas/README" {
			t.Errorf("share/ path should have been filtered out")
		}
	}
}

func TestSelectGfxOverrideWins(t *testing.T) {
	root := t.TempDir()
	// Definition is gfx specific, but the rule overrides to generic.
	writeArtifactDir(t, root, "blas_dev_generic", []string{"dev/include/rocblas.h"})

	override := false
	def := &pkgdef.Definition{
		Name:            "librocblas-devel",
		GfxArchSpecific: true,
		Artifacts: []pkgdef.ArtifactRule{{
			Source:      "blas",
			GfxSpecific: &override,
			Subdirs:     []pkgdef.SubdirRule{{Component: "dev"}},
		}},
	}

	files, err := Select(def, root, "gfx900")
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("expected 1 file, got %d", len(files))
	}
}

func TestSelectGfxSpecificDirectory(t *testing.T) {
	root := t.TempDir()
	writeArtifactDir(t, root, "blas_lib_gfx900", []string{"lib/librocblas.so.7"})

	def := &pkgdef.Definition{
		Name:            "librocblas",
		GfxArchSpecific: true,
		Artifacts: []pkgdef.ArtifactRule{{
			Source:  "blas",
			Subdirs: []pkgdef.SubdirRule{{Component: "lib"}},
		}},
	}

	files, err := Select(def, root, "gfx900")
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("expected 1 file from gfx900 directory, got %d", len(files))
	}
}

func TestSelectUnionIsDeduplicated(t *testing.T) {
	root := t.TempDir()
	writeArtifactDir(t, root, "blas_lib_generic", []string{"lib/librocblas.so.7"})

	def := &pkgdef.Definition{
		Name: "librocblas",
		Artifacts: []pkgdef.ArtifactRule{
			{Source: "blas", Subdirs: []pkgdef.SubdirRule{{Component: "lib"}}},
			{Source: "blas", Subdirs: []pkgdef.SubdirRule{{Component: "lib"}}},
		},
	}

	files, err := Select(def, root, "")
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("expected deduplicated selection of 1 file, got %d", len(files))
	}
}

func TestSelectIncludeListNarrowsPrefix(t *testing.T) {
	root := t.TempDir()
	writeArtifactDir(t, root, "blas_lib_generic", []string{
		"lib/librocblas.so.7",
		"lib/cmake/rocblas-config.cmake",
	})

	def := &pkgdef.Definition{
		Name: "librocblas",
		Artifacts: []pkgdef.ArtifactRule{{
			Source: "blas",
			Subdirs: []pkgdef.SubdirRule{{
				Component: "lib",
				Include:   []string{"lib/cmake"},
			}},
		}},
	}

	files, err := Select(def, root, "")
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if len(files) != 1 || files[0].RelPath != "lib/cmake/rocblas-config.cmake" {
		t.Fatalf("include list should narrow selection, got %+v", files)
	}
}

func TestSelectMissingManifestIsError(t *testing.T) {
	def := &pkgdef.Definition{
		Name: "librocblas",
		Artifacts: []pkgdef.ArtifactRule{{
			Source:  "blas",
			Subdirs: []pkgdef.SubdirRule{{Component: "lib"}},
		}},
	}
	if _, err := Select(def, t.TempDir(), ""); err == nil {
		t.Fatalf("expected error for missing artifact manifest")
	}
}
