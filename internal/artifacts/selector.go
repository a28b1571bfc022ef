// Package artifacts filters the generic build's artifact manifests down to
// the files a specific package contains. Selection is path-prefix based only;
// no filtering by extension or content.
package artifacts

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/samber/lo"

	"github.com/packforge/packforge/internal/pkgdef"
	"github.com/packforge/packforge/internal/utils/logger"
)

// ManifestFileName is the per-artifact-directory file listing the relative
// paths that directory exports.
const ManifestFileName = "artifact_manifest.txt"

// genericArchTag names artifact directories that are not gfx specific.
const genericArchTag = "generic"

// SelectedFile pairs a file's absolute location with its path relative to
// the artifact directory, so the build pipeline can re-root it under the
// install prefix.
type SelectedFile struct {
	AbsPath string
	RelPath string
}

// ArtifactDirName resolves the directory one rule/component pair reads from:
// source, component and arch tag joined by underscores, matching the generic
// build's output layout.
func ArtifactDirName(source, component, archTag string) string {
	return source + "_" + component + "_" + archTag
}

// ruleArchTag picks the concrete gfx arch or the generic marker for one
// rule. The rule's own override always wins over the definition flag.
func ruleArchTag(def *pkgdef.Definition, rule pkgdef.ArtifactRule, gfxArch string) string {
	gfxSpecific := def.GfxArchSpecific
	if rule.GfxSpecific != nil {
		gfxSpecific = *rule.GfxSpecific
	}
	if gfxSpecific && gfxArch != "" {
		return gfxArch
	}
	return genericArchTag
}

// ReadManifest reads one artifact directory's manifest: newline-delimited
// relative paths, blank lines ignored.
func ReadManifest(dir string) ([]string, error) {
	path := filepath.Join(dir, ManifestFileName)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening artifact manifest %s: %w", path, err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading artifact manifest %s: %w", path, err)
	}
	return lines, nil
}

// Select resolves the files a package definition should contain. A
// metapackage always yields an empty selection, never an error. For real
// packages every artifact rule contributes the manifest lines whose path
// begins with one of the rule's component prefixes; the result is the
// deduplicated union across all rules.
func Select(def *pkgdef.Definition, artifactsDir, gfxArch string) ([]SelectedFile, error) {
	log := logger.Logger()

	if def.Metapackage {
		return nil, nil
	}

	var selected []SelectedFile
	for _, rule := range def.Artifacts {
		archTag := ruleArchTag(def, rule, gfxArch)
		for _, subdir := range rule.Subdirs {
			dirName := ArtifactDirName(rule.Source, subdir.Component, archTag)
			dir := filepath.Join(artifactsDir, dirName)

			lines, err := ReadManifest(dir)
			if err != nil {
				return nil, fmt.Errorf("selecting artifacts for %s: %w", def.Name, err)
			}

			prefixes := subdir.Include
			if len(prefixes) == 0 {
				prefixes = []string{subdir.Component}
			}

			matched := 0
			for _, line := range lines {
				if !hasAnyPrefix(line, prefixes) {
					continue
				}
				selected = append(selected, SelectedFile{
					AbsPath: filepath.Join(dir, line),
					RelPath: line,
				})
				matched++
			}
			log.Debugf("package %s: %d/%d files from %s", def.Name, matched, len(lines), dirName)
		}
	}

	return lo.UniqBy(selected, func(f SelectedFile) string { return f.AbsPath }), nil
}

func hasAnyPrefix(path string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
