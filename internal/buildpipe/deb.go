package buildpipe

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/packforge/packforge/internal/naming"
	"github.com/packforge/packforge/internal/pkgdef"
	"github.com/packforge/packforge/internal/utils/shell"
)

// debBuildCmd is the external deb build-then-sign collaborator.
const debBuildCmd = "dpkg-buildpackage -b -us -uc"

type debControlData struct {
	Name        string
	Maintainer  string
	Arch        string
	Depends     string
	Provides    string
	Replaces    string
	Conflicts   string
	Summary     string
	Description string
}

type debRulesData struct {
	DisableStrip        bool
	DisableDebugPackage bool
}

type debChangelogData struct {
	Name        string
	FullVersion string
	Maintainer  string
	Date        string
}

// renderDebControl renders the debian/control contents for one package.
func renderDebControl(def *pkgdef.Definition, ctx naming.BuildContext, name string, resolver naming.Resolver) (string, error) {
	depends, err := naming.DeriveDependencyString(def.DebDependencies, ctx, resolver)
	if err != nil {
		return "", err
	}
	depends, err = naming.PinExactVersions(depends, ctx, resolver, def.DebDependencies)
	if err != nil {
		return "", err
	}

	arch := "any"
	if def.Metapackage {
		arch = "all"
	}

	data := debControlData{
		Name:        name,
		Maintainer:  defaultMaintainer,
		Arch:        arch,
		Depends:     depends,
		Provides:    strings.Join(def.Provides, ", "),
		Replaces:    strings.Join(def.Replaces, ", "),
		Conflicts:   strings.Join(def.Conflicts, ", "),
		Summary:     fmt.Sprintf("%s %s", def.Name, ctx.ProductVersion),
		Description: fmt.Sprintf("Native package for %s built from the generic artifact tree.", def.Name),
	}

	var buf bytes.Buffer
	if err := controlTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("rendering control for %s: %w", name, err)
	}
	return buf.String(), nil
}

func renderDebRules(def *pkgdef.Definition) (string, error) {
	var buf bytes.Buffer
	err := rulesTemplate.Execute(&buf, debRulesData{
		DisableStrip:        def.DisableStrip,
		DisableDebugPackage: def.DisableDebugPackage,
	})
	if err != nil {
		return "", fmt.Errorf("rendering rules: %w", err)
	}
	return buf.String(), nil
}

func renderDebChangelog(name string, ctx naming.BuildContext) (string, error) {
	var buf bytes.Buffer
	err := changelogTemplate.Execute(&buf, debChangelogData{
		Name:        name,
		FullVersion: fullVersion(ctx),
		Maintainer:  defaultMaintainer,
		Date:        time.Now().Format(time.RFC1123Z),
	})
	if err != nil {
		return "", fmt.Errorf("rendering changelog: %w", err)
	}
	return buf.String(), nil
}

// renderDebInstall lists the staged files dh_install should place, one
// "source dest-dir" pair per line.
func renderDebInstall(staged []string, workDir string) (string, error) {
	var buf bytes.Buffer
	for _, abs := range staged {
		rel, err := filepath.Rel(workDir, abs)
		if err != nil {
			return "", fmt.Errorf("relativizing staged path %s: %w", abs, err)
		}
		// Destination is the staged path's directory with the stage/ root
		// stripped, i.e. the final filesystem location.
		dest := filepath.Dir(strings.TrimPrefix(rel, "stage"+string(filepath.Separator)))
		buf.WriteString(rel + " " + dest + "\n")
	}
	return buf.String(), nil
}

// buildDeb renders the debian/ tree, invokes dpkg-buildpackage and collects
// the produced .deb files into the destination directory.
func (p *Pipeline) buildDeb(def *pkgdef.Definition, ctx naming.BuildContext, name, workDir, stageDir string, staged []string) error {
	debianDir := filepath.Join(workDir, "debian")
	if err := os.MkdirAll(debianDir, 0755); err != nil {
		return fmt.Errorf("creating debian dir: %w", err)
	}

	control, err := renderDebControl(def, ctx, name, p.Defs)
	if err != nil {
		return err
	}
	rules, err := renderDebRules(def)
	if err != nil {
		return err
	}
	changelog, err := renderDebChangelog(name, ctx)
	if err != nil {
		return err
	}
	install, err := renderDebInstall(staged, workDir)
	if err != nil {
		return err
	}

	renders := map[string]struct {
		contents string
		mode     os.FileMode
	}{
		"control":   {control, 0644},
		"rules":     {rules, 0755},
		"changelog": {changelog, 0644},
		"install":   {install, 0644},
	}

	if def.Postinst {
		postinst, err := postinstFor(def, ctx)
		if err != nil {
			return err
		}
		prerm, err := prermFor(def, ctx)
		if err != nil {
			return err
		}
		renders["postinst"] = struct {
			contents string
			mode     os.FileMode
		}{postinst, 0755}
		renders["prerm"] = struct {
			contents string
			mode     os.FileMode
		}{prerm, 0755}
	}

	for fileName, r := range renders {
		path := filepath.Join(debianDir, fileName)
		if err := os.WriteFile(path, []byte(r.contents), r.mode); err != nil {
			return fmt.Errorf("writing debian/%s: %w", fileName, err)
		}
	}

	if out, err := shell.ExecCmd(debBuildCmd, false, workDir, nil); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrBuildToolFailure, strings.TrimSpace(out), err)
	}

	// dpkg-buildpackage drops the .deb next to the source tree.
	parent := filepath.Dir(workDir)
	if _, err := moveOutputs([]string{filepath.Join(parent, "*.deb")}, ctx.DestDir); err != nil {
		return err
	}
	return nil
}
