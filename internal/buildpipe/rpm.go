package buildpipe

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/packforge/packforge/internal/naming"
	"github.com/packforge/packforge/internal/pkgdef"
	"github.com/packforge/packforge/internal/utils/shell"
)

type rpmSpecData struct {
	Name                string
	Version             string
	Release             string
	Summary             string
	License             string
	Prefix              string
	Metapackage         bool
	Depends             string
	Provides            []string
	Replaces            []string
	Conflicts           []string
	DisableStrip        bool
	DisableDebugPackage bool
	Description         string
	StageDir            string
	Files               []string
	Postinst            bool
	PostinstBody        string
	Prerm               bool
	PrermBody           string
}

// renderRpmSpec renders the .spec contents for one package.
func renderRpmSpec(def *pkgdef.Definition, ctx naming.BuildContext, name, stageDir string, staged []string, resolver naming.Resolver) (string, error) {
	depends, err := naming.DeriveDependencyString(def.RpmDependencies, ctx, resolver)
	if err != nil {
		return "", err
	}
	depends, err = naming.PinExactVersions(depends, ctx, resolver, def.RpmDependencies)
	if err != nil {
		return "", err
	}

	release := ctx.VersionRevisionSuffix
	if release == "" {
		release = defaultRevision
	}

	files := make([]string, 0, len(staged))
	for _, abs := range staged {
		rel, err := filepath.Rel(stageDir, abs)
		if err != nil {
			return "", fmt.Errorf("relativizing staged path %s: %w", abs, err)
		}
		files = append(files, "/"+filepath.ToSlash(rel))
	}

	data := rpmSpecData{
		Name:                name,
		Version:             ctx.ProductVersion,
		Release:             release,
		Summary:             fmt.Sprintf("%s %s", def.Name, ctx.ProductVersion),
		License:             "Proprietary",
		Prefix:              ctx.InstallPrefix,
		Metapackage:         def.Metapackage,
		Depends:             depends,
		Provides:            def.Provides,
		Replaces:            def.Replaces,
		Conflicts:           def.Conflicts,
		DisableStrip:        def.DisableStrip,
		DisableDebugPackage: def.DisableDebugPackage,
		Description:         fmt.Sprintf("Native package for %s built from the generic artifact tree.", def.Name),
		StageDir:            stageDir,
		Files:               files,
	}

	if def.Postinst {
		postinst, err := postinstFor(def, ctx)
		if err != nil {
			return "", err
		}
		prerm, err := prermFor(def, ctx)
		if err != nil {
			return "", err
		}
		data.Postinst = true
		data.PostinstBody = postinst
		data.Prerm = true
		data.PrermBody = prerm
	}

	var buf bytes.Buffer
	if err := specTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("rendering spec for %s: %w", name, err)
	}
	return buf.String(), nil
}

// buildRpm renders the spec file, invokes rpmbuild with an isolated topdir
// and collects the produced .rpm files into the destination directory.
func (p *Pipeline) buildRpm(def *pkgdef.Definition, ctx naming.BuildContext, name, workDir, stageDir string, staged []string) error {
	spec, err := renderRpmSpec(def, ctx, name, stageDir, staged, p.Defs)
	if err != nil {
		return err
	}

	specPath := filepath.Join(workDir, name+".spec")
	if err := os.WriteFile(specPath, []byte(spec), 0644); err != nil {
		return fmt.Errorf("writing spec file: %w", err)
	}

	topDir := filepath.Join(workDir, "rpmbuild")
	for _, sub := range []string{"BUILD", "RPMS", "SOURCES", "SPECS", "SRPMS"} {
		if err := os.MkdirAll(filepath.Join(topDir, sub), 0755); err != nil {
			return fmt.Errorf("creating rpmbuild tree: %w", err)
		}
	}

	cmd := fmt.Sprintf("rpmbuild -bb --define '_topdir %s' %s", topDir, specPath)
	if out, err := shell.ExecCmd(cmd, false, workDir, nil); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrBuildToolFailure, strings.TrimSpace(out), err)
	}

	if _, err := moveOutputs([]string{filepath.Join(topDir, "RPMS", "*", "*.rpm")}, ctx.DestDir); err != nil {
		return err
	}
	return nil
}
