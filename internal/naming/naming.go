// Package naming derives installable package names and dependency strings
// from a package definition plus the build context. Every function here is a
// pure function of its arguments so derived names are reproducible across the
// build, publish and install stages.
package naming

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Format identifies the packaging format a name is derived for.
type Format string

const (
	FormatDeb Format = "deb"
	FormatRpm Format = "rpm"
)

// ParseFormat converts a CLI string into a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "deb":
		return FormatDeb, nil
	case "rpm":
		return FormatRpm, nil
	default:
		return "", fmt.Errorf("unsupported package format %q", s)
	}
}

// ErrInvalidVersionFormat is returned when a product version cannot be
// resolved into numeric components.
var ErrInvalidVersionFormat = errors.New("invalid version format")

const (
	develSuffix    = "-devel"
	debDevelSuffix = "-dev"
	rpathMarker    = "-rpath"

	// Suffixes a gfx target may carry that are not part of the
	// architecture name itself.
	gfxDcgpuSuffix = "-dcgpu"
	gfxApuSuffix   = "-apu"
)

// BuildContext carries everything name derivation depends on for one
// invocation. It is threaded through every naming and build call unchanged.
type BuildContext struct {
	ArtifactsDir          string
	DestDir               string
	Format                Format
	ProductVersion        string // e.g. "7.1.0"
	VersionRevisionSuffix string // build counter, may be empty
	InstallPrefix         string
	GfxArch               string // e.g. "gfx900-dcgpu", empty for generic
	EnableRpath           bool
	IsVersionedPass       bool
}

// versionComponents splits a product version into exactly three numeric
// components, padding missing trailing components with zero and truncating
// anything beyond the third.
func versionComponents(version string) ([3]int, error) {
	var comps [3]int
	parts := strings.Split(strings.TrimSpace(version), ".")
	if len(parts) > 3 {
		parts = parts[:3]
	}
	if len(parts) == 0 || parts[0] == "" {
		return comps, fmt.Errorf("%w: %q", ErrInvalidVersionFormat, version)
	}
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return comps, fmt.Errorf("%w: component %q of %q is not numeric", ErrInvalidVersionFormat, p, version)
		}
		comps[i] = n
	}
	return comps, nil
}

// DeriveShortVersionToken encodes a product version into the fixed short
// token used in package version substitutions: major followed by two-digit
// minor and two-digit patch ("7.1.0" -> "70100", "7" -> "70000").
func DeriveShortVersionToken(version string) (string, error) {
	comps, err := versionComponents(version)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d%02d%02d", comps[0], comps[1], comps[2]), nil
}

// DeriveNameVersionSuffix returns the major.minor token appended to package
// names on the versioned build pass ("7.1.0" -> "7.1").
func DeriveNameVersionSuffix(version string) (string, error) {
	comps, err := versionComponents(version)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d.%d", comps[0], comps[1]), nil
}

// GfxArchToken strips the known non-architecture suffixes from a gfx target
// and returns the name token ("gfx900-dcgpu" -> "-gfx900"). Empty input
// yields an empty token.
func GfxArchToken(gfxArch string) string {
	arch := strings.TrimSpace(gfxArch)
	if arch == "" {
		return ""
	}
	arch = strings.TrimSuffix(arch, gfxDcgpuSuffix)
	arch = strings.TrimSuffix(arch, gfxApuSuffix)
	return "-" + arch
}

// Definition is the subset of a package definition that name derivation
// needs. pkgdef.Definition satisfies it.
type Definition interface {
	PackageName() string
	IsGfxArchSpecific() bool
}

// DeriveName maps a logical package name into the concrete installable name
// for the given build context. Steps, each optional: the deb-only "-devel"
// -> "-dev" rewrite (trailing occurrence only), the rpath variant marker,
// the major.minor version token on the versioned pass, and the gfx
// architecture token for gfx-specific definitions.
func DeriveName(def Definition, ctx BuildContext) (string, error) {
	name := def.PackageName()

	if ctx.Format == FormatDeb && strings.HasSuffix(name, develSuffix) {
		name = strings.TrimSuffix(name, develSuffix) + debDevelSuffix
	}

	if ctx.EnableRpath {
		name += rpathMarker
	}

	if ctx.IsVersionedPass {
		suffix, err := DeriveNameVersionSuffix(ctx.ProductVersion)
		if err != nil {
			return "", err
		}
		name += suffix
	}

	if def.IsGfxArchSpecific() {
		name += GfxArchToken(ctx.GfxArch)
	}

	return name, nil
}

// Resolver answers whether a dependency entry names another known package
// definition; it is satisfied by pkgdef.Store.
type Resolver interface {
	Lookup(name string) (Definition, bool)
}

// depListSeparator joins dependency entries for both formats.
const depListSeparator = ", "

// DeriveDependencyString converts a per-format dependency list into the
// format's dependency string. Entries matching a known definition are
// re-derived under the caller's own context so internal dependencies always
// resolve to the same build variant; external entries pass through verbatim.
func DeriveDependencyString(deps []string, ctx BuildContext, resolver Resolver) (string, error) {
	out := make([]string, 0, len(deps))
	for _, dep := range deps {
		if def, ok := resolver.Lookup(dep); ok {
			derived, err := DeriveName(def, ctx)
			if err != nil {
				return "", fmt.Errorf("deriving dependency %q: %w", dep, err)
			}
			out = append(out, derived)
			continue
		}
		out = append(out, dep)
	}
	return strings.Join(out, depListSeparator), nil
}

// PinExactVersions rewrites the internal entries of an already-built
// dependency string to carry an exact-version constraint
// ("name (= 7.1.0-30)" for deb, "name = 7.1.0-30" for rpm). External
// dependencies are left untouched. With an empty revision suffix the string
// is returned unchanged.
func PinExactVersions(depString string, ctx BuildContext, resolver Resolver, internalNames []string) (string, error) {
	if ctx.VersionRevisionSuffix == "" || depString == "" {
		return depString, nil
	}

	derived := make(map[string]bool, len(internalNames))
	for _, name := range internalNames {
		def, ok := resolver.Lookup(name)
		if !ok {
			continue
		}
		d, err := DeriveName(def, ctx)
		if err != nil {
			return "", err
		}
		derived[d] = true
	}

	exact := ctx.ProductVersion + "-" + ctx.VersionRevisionSuffix
	entries := strings.Split(depString, depListSeparator)
	for i, entry := range entries {
		if !derived[entry] {
			continue
		}
		switch ctx.Format {
		case FormatDeb:
			entries[i] = fmt.Sprintf("%s (= %s)", entry, exact)
		case FormatRpm:
			entries[i] = fmt.Sprintf("%s = %s", entry, exact)
		}
	}
	return strings.Join(entries, depListSeparator), nil
}
