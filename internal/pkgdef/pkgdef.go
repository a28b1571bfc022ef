// Package pkgdef loads the declarative package-definition manifest. The
// manifest is read once per invocation and the resulting store is never
// mutated afterwards.
package pkgdef

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
	sigsyaml "sigs.k8s.io/yaml"

	"github.com/packforge/packforge/internal/naming"
	"github.com/packforge/packforge/internal/utils/logger"
)

//go:embed schema.json
var manifestSchema string

// SubdirRule selects one component subtree of an artifact directory.
type SubdirRule struct {
	Component string   `yaml:"component" json:"component"`
	Include   []string `yaml:"include,omitempty" json:"include,omitempty"`
}

// ArtifactRule declares one generic build output that feeds a package.
// GfxSpecific, when set, overrides the definition-level flag for this rule.
type ArtifactRule struct {
	Source      string       `yaml:"source" json:"source"`
	GfxSpecific *bool        `yaml:"gfx_specific,omitempty" json:"gfx_specific,omitempty"`
	Subdirs     []SubdirRule `yaml:"subdirs" json:"subdirs"`
}

// Definition is the format-independent description of one package.
type Definition struct {
	Name            string         `yaml:"name" json:"name"`
	DebDependencies []string       `yaml:"deb_dependencies,omitempty" json:"deb_dependencies,omitempty"`
	RpmDependencies []string       `yaml:"rpm_dependencies,omitempty" json:"rpm_dependencies,omitempty"`
	Artifacts       []ArtifactRule `yaml:"artifacts,omitempty" json:"artifacts,omitempty"`

	Metapackage         bool `yaml:"metapackage,omitempty" json:"metapackage,omitempty"`
	GfxArchSpecific     bool `yaml:"gfx_arch_specific,omitempty" json:"gfx_arch_specific,omitempty"`
	Postinst            bool `yaml:"postinst,omitempty" json:"postinst,omitempty"`
	DisableStrip        bool `yaml:"disable_strip,omitempty" json:"disable_strip,omitempty"`
	DisableDebugPackage bool `yaml:"disable_debug_package,omitempty" json:"disable_debug_package,omitempty"`
	Disabled            bool `yaml:"disabled,omitempty" json:"disabled,omitempty"`
	Composite           bool `yaml:"composite,omitempty" json:"composite,omitempty"`

	Provides  []string `yaml:"provides,omitempty" json:"provides,omitempty"`
	Replaces  []string `yaml:"replaces,omitempty" json:"replaces,omitempty"`
	Conflicts []string `yaml:"conflicts,omitempty" json:"conflicts,omitempty"`
}

// PackageName satisfies naming.Definition.
func (d *Definition) PackageName() string { return d.Name }

// IsGfxArchSpecific satisfies naming.Definition.
func (d *Definition) IsGfxArchSpecific() bool { return d.GfxArchSpecific }

// manifest is the on-disk shape of the definition file.
type manifest struct {
	Packages []*Definition `yaml:"packages" json:"packages"`
}

// Store holds every loaded definition keyed by name.
type Store struct {
	byName map[string]*Definition
	order  []string
}

// Load reads, schema-validates and decodes a package-definition manifest.
func Load(path string) (*Store, error) {
	log := logger.Logger()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading package manifest %s: %w", path, err)
	}

	if err := validateManifest(data); err != nil {
		return nil, fmt.Errorf("validating package manifest %s: %w", path, err)
	}

	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decoding package manifest %s: %w", path, err)
	}

	store, err := newStore(m.Packages)
	if err != nil {
		return nil, fmt.Errorf("loading package manifest %s: %w", path, err)
	}

	log.Infof("loaded %d package definitions from %s", len(store.order), path)
	return store, nil
}

// DefaultStore builds the fallback single-metapackage store in memory. No
// serialization round trip: the definition is constructed directly.
func DefaultStore(name string, debDeps, rpmDeps []string) (*Store, error) {
	return newStore([]*Definition{{
		Name:            name,
		DebDependencies: debDeps,
		RpmDependencies: rpmDeps,
		Metapackage:     true,
	}})
}

func newStore(defs []*Definition) (*Store, error) {
	store := &Store{byName: make(map[string]*Definition, len(defs))}
	for _, def := range defs {
		if def.Name == "" {
			return nil, fmt.Errorf("package definition with empty name")
		}
		if _, exists := store.byName[def.Name]; exists {
			return nil, fmt.Errorf("duplicate package definition %q", def.Name)
		}
		store.byName[def.Name] = def
		store.order = append(store.order, def.Name)
	}
	return store, nil
}

// validateManifest checks the raw YAML against the embedded JSON schema.
func validateManifest(data []byte) error {
	jsonData, err := sigsyaml.YAMLToJSON(data)
	if err != nil {
		return fmt.Errorf("converting manifest to JSON: %w", err)
	}

	schema, err := jsonschema.CompileString("pkgdef.schema.json", manifestSchema)
	if err != nil {
		return fmt.Errorf("compiling manifest schema: %w", err)
	}

	var doc interface{}
	if err := json.Unmarshal(jsonData, &doc); err != nil {
		return fmt.Errorf("decoding manifest JSON: %w", err)
	}

	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("manifest does not match schema: %w", err)
	}
	return nil
}

// Get returns the definition for name.
func (s *Store) Get(name string) (*Definition, bool) {
	def, ok := s.byName[name]
	return def, ok
}

// Lookup satisfies naming.Resolver.
func (s *Store) Lookup(name string) (naming.Definition, bool) {
	d, found := s.byName[name]
	if !found {
		return nil, false
	}
	return d, true
}

// Has reports whether a definition with the given name exists.
func (s *Store) Has(name string) bool {
	_, ok := s.byName[name]
	return ok
}

// Names returns every definition name in manifest order.
func (s *Store) Names() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Definitions returns every definition in manifest order.
func (s *Store) Definitions() []*Definition {
	out := make([]*Definition, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.byName[name])
	}
	return out
}

// Enabled returns the definitions that are not disabled, in manifest order.
func (s *Store) Enabled() []*Definition {
	var out []*Definition
	for _, def := range s.Definitions() {
		if !def.Disabled {
			out = append(out, def)
		}
	}
	return out
}

// SortedNames returns definition names sorted lexically; handy for stable
// diagnostics.
func (s *Store) SortedNames() []string {
	names := s.Names()
	sort.Strings(names)
	return names
}
