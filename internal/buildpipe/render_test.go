package buildpipe

import (
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/packforge/packforge/internal/naming"
	"github.com/packforge/packforge/internal/pkgdef"
)

type renderResolver map[string]*pkgdef.Definition

func (r renderResolver) Lookup(name string) (naming.Definition, bool) {
	d, ok := r[name]
	return d, ok
}

func TestRenderDebControlGolden(t *testing.T) {
	resolver := renderResolver{
		"librocm-core": {Name: "librocm-core"},
	}
	def := &pkgdef.Definition{
		Name:            "librocblas",
		DebDependencies: []string{"librocm-core", "libc6"},
	}
	ctx := naming.BuildContext{
		Format:          naming.FormatDeb,
		ProductVersion:  "7.1.0",
		IsVersionedPass: true,
	}

	out, err := renderDebControl(def, ctx, "librocblas7.1", resolver)
	if err != nil {
		t.Fatalf("renderDebControl failed: %v", err)
	}

	g := goldie.New(t)
	g.Assert(t, "deb_control", []byte(out))
}

func TestRenderRpmSpecGolden(t *testing.T) {
	resolver := renderResolver{
		"librocm-core": {Name: "librocm-core"},
	}
	def := &pkgdef.Definition{
		Name:                "librocblas",
		RpmDependencies:     []string{"librocm-core", "glibc"},
		DisableDebugPackage: true,
	}
	ctx := naming.BuildContext{
		Format:                naming.FormatRpm,
		ProductVersion:        "7.1.0",
		VersionRevisionSuffix: "30",
		IsVersionedPass:       true,
		InstallPrefix:         "/opt/rocm",
	}

	out, err := renderRpmSpec(def, ctx, "librocblas7.1", "/build/stage",
		[]string{"/build/stage/opt/rocm/lib/librocblas.so.7"}, resolver)
	if err != nil {
		t.Fatalf("renderRpmSpec failed: %v", err)
	}

	g := goldie.New(t)
	g.Assert(t, "rpm_spec", []byte(out))
}

func TestRenderDebRulesStripOverrides(t *testing.T) {
	out, err := renderDebRules(&pkgdef.Definition{Name: "librocblas", DisableStrip: true})
	if err != nil {
		t.Fatalf("renderDebRules failed: %v", err)
	}
	g := goldie.New(t)
	g.Assert(t, "deb_rules_nostrip", []byte(out))
}

func TestPostinstSubstitutesVersionTokens(t *testing.T) {
	def := &pkgdef.Definition{Name: "rocm-core", Postinst: true}
	ctx := naming.BuildContext{ProductVersion: "7.1.0", InstallPrefix: "/opt/rocm"}

	out, err := postinstFor(def, ctx)
	if err != nil {
		t.Fatalf("postinstFor failed: %v", err)
	}
	if want := "/etc/ld.so.conf.d/rocm-70100.conf"; !strings.Contains(out, want) {
		t.Errorf("postinst missing substituted token %q:\n%s", want, out)
	}
	if !strings.Contains(out, "/opt/rocm/lib") {
		t.Errorf("postinst missing substituted prefix:\n%s", out)
	}
}
