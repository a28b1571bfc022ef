package buildpipe

import "text/template"

// Rendered packaging metadata. One template set per format; postinst and
// prerm bodies are looked up per package name with a generic fallback, and
// version tokens are substituted at render time.

var controlTemplate = template.Must(template.New("control").Parse(`Source: {{.Name}}
Section: devel
Priority: optional
Maintainer: {{.Maintainer}}
Standards-Version: 4.6.2
Build-Depends: debhelper-compat (= 13)

Package: {{.Name}}
Architecture: {{.Arch}}
{{- if .Depends}}
Depends: {{.Depends}}
{{- end}}
{{- if .Provides}}
Provides: {{.Provides}}
{{- end}}
{{- if .Replaces}}
Replaces: {{.Replaces}}
{{- end}}
{{- if .Conflicts}}
Conflicts: {{.Conflicts}}
{{- end}}
Description: {{.Summary}}
 {{.Description}}
`))

var rulesTemplate = template.Must(template.New("rules").Parse(`#!/usr/bin/make -f

%:
	dh $@

override_dh_auto_build:
override_dh_auto_test:
{{- if .DisableStrip}}

override_dh_strip:
{{- end}}
{{- if or .DisableStrip .DisableDebugPackage}}

override_dh_dwz:
{{- end}}

override_dh_shlibdeps:
`))

var changelogTemplate = template.Must(template.New("changelog").Parse(`{{.Name}} ({{.FullVersion}}) unstable; urgency=medium

  * Packaged {{.Name}} {{.FullVersion}}.

 -- {{.Maintainer}}  {{.Date}}
`))

var specTemplate = template.Must(template.New("spec").Parse(`Name:           {{.Name}}
Version:        {{.Version}}
Release:        {{.Release}}
Summary:        {{.Summary}}
License:        {{.License}}
{{- if .Prefix}}
Prefix:         {{.Prefix}}
{{- end}}
{{- if .Metapackage}}
BuildArch:      noarch
{{- end}}
AutoReqProv:    no
{{- if .Depends}}
Requires:       {{.Depends}}
{{- end}}
{{- range .Provides}}
Provides:       {{.}}
{{- end}}
{{- range .Replaces}}
Obsoletes:      {{.}}
{{- end}}
{{- range .Conflicts}}
Conflicts:      {{.}}
{{- end}}
{{- if .DisableStrip}}

%define __strip /bin/true
%define __os_install_post %{nil}
{{- end}}
{{- if .DisableDebugPackage}}
%define debug_package %{nil}
{{- end}}

%description
{{.Description}}

%install
{{- if not .Metapackage}}
mkdir -p %{buildroot}{{.Prefix}}
cp -a {{.StageDir}}/. %{buildroot}/
{{- end}}

%files
{{- range .Files}}
{{.}}
{{- end}}
{{- if .Postinst}}

%post
{{.PostinstBody}}
{{- end}}
{{- if .Prerm}}

%preun
{{.PrermBody}}
{{- end}}
`))

// postinstBodies maps a package definition name to its post-install script
// body. {{SHORTVER}} and {{PREFIX}} are substituted at render time. Packages
// without an entry fall back to genericPostinst.
var postinstBodies = map[string]string{
	"rocm-core": `#!/bin/sh
set -e
echo "{{PREFIX}}/lib" > /etc/ld.so.conf.d/rocm-{{SHORTVER}}.conf
ldconfig
`,
}

var genericPostinst = `#!/bin/sh
set -e
if [ -d "{{PREFIX}}/lib" ]; then
    ldconfig "{{PREFIX}}/lib" 2>/dev/null || ldconfig
fi
`

var genericPrerm = `#!/bin/sh
set -e
rm -f /etc/ld.so.conf.d/rocm-{{SHORTVER}}.conf 2>/dev/null || true
`
