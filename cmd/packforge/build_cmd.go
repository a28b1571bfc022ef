package main

import (
	"github.com/spf13/cobra"

	"github.com/packforge/packforge/internal/buildpipe"
	"github.com/packforge/packforge/internal/naming"
	"github.com/packforge/packforge/internal/pkgdef"
)

func createBuildCommand() *cobra.Command {
	var (
		manifestPath   string
		artifactsDir   string
		destDir        string
		formatName     string
		productVersion string
		revision       string
		installPrefix  string
		gfxArch        string
		enableRpath    bool
		workers        int
	)

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build packages from a definition manifest and artifact tree",
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := naming.ParseFormat(formatName)
			if err != nil {
				return err
			}
			defs, err := pkgdef.Load(manifestPath)
			if err != nil {
				return err
			}
			ctx := naming.BuildContext{
				ArtifactsDir:          artifactsDir,
				DestDir:               destDir,
				Format:                format,
				ProductVersion:        productVersion,
				VersionRevisionSuffix: revision,
				InstallPrefix:         installPrefix,
				GfxArch:               gfxArch,
				EnableRpath:           enableRpath,
			}
			return buildpipe.New(defs, ctx, workers).Run()
		},
	}

	cmd.Flags().StringVar(&manifestPath, "manifest", "", "package definition manifest (yaml)")
	cmd.Flags().StringVar(&artifactsDir, "artifacts-dir", "", "generic build artifact tree")
	cmd.Flags().StringVar(&destDir, "dest-dir", "", "directory built packages land in")
	cmd.Flags().StringVar(&formatName, "format", "", "package format (deb or rpm)")
	cmd.Flags().StringVar(&productVersion, "product-version", "", "semantic product version, e.g. 7.1.0")
	cmd.Flags().StringVar(&revision, "revision", "", "package revision suffix")
	cmd.Flags().StringVar(&installPrefix, "install-prefix", "/opt/packforge", "install prefix inside the package")
	cmd.Flags().StringVar(&gfxArch, "gfx-arch", "", "GPU architecture tag, e.g. gfx900")
	cmd.Flags().BoolVar(&enableRpath, "enable-rpath", false, "rewrite RUNPATH to RPATH and build a single variant")
	cmd.Flags().IntVar(&workers, "workers", 0, "concurrent package builds (0 = default)")
	for _, required := range []string{"manifest", "artifacts-dir", "dest-dir", "format", "product-version"} {
		_ = cmd.MarkFlagRequired(required)
	}
	return cmd
}
