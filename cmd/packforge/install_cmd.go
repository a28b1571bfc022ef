package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/packforge/packforge/internal/installer"
	"github.com/packforge/packforge/internal/pkgdef"
	"github.com/packforge/packforge/internal/utils/logger"
)

func createInstallCommand() *cobra.Command {
	var (
		modeName       string
		packages       []string
		versionFlag    bool
		productVersion string
		revision       string
		gfxArch        string
		releaseChannel string
		destDir        string
		repoLocation   string
		manifestPath   string
		workers        int
		sudo           bool
	)

	cmd := &cobra.Command{
		Use:   "install",
		Short: "Install packages from local files or the published repository",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logger.Logger()

			mode, err := installer.ParseMode(modeName)
			if err != nil {
				return err
			}
			family, err := installer.DetectFamily()
			if err != nil {
				return err
			}

			var defs installer.Resolver
			if manifestPath != "" {
				store, err := pkgdef.Load(manifestPath)
				if err != nil {
					return err
				}
				defs = store
			}

			ins := &installer.Installer{Family: family, Defs: defs, Sudo: sudo}
			results, err := ins.Install(&installer.Request{
				Packages:              packages,
				Mode:                  mode,
				VersionFlag:           versionFlag,
				ProductVersion:        productVersion,
				VersionRevisionSuffix: revision,
				GfxArch:               gfxArch,
				ReleaseChannel:        releaseChannel,
				RepoLocation:          repoLocation,
				DestDir:               destDir,
				Workers:               workers,
			})
			if err != nil {
				return err
			}

			agg := installer.AggregateError(results)
			if agg == nil {
				log.Infof("all %d packages installed", len(results))
				return nil
			}
			for _, result := range results {
				if result.Err != nil {
					log.Errorf("failed: %s: %v", result.Name, result.Err)
				}
			}
			return fmt.Errorf("%d of %d packages failed to install: %w",
				installer.FailedCount(results), len(results), agg)
		},
	}

	cmd.Flags().StringVar(&modeName, "mode", "", "install mode (local or repository)")
	cmd.Flags().StringSliceVar(&packages, "packages", nil, "package names to install")
	cmd.Flags().BoolVar(&versionFlag, "version-flag", false, "install versioned names only")
	cmd.Flags().StringVar(&productVersion, "product-version", "", "semantic product version, e.g. 7.1.0")
	cmd.Flags().StringVar(&revision, "revision", "", "package revision suffix")
	cmd.Flags().StringVar(&gfxArch, "gfx-arch", "", "GPU architecture tag, e.g. gfx900")
	cmd.Flags().StringVar(&releaseChannel, "release-channel", "", "repository release channel")
	cmd.Flags().StringVar(&destDir, "dest-dir", "", "directory holding package files (local mode)")
	cmd.Flags().StringVar(&repoLocation, "repo-location", "", "repository base URL (repository mode)")
	cmd.Flags().StringVar(&manifestPath, "manifest", "", "package definition manifest for name derivation")
	cmd.Flags().IntVar(&workers, "workers", 0, "concurrent installs (0 = serial)")
	cmd.Flags().BoolVar(&sudo, "sudo", true, "escalate package manager calls with sudo")
	for _, required := range []string{"mode", "packages", "product-version"} {
		_ = cmd.MarkFlagRequired(required)
	}
	return cmd
}
