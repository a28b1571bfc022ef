package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/packforge/packforge/internal/installer"
	"github.com/packforge/packforge/internal/pkgdef"
	"github.com/packforge/packforge/internal/utils/logger"
)

func createRemoveCommand() *cobra.Command {
	var (
		packages       []string
		versionFlag    bool
		productVersion string
		gfxArch        string
		manifestPath   string
		sudo           bool
	)

	cmd := &cobra.Command{
		Use:   "remove",
		Short: "Remove installed packages by their derived names",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logger.Logger()

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
			results, err := ins.Remove(&installer.Request{
				Packages:       packages,
				VersionFlag:    versionFlag,
				ProductVersion: productVersion,
				GfxArch:        gfxArch,
			})
			if err != nil {
				return err
			}

			agg := installer.AggregateError(results)
			if agg == nil {
				log.Infof("all %d packages removed", len(results))
				return nil
			}
			for _, result := range results {
				if result.Err != nil {
					log.Errorf("failed: %s: %v", result.Name, result.Err)
				}
			}
			return fmt.Errorf("%d of %d packages failed to remove: %w",
				installer.FailedCount(results), len(results), agg)
		},
	}

	cmd.Flags().StringSliceVar(&packages, "packages", nil, "package names to remove")
	cmd.Flags().BoolVar(&versionFlag, "version-flag", false, "remove versioned names only")
	cmd.Flags().StringVar(&productVersion, "product-version", "", "semantic product version, e.g. 7.1.0")
	cmd.Flags().StringVar(&gfxArch, "gfx-arch", "", "GPU architecture tag, e.g. gfx900")
	cmd.Flags().StringVar(&manifestPath, "manifest", "", "package definition manifest for name derivation")
	cmd.Flags().BoolVar(&sudo, "sudo", true, "escalate package manager calls with sudo")
	for _, required := range []string{"packages", "product-version"} {
		_ = cmd.MarkFlagRequired(required)
	}
	return cmd
}
