package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/packforge/packforge/internal/naming"
	"github.com/packforge/packforge/internal/objstore"
	"github.com/packforge/packforge/internal/repo"
	"github.com/packforge/packforge/internal/utils/logger"
)

func createPublishCommand() *cobra.Command {
	var (
		formatName string
		prefix     string
		packageDir string
		dedupe     bool
		storeRoot  string
		storeURL   string
		suite      string
		arch       string
		signingKey string
		workers    int
	)

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish built packages into a remote package repository",
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := naming.ParseFormat(formatName)
			if err != nil {
				return err
			}

			var store objstore.Store
			switch {
			case storeRoot != "" && storeURL != "":
				return fmt.Errorf("--store-root and --store-url are mutually exclusive")
			case storeRoot != "":
				store, err = objstore.NewFSStore(storeRoot)
				if err != nil {
					return err
				}
			case storeURL != "":
				store = objstore.NewHTTPStore(storeURL)
			default:
				return fmt.Errorf("one of --store-root or --store-url is required")
			}

			p := &repo.Publisher{
				Store:          store,
				Format:         format,
				Prefix:         prefix,
				Dedupe:         dedupe,
				Workers:        workers,
				DebSuite:       suite,
				DebArch:        arch,
				SigningKeyPath: signingKey,
			}
			state, err := p.Publish(cmd.Context(), packageDir)
			if err != nil {
				return err
			}
			logger.Logger().Infof("repository now holds %d package files and %d metadata files",
				len(state.PackageKeys), len(state.MetadataKeys))
			return nil
		},
	}

	cmd.Flags().StringVar(&formatName, "format", "", "package format (deb or rpm)")
	cmd.Flags().StringVar(&prefix, "prefix", "", "repository prefix to publish under")
	cmd.Flags().StringVar(&packageDir, "package-dir", "", "directory holding built package files")
	cmd.Flags().BoolVar(&dedupe, "dedupe", false, "skip uploads whose keys already exist remotely")
	cmd.Flags().StringVar(&storeRoot, "store-root", "", "filesystem-backed store root")
	cmd.Flags().StringVar(&storeURL, "store-url", "", "HTTP-backed store base URL")
	cmd.Flags().StringVar(&suite, "suite", "", "deb dists suite (default stable)")
	cmd.Flags().StringVar(&arch, "arch", "", "deb binary architecture (default amd64)")
	cmd.Flags().StringVar(&signingKey, "signing-key", "", "armored private key for clearsigning the deb Release")
	cmd.Flags().IntVar(&workers, "workers", 0, "concurrent uploads (0 = default)")
	for _, required := range []string{"format", "prefix", "package-dir"} {
		_ = cmd.MarkFlagRequired(required)
	}
	return cmd
}
