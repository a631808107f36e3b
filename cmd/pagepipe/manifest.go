package main

import (
	"github.com/spf13/cobra"

	"github.com/gogpu/pagepipe/archive"
	"github.com/gogpu/pagepipe/manifest"
)

func newManifestCmd(_ *app) *cobra.Command {
	return &cobra.Command{
		Use:   "manifest <archive>",
		Short: "Print the archive manifest as re-encoded TOML",
		Long: `Print the manifest bundled with an archive after a parse and encode round
trip. Archives without a manifest print an empty manifest.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			arc, err := archive.Open(args[0])
			if err != nil {
				return err
			}
			defer arc.Close()

			m := arc.Manifest()
			if m == nil {
				m = manifest.New()
			}
			data, err := m.Encode()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}
