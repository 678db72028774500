package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"slidecat/pkg/catalog"
	"slidecat/pkg/visualization"
)

func newExportCmd(a *app) *cobra.Command {
	var fullLevel int

	cmd := &cobra.Command{
		Use:   "export <name>...",
		Short: "Render annotation images of slides",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fill, err := a.cfg.FillColor()
			if err != nil {
				return err
			}
			viewer, err := visualization.NewViewer(a.cfg.Rendering.OutputDir, a.log)
			if err != nil {
				return err
			}

			return a.withCatalog(func(m *catalog.Manager) error {
				for _, name := range args {
					s, err := m.Slide(name)
					if err != nil {
						return err
					}
					paths, err := viewer.SaveAnnotationImages(s, a.cfg.Rendering.Level, a.cfg.Rendering.Padding, fill)
					if err != nil {
						return fmt.Errorf("exporting %s: %w", name, err)
					}
					for _, p := range paths {
						fmt.Fprintln(cmd.OutOrStdout(), p)
					}
					if fullLevel >= 0 {
						p, err := viewer.SaveFullSlide(s, fullLevel)
						if err != nil {
							return fmt.Errorf("exporting %s: %w", name, err)
						}
						fmt.Fprintln(cmd.OutOrStdout(), p)
					}
					if err := s.Close(); err != nil {
						return err
					}
				}

				manifest, err := viewer.WriteManifest()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Run %s: %s\n", viewer.RunID(), manifest)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&fullLevel, "full-level", -1, "also export the complete slide at this level")
	return cmd
}
