package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"slidecat/pkg/catalog"
	"slidecat/pkg/geometry"
)

func newShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <name>",
		Short: "Show a slide and its annotations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withCatalog(func(m *catalog.Manager) error {
				s, err := m.Slide(args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()

				fmt.Fprintf(out, "Name:       %s\n", s.Name())
				fmt.Fprintf(out, "Image:      %s\n", s.Path())
				if s.IsAnnotated() {
					fmt.Fprintf(out, "Annotation: %s\n", s.AnnotationPath())
				}
				if stage, ok := s.Stage(); ok {
					fmt.Fprintf(out, "Stage:      %s\n", stage)
				}
				fmt.Fprintf(out, "Tumor:      %t\n", s.HasTumor())

				thresholds := s.OtsuThresholds()
				levels := make([]int, 0, len(thresholds))
				for level := range thresholds {
					levels = append(levels, level)
				}
				sort.Ints(levels)
				for _, level := range levels {
					fmt.Fprintf(out, "Otsu L%d:    %.3f\n", level, thresholds[level])
				}

				annotations, err := s.Annotations()
				if err != nil {
					return err
				}
				for _, an := range annotations {
					box, err := geometry.Bounds(an.Polygon())
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "  %s  group=%s points=%d bounds=(%.0f,%.0f)-(%.0f,%.0f)\n",
						an.Name(), an.Group(), len(an.Polygon()),
						box.Min.X, box.Min.Y, box.Max.X, box.Max.Y)
				}
				return nil
			})
		},
	}
}
