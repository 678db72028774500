package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"slidecat/pkg/catalog"
	"slidecat/pkg/slide"
)

func newListCmd(a *app) *cobra.Command {
	var partition string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the slides of the catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withCatalog(func(m *catalog.Manager) error {
				var slides []*slide.Slide
				switch partition {
				case "", "all":
					slides = m.Slides()
				case "negative":
					slides = m.NegativeSlides()
				case "tumor":
					slides = m.TumorSlides()
				case "heldout":
					slides = m.HeldOutSlides()
				default:
					return fmt.Errorf("unknown partition %q (all, negative, tumor, heldout)", partition)
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "NAME\tANNOTATED\tTUMOR\tSTAGE\tPATH")
				for _, s := range slides {
					stage, ok := s.Stage()
					if !ok {
						stage = "-"
					}
					fmt.Fprintf(w, "%s\t%t\t%t\t%s\t%s\n", s.Name(), s.IsAnnotated(), s.HasTumor(), stage, s.Path())
				}
				if err := w.Flush(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), m)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&partition, "partition", "all", "all, negative, tumor or heldout")
	return cmd
}
