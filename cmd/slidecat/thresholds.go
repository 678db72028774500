package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"slidecat/internal/models"
	"slidecat/pkg/otsu"
)

func newThresholdsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "thresholds",
		Short: "Manage precomputed Otsu thresholds",
	}
	cmd.AddCommand(newThresholdsComputeCmd(a), newThresholdsImportCmd(a))
	return cmd
}

func newThresholdsComputeCmd(a *app) *cobra.Command {
	var levels []int

	cmd := &cobra.Command{
		Use:   "compute <name>...",
		Short: "Compute and store Otsu thresholds of slide levels",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(levels) == 0 {
				levels = a.cfg.Rendering.ThresholdLevels
			}

			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			m, err := a.openCatalog(nil)
			if err != nil {
				return err
			}
			defer m.Close()

			for _, name := range args {
				s, err := m.Slide(name)
				if err != nil {
					return err
				}
				count, err := s.LevelCount()
				if err != nil {
					return err
				}
				var available []int
				for _, level := range levels {
					if level < count {
						available = append(available, level)
					}
				}

				thresholds, err := otsu.ComputeLevels(s, available)
				if err != nil {
					return fmt.Errorf("slide %s: %w", name, err)
				}
				records := make([]models.ThresholdRecord, 0, len(available))
				for _, level := range available {
					records = append(records, models.ThresholdRecord{Slide: name, Level: level, Value: thresholds[level]})
					fmt.Fprintf(cmd.OutOrStdout(), "%s\tL%d\t%.3f\n", name, level, thresholds[level])
				}
				if err := st.SaveThresholds(records); err != nil {
					return err
				}
				if err := s.Close(); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().IntSliceVar(&levels, "levels", nil, "levels to compute (default: rendering.thresholdLevels)")
	return cmd
}

func newThresholdsImportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "import <csv>",
		Short: "Import thresholds from a slide,level,threshold CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			n, err := st.ImportThresholdsCSV(f)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d thresholds\n", n)
			return nil
		},
	}
}
