package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"slidecat/internal/store"
)

func newIndexCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "index",
		Short: "Validate the dataset and record every slide in the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			m, err := a.openCatalog(st)
			if err != nil {
				return err
			}
			defer m.Close()

			if err := st.SaveSlides(store.RecordsFromCatalog(m)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Indexed %d slides into %s\n", m.Len(), a.cfg.Store.Path)
			return nil
		},
	}
}
