package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gonum.org/v1/plot/vg"

	"endobit.io/preheat"
)

func newPlotCmd() *cobra.Command {
	var (
		stateDir string
		zone     string
		output   string
	)

	cmd := cobra.Command{
		Use:   "plot",
		Short: "Graph heating speed against outdoor temperature",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := preheat.NewFileStore(stateDir)
			if err != nil {
				return err
			}

			state, err := store.Load(cmd.Context(), zone)
			if err != nil {
				return err
			}

			plotter := preheat.NewPlotter(&preheat.PlotterOptions{
				Title:    fmt.Sprintf("Zone %s thermal response", zone),
				Sessions: state.Sessions,
			})

			p, err := plotter.Plot()
			if err != nil {
				return err
			}

			return p.Save(8*vg.Inch, 4*vg.Inch, output)
		},
	}

	cmd.Flags().StringVar(&stateDir, "state-dir", "state", "state directory")
	cmd.Flags().StringVar(&zone, "zone", "", "zone name")
	cmd.Flags().StringVarP(&output, "output", "o", "preheat.png", "output file")

	if err := cmd.MarkFlagRequired("zone"); err != nil {
		panic(err)
	}

	return &cmd
}
