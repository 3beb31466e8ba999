package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"endobit.io/preheat"
	"endobit.io/table"
)

func newSessionsCmd() *cobra.Command {
	var (
		stateDir string
		zone     string
	)

	cmd := cobra.Command{
		Use:   "sessions",
		Short: "List the learned heating sessions for a zone",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := preheat.NewFileStore(stateDir)
			if err != nil {
				return err
			}

			state, err := store.Load(cmd.Context(), zone)
			if err != nil {
				return err
			}

			if len(state.Sessions) == 0 {
				fmt.Printf("No sessions recorded for zone %q\n", zone)

				return nil
			}

			type row struct {
				Date        string
				Start       string `table:"\n(°C)"`
				End         string `table:"\n(°C)"`
				Delta       string `table:"\n(°C)"`
				Duration    string `table:"\n(min)"`
				Speed       string `table:"\n(°C/min)"`
				Outdoor     string `table:"\n(°C)"`
				Anticipated string `table:",omitempty"`
			}

			output := table.New()

			for _, s := range state.Sessions {
				var anticipated string
				if s.Anticipated {
					anticipated = "yes"
				}

				output.Write(row{
					Date:        s.Date.Format(time.DateTime),
					Start:       fmt.Sprintf("%.1f", s.TempStart),
					End:         fmt.Sprintf("%.1f", s.TempEnd),
					Delta:       fmt.Sprintf("%.1f", s.Delta),
					Duration:    fmt.Sprintf("%.0f", s.DurationMin),
					Speed:       fmt.Sprintf("%.4f", s.Speed),
					Outdoor:     fmt.Sprintf("%.1f", s.OutdoorAvg),
					Anticipated: anticipated,
				})
			}

			if err := output.Flush(); err != nil {
				return err
			}

			printInertia(state.Sessions)

			return nil
		},
	}

	cmd.Flags().StringVar(&stateDir, "state-dir", "state", "state directory")
	cmd.Flags().StringVar(&zone, "zone", "", "zone name")

	if err := cmd.MarkFlagRequired("zone"); err != nil {
		panic(err)
	}

	return &cmd
}

func printInertia(sessions []preheat.HeatingSession) {
	model := preheat.NewThermalModel()
	model.Load(sessions)

	inertia, ok := model.Inertia()
	if !ok {
		return
	}

	fmt.Println()
	fmt.Printf("Sessions: %d valid\n", inertia.Sessions)
	fmt.Printf("Speed: avg %.5f, median %.5f, range [%.5f, %.5f] °C/min\n",
		inertia.AvgSpeed, inertia.MedianSpeed, inertia.MinSpeed, inertia.MaxSpeed)
	fmt.Printf("Minutes per degree: %.1f\n", inertia.MinPerDeg)
}
