package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the preheat version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Printf("preheat %s\n", cmd.Root().Version)
		},
	}
}
