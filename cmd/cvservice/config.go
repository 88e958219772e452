package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Print(cfg.String())
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}
