package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/xanthein/cvservice/pkg/camera"
)

var camerasCmd = &cobra.Command{
	Use:   "cameras",
	Short: "List available capture devices",
	RunE: func(cmd *cobra.Command, args []string) error {
		devices, err := camera.ListCameras()
		if err != nil {
			return err
		}
		if len(devices) == 0 {
			fmt.Println("No cameras found.")
			return nil
		}

		for _, d := range devices {
			marker := " "
			if d.Index == cfg.Camera.Index {
				marker = "*"
			}
			fmt.Printf("%s %d  %-12s %s", marker, d.Index, d.Path, d.Name)
			if d.Driver != "" {
				fmt.Printf(" (%s)", d.Driver)
			}
			fmt.Println()
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(camerasCmd)
}
