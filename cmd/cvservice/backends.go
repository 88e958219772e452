package main

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/spf13/cobra"
	"github.com/xanthein/cvservice/pkg/acceleration"
)

var backendsCmd = &cobra.Command{
	Use:   "backends",
	Short: "List detected inference backends and the one selected",
	RunE: func(cmd *cobra.Command, args []string) error {
		accel := acceleration.GetManager()
		if err := accel.Initialize(accelerationConfig(cfg)); err != nil {
			return fmt.Errorf("failed to initialize acceleration: %w", err)
		}
		printBackends(os.Stdout, accel)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(backendsCmd)
}

// printBackends lists every detected backend, marking the active one.
func printBackends(w io.Writer, m *acceleration.Manager) {
	all := m.GetAllBackends()
	names := make([]string, 0, len(all))
	for b := range all {
		names = append(names, string(b))
	}
	sort.Strings(names)

	active := m.GetActiveBackend()
	for _, name := range names {
		info := all[acceleration.Backend(name)]
		marker := " "
		if info.Backend == active {
			marker = "*"
		}
		fmt.Fprintf(w, "%s %-9s %s", marker, info.Backend, info.Name)
		if info.DeviceName != "" {
			fmt.Fprintf(w, " - %s", info.DeviceName)
		}
		if info.Version != "" {
			fmt.Fprintf(w, " (%s)", info.Version)
		}
		fmt.Fprintln(w)
	}

	backend, target := m.DNN()
	fmt.Fprintf(w, "\nDNN backend: %s, target: %s, accelerated: %v\n", backend, target, m.IsAccelerated())
}
