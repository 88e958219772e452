package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/xanthein/cvservice/pkg/recognition"
	"github.com/xanthein/cvservice/pkg/snapshot"
	"github.com/xanthein/cvservice/pkg/storage"
	"gonum.org/v1/gonum/floats"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List enrolled identities",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}

		records := store.Records()
		if len(records) == 0 {
			fmt.Println("No identities enrolled.")
			return nil
		}

		thumbs := snapshot.NewWriter(cfg.Storage.ThumbnailDir, 0)
		fmt.Println("Enrolled identities:")
		for _, r := range records {
			thumb := "-"
			if _, err := os.Stat(thumbs.Path(r.ID)); err == nil {
				thumb = thumbs.Path(r.ID)
			}
			fmt.Printf("  %6d  norm %.3f  %s\n", r.ID, embeddingNorm(r.Embedding), thumb)
		}
		fmt.Printf("\nTotal: %d identities, next id %d\n", len(records), store.AllocateNewID())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}

// openStore opens and loads the identity database from the configuration.
func openStore() (*storage.IdentityStore, error) {
	var opts []storage.Option
	if cfg.Storage.EncryptionEnabled {
		opts = append(opts, storage.WithEncryption())
	}

	store, err := storage.New(cfg.Storage.DatabasePath, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open identity store: %w", err)
	}
	if err := store.Load(); err != nil {
		return nil, fmt.Errorf("failed to load identity store: %w", err)
	}
	return store, nil
}

func embeddingNorm(e recognition.Embedding) float64 {
	v := make([]float64, len(e))
	for i, x := range e {
		v[i] = float64(x)
	}
	return floats.Norm(v, 2)
}
