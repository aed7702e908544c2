package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sells-group/assessment-ingest/internal/config"
	"github.com/sells-group/assessment-ingest/internal/store"
)

var seedCmd = &cobra.Command{
	Use:   "seed <file.yaml>",
	Short: "Load assessment types and uploads from a YAML fixture",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		seed, err := store.LoadSeed(args[0])
		if err != nil {
			return err
		}
		if err := cfg.Validate(config.ModeMigrate); err != nil {
			return err
		}

		st, err := initStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		uploads, err := store.ApplySeed(cmd.Context(), st, seed)
		if err != nil {
			return err
		}
		for _, u := range uploads {
			fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\n", u.ID, u.StorageKey)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(seedCmd)
}
