package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/assessment-ingest/internal/config"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <upload-id>",
	Short: "Run the ingestion job for one upload in-process",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseUploadID(args[0])
		if err != nil {
			return err
		}
		if err := cfg.Validate(config.ModeIngest); err != nil {
			return err
		}

		ctx := cmd.Context()
		env, err := initEnv(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		out, err := env.Job.Process(ctx, id)
		if err != nil {
			return err
		}
		if out == nil {
			zap.L().Warn("upload or assessment type not found, nothing ingested", zap.Int64("upload_id", id))
			return nil
		}

		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}
