package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"filedrop/internal/logger"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	snapshotTimeout time.Duration
	snapshotFormat  string
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot [dir]",
	Short: "Scan a folder once and print its snapshot and fingerprint",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		defer logger.Sync()

		dir := cfg.FilesDir
		if len(args) == 1 {
			dir = args[0]
		}

		cache, err := startCache(dir)
		if err != nil {
			return err
		}
		defer cache.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), snapshotTimeout)
		defer cancel()

		snap, fp, err := cache.Get(ctx)
		if err != nil {
			return fmt.Errorf("failed to build snapshot: %w", err)
		}

		var data []byte
		switch snapshotFormat {
		case "json":
			data, err = json.MarshalIndent(snap, "", "  ")
		case "yaml":
			data, err = yaml.Marshal(snap)
		default:
			return fmt.Errorf("unknown format %q (json or yaml)", snapshotFormat)
		}
		if err != nil {
			return fmt.Errorf("failed to encode snapshot: %w", err)
		}

		folders, files := snap.Count()
		fmt.Println(string(data))
		fmt.Printf("md5: %s (%d folders, %d files)\n", fp, folders, files)
		return nil
	},
}

func init() {
	snapshotCmd.Flags().StringVar(&snapshotFormat, "format", "json", "output format: json or yaml")
	snapshotCmd.Flags().DurationVar(&snapshotTimeout, "timeout", time.Minute, "maximum time to wait for the initial scan")
	rootCmd.AddCommand(snapshotCmd)
}
