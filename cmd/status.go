package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"filedrop/internal/model"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "View the status of a running server",
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := http.Get(serverURL("/status"))
		if err != nil {
			return fmt.Errorf("server not running: %w", err)
		}

		defer func(Body io.ReadCloser) {
			_ = Body.Close()
		}(resp.Body)

		var status model.CacheStatus
		if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
			return fmt.Errorf("failed to decode status response: %w", err)
		}

		state := "scanning"
		if status.Ready {
			state = "ready"
		}

		lastChange := "-"
		if status.LastChange != nil {
			lastChange = status.LastChange.Format("2006-01-02 15:04:05")
		}

		fmt.Printf("%-12s %s\n", "DIR", status.Root)
		fmt.Printf("%-12s %s\n", "STATE", state)
		fmt.Printf("%-12s %d folders, %d files\n", "CONTENT", status.Folders, status.Files)
		fmt.Printf("%-12s %d\n", "VERSION", status.Version)
		fmt.Printf("%-12s %s\n", "MD5", status.Fingerprint)
		fmt.Printf("%-12s %s\n", "LAST CHANGE", lastChange)
		fmt.Printf("%-12s %s\n", "UPTIME", time.Since(status.StartedAt).Round(time.Second))

		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
