package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"filedrop/internal/model"

	"github.com/spf13/cobra"
)

var (
	historyN      int
	historyFailed bool
	historyStats  bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View upload and delete history",
	RunE: func(cmd *cobra.Command, args []string) error {
		if historyStats {
			var stats model.HistoryStats
			if err := getJSON(serverURL("/history/stats"), &stats); err != nil {
				return err
			}

			fmt.Printf("total:   %d\n", stats.Total)
			fmt.Printf("uploads: %d\n", stats.Uploads)
			fmt.Printf("deletes: %d\n", stats.Deletes)
			fmt.Printf("failed:  %d\n", stats.Failed)
			return nil
		}

		url := fmt.Sprintf("%s?n=%d&failed=%t", serverURL("/history"), historyN, historyFailed)
		var histories []model.History
		if err := getJSON(url, &histories); err != nil {
			return err
		}

		if len(histories) == 0 {
			if historyFailed {
				fmt.Println("no failures")
			} else {
				fmt.Println("no history yet")
			}
			return nil
		}

		for _, h := range histories {
			status := "✓"
			if h.Failed() {
				status = "✗"
			}

			fmt.Printf("%s [%s] %-6s %-40s %-21s %s\n",
				status,
				h.At.Format("2006-01-02 15:04:05"),
				h.Action,
				h.Path,
				h.RemoteAddr,
				h.ErrMsg,
			)
		}

		return nil
	},
}

func getJSON(url string, v any) error {
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("server not running: %w", err)
	}

	defer func(Body io.ReadCloser) {
		_ = Body.Close()
	}(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned %s", resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func init() {
	historyCmd.Flags().IntVar(&historyN, "n", 20, "number of history entries to show")
	historyCmd.Flags().BoolVar(&historyFailed, "failed", false, "show only failed uploads and deletes")
	historyCmd.Flags().BoolVar(&historyStats, "stats", false, "show totals instead of entries")
	historyCmd.MarkFlagsMutuallyExclusive("failed", "stats")
	rootCmd.AddCommand(historyCmd)
}
