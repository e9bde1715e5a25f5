package cmd

import (
	"fmt"
	"os"

	"filedrop/internal/config"
	"filedrop/internal/db"
	"filedrop/internal/logger"

	"github.com/spf13/cobra"
)

var (
	cfg        *config.Config
	debug      bool
	configPath string
)

var rootCmd = &cobra.Command{
	Use:           "filedrop",
	Short:         "Share a folder over the local network",
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}

		logger.Init(debug)

		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}

		dbCmds := map[string]bool{"serve": true}
		if dbCmds[cmd.Name()] {
			if err := db.Init(cfg.DBPath); err != nil {
				return err
			}
		}

		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serverURL(path string) string {
	return fmt.Sprintf("http://localhost:%d%s", cfg.Port, path)
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug mode")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.filedrop/config.yaml)")
}
