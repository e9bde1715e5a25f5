package cmd

import (
	"fmt"
	"os"

	"filedrop/internal/autostart"

	"github.com/spf13/cobra"
)

var installCmd = &cobra.Command{
	Use:   "install [dir]",
	Short: "Serve a folder automatically at login",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		execPath, err := os.Executable()
		if err != nil {
			return fmt.Errorf("failed to get executable path: %w", err)
		}

		dir := cfg.FilesDir
		if len(args) == 1 {
			dir = args[0]
		}

		as := autostart.New()
		if err := as.Install(execPath, dir); err != nil {
			return err
		}

		fmt.Printf("filedrop registered for autostart, serving %s\n", dir)
		return nil
	},
}

var uninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Remove the login autostart",
	RunE: func(cmd *cobra.Command, args []string) error {
		as := autostart.New()
		if err := as.Uninstall(); err != nil {
			return err
		}

		fmt.Println("filedrop autostart removed")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(uninstallCmd)
}
