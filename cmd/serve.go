package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"filedrop/internal/db"
	"filedrop/internal/livecache"
	"filedrop/internal/logger"
	"filedrop/internal/repository"
	"filedrop/internal/server"
	"filedrop/internal/watcher"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve [dir]",
	Short: "Serve a folder and accept uploads into it",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	defer logger.Sync()
	defer func() { _ = db.Close() }()

	filesDir := cfg.FilesDir
	if len(args) == 1 {
		filesDir = args[0]
	}
	port := cfg.Port
	if servePort != 0 {
		port = servePort
	}

	if err := os.MkdirAll(filesDir, 0755); err != nil {
		return fmt.Errorf("failed to create files dir: %w", err)
	}

	cache, err := startCache(filesDir)
	if err != nil {
		return err
	}
	defer cache.Close()

	srv, err := server.NewServer(cache, repository.NewHistoryRepository(), server.Options{
		Port:                port,
		FilesDir:            filesDir,
		AllowDeletion:       cfg.AllowDeletion,
		MaxFileSize:         cfg.MaxFileSize,
		DisableInfo:         cfg.DisableInfo,
		DisableFileDownload: cfg.DisableFileDownload,
		RateLimit:           cfg.RateLimit,
	})
	if err != nil {
		return err
	}

	srv.Start()

	logger.Log.Info("filedrop started",
		zap.String("dir", filesDir),
		zap.Int("port", port))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Log.Info("shutting down",
		zap.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Stop(ctx)
}

func startCache(dir string) (*livecache.Cache, error) {
	w, err := watcher.New(dir, watcher.Options{
		BufferSize: cfg.BufferSize,
		Ignore:     cfg.IgnoreList,
	})
	if err != nil {
		return nil, err
	}

	cache := livecache.New(w, livecache.Options{
		Root:        w.Root(),
		OrderByTime: cfg.OrderByTime,
		Ignore:      cfg.IgnoreList,
		Debounce:    time.Duration(cfg.DebounceMs) * time.Millisecond,
	})
	if err := cache.Start(); err != nil {
		return nil, err
	}
	return cache, nil
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (overrides config)")
	rootCmd.AddCommand(serveCmd)
}
