package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"filedrop/internal/logger"
	"filedrop/internal/model"
	"filedrop/internal/snapshot"

	"github.com/klauspost/compress/gzhttp"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type Cache interface {
	Get(ctx context.Context) (*snapshot.Entry, string, error)
	GetIfChanged(ctx context.Context, known string) (*snapshot.Entry, string, error)
	Changed() <-chan struct{}
	Stats() model.CacheStatus
}

type HistoryStore interface {
	Record(action model.Action, path string, size int64, checksum, remoteAddr string, err error) error
	GetRecent(limit int) ([]model.History, error)
	GetFailed(limit int) ([]model.History, error)
	GetStats() (model.HistoryStats, error)
}

type Options struct {
	Port                int
	FilesDir            string
	AllowDeletion       bool
	MaxFileSize         int64
	DisableInfo         bool
	DisableFileDownload bool
	// RateLimit caps uploads and deletes per client in requests per second.
	// Zero disables the limit.
	RateLimit float64
}

type Server struct {
	echo     *echo.Echo
	cache    Cache
	history  HistoryStore
	filesDir string
	opts     Options

	// addresses lists the LAN addresses advertised by /info.
	addresses func() []string

	mu       sync.Mutex
	reserved map[string]struct{}
}

func NewServer(cache Cache, history HistoryStore, opts Options) (*Server, error) {
	filesDir, err := filepath.Abs(opts.FilesDir)
	if err != nil {
		return nil, fmt.Errorf("invalid files dir: %w", err)
	}
	if err := os.MkdirAll(filesDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create files dir: %w", err)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{
		echo:      e,
		cache:     cache,
		history:   history,
		filesDir:  filesDir,
		opts:      opts,
		addresses: lanAddresses,
		reserved:  make(map[string]struct{}),
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	cors := middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders:     []string{"X-Requested-With", "contenttype"},
		AllowCredentials: true,
	})

	gzip := echo.WrapMiddleware(func(h http.Handler) http.Handler {
		return gzhttp.GzipHandler(h)
	})

	var limit []echo.MiddlewareFunc
	if s.opts.RateLimit > 0 {
		limit = append(limit, middleware.RateLimiter(
			middleware.NewRateLimiterMemoryStore(rate.Limit(s.opts.RateLimit))))
	}

	s.echo.GET("/info", s.handleInfo, cors, gzip)
	s.echo.GET("/ws", s.handleWatch)
	s.echo.GET("/delete/:filename", s.handleDelete, append(limit, cors)...)
	s.echo.POST("/", s.handleUpload, limit...)

	if !s.opts.DisableFileDownload {
		s.echo.Static("/f", s.filesDir)
	}

	s.echo.GET("/status", s.handleStatus, gzip)
	s.echo.GET("/history", s.handleHistory, gzip)
	s.echo.GET("/history/stats", s.handleHistoryStats, gzip)
}

func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) Start() {
	go func() {
		addr := ":" + strconv.Itoa(s.opts.Port)
		logger.Log.Info("server started",
			zap.String("addr", addr),
			zap.String("files_dir", s.filesDir))

		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Error("server error", zap.Error(err))
		}
	}()
}

func (s *Server) Stop(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

type infoResponse struct {
	Addresses      []string        `json:"addresses"`
	Port           int             `json:"port"`
	AllowDeletion  bool            `json:"allowDeletion"`
	RootContent    *snapshot.Entry `json:"rootContent"`
	RootContentMD5 *string         `json:"rootContentMD5"`
}

func (s *Server) handleInfo(c echo.Context) error {
	if s.opts.DisableInfo {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "info disabled"})
	}

	resp := infoResponse{
		Addresses:     s.addresses(),
		Port:          s.opts.Port,
		AllowDeletion: s.opts.AllowDeletion,
	}

	if !s.opts.DisableFileDownload {
		content, fp, err := s.cache.GetIfChanged(c.Request().Context(), c.QueryParam("md5"))
		if err != nil {
			logger.Log.Error("failed to get root content", zap.Error(err))
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		}
		resp.RootContent = content
		resp.RootContentMD5 = &fp
	}

	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, s.cache.Stats())
}

func (s *Server) handleHistory(c echo.Context) error {
	if s.history == nil {
		return c.JSON(http.StatusOK, []model.History{})
	}

	n := 20
	if nStr := c.QueryParam("n"); nStr != "" {
		if parsed, err := strconv.Atoi(nStr); err == nil && parsed > 0 {
			n = parsed
		}
	}

	get := s.history.GetRecent
	if failed, _ := strconv.ParseBool(c.QueryParam("failed")); failed {
		get = s.history.GetFailed
	}

	histories, err := get(n)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, histories)
}

func (s *Server) handleHistoryStats(c echo.Context) error {
	if s.history == nil {
		return c.JSON(http.StatusOK, model.HistoryStats{})
	}

	stats, err := s.history.GetStats()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, stats)
}

func (s *Server) record(action model.Action, path string, size int64, checksum, remoteAddr string, err error) {
	if s.history == nil {
		return
	}

	if saveErr := s.history.Record(action, path, size, checksum, remoteAddr, err); saveErr != nil {
		logger.Log.Warn("failed to save history",
			zap.String("action", string(action)),
			zap.String("path", path),
			zap.Error(saveErr))
	}
}

func lanAddresses() []string {
	addresses := []string{}

	addrs, err := net.InterfaceAddrs()
	if err != nil {
		logger.Log.Warn("failed to list interface addresses", zap.Error(err))
		return addresses
	}

	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		ip := ipNet.IP.To4()
		if ip == nil || ip.IsLoopback() {
			continue
		}
		addresses = append(addresses, ip.String())
	}
	return addresses
}
