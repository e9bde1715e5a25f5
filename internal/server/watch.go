package server

import (
	"net/http"
	"time"

	"filedrop/internal/logger"
	"filedrop/internal/snapshot"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

const writeWait = 10 * time.Second

type watchPayload struct {
	RootContent    *snapshot.Entry `json:"rootContent"`
	RootContentMD5 string          `json:"rootContentMD5"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// handleWatch pushes the root content over a websocket every time its
// fingerprint changes. A client that already holds a snapshot passes its
// md5 and only hears about later changes.
func (s *Server) handleWatch(c echo.Context) error {
	if s.opts.DisableInfo || s.opts.DisableFileDownload {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "watch disabled"})
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return nil
	}
	defer conn.Close()

	ctx := c.Request().Context()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	known := c.QueryParam("md5")
	for {
		changed := s.cache.Changed()

		content, fp, err := s.cache.GetIfChanged(ctx, known)
		if err != nil {
			logger.Log.Debug("watch stopped", zap.Error(err))
			return nil
		}

		if content != nil {
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return nil
			}
			if err := conn.WriteJSON(watchPayload{RootContent: content, RootContentMD5: fp}); err != nil {
				return nil
			}
			known = fp
		}

		select {
		case <-changed:
		case <-done:
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}
