package server

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"filedrop/internal/logger"
	"filedrop/internal/mirror"
	"filedrop/internal/model"
	"filedrop/internal/util"

	"github.com/cespare/xxhash/v2"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

var (
	errInvalidName = errors.New("invalid filename")
	errTooLarge    = errors.New("file exceeds max file size")
)

type uploadedFile struct {
	Name     string `json:"name"`
	Path     string `json:"path"`
	Size     int64  `json:"size"`
	Checksum string `json:"checksum"`
}

// upload holds per request state: a top level folder is renamed at most once
// and every file of the request lands in the renamed folder.
type upload struct {
	folders map[string]string
}

func (s *Server) handleUpload(c echo.Context) error {
	reader, err := c.Request().MultipartReader()
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	u := &upload{folders: make(map[string]string)}
	defer s.releaseFolders(u)
	saved := []uploadedFile{}

	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			logger.Log.Warn("form error", zap.Error(err))
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		}

		filename := rawFileName(part.Header.Get("Content-Disposition"))
		if filename == "" {
			_ = part.Close()
			continue
		}

		f, err := s.saveFile(u, part, filename)
		_ = part.Close()
		s.record(model.ActionUpload, f.Path, f.Size, f.Checksum, c.RealIP(), err)

		if err != nil {
			logger.Log.Error("upload failed",
				zap.String("filename", filename),
				zap.Error(err))

			status := http.StatusInternalServerError
			switch {
			case errors.Is(err, errInvalidName):
				status = http.StatusBadRequest
			case errors.Is(err, errTooLarge):
				status = http.StatusRequestEntityTooLarge
			}
			return c.JSON(status, map[string]any{"error": err.Error(), "files": saved})
		}

		logger.Log.Info("file uploaded",
			zap.String("path", f.Path),
			zap.Int64("size", f.Size),
			zap.String("checksum", f.Checksum))
		saved = append(saved, f)
	}

	return c.JSON(http.StatusOK, map[string]any{"files": saved})
}

// rawFileName returns the filename parameter as sent. multipart.Part.FileName
// strips directories, which would lose folder uploads.
func rawFileName(disposition string) string {
	_, params, err := mime.ParseMediaType(disposition)
	if err != nil {
		return ""
	}
	return params["filename"]
}

func (s *Server) saveFile(u *upload, r io.Reader, filename string) (uploadedFile, error) {
	parts, ok := mirror.SplitPath(filename)
	if !ok || len(parts) == 0 {
		return uploadedFile{Path: filename}, fmt.Errorf("%q: %w", filename, errInvalidName)
	}

	dir, err := s.prepareDir(u, parts[:len(parts)-1])
	if err != nil {
		return uploadedFile{Path: filename}, err
	}

	rel := s.reserve(dir, parts[len(parts)-1])
	defer s.release(rel)

	dst := filepath.Join(s.filesDir, filepath.FromSlash(rel))
	h := xxhash.New()
	var src io.Reader = r
	if s.opts.MaxFileSize > 0 {
		src = &limitReader{r: r, remaining: s.opts.MaxFileSize}
	}

	n, err := util.AtomicWrite(dst, io.TeeReader(src, h))
	f := uploadedFile{
		Name: path.Base(rel),
		Path: rel,
		Size: n,
	}
	if err != nil {
		return f, err
	}

	f.Checksum = fmt.Sprintf("%016x", h.Sum64())
	return f, nil
}

// prepareDir creates the folders of an upload below the files dir and
// returns their slash separated path. A top level folder that already exists,
// or is held by another upload in flight, is renamed with a " dupN" suffix.
func (s *Server) prepareDir(u *upload, folders []string) (string, error) {
	if len(folders) == 0 {
		return "", nil
	}

	top, ok := u.folders[folders[0]]
	if !ok {
		top = s.reserveFolder(folders[0])
		u.folders[folders[0]] = top
	}

	dir := path.Join(append([]string{top}, folders[1:]...)...)
	if err := os.MkdirAll(filepath.Join(s.filesDir, filepath.FromSlash(dir)), 0755); err != nil {
		return "", fmt.Errorf("failed to create folder %s: %w", dir, err)
	}
	return dir, nil
}

// reserve picks a free name for a file in dir, adding " dupN" before the
// extension, and holds it until release.
func (s *Server) reserve(dir, name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ext := path.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	rel := path.Join(dir, name)
	for i := 0; s.taken(rel); i++ {
		rel = path.Join(dir, fmt.Sprintf("%s dup%d%s", stem, i, ext))
	}
	s.reserved[rel] = struct{}{}
	return rel
}

// reserveFolder picks a free top level folder name and holds it until the
// upload finishes.
func (s *Server) reserveFolder(name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	top := name
	for i := 0; s.taken(top); i++ {
		top = fmt.Sprintf("%s dup%d", name, i)
	}
	s.reserved[top] = struct{}{}
	return top
}

func (s *Server) releaseFolders(u *upload) {
	for _, top := range u.folders {
		s.release(top)
	}
}

func (s *Server) taken(rel string) bool {
	if _, ok := s.reserved[rel]; ok {
		return true
	}
	return util.Exists(filepath.Join(s.filesDir, filepath.FromSlash(rel)))
}

func (s *Server) release(rel string) {
	s.mu.Lock()
	delete(s.reserved, rel)
	s.mu.Unlock()
}

type limitReader struct {
	r         io.Reader
	remaining int64
}

func (l *limitReader) Read(p []byte) (int, error) {
	n, err := l.r.Read(p)
	l.remaining -= int64(n)
	if l.remaining < 0 {
		return n, errTooLarge
	}
	return n, err
}

func (s *Server) handleDelete(c echo.Context) error {
	if !s.opts.AllowDeletion {
		return c.JSON(http.StatusForbidden, map[string]string{"error": "deletion not allowed"})
	}

	name := c.Param("filename")
	if c.Request().URL.RawPath != "" {
		if unescaped, err := url.PathUnescape(name); err == nil {
			name = unescaped
		}
	}

	full, err := s.resolve(name)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	info, err := os.Stat(full)
	if err != nil || info.IsDir() {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "file not found"})
	}

	// A concurrent delete of the same file is not a failure.
	err = util.RemoveIfExists(full)
	rel := filepath.ToSlash(strings.TrimPrefix(full, s.filesDir+string(filepath.Separator)))
	s.record(model.ActionDelete, rel, info.Size(), "", c.RealIP(), err)
	if err != nil {
		logger.Log.Error("delete failed",
			zap.String("path", rel),
			zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	logger.Log.Info("file deleted", zap.String("path", rel))
	return c.JSON(http.StatusOK, map[string]string{"status": "deleted"})
}

// resolve maps a client supplied name to a path strictly inside the files dir.
func (s *Server) resolve(name string) (string, error) {
	full := filepath.Join(s.filesDir, filepath.FromSlash(name))
	if full == s.filesDir || !strings.HasPrefix(full, s.filesDir+string(filepath.Separator)) {
		return "", fmt.Errorf("%q: %w", name, errInvalidName)
	}
	return full, nil
}
