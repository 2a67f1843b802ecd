// Package api exposes the scene store and viewer link resolution over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/spf13/afero"

	"github.com/scenelink/scenelink/internal/external"
	"github.com/scenelink/scenelink/internal/presentation"
	"github.com/scenelink/scenelink/internal/store"
	"github.com/scenelink/scenelink/internal/viewer"
	"github.com/scenelink/scenelink/pkg/core"
)

// VersionHeader carries the collection version a client last saw. When set
// on a save, the save only applies if nothing changed since.
const VersionHeader = "X-Scenes-Version"

const maxImportBytes = 8 << 20

// ErrOutsideBindingDir is returned for binding paths that are absolute or
// climb out of the binding directory.
var ErrOutsideBindingDir = errors.New("path must be relative to the binding directory")

// Handler serves the authoring and viewer routes.
type Handler struct {
	store     *store.Store
	fs        afero.Fs
	dragSpeed float64
	log       *slog.Logger
}

type Option func(*Handler)

// WithBindingDir confines bindable files to dir on fs. Request paths are
// resolved relative to it.
func WithBindingDir(fs afero.Fs, dir string) Option {
	return func(h *Handler) { h.fs = afero.NewBasePathFs(fs, dir) }
}

func WithDragSpeed(speed float64) Option {
	return func(h *Handler) { h.dragSpeed = speed }
}

func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.log = l
		}
	}
}

func NewHandler(s *store.Store, opts ...Option) *Handler {
	h := &Handler{
		store:     s,
		fs:        afero.NewBasePathFs(afero.NewOsFs(), "./bindings"),
		dragSpeed: presentation.DefaultDragSpeed,
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// NewRouter builds a gin engine with every route registered.
func NewRouter(h *Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), h.requestLog)
	h.Register(r)
	return r
}

// Register mounts the routes on r.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/healthz", h.health)
	r.GET("/viewer", h.view)

	scenes := r.Group("/api/scenes")
	scenes.GET("", h.list)
	scenes.POST("", h.save)
	scenes.GET("/export", h.export)
	scenes.POST("/import", h.importSnapshot)
	scenes.POST("/flush", h.flush)
	scenes.GET("/:id", h.get)
	scenes.DELETE("/:id", h.remove)

	binding := r.Group("/api/binding")
	binding.GET("", h.bindingStatus)
	binding.POST("", h.bind)
	binding.DELETE("", h.unbind)
}

func (h *Handler) requestLog(c *gin.Context) {
	c.Next()
	h.log.Debug("HTTP request",
		"method", c.Request.Method,
		"path", c.Request.URL.Path,
		"status", c.Writer.Status(),
	)
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handler) collection(c *gin.Context, scenes []core.SceneDescriptor) {
	c.JSON(http.StatusOK, gin.H{
		"ok":      true,
		"scenes":  scenes,
		"version": h.store.Version(),
		"bound":   h.store.BoundName(),
	})
}

func (h *Handler) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, core.ErrNameRequired),
		errors.Is(err, core.ErrUnknownModelType),
		errors.Is(err, ErrOutsideBindingDir),
		errors.Is(err, store.ErrInvalidSnapshot):
		status = http.StatusBadRequest
	case errors.Is(err, store.ErrVersionConflict):
		status = http.StatusConflict
	case errors.Is(err, os.ErrNotExist):
		status = http.StatusNotFound
	case errors.Is(err, context.Canceled):
		status = http.StatusRequestTimeout
	}
	if status == http.StatusInternalServerError {
		h.log.Error("Request failed", "path", c.Request.URL.Path, "error", err)
	}
	c.JSON(status, gin.H{"ok": false, "error": err.Error()})
}

func (h *Handler) list(c *gin.Context) {
	h.collection(c, h.store.ListAll())
}

func (h *Handler) get(c *gin.Context) {
	d, ok := h.store.Get(core.ID(c.Param("id")))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"ok": false, "error": "scene not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "scene": d})
}

func (h *Handler) save(c *gin.Context) {
	var d core.SceneDescriptor
	if err := c.ShouldBindJSON(&d); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": err.Error()})
		return
	}

	var (
		scenes []core.SceneDescriptor
		err    error
	)
	if raw := c.GetHeader(VersionHeader); raw != "" {
		version, perr := strconv.ParseUint(raw, 10, 64)
		if perr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid " + VersionHeader})
			return
		}
		scenes, err = h.store.UpsertAt(c.Request.Context(), version, d)
	} else {
		scenes, err = h.store.Upsert(c.Request.Context(), d)
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	h.collection(c, scenes)
}

func (h *Handler) remove(c *gin.Context) {
	scenes, err := h.store.DeleteByID(c.Request.Context(), core.ID(c.Param("id")))
	if err != nil {
		h.fail(c, err)
		return
	}
	h.collection(c, scenes)
}

func (h *Handler) importSnapshot(c *gin.Context) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxImportBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": err.Error()})
		return
	}
	scenes, err := h.store.Import(c.Request.Context(), raw)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.collection(c, scenes)
}

func (h *Handler) export(c *gin.Context) {
	data, err := h.store.Snapshot()
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+store.ExportFileName+`"`)
	c.Data(http.StatusOK, "application/json", data)
}

func (h *Handler) flush(c *gin.Context) {
	res, err := h.store.Flush(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "bound": res.Bound, "target": res.Target, "path": res.Path})
}

type bindRequest struct {
	Path string `json:"path"`
}

func (h *Handler) bindingStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true, "bound": h.store.Bound(), "name": h.store.BoundName()})
}

func (h *Handler) bind(c *gin.Context) {
	var req bindRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": err.Error()})
		return
	}
	if err := checkBindingPath(req.Path); err != nil {
		h.fail(c, err)
		return
	}
	scenes, err := h.store.BindGranted(c.Request.Context(), external.PathGranter(h.fs, req.Path))
	if err != nil {
		h.fail(c, err)
		return
	}
	h.collection(c, scenes)
}

func checkBindingPath(path string) error {
	if path == "" {
		return nil
	}
	if filepath.IsAbs(path) || strings.HasPrefix(path, "/") || strings.HasPrefix(path, `\`) {
		return fmt.Errorf("%w: %s", ErrOutsideBindingDir, path)
	}
	clean := filepath.Clean(filepath.FromSlash(path))
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return fmt.Errorf("%w: %s", ErrOutsideBindingDir, path)
	}
	return nil
}

func (h *Handler) unbind(c *gin.Context) {
	h.store.Unbind()
	h.collection(c, h.store.ListAll())
}

// view resolves a shared link's query string into the descriptor and the
// first frame a viewer would render for it.
func (h *Handler) view(c *gin.Context) {
	d := viewer.Resolve(c.Request.URL.RawQuery, h.log)
	m := presentation.NewMachine(d, presentation.WithDragSpeed(h.dragSpeed), presentation.WithLogger(h.log))
	c.JSON(http.StatusOK, gin.H{"ok": true, "scene": m.Scene(), "frame": m.Frame()})
}
