package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scenelink/scenelink/internal/codec"
	"github.com/scenelink/scenelink/internal/presentation"
	"github.com/scenelink/scenelink/internal/storage/memory"
	"github.com/scenelink/scenelink/internal/store"
	"github.com/scenelink/scenelink/pkg/core"
)

type harness struct {
	store  *store.Store
	fs     afero.Fs
	router *gin.Engine
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	fs := afero.NewMemMapFs()
	s, err := store.New(memory.New("ar_experience_data"),
		store.WithBaseURL("https://ar.example.com/viewer"),
		store.WithExportDir(fs, "/exports"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	h := NewHandler(s, WithBindingDir(fs, "/data"))
	return &harness{store: s, fs: fs, router: NewRouter(h)}
}

func (h *harness) do(t *testing.T, method, path string, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

type response struct {
	OK      bool                   `json:"ok"`
	Error   string                 `json:"error"`
	Scenes  []core.SceneDescriptor `json:"scenes"`
	Scene   core.SceneDescriptor   `json:"scene"`
	Version uint64                 `json:"version"`
	Bound   any                    `json:"bound"`
	Path    string                 `json:"path"`
	Frame   presentation.Frame     `json:"frame"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder) response {
	t.Helper()
	var r response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &r), w.Body.String())
	return r
}

func TestHealth(t *testing.T) {
	h := newHarness(t)
	w := h.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode(t, w).OK)
}

func TestSaveAndList(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodPost, "/api/scenes", `{"name":"Pilot","description":"a\nb","position":"2 0 3"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	r := decode(t, w)
	require.Len(t, r.Scenes, 1)
	assert.Equal(t, uint64(1), r.Version)

	saved := r.Scenes[0]
	assert.NotEmpty(t, saved.ID)
	assert.Equal(t, core.ModelBox, saved.ModelType)
	assert.Equal(t, "1 1 1", saved.Scale)
	assert.True(t, strings.HasPrefix(saved.FullURL, "https://ar.example.com/viewer?"))

	w = h.do(t, http.MethodGet, "/api/scenes", "")
	r = decode(t, w)
	assert.Equal(t, []core.SceneDescriptor{saved}, r.Scenes)

	w = h.do(t, http.MethodGet, "/api/scenes/"+string(saved.ID), "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, saved, decode(t, w).Scene)
}

func TestSave_Rejects(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name string
		body string
		code int
	}{
		{"missing name", `{"description":"x"}`, http.StatusBadRequest},
		{"blank name", `{"name":"   "}`, http.StatusBadRequest},
		{"unknown model", `{"name":"A","modelType":"teapot"}`, http.StatusBadRequest},
		{"not json", `{name`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := h.do(t, http.MethodPost, "/api/scenes", tt.body)
			assert.Equal(t, tt.code, w.Code)
			r := decode(t, w)
			assert.False(t, r.OK)
			assert.NotEmpty(t, r.Error)
		})
	}
	assert.Empty(t, h.store.ListAll())
}

func TestSave_VersionHeader(t *testing.T) {
	h := newHarness(t)
	h.do(t, http.MethodPost, "/api/scenes", `{"name":"A"}`)

	w := h.do(t, http.MethodPost, "/api/scenes", `{"name":"B"}`, VersionHeader, "0")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = h.do(t, http.MethodPost, "/api/scenes", `{"name":"B"}`, VersionHeader, "nope")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(t, http.MethodPost, "/api/scenes", `{"name":"B"}`, VersionHeader, strconv.FormatUint(h.store.Version(), 10))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w).Scenes, 2)
}

func TestDelete(t *testing.T) {
	h := newHarness(t)
	h.do(t, http.MethodPost, "/api/scenes", `{"name":"A"}`)
	id := h.store.ListAll()[0].ID

	w := h.do(t, http.MethodDelete, "/api/scenes/unknown", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w).Scenes, 1)

	w = h.do(t, http.MethodDelete, "/api/scenes/"+string(id), "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode(t, w).Scenes)

	w = h.do(t, http.MethodGet, "/api/scenes/"+string(id), "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestImportExport(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodPost, "/api/scenes/import", `[{"id":"7","name":"Legacy"}]`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, core.ID("7"), decode(t, w).Scenes[0].ID)

	w = h.do(t, http.MethodPost, "/api/scenes/import", `{"not":"a list"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = h.do(t, http.MethodPost, "/api/scenes/import", `[null]`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = h.do(t, http.MethodPost, "/api/scenes/import", `[{}]`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Len(t, h.store.ListAll(), 1, "rejected import leaves the collection alone")

	w = h.do(t, http.MethodGet, "/api/scenes/export", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), store.ExportFileName)
	want, err := h.store.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, want, w.Body.Bytes())
}

func TestFlush_Export(t *testing.T) {
	h := newHarness(t)
	h.do(t, http.MethodPost, "/api/scenes", `{"name":"A"}`)

	w := h.do(t, http.MethodPost, "/api/scenes/flush", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	r := decode(t, w)
	assert.Equal(t, "/exports/"+store.ExportFileName, r.Path)

	data, err := afero.ReadFile(h.fs, r.Path)
	require.NoError(t, err)
	want, err := h.store.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, want, data)
}

func TestBinding(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, afero.WriteFile(h.fs, "/data/ar_database.json", []byte(`[{"id":"a","name":"From file"}]`), 0o644))

	w := h.do(t, http.MethodPost, "/api/binding", `{"path":""}`)
	assert.Equal(t, http.StatusOK, w.Code, "declined grant is a no-op")
	assert.False(t, h.store.Bound())

	w = h.do(t, http.MethodPost, "/api/binding", `{"path":"missing.json"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = h.do(t, http.MethodPost, "/api/binding", `{"path":"ar_database.json"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	r := decode(t, w)
	assert.Equal(t, "ar_database.json", r.Bound)
	require.Len(t, r.Scenes, 1)
	assert.Equal(t, "From file", r.Scenes[0].Name)

	w = h.do(t, http.MethodGet, "/api/binding", "")
	assert.Equal(t, true, decode(t, w).Bound)

	w = h.do(t, http.MethodDelete, "/api/binding", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.False(t, h.store.Bound())
}

func TestBinding_ConfinedToDir(t *testing.T) {
	h := newHarness(t)
	foreign := []byte(`[{"id":"x","name":"Other service"}]`)
	require.NoError(t, afero.WriteFile(h.fs, "/etc/app/data.json", foreign, 0o644))
	require.NoError(t, afero.WriteFile(h.fs, "/data/nested/ok.json", []byte(`[]`), 0o644))

	for _, path := range []string{
		"/etc/app/data.json",
		"../etc/app/data.json",
		"nested/../../etc/app/data.json",
		"..",
	} {
		t.Run(path, func(t *testing.T) {
			body, err := json.Marshal(bindRequest{Path: path})
			require.NoError(t, err)
			w := h.do(t, http.MethodPost, "/api/binding", string(body))
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.False(t, decode(t, w).OK)
		})
	}
	assert.False(t, h.store.Bound())

	h.do(t, http.MethodPost, "/api/scenes", `{"name":"after"}`)
	data, err := afero.ReadFile(h.fs, "/etc/app/data.json")
	require.NoError(t, err)
	assert.Equal(t, foreign, data, "files outside the binding dir are never written")

	w := h.do(t, http.MethodPost, "/api/binding", `{"path":"nested/ok.json"}`)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "ok.json", h.store.BoundName())
}

func TestView(t *testing.T) {
	h := newHarness(t)

	d := core.SceneDescriptor{Name: "Pilot", Description: "One\nTwo", ModelType: core.ModelSphere,
		Position: "2 0 3", Rotation: "0 0 0", Scale: "4 1 1"}
	q := codec.Encode(d).Values().Encode()

	w := h.do(t, http.MethodGet, "/viewer?"+q, "")
	require.Equal(t, http.StatusOK, w.Code)
	r := decode(t, w)
	assert.Equal(t, "Pilot", r.Scene.Name)
	assert.Equal(t, core.ModelSphere, r.Frame.ModelType)
	assert.Equal(t, "One", r.Frame.Line)
	assert.Equal(t, 2, r.Frame.LineCount)
	assert.Equal(t, "5.2 0 3", r.Frame.Anchor.String())

	w = h.do(t, http.MethodGet, "/viewer", "")
	r = decode(t, w)
	assert.Equal(t, core.PlaceholderName, r.Scene.Name)
}

func TestClient(t *testing.T) {
	h := newHarness(t)
	srv := httptest.NewServer(h.router)
	defer srv.Close()

	c := New(srv.URL + "/")
	assert.Equal(t, srv.URL, c.baseURL)
	ctx := t.Context()

	require.NoError(t, c.Healthcheck(ctx))

	col, err := c.Save(ctx, core.SceneDescriptor{Name: "A"}, 0)
	require.NoError(t, err)
	require.Len(t, col.Scenes, 1)
	assert.Equal(t, uint64(1), col.Version)

	_, err = c.Save(ctx, core.SceneDescriptor{Name: "B"}, 42)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusConflict, se.Status)
	assert.Contains(t, se.Message, "modified concurrently")

	col, err = c.List(ctx)
	require.NoError(t, err)
	assert.Len(t, col.Scenes, 1)

	var buf bytes.Buffer
	require.NoError(t, c.Export(ctx, &buf))
	assert.True(t, strings.HasPrefix(buf.String(), "["))

	col, err = c.Import(ctx, strings.NewReader(`[{"id":"x","name":"X"},{"id":"y","name":"Y"}]`))
	require.NoError(t, err)
	assert.Len(t, col.Scenes, 2)

	col, err = c.Delete(ctx, "x")
	require.NoError(t, err)
	assert.Len(t, col.Scenes, 1)

	res, err := c.Flush(ctx)
	require.NoError(t, err)
	assert.False(t, res.Bound)
	assert.Equal(t, "/exports/"+store.ExportFileName, res.Path)

	require.NoError(t, afero.WriteFile(h.fs, "/data/db.json", []byte(`[]`), 0o644))
	col, err = c.Bind(ctx, "db.json")
	require.NoError(t, err)
	assert.Equal(t, "db.json", col.Bound)
	assert.Empty(t, col.Scenes)
}

func TestClient_ServerDown(t *testing.T) {
	c := New("http://127.0.0.1:1")
	assert.Error(t, c.Healthcheck(t.Context()))
}
