package logging

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogFilePath(t *testing.T) {
	sessionStart := time.Date(2026, 2, 12, 21, 38, 36, 0, time.UTC)

	tests := []struct {
		name    string
		logsDir string
		appName string
		want    string
	}{
		{
			name:    "basic path",
			logsDir: "logs",
			appName: "scenelink",
			want:    filepath.Join("logs", "scenelink.20260212_213836.log"),
		},
		{
			name:    "relative path with dot",
			logsDir: "./logs",
			appName: "scenelink",
			want:    filepath.Join(".", "logs", "scenelink.20260212_213836.log"),
		},
		{
			name:    "absolute path",
			logsDir: filepath.Join("/var", "log", "scenelink"),
			appName: "scenelink",
			want:    filepath.Join("/var", "log", "scenelink", "scenelink.20260212_213836.log"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, LogFilePath(tt.logsDir, tt.appName, sessionStart))
		})
	}
}

func TestOpenLogFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	start := time.Date(2026, 2, 12, 21, 38, 36, 0, time.UTC)

	w, path, err := OpenLogFile(fs, "/logs", "scenelink", start)
	require.NoError(t, err)
	_, err = w.Write([]byte("line\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	assert.Equal(t, filepath.Join("/logs", "scenelink.20260212_213836.log"), path)
	data, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	assert.Equal(t, "line\n", string(data))
}
