package pathmap

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContained(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	root := t.TempDir()
	outside := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "src"), 0o755))
	require.NoError(t, os.Symlink(outside, filepath.Join(root, "link")))
	require.NoError(t, os.Symlink(filepath.Join(root, "src"), filepath.Join(root, "alias")))
	require.NoError(t, os.Symlink(filepath.Join(outside, "gone.txt"), filepath.Join(root, "dangling")))

	tests := []struct {
		name string
		path string
		want bool
	}{
		{"existing file dir", filepath.Join(root, "src"), true},
		{"new file", filepath.Join(root, "src", "new", "a.go"), true},
		{"link inside root", filepath.Join(root, "alias", "a.go"), true},
		{"link leaving root", filepath.Join(root, "link", "escaped.txt"), false},
		{"link itself", filepath.Join(root, "link"), false},
		{"dangling link leaving root", filepath.Join(root, "dangling"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Contained(root, tt.path)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestContained_EmptyRoot(t *testing.T) {
	ok, err := Contained("", "/anywhere")
	require.NoError(t, err)
	assert.True(t, ok)
}
