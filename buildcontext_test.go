package stevedore

import (
	"archive/tar"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressDirectory(t *testing.T) {
	t.Run("archives files, directories, and symlinks", func(t *testing.T) {
		directory := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(directory, "Dockerfile"), []byte("FROM busybox\n"), 0o644))
		require.NoError(t, os.MkdirAll(filepath.Join(directory, "app"), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(directory, "app", "run.sh"), []byte("#!/bin/sh\n"), 0o755))
		require.NoError(t, os.Symlink("app/run.sh", filepath.Join(directory, "start")))

		path, err := compressDirectory(directory)
		require.NoError(t, err)
		defer os.Remove(path)

		entries := readArchive(t, path)
		assert.Equal(t, "FROM busybox\n", entries["Dockerfile"].contents)
		assert.Equal(t, byte(tar.TypeDir), entries["app/"].typeflag)
		assert.Equal(t, "#!/bin/sh\n", entries["app/run.sh"].contents)
		assert.Equal(t, byte(tar.TypeSymlink), entries["start"].typeflag)
		assert.Equal(t, "app/run.sh", entries["start"].linkname)
	})

	t.Run("preserves file modes", func(t *testing.T) {
		directory := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(directory, "run.sh"), []byte("#!/bin/sh\n"), 0o755))

		path, err := compressDirectory(directory)
		require.NoError(t, err)
		defer os.Remove(path)

		entries := readArchive(t, path)
		assert.Equal(t, int64(0o755), entries["run.sh"].mode)
	})

	t.Run("fails on a missing directory", func(t *testing.T) {
		_, err := compressDirectory(filepath.Join(t.TempDir(), "missing"))
		require.Error(t, err)
	})
}

type archiveEntry struct {
	typeflag byte
	mode     int64
	linkname string
	contents string
}

func readArchive(t *testing.T, path string) map[string]archiveEntry {
	t.Helper()

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	gz, err := gzip.NewReader(file)
	require.NoError(t, err)
	defer gz.Close()

	entries := map[string]archiveEntry{}
	tr := tar.NewReader(gz)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)

		contents, err := io.ReadAll(tr)
		require.NoError(t, err)

		entries[header.Name] = archiveEntry{
			typeflag: header.Typeflag,
			mode:     header.Mode,
			linkname: header.Linkname,
			contents: string(contents),
		}
	}
	return entries
}
