package archive

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeZip(t *testing.T, path string, entries map[string]string) {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range entries {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

func writeTar(t *testing.T, path string, entries map[string]string, gzipped bool) {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for name, content := range entries {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     name,
			Typeflag: tar.TypeReg,
			Mode:     0o644,
			Size:     int64(len(content)),
		}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())

	data := buf.Bytes()
	if gzipped {
		var gzBuf bytes.Buffer
		gw := gzip.NewWriter(&gzBuf)
		_, err := gw.Write(data)
		require.NoError(t, err)
		require.NoError(t, gw.Close())
		data = gzBuf.Bytes()
	}
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func TestExtractZip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	archivePath := filepath.Join(dir, "in.zip")
	writeZip(t, archivePath, map[string]string{
		"a.txt":     "alpha",
		"sub/b.txt": "beta",
	})

	dest := filepath.Join(dir, "out")
	count, err := Extract(archivePath, dest, 100)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	data, err := os.ReadFile(filepath.Join(dest, "sub", "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "beta", string(data))
}

func TestExtractSkipsTraversalEntries(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	archivePath := filepath.Join(dir, "evil.zip")
	writeZip(t, archivePath, map[string]string{
		"../../etc/passwd": "pwned",
		"/abs/path":        "pwned",
		"ok.txt":           "fine",
	})

	dest := filepath.Join(dir, "out")
	count, err := Extract(archivePath, dest, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	_, err = os.Stat(filepath.Join(dir, "etc", "passwd"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dest, "ok.txt"))
	assert.NoError(t, err)
}

func TestExtractTar(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	archivePath := filepath.Join(dir, "in.tar")
	writeTar(t, archivePath, map[string]string{
		"logs/app.log":  "line",
		"../escape.txt": "pwned",
	}, false)

	dest := filepath.Join(dir, "out")
	count, err := Extract(archivePath, dest, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	_, err = os.Stat(filepath.Join(dest, "logs", "app.log"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "escape.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestExtractTarGz(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	archivePath := filepath.Join(dir, "in.tar.gz")
	writeTar(t, archivePath, map[string]string{"x.txt": "hello"}, true)

	dest := filepath.Join(dir, "out")
	count, err := Extract(archivePath, dest, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	data, err := os.ReadFile(filepath.Join(dest, "x.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestExtractBareGzip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	archivePath := filepath.Join(dir, "notes.txt.gz")
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	_, err := gw.Write([]byte("payload"))
	require.NoError(t, err)
	require.NoError(t, gw.Close())
	require.NoError(t, os.WriteFile(archivePath, buf.Bytes(), 0o644))

	dest := filepath.Join(dir, "out")
	count, err := Extract(archivePath, dest, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	data, err := os.ReadFile(filepath.Join(dest, "notes.txt"))
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
}

func TestExtractUnknownFormat(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "plain.txt")
	require.NoError(t, os.WriteFile(path, []byte("just text"), 0o644))

	count, err := Extract(path, filepath.Join(dir, "out"), 100)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestExtractHonorsFileCap(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	archivePath := filepath.Join(dir, "many.zip")
	entries := map[string]string{
		"1.txt": "a", "2.txt": "b", "3.txt": "c", "4.txt": "d", "5.txt": "e",
	}
	writeZip(t, archivePath, entries)

	count, err := Extract(archivePath, filepath.Join(dir, "out"), 3)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}
