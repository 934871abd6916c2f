package archive

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// MaxExtractFiles is the hard cap on regular files materialized from one
// archive, regardless of what the caller requests.
const MaxExtractFiles = 2000

var (
	zipMagic  = []byte{'P', 'K', 0x03, 0x04}
	gzipMagic = []byte{0x1f, 0x8b}
)

// Extract unpacks the archive at path into destDir and returns the number of
// regular files written. The archive kind is detected by content: zip and tar
// (plain or gzipped) are walked entry by entry, a bare gzip is decompressed to
// a single file. Entries resolving outside destDir are skipped. A zero count
// with nil error means no recognized archive format; the caller decides what
// to do with the file as-is.
func Extract(path, destDir string, maxFiles int) (int, error) {
	if maxFiles <= 0 || maxFiles > MaxExtractFiles {
		maxFiles = MaxExtractFiles
	}

	switch {
	case isZip(path):
		return extractZip(path, destDir, maxFiles)
	case isGzip(path):
		if isCompoundTarName(path) {
			return extractTarFile(path, destDir, maxFiles, true)
		}
		if strings.HasSuffix(strings.ToLower(filepath.Base(path)), ".gz") {
			return extractGzip(path, destDir)
		}
		return 0, nil
	case isTar(path):
		return extractTarFile(path, destDir, maxFiles, false)
	default:
		return 0, nil
	}
}

func sniff(path string, n int) []byte {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()
	buf := make([]byte, n)
	read, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil
	}
	return buf[:read]
}

func isZip(path string) bool {
	return bytes.HasPrefix(sniff(path, len(zipMagic)), zipMagic)
}

func isGzip(path string) bool {
	return bytes.HasPrefix(sniff(path, len(gzipMagic)), gzipMagic)
}

// isTar validates the first header block the way tar readers do, since tar has
// no leading magic at offset zero.
func isTar(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	_, err = tar.NewReader(f).Next()
	return err == nil
}

func isCompoundTarName(path string) bool {
	name := strings.ToLower(filepath.Base(path))
	return strings.HasSuffix(name, ".tar.gz") || strings.HasSuffix(name, ".tgz")
}

// resolveWithin joins name onto destDir and reports the result only when it
// stays inside destDir. Absolute names and ..-escapes resolve outside.
func resolveWithin(destDir, name string) (string, bool) {
	if name == "" {
		return "", false
	}
	if filepath.IsAbs(name) {
		return "", false
	}
	target := filepath.Join(destDir, filepath.FromSlash(name))
	rel, err := filepath.Rel(destDir, target)
	if err != nil {
		return "", false
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return target, true
}

func extractZip(path, destDir string, maxFiles int) (int, error) {
	reader, err := zip.OpenReader(path)
	if err != nil {
		return 0, fmt.Errorf("open zip: %w", err)
	}
	defer reader.Close()

	count := 0
	for _, entry := range reader.File {
		if count >= maxFiles {
			break
		}
		target, ok := resolveWithin(destDir, entry.Name)
		if !ok {
			continue
		}
		if entry.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return count, fmt.Errorf("create dir: %w", err)
			}
			continue
		}
		src, err := entry.Open()
		if err != nil {
			return count, fmt.Errorf("open zip entry: %w", err)
		}
		err = writeFile(target, src)
		src.Close()
		if err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

func extractTarFile(path, destDir string, maxFiles int, gzipped bool) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	var src io.Reader = f
	if gzipped {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return 0, fmt.Errorf("open gzip stream: %w", err)
		}
		defer gz.Close()
		src = gz
	}
	return extractTar(tar.NewReader(src), destDir, maxFiles)
}

func extractTar(reader *tar.Reader, destDir string, maxFiles int) (int, error) {
	count := 0
	for count < maxFiles {
		header, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return count, fmt.Errorf("read tar entry: %w", err)
		}
		target, ok := resolveWithin(destDir, header.Name)
		if !ok {
			continue
		}
		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return count, fmt.Errorf("create dir: %w", err)
			}
		case tar.TypeReg:
			if err := writeFile(target, reader); err != nil {
				return count, err
			}
			count++
		default:
			// Symlinks, devices and the rest are never materialized.
		}
	}
	return count, nil
}

// extractGzip decompresses a standalone gzip into destDir, named after the
// archive without its .gz suffix.
func extractGzip(path, destDir string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return 0, fmt.Errorf("open gzip stream: %w", err)
	}
	defer gz.Close()

	name := strings.TrimSuffix(filepath.Base(path), ".gz")
	if name == "" {
		name = "archive"
	}
	target, ok := resolveWithin(destDir, name)
	if !ok {
		return 0, nil
	}
	if err := writeFile(target, gz); err != nil {
		return 0, err
	}
	return 1, nil
}

func writeFile(target string, src io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	defer out.Close()
	if _, err := io.Copy(out, src); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	return nil
}
