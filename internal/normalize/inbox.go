package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/finledger-dev/finledger/internal/fsutil"
)

// FileInfo describes an export waiting in the inbox.
type FileInfo struct {
	Name string
	Path string
	Size int64
}

// Scan returns the CSV exports directly inside dir, in name order.
func Scan(dir string) ([]FileInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading inbox: %w", err)
	}

	var files []FileInfo
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if !strings.HasSuffix(strings.ToLower(e.Name()), ".csv") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", e.Name(), err)
		}
		files = append(files, FileInfo{
			Name: e.Name(),
			Path: filepath.Join(dir, e.Name()),
			Size: info.Size(),
		})
	}
	return files, nil
}

// MarkProcessed moves an ingested export into processedDir. An existing file
// of the same name is never overwritten; the moved file gets a timestamp
// suffix instead. Returns the destination path.
func MarkProcessed(path, processedDir string, now time.Time) (string, error) {
	if err := os.MkdirAll(processedDir, 0o755); err != nil {
		return "", fmt.Errorf("creating processed dir: %w", err)
	}

	name := filepath.Base(path)
	dst := filepath.Join(processedDir, name)
	if _, err := os.Stat(dst); err == nil {
		ext := filepath.Ext(name)
		dst = filepath.Join(processedDir, fmt.Sprintf("%s.%s%s", strings.TrimSuffix(name, ext), now.UTC().Format("20060102T150405"), ext))
	}

	if err := os.Rename(path, dst); err != nil {
		return "", fmt.Errorf("moving %s to processed: %w", name, err)
	}
	return dst, nil
}

// Archive stores a content-addressed copy of a raw export in dir as
// sha256_<16 hex>.csv. Identical content is archived once; created reports
// whether this call wrote the file.
func Archive(dir string, data []byte) (path string, created bool, err error) {
	sum := sha256.Sum256(data)
	name := "sha256_" + hex.EncodeToString(sum[:])[:16] + ".csv"
	path = filepath.Join(dir, name)

	if _, err := os.Stat(path); err == nil {
		return path, false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", false, fmt.Errorf("stat archive: %w", err)
	}

	if err := fsutil.WriteFileAtomic(path, data); err != nil {
		return "", false, fmt.Errorf("archiving export: %w", err)
	}
	return path, true, nil
}
