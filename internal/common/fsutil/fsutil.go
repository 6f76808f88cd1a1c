package fsutil

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// ArtifactExt is the extension of installed artifacts under the models directory.
const ArtifactExt = ".bin"

// ModelsSubdir is the directory under the data dir that holds installed artifacts.
const ModelsSubdir = "models"

// rename is swapped in tests to exercise the cross-device fallback.
var rename = os.Rename

// ExpandHome expands a leading '~' to the user's home directory.
func ExpandHome(path string) (string, error) {
	if path == "" {
		return path, nil
	}
	if path[0] != '~' {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("home dir: %w", err)
	}
	if path == "~" {
		return home, nil
	}
	// handle cases like ~/models/llm
	return filepath.Join(home, strings.TrimPrefix(path, "~/")), nil
}

// PathExists checks if the given path exists.
func PathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil || !errors.Is(err, os.ErrNotExist)
}

// ArtifactPath returns the canonical location of an artifact: <dir>/<id>.bin.
func ArtifactPath(dir, id string) string {
	return filepath.Join(dir, id+ArtifactExt)
}

// TempPath returns a download staging path (<dir>/<id>_temp_<unixnano>). The
// "_temp_" infix and missing extension keep it distinct from ArtifactPath.
func TempPath(dir, id string, now time.Time) string {
	return filepath.Join(dir, id+"_temp_"+strconv.FormatInt(now.UnixNano(), 10))
}

// IsTempPath reports whether name follows the TempPath convention.
func IsTempPath(name string) bool {
	base := filepath.Base(name)
	return strings.Contains(base, "_temp_") && !strings.HasSuffix(base, ArtifactExt)
}

// AtomicInstall moves src to dst so that dst is either absent or complete.
// A plain rename is tried first; across filesystems the data is copied into a
// sibling temp file of dst, synced, then renamed into place.
func AtomicInstall(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	err := rename(src, dst)
	if err == nil {
		return nil
	}
	if !errors.Is(err, syscall.EXDEV) {
		return fmt.Errorf("rename: %w", err)
	}
	staged := dst + ".partial"
	if err := copyFile(src, staged); err != nil {
		_ = os.Remove(staged)
		return fmt.Errorf("copy: %w", err)
	}
	if err := os.Rename(staged, dst); err != nil {
		_ = os.Remove(staged)
		return fmt.Errorf("rename staged: %w", err)
	}
	_ = os.Remove(src)
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
