package blockcache

import (
	"os"
	"path/filepath"

	"github.com/fangfufu/httpdirfs-sub000/internal/config"
)

// MetaPath returns <meta_dir>/<fsPath>, the sidecar metadata file spec.md
// §6 describes the persisted cache layout as mirroring the remote path.
func MetaPath(cfg *config.Config, fsPath string) string {
	return filepath.Join(cfg.MetaDir(), filepath.FromSlash(fsPath))
}

// DataPath returns <data_dir>/<fsPath>, the sparse data file.
func DataPath(cfg *config.Config, fsPath string) string {
	return filepath.Join(cfg.DataDir(), filepath.FromSlash(fsPath))
}

// ensureParentDir idempotently creates the parent directory of path,
// mirroring the remote tree under the meta/data roots per spec.md §4.3's
// "directory creation under meta/data roots mirrors the remote path and is
// idempotent".
func ensureParentDir(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0o755)
}
