// Package scan discovers candidate video files for a batch run.
package scan

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/notstpa/smartremux/internal/config"
)

// Discover walks inputDir and collects files with configured video
// extensions, pruning hidden entries and the move-target subfolder so a
// rerun never re-processes already handled originals. Paths come back
// sorted for deterministic processing order.
func Discover(cfg *config.Config) ([]string, error) {
	exts := make(map[string]bool, len(cfg.Extensions))
	for _, e := range cfg.Extensions {
		exts[strings.ToLower(e)] = true
	}

	var files []string
	err := filepath.WalkDir(cfg.InputDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if path != cfg.InputDir && strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			if strings.EqualFold(name, cfg.MoveSubdir) {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") {
			return nil
		}
		if !exts[strings.ToLower(filepath.Ext(name))] {
			return nil
		}
		if cfg.MinFileSize > 0 {
			fi, err := d.Info()
			if err != nil || fi.Size() < cfg.MinFileSize {
				return nil
			}
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", cfg.InputDir, err)
	}

	sort.Strings(files)
	return files, nil
}

// Matches reports whether a single path would be picked up by Discover,
// ignoring the size floor. Used by watch mode to filter events.
func Matches(cfg *config.Config, path string) bool {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") {
		return false
	}
	if strings.EqualFold(filepath.Base(filepath.Dir(path)), cfg.MoveSubdir) {
		return false
	}
	for _, e := range cfg.Extensions {
		if strings.EqualFold(e, filepath.Ext(name)) {
			return true
		}
	}
	return false
}
