package ingest

import (
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/maruel/natural"
)

type DirStats struct {
	Scanned uint32
	Matched uint32
	Skipped uint32
}

// DiscoverDocuments walks root and returns supported documents in natural
// order, skipping hidden entries when asked.
func DiscoverDocuments(root string, skipHidden bool) ([]string, DirStats, error) {
	if strings.TrimSpace(root) == "" {
		return nil, DirStats{}, errors.New("root path is required")
	}

	var found []string
	var stats DirStats
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if path == root {
			return nil
		}
		stats.Scanned++
		if skipHidden && IsHidden(path) {
			stats.Skipped++
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if !AllowedExt(filepath.Ext(path)) {
			stats.Skipped++
			return nil
		}
		stats.Matched++
		found = append(found, path)
		return nil
	})
	if err != nil {
		return nil, stats, errors.Wrap(err, "walk")
	}
	sort.SliceStable(found, func(i, j int) bool { return natural.Less(found[i], found[j]) })
	return found, stats, nil
}
