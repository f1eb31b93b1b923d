// Package reader ingests FIT files: activities (workouts with GPS traces)
// and monitor files (daily wearable data). Both readers are pipelines; the
// file_scan table records what has already been processed so directories can
// be rescanned cheaply.
package reader

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"traindb/internal/pipeline"
	"traindb/internal/store"
)

const (
	// ActivityOwner and MonitorOwner name the statistics each reader loads.
	ActivityOwner = "ActivityReader"
	MonitorOwner  = "MonitorReader"

	// TopicOwner names user-facing annotations kept on topic sources.
	TopicOwner = "Topic"

	// SportToGroupConstant maps FIT sport names to activity group names,
	// e.g. {"cycling": "Bike", "running": "Run"}.
	SportToGroupConstant = "SportToGroup"

	// KitConstant lists known kit names matched against filename segments.
	KitConstant = "Kit"
)

// AbortImportError rejects a file without recording it as scanned, so it is
// retried on the next run.
type AbortImportError struct {
	Path   string
	Reason string
}

func (e *AbortImportError) Error() string {
	return fmt.Sprintf("import aborted for %s: %s", e.Path, e.Reason)
}

// SkipFileError rejects a file permanently: the path is marked scanned so it
// is never revisited. Used for duplicate content and files of the wrong type.
type SkipFileError struct {
	Path   string
	Reason string
}

func (e *SkipFileError) Error() string {
	return fmt.Sprintf("skipping %s: %s", e.Path, e.Reason)
}

// hashFile returns the hex sha256 of a file's content along with the bytes.
func hashFile(path string) (data []byte, hash string, err error) {
	data, err = os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("reading %s: %w", path, err)
	}
	sum := sha256.Sum256(data)
	return data, hex.EncodeToString(sum[:]), nil
}

// missingFiles lists .fit files under dir that have not been scanned yet,
// sorted by path so work splits are deterministic.
func missingFiles(db *store.Store, dir string) ([]pipeline.WorkItem, error) {
	if dir == "" {
		return nil, nil
	}
	scanned, err := db.ScannedPaths()
	if err != nil {
		return nil, err
	}
	var items []pipeline.WorkItem
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".fit") {
			return nil
		}
		if !scanned[path] {
			items = append(items, pipeline.WorkItem{Key: path})
		}
		return nil
	})
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", dir, err)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Key < items[j].Key })
	return items, nil
}
