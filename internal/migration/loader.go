package migration

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

// Filename patterns for migration files, in two accepted formats:
//
//	YYYYMMDD_NNN_description.sql  (e.g., 20250101_001_create_vaults.sql)
//	NNN-description.sql           (legacy, e.g., 001-create-vaults.sql)
//
// The numeric prefix becomes the migration version; its zero-padded form
// makes lexicographic order chronological.
var (
	filenamePattern       = regexp.MustCompile(`^(\d{8}_\d{3})_([A-Za-z0-9_]+)\.sql$`)       //nolint:gochecknoglobals // compiled once, used by LoadFromDir
	legacyFilenamePattern = regexp.MustCompile(`^(\d+)-([A-Za-z0-9][A-Za-z0-9_-]*)\.sql$`) //nolint:gochecknoglobals // compiled once, used by LoadFromDir
)

// LoadFromDir scans a directory for migration files and returns them as
// unsorted Migration values. Files that do not match either naming pattern
// are skipped. A missing directory is treated as zero migrations, not an
// error, so a fresh checkout without a migrations directory behaves as a
// no-op rather than a failure.
func LoadFromDir(dir string) ([]Migration, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("reading migrations directory %s: %w", dir, err)
	}

	var migrations []Migration

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		version, name, ok := matchFilename(entry.Name())
		if !ok {
			continue
		}

		path := filepath.Join(dir, entry.Name())

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading migration file %s: %w", path, err)
		}

		migrations = append(migrations, Parse(string(data), version, name, entry.Name(), path))
	}

	return migrations, nil
}

// matchFilename extracts the version and name from a migration filename,
// trying the date-sequence format first and the legacy form second.
func matchFilename(filename string) (version, name string, ok bool) {
	if m := filenamePattern.FindStringSubmatch(filename); m != nil {
		return m[1], m[2], true
	}

	if m := legacyFilenamePattern.FindStringSubmatch(filename); m != nil {
		return m[1], m[2], true
	}

	return "", "", false
}
