package migration

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// ErrMigrationExists indicates a scaffold target filename is already taken.
var ErrMigrationExists = os.ErrExist

const scaffoldTemplate = `-- Migration: %s
-- Description: TODO describe this migration
-- UP MIGRATION

-- Add forward schema changes here.

-- DOWN MIGRATION

-- Add reverse schema changes here.

-- MIGRATION COMPLETE
`

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`) //nolint:gochecknoglobals // compiled once, used by Scaffold

// Scaffold writes a new timestamped migration file with template section
// markers into dir, creating the directory if needed. The version is the
// given date plus the next free sequence number for that date. Returns the
// path of the created file.
func Scaffold(dir, name string, now time.Time) (string, error) {
	slug := Slugify(name)
	if slug == "" {
		return "", fmt.Errorf("migration name %q produces an empty slug", name)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating migrations directory %s: %w", dir, err)
	}

	seq, err := nextSequence(dir, now)
	if err != nil {
		return "", err
	}

	version := fmt.Sprintf("%s_%03d", now.Format("20060102"), seq)
	path := filepath.Join(dir, version+"_"+slug+".sql")

	if _, err := os.Stat(path); err == nil {
		return "", fmt.Errorf("migration file %s: %w", path, ErrMigrationExists)
	}

	content := fmt.Sprintf(scaffoldTemplate, slug)

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil { //nolint:gosec // migration files are not secrets
		return "", fmt.Errorf("writing migration file %s: %w", path, err)
	}

	return path, nil
}

// Slugify converts a human-readable migration name into a filesystem-safe
// lowercase underscore slug.
func Slugify(name string) string {
	slug := slugPattern.ReplaceAllString(strings.ToLower(name), "_")

	return strings.Trim(slug, "_")
}

// nextSequence returns one past the highest sequence number already used by
// files carrying the given date prefix.
func nextSequence(dir string, now time.Time) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("reading migrations directory %s: %w", dir, err)
	}

	prefix := now.Format("20060102") + "_"
	highest := 0

	for _, entry := range entries {
		m := filenamePattern.FindStringSubmatch(entry.Name())
		if m == nil || !strings.HasPrefix(m[1], prefix) {
			continue
		}

		var seq int
		if _, err := fmt.Sscanf(strings.TrimPrefix(m[1], prefix), "%d", &seq); err != nil {
			continue
		}

		if seq > highest {
			highest = seq
		}
	}

	return highest + 1, nil
}
