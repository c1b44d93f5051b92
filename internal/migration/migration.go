package migration

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Migration represents a single database migration loaded from disk.
type Migration struct {
	Version      string // "20250101_001" or legacy "001" — extracted from filename
	Name         string // "create_vaults" — extracted from filename
	Filename     string // filename only, no directory
	FilePath     string // full path to the .sql file
	UpSQL        string // forward body, extracted between section markers
	DownSQL      string // reverse body (empty if the file has no DOWN section)
	UpChecksum   string // SHA-256 hex digest of UpSQL
	DownChecksum string // SHA-256 hex digest of DownSQL
}

// HasDown reports whether this migration carries a rollback body.
func (m *Migration) HasDown() bool {
	return strings.TrimSpace(m.DownSQL) != ""
}

// ComputeChecksum returns the SHA-256 hex digest of the given SQL body.
// Line endings are normalized so checkouts on different platforms agree.
func ComputeChecksum(sql string) string {
	normalized := strings.ReplaceAll(sql, "\r\n", "\n")
	h := sha256.Sum256([]byte(strings.TrimSpace(normalized)))

	return hex.EncodeToString(h[:])
}
