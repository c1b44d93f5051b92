package migration

import "strings"

// Section markers inside a migration file. They are plain SQL comments,
// matched per line after trimming whitespace.
const (
	upMarker       = "-- UP MIGRATION"
	downMarker     = "-- DOWN MIGRATION"
	completeMarker = "-- MIGRATION COMPLETE"
)

// Parse splits a migration file's content into up and down SQL bodies and
// computes their checksums. A file with no recognizable markers treats its
// entire content as the up body and has an empty down body, which makes
// rollback unsupported for that version.
func Parse(content, version, name, filename, path string) Migration {
	up, down := splitSections(content)

	return Migration{
		Version:      version,
		Name:         name,
		Filename:     filename,
		FilePath:     path,
		UpSQL:        up,
		DownSQL:      down,
		UpChecksum:   ComputeChecksum(up),
		DownChecksum: ComputeChecksum(down),
	}
}

// splitSections locates the UP and DOWN markers and returns the trimmed
// bodies between them. The optional MIGRATION COMPLETE marker terminates
// whichever section it appears in.
func splitSections(content string) (up, down string) {
	lines := strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n")

	upStart := markerIndex(lines, upMarker)
	downStart := markerIndex(lines, downMarker)
	end := markerIndex(lines, completeMarker)

	if end < 0 {
		end = len(lines)
	}

	if upStart < 0 {
		// No UP marker: the whole file (minus a trailing DOWN section, if
		// someone wrote one without an UP marker) is the up body.
		if downStart < 0 {
			return strings.TrimSpace(strings.Join(lines[:end], "\n")), ""
		}

		up = strings.Join(lines[:downStart], "\n")
		down = strings.Join(lines[downStart+1:end], "\n")

		return strings.TrimSpace(up), strings.TrimSpace(down)
	}

	upEnd := end
	if downStart > upStart {
		upEnd = downStart
	}

	up = strings.Join(lines[upStart+1:upEnd], "\n")

	if downStart > upStart && downStart+1 <= end {
		down = strings.Join(lines[downStart+1:end], "\n")
	}

	return strings.TrimSpace(up), strings.TrimSpace(down)
}

// markerIndex returns the line index of the first line equal to marker
// (after trimming), or -1 if absent.
func markerIndex(lines []string, marker string) int {
	for i, line := range lines {
		if strings.EqualFold(strings.TrimSpace(line), marker) {
			return i
		}
	}

	return -1
}
