// Package upload holds the naming rules for uploaded surveillance videos:
// extension checks, storage-safe filenames, derived artifact names and the
// optional ROOM_DD-MM-YY_HH-MM filename convention.
package upload

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// DefaultZone is appended to parsed capture times.
const DefaultZone = "WIB"

var months = [...]string{
	"January", "February", "March", "April", "May", "June",
	"July", "August", "September", "October", "November", "December",
}

// Metadata is the room/date/time information carried by a conventional filename.
type Metadata struct {
	Room string `json:"room"`
	Date string `json:"date"`
	Time string `json:"time"`
}

// AllowedFile reports whether name has one of the allowed extensions.
func AllowedFile(name string, allowed []string) bool {
	idx := strings.LastIndex(name, ".")
	if idx < 0 {
		return false
	}
	ext := strings.ToLower(name[idx+1:])
	for _, a := range allowed {
		if ext == strings.ToLower(a) {
			return true
		}
	}
	return false
}

// SecureFilename reduces a client supplied filename to a flat ASCII name that is
// safe to join onto a storage directory. It can return an empty string.
func SecureFilename(name string) string {
	name = norm.NFKD.String(name)

	var b strings.Builder
	for _, r := range name {
		if r > unicode.MaxASCII {
			continue
		}
		if r == '/' || r == '\\' {
			r = ' '
		}
		b.WriteRune(r)
	}
	name = strings.Join(strings.Fields(b.String()), "_")

	b.Reset()
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '_', r == '.', r == '-':
			b.WriteRune(r)
		}
	}
	return strings.Trim(b.String(), "._")
}

// Stem returns name without its final extension.
func Stem(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// ResultName is the filename of the annotated, browser playable output video.
func ResultName(name string) string {
	return "result_" + name
}

// EvidenceName is the filename of the evidence screenshot for a positive verdict.
func EvidenceName(name string) string {
	return fmt.Sprintf("violence_frame_%s.jpg", Stem(name))
}

// ParseMetadata parses ROOM_DD-MM-YY_HH-MM.ext, e.g. D404_11-06-25_11-00.mp4 ->
// room D404, date "11 June 2025", time "11:00 WIB". ok is false when the name does
// not follow the convention.
func ParseMetadata(name, zone string) (Metadata, bool) {
	stem := name
	if idx := strings.LastIndex(name, "."); idx >= 0 {
		stem = name[:idx]
	}

	parts := strings.Split(stem, "_")
	if len(parts) != 3 {
		return Metadata{}, false
	}
	room, dateStr, timeStr := parts[0], parts[1], parts[2]
	if room == "" {
		return Metadata{}, false
	}

	dateParts := strings.Split(dateStr, "-")
	if len(dateParts) != 3 {
		return Metadata{}, false
	}
	day, err := strconv.Atoi(dateParts[0])
	if err != nil {
		return Metadata{}, false
	}
	month, err := strconv.Atoi(dateParts[1])
	if err != nil || month < 1 || month > 12 {
		return Metadata{}, false
	}
	year := dateParts[2]
	if _, err := strconv.Atoi(year); err != nil {
		return Metadata{}, false
	}
	if len(year) == 2 {
		year = "20" + year
	}

	timeParts := strings.Split(timeStr, "-")
	if len(timeParts) != 2 || timeParts[0] == "" || timeParts[1] == "" {
		return Metadata{}, false
	}

	if zone == "" {
		zone = DefaultZone
	}
	return Metadata{
		Room: room,
		Date: fmt.Sprintf("%d %s %s", day, months[month-1], year),
		Time: fmt.Sprintf("%s:%s %s", timeParts[0], timeParts[1], zone),
	}, true
}
