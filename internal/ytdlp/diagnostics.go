package ytdlp

import "strings"

// Severity of a yt-dlp stderr line
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
)

// ClassifyLine reports the severity of one stderr line.
// yt-dlp prefixes problems with "ERROR:" and "WARNING:".
func ClassifyLine(line string) Severity {
	trimmed := strings.TrimSpace(line)
	switch {
	case strings.HasPrefix(trimmed, "ERROR:"):
		return SeverityError
	case strings.HasPrefix(trimmed, "WARNING:"):
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

// LastLines returns at most n trailing non-empty lines of text joined by " | "
func LastLines(text string, n int) string {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	kept := lines[:0]
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			kept = append(kept, strings.TrimSpace(l))
		}
	}
	if len(kept) > n {
		kept = kept[len(kept)-n:]
	}
	return strings.Join(kept, " | ")
}
