package relay

import (
	"regexp"
	"strings"

	"github.com/gwlsn/fetchray/internal/ytdlp"
)

// rule maps diagnostic substrings to a failure category.
// Patterns are lowercase; the first matching rule wins.
type rule struct {
	kind     Kind
	reason   string
	message  string
	patterns []string
}

var rules = []rule{
	{
		kind:    KindAuthenticationRequired,
		reason:  "bot_check",
		message: "The source asked for a human verification check, so the server can't fetch it. Try the desktop client or a different video.",
		patterns: []string{
			"sign in to confirm you're not a bot",
			"confirm you're not a robot",
			"captcha",
			"100.0% of this video has been cut off",
		},
	},
	{
		kind:    KindLicenseRestricted,
		reason:  "copyright",
		message: "This content is blocked for copyright or licensing reasons. Try a different source.",
		patterns: []string{
			"copyright",
			"blocked it on copyright grounds",
			"due to a copyright claim",
			"license",
			"drm protected",
		},
	},
	{
		kind:    KindLicenseRestricted,
		reason:  "geo_restricted",
		message: "This content isn't available from the server's region. Try a different source.",
		patterns: []string{
			"not available in your country",
			"geo restriction",
			"geo-restricted",
		},
	},
	{
		kind:    KindAuthenticationRequired,
		reason:  "login_required",
		message: "This content requires signing in (age, membership or private). Try the desktop client with your own account.",
		patterns: []string{
			"sign in to confirm your age",
			"age-restricted",
			"members-only",
			"private video",
			"login required",
			"login",
			"cookies",
		},
	},
}

const genericMessage = "Something went wrong while fetching the media. Try again in a moment or use a different video."

var urlPattern = regexp.MustCompile(`(?i)\b[a-z][a-z0-9+.-]*://\S+`)

// matchText returns the lowercased text rules are matched against: only the
// ERROR and WARNING lines, with URLs removed so a source URL such as
// https://site/login never trips a pattern. Text without any such line is
// matched whole.
func matchText(diagnostic string) string {
	var b strings.Builder
	for line := range strings.SplitSeq(diagnostic, "\n") {
		if ytdlp.ClassifyLine(line) == ytdlp.SeverityInfo {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	text := b.String()
	if text == "" {
		text = diagnostic
	}
	text = urlPattern.ReplaceAllString(text, " ")
	text = strings.ToLower(text)
	return strings.ReplaceAll(text, "’", "'")
}

// Classify maps yt-dlp diagnostic text to a failure. It is a pure function:
// the same text always yields the same result. Unmatched text classifies as
// ExtractionFailed.
func Classify(diagnostic string) *Error {
	text := matchText(diagnostic)
	for _, r := range rules {
		for _, p := range r.patterns {
			if strings.Contains(text, p) {
				return &Error{Kind: r.kind, Reason: r.reason, Message: r.message, Detail: diagnostic}
			}
		}
	}
	return &Error{Kind: KindExtractionFailed, Reason: "extraction_failed", Message: genericMessage, Detail: diagnostic}
}
