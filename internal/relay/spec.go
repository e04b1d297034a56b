package relay

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/gwlsn/fetchray/internal/ytdlp"
)

// MediaKind selects audio-only or video output
type MediaKind string

const (
	MediaAudio MediaKind = "audio"
	MediaVideo MediaKind = "video"
)

// SinkKind is the delivery strategy for a job
type SinkKind string

const (
	// SinkStreamed pipes yt-dlp stdout straight into the response
	SinkStreamed SinkKind = "streamed"
	// SinkBuffered materializes the download in a transient file first
	SinkBuffered SinkKind = "buffered"
)

// ParseSinkKind maps config and request spellings to a SinkKind.
// ok is false for unrecognized values.
func ParseSinkKind(s string) (kind SinkKind, ok bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "streamed", "stream":
		return SinkStreamed, true
	case "buffered", "buffer", "file":
		return SinkBuffered, true
	}
	return "", false
}

// standardHeights maps resolution tokens to a height ceiling
var standardHeights = map[string]int{
	"144p":  144,
	"240p":  240,
	"360p":  360,
	"480p":  480,
	"720p":  720,
	"1080p": 1080,
	"1440p": 1440,
	"2160p": 2160,
	"4320p": 4320,
	"2k":    1440,
	"4k":    2160,
	"8k":    4320,
}

// maxHeight bounds literal heights so the selector stays sane
const maxHeight = 8640

// Quality is a vertical resolution ceiling. Zero means auto.
type Quality struct {
	Height int
}

// Auto reports whether no ceiling applies
func (q Quality) Auto() bool {
	return q.Height == 0
}

func (q Quality) String() string {
	if q.Auto() {
		return "auto"
	}
	return fmt.Sprintf("%dp", q.Height)
}

// ParseQuality maps a quality string to a ceiling. Standard tokens map to
// their height, any other positive integer is taken literally, and
// everything else (including "auto" and "best") falls back to auto.
func ParseQuality(s string) Quality {
	s = strings.ToLower(strings.TrimSpace(s))
	if h, ok := standardHeights[s]; ok {
		return Quality{Height: h}
	}
	n, err := strconv.Atoi(strings.TrimSuffix(s, "p"))
	if err != nil || n <= 0 || n > maxHeight {
		return Quality{}
	}
	return Quality{Height: n}
}

// JobSpec is the immutable description of one extraction
type JobSpec struct {
	SourceURL string
	MediaKind MediaKind
	Quality   Quality
	Sink      SinkKind
	Extension string
}

// FormatSelector returns the yt-dlp -f expression for the job. Streamed
// video never falls back to a non-mp4 single file: the response headers
// are committed as video/mp4 before the first byte arrives.
func (s JobSpec) FormatSelector() string {
	if s.MediaKind == MediaAudio {
		return "ba/b"
	}
	if s.Sink == SinkStreamed {
		h := ""
		if !s.Quality.Auto() {
			h = fmt.Sprintf("[height<=%d]", s.Quality.Height)
		}
		return fmt.Sprintf("bv*%[1]s[ext=mp4]+ba[ext=m4a]/b%[1]s[ext=mp4]/bv*%[1]s+ba", h)
	}
	if s.Quality.Auto() {
		return "bv*+ba/b"
	}
	return fmt.Sprintf("bestvideo[height<=%d]+bestaudio/best", s.Quality.Height)
}

// ContentType returns the response media type
func (s JobSpec) ContentType() string {
	if s.MediaKind == MediaAudio {
		return "audio/mpeg"
	}
	return "video/mp4"
}

// toolOptions builds yt-dlp options writing to output
func (s JobSpec) toolOptions(output string) ytdlp.Options {
	opts := ytdlp.Options{
		URL:    s.SourceURL,
		Format: s.FormatSelector(),
		Output: output,
	}
	if s.MediaKind == MediaAudio {
		opts.ExtractAudio = true
		opts.AudioFormat = "mp3"
		opts.AudioQuality = "0"
	} else {
		opts.MergeFormat = "mp4"
	}
	return opts
}

// RawRequest is the inbound JSON body before validation
type RawRequest struct {
	URL       json.RawMessage `json:"url"`
	Mode      string          `json:"mode"`
	MediaKind string          `json:"mediaKind"`
	Quality   json.RawMessage `json:"quality"`
	Delivery  string          `json:"delivery"`
}

// Normalize validates req and derives a JobSpec. It performs no I/O.
// Audio jobs always use the buffered sink since audio conversion needs a file.
func Normalize(req RawRequest, defaultSink SinkKind) (JobSpec, error) {
	url, err := decodeURL(req.URL)
	if err != nil {
		return JobSpec{}, err
	}

	kind := MediaVideo
	mode := req.Mode
	if mode == "" {
		mode = req.MediaKind
	}
	if strings.EqualFold(strings.TrimSpace(mode), string(MediaAudio)) {
		kind = MediaAudio
	}

	sink := defaultSink
	if sink == "" {
		sink = SinkBuffered
	}
	if override, ok := ParseSinkKind(req.Delivery); ok {
		sink = override
	}

	spec := JobSpec{
		SourceURL: url,
		MediaKind: kind,
		Quality:   ParseQuality(decodeQuality(req.Quality)),
		Sink:      sink,
		Extension: ".mp4",
	}
	if kind == MediaAudio {
		spec.Sink = SinkBuffered
		spec.Extension = ".mp3"
		// Audio always takes the best audio stream
		spec.Quality = Quality{}
	}
	return spec, nil
}

func decodeURL(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", invalidRequest("url is required")
	}
	var url string
	if err := json.Unmarshal(raw, &url); err != nil {
		return "", invalidRequest("url must be a string")
	}
	url = strings.TrimSpace(url)
	if url == "" {
		return "", invalidRequest("url is empty")
	}
	return url, nil
}

// decodeQuality accepts a JSON string or number; anything else yields ""
func decodeQuality(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}
