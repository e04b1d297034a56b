package relay

import (
	"encoding/json"
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/gwlsn/fetchray/internal/ytdlp"
)

func decodeRaw(t *testing.T, body string) RawRequest {
	t.Helper()
	var req RawRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		t.Fatalf("decode %s: %v", body, err)
	}
	return req
}

func TestNormalizeInvalidURL(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing", `{"mode":"video"}`},
		{"null", `{"url":null}`},
		{"empty", `{"url":""}`},
		{"blank", `{"url":"   "}`},
		{"number", `{"url":42}`},
		{"object", `{"url":{"href":"x"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Normalize(decodeRaw(t, tt.body), SinkBuffered)
			var relayErr *Error
			if !errors.As(err, &relayErr) {
				t.Fatalf("expected *Error, got %v", err)
			}
			if relayErr.Kind != KindInvalidRequest {
				t.Errorf("expected InvalidRequest, got %s", relayErr.Kind)
			}
		})
	}
}

func TestNormalizeDefaults(t *testing.T) {
	spec, err := Normalize(decodeRaw(t, `{"url":" https://valid.example/video "}`), SinkStreamed)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if spec.SourceURL != "https://valid.example/video" {
		t.Errorf("url should be trimmed, got %q", spec.SourceURL)
	}
	if spec.MediaKind != MediaVideo {
		t.Errorf("default mode should be video, got %s", spec.MediaKind)
	}
	if !spec.Quality.Auto() {
		t.Errorf("default quality should be auto, got %s", spec.Quality)
	}
	if spec.Sink != SinkStreamed {
		t.Errorf("expected default sink streamed, got %s", spec.Sink)
	}
	if spec.Extension != ".mp4" || spec.ContentType() != "video/mp4" {
		t.Errorf("unexpected video container %s %s", spec.Extension, spec.ContentType())
	}
}

func TestNormalizeAudioForcesBuffered(t *testing.T) {
	spec, err := Normalize(decodeRaw(t, `{"url":"u","mode":"AUDIO","quality":"1080p","delivery":"stream"}`), SinkStreamed)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if spec.MediaKind != MediaAudio {
		t.Fatalf("expected audio, got %s", spec.MediaKind)
	}
	if spec.Sink != SinkBuffered {
		t.Errorf("audio must be buffered, got %s", spec.Sink)
	}
	if spec.Extension != ".mp3" || spec.ContentType() != "audio/mpeg" {
		t.Errorf("unexpected audio container %s %s", spec.Extension, spec.ContentType())
	}
	if spec.FormatSelector() != "ba/b" {
		t.Errorf("unexpected audio selector %q", spec.FormatSelector())
	}
}

func TestNormalizeMediaKindAliasAndDelivery(t *testing.T) {
	spec, err := Normalize(decodeRaw(t, `{"url":"u","mediaKind":"video","quality":720,"delivery":"buffer"}`), SinkStreamed)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if spec.Sink != SinkBuffered {
		t.Errorf("delivery override ignored, got %s", spec.Sink)
	}
	if spec.Quality.Height != 720 {
		t.Errorf("numeric quality should parse, got %d", spec.Quality.Height)
	}

	spec, _ = Normalize(decodeRaw(t, `{"url":"u","mode":"karaoke","delivery":"carrier-pigeon"}`), "")
	if spec.MediaKind != MediaVideo || spec.Sink != SinkBuffered {
		t.Errorf("unknown values should fall back, got %s/%s", spec.MediaKind, spec.Sink)
	}
}

func TestParseQuality(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"auto", 0},
		{"best", 0},
		{"", 0},
		{"1080p", 1080},
		{"2160P", 2160},
		{"4k", 2160},
		{"720", 720},
		{"900p", 900},
		{"555", 555},
		{"0", 0},
		{"-480", 0},
		{"hd", 0},
		{"99999", 0},
		{"1080.5", 0},
	}
	for _, tt := range tests {
		if got := ParseQuality(tt.in); got.Height != tt.want {
			t.Errorf("ParseQuality(%q) = %d, want %d", tt.in, got.Height, tt.want)
		}
	}
}

func TestFormatSelector(t *testing.T) {
	tests := []struct {
		spec JobSpec
		want string
	}{
		{JobSpec{MediaKind: MediaAudio}, "ba/b"},
		{JobSpec{MediaKind: MediaAudio, Quality: Quality{Height: 720}}, "ba/b"},
		{JobSpec{MediaKind: MediaVideo}, "bv*+ba/b"},
		{JobSpec{MediaKind: MediaVideo, Quality: Quality{Height: 1080}}, "bestvideo[height<=1080]+bestaudio/best"},
		{JobSpec{MediaKind: MediaVideo, Sink: SinkStreamed}, "bv*[ext=mp4]+ba[ext=m4a]/b[ext=mp4]/bv*+ba"},
		{JobSpec{MediaKind: MediaVideo, Sink: SinkStreamed, Quality: Quality{Height: 720}},
			"bv*[height<=720][ext=mp4]+ba[ext=m4a]/b[height<=720][ext=mp4]/bv*[height<=720]+ba"},
		{JobSpec{MediaKind: MediaAudio, Sink: SinkStreamed}, "ba/b"},
	}
	for _, tt := range tests {
		if got := tt.spec.FormatSelector(); got != tt.want {
			t.Errorf("FormatSelector(%+v) = %q, want %q", tt.spec, got, tt.want)
		}
	}
}

func TestToolOptions(t *testing.T) {
	audio := audioSpec().toolOptions("/tmp/j/media.mp3")
	if !audio.ExtractAudio || audio.AudioFormat != "mp3" || audio.AudioQuality != "0" {
		t.Errorf("audio should request mp3 extraction, got %+v", audio)
	}

	buffered := videoSpec(SinkBuffered).toolOptions("/tmp/j/media.mp4")
	if buffered.MergeFormat != "mp4" {
		t.Errorf("buffered video should merge to mp4, got %+v", buffered)
	}

	streamed := videoSpec(SinkStreamed).toolOptions(ytdlp.StdoutTarget)
	if streamed.MergeFormat != "mp4" || streamed.ExtractAudio {
		t.Errorf("streamed video should merge to mp4, got %+v", streamed)
	}
	if strings.HasSuffix(streamed.Format, "/b") || strings.HasSuffix(streamed.Format, "/best") {
		t.Errorf("streamed selector must not end in an unconstrained fallback, got %q", streamed.Format)
	}
	args := ytdlp.BuildArgs(streamed)
	if !slices.Contains(args, "--no-playlist") {
		t.Errorf("playlist expansion must be suppressed, got %v", args)
	}
	if i := slices.Index(args, "--merge-output-format"); i < 0 || args[i+1] != "mp4" {
		t.Errorf("streamed video must pin the mp4 container, got %v", args)
	}
}

func TestParseSinkKind(t *testing.T) {
	for _, s := range []string{"streamed", "STREAM"} {
		if k, ok := ParseSinkKind(s); !ok || k != SinkStreamed {
			t.Errorf("ParseSinkKind(%q) = %s, %v", s, k, ok)
		}
	}
	for _, s := range []string{"buffered", "file"} {
		if k, ok := ParseSinkKind(s); !ok || k != SinkBuffered {
			t.Errorf("ParseSinkKind(%q) = %s, %v", s, k, ok)
		}
	}
	if _, ok := ParseSinkKind("carrier-pigeon"); ok {
		t.Error("unknown delivery should not parse")
	}
}
