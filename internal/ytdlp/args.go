package ytdlp

// Options describes a single yt-dlp invocation
type Options struct {
	URL string

	// Format is the -f selector expression
	Format string

	// Output is the -o target; "-" writes the payload to stdout
	Output string

	// ExtractAudio converts the download to AudioFormat at AudioQuality (0 = best)
	ExtractAudio bool
	AudioFormat  string
	AudioQuality string

	// MergeFormat sets --merge-output-format when separate streams are muxed
	MergeFormat string

	// Simulate performs a dry run without writing anything
	Simulate bool
}

// StdoutTarget is the output value that pipes the payload to stdout.
const StdoutTarget = "-"

// BuildArgs returns the argument list for opts.
// The URL is always placed after "--" so it can never be parsed as an option.
func BuildArgs(opts Options) []string {
	args := []string{
		"--no-playlist",
		"--newline",
		"--no-colors",
	}

	if opts.Simulate {
		args = append(args, "--simulate", "--no-warnings")
	} else {
		if opts.Output != "" {
			args = append(args, "-o", opts.Output)
		}
		if opts.Output == StdoutTarget {
			// Progress lines would otherwise share stderr with real diagnostics
			args = append(args, "--no-progress")
		}
	}

	if opts.Format != "" {
		args = append(args, "-f", opts.Format)
	}

	if opts.ExtractAudio && !opts.Simulate {
		args = append(args, "-x")
		if opts.AudioFormat != "" {
			args = append(args, "--audio-format", opts.AudioFormat)
		}
		if opts.AudioQuality != "" {
			args = append(args, "--audio-quality", opts.AudioQuality)
		}
	}

	if opts.MergeFormat != "" && !opts.Simulate {
		args = append(args, "--merge-output-format", opts.MergeFormat)
	}

	args = append(args, "--", opts.URL)
	return args
}

// WithSimulate returns a copy of opts configured for a dry run
func (o Options) WithSimulate() Options {
	o.Simulate = true
	o.Output = ""
	return o
}
