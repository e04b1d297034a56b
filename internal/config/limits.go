package config

// Concurrent extraction limits
const (
	MinConcurrentJobs = 1
	MaxConcurrentJobs = 32
)

// ClampConcurrentJobs ensures the job limit is within valid bounds.
// Zero selects the default.
func ClampConcurrentJobs(n int) int {
	if n == 0 {
		return DefaultConfig().MaxConcurrentJobs
	}
	if n < MinConcurrentJobs {
		return MinConcurrentJobs
	}
	if n > MaxConcurrentJobs {
		return MaxConcurrentJobs
	}
	return n
}
