// Package exitcodes defines the exit codes used by resultgate.
package exitcodes

// * Success (0): every stage passed and the persisted manifest verified
// * Failure (1): any stage failed, including configuration and environment errors
const (
	Success = 0 // Overall pass
	Failure = 1 // Any stage failure
)
