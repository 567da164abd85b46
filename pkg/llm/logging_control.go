package llm

import "sync/atomic"

var verboseLogging atomic.Bool

// SetVerboseLogging toggles whether rendered prompts and raw responses are logged.
func SetVerboseLogging(enabled bool) {
	verboseLogging.Store(enabled)
}

// VerboseLogging reports the current setting.
func VerboseLogging() bool {
	return verboseLogging.Load()
}
