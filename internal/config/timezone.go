package config

import "time"

// enforceUTC pins the process-local timezone to UTC. All persisted timestamps
// and event-ordering comparisons assume UTC; a host-level TZ setting must not
// leak into time.Now() results.
func enforceUTC() {
	time.Local = time.UTC
}
