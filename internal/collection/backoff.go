package collection

import "time"

// BackoffDelay returns the minimum wait before attempt number `attempt`
// (0-based) may run again: min(initial * 2^attempt, max). The doubling is
// overflow-safe for large attempt counts.
func BackoffDelay(attempt int, initial, max time.Duration) time.Duration {
	if initial <= 0 {
		return 0
	}
	if max > 0 && initial >= max {
		return max
	}
	delay := initial
	for i := 0; i < attempt; i++ {
		delay *= 2
		if max > 0 && delay >= max {
			return max
		}
		if delay <= 0 { // overflow
			return max
		}
	}
	return delay
}
