package outbox

import (
	"math/rand"
	"time"
	"unicode/utf8"
)

// retryDelay is the wait before the next attempt of a failed message:
// exponential from one second, capped at maxDelay, plus optional jitter.
func retryDelay(attempts int, maxDelay time.Duration, r *rand.Rand, maxJitter time.Duration) time.Duration {
	return backoff(attempts, maxDelay) + jitter(r, maxJitter)
}

func backoff(attempts int, maxDelay time.Duration) time.Duration {
	switch {
	case attempts <= 0:
		return 0
	case attempts > 32:
		return maxDelay
	}
	if d := time.Second << (attempts - 1); d < maxDelay {
		return d
	}
	return maxDelay
}

func jitter(r *rand.Rand, maxJitter time.Duration) time.Duration {
	if r == nil || maxJitter <= 0 {
		return 0
	}
	return time.Duration(r.Int63n(int64(maxJitter) + 1)) //nolint:gosec
}

// truncateError keeps last_error within maxBytes on a rune boundary.
func truncateError(err error, maxBytes int) string {
	if err == nil || maxBytes <= 0 {
		return ""
	}
	msg := err.Error()
	if len(msg) <= maxBytes {
		return msg
	}
	cut := maxBytes
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}
