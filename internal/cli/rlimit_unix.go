//go:build linux || darwin

package cli

import (
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// fileLimitMultiplier is how many descriptors are reserved per connection
// when the soft limit has to be raised.
const fileLimitMultiplier = 2

// raiseFileLimit lifts RLIMIT_NOFILE when the soft limit is below the
// concurrency level. The new limit is capped at the hard limit.
func raiseFileLimit(concurrency int, logger *zap.Logger) {
	var lim unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &lim); err != nil {
		logger.Warn("Failed to read open file limit", zap.Error(err))
		return
	}

	want := uint64(concurrency)
	if lim.Cur >= want {
		return
	}

	target := lim.Cur + want*fileLimitMultiplier
	if target > lim.Max {
		target = lim.Max
	}

	next := unix.Rlimit{Cur: target, Max: lim.Max}
	if err := unix.Setrlimit(unix.RLIMIT_NOFILE, &next); err != nil {
		logger.Warn("Failed to raise open file limit",
			zap.Uint64("current", lim.Cur),
			zap.Uint64("wanted", target),
			zap.Error(err))
		return
	}

	logger.Debug("Raised open file limit", zap.Uint64("from", lim.Cur), zap.Uint64("to", target))
}
