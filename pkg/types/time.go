package types

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// FarcasterEpoch is the network epoch (2021-01-01T00:00:00Z) in unix milliseconds.
const FarcasterEpoch int64 = 1609459200000

var ErrInvalidFarcasterTime = errors.New("invalid farcaster time")

// ToFarcasterTime converts a wall-clock time to seconds since the network epoch.
func ToFarcasterTime(t time.Time) (uint32, error) {
	ms := t.UnixMilli()
	if ms < FarcasterEpoch {
		return 0, fmt.Errorf("%w: %s is before the farcaster epoch", ErrInvalidFarcasterTime, t.UTC())
	}
	secs := (ms - FarcasterEpoch) / 1000
	if secs > math.MaxUint32 {
		return 0, fmt.Errorf("%w: %s overflows uint32 seconds", ErrInvalidFarcasterTime, t.UTC())
	}
	return uint32(secs), nil
}

// FromFarcasterTime converts farcaster seconds back to wall-clock time.
func FromFarcasterTime(ts uint32) time.Time {
	return time.UnixMilli(FarcasterEpoch + int64(ts)*1000).UTC()
}

// UnixToFarcasterTime converts a unix timestamp in seconds (as carried by
// block headers) to farcaster seconds. Timestamps before the epoch clamp to 0.
func UnixToFarcasterTime(unix uint64) uint32 {
	epoch := uint64(FarcasterEpoch / 1000)
	if unix <= epoch {
		return 0
	}
	d := unix - epoch
	if d > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(d)
}
