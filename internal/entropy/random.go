// Package entropy derives run seeds when the caller does not supply one.
// Seeds mix the wall clock with crypto/rand so that runs started in the same
// nanosecond on different hosts still diverge.
package entropy

import (
	"crypto/rand"
	"encoding/binary"
	"log/slog"
	"time"
)

// Source produces raw entropy. crypto/rand.Read satisfies it.
type Source func(b []byte) (int, error)

// Seed returns a fresh non-negative seed using crypto/rand and the current time.
func Seed() int64 {
	return SeedFrom(rand.Read, time.Now())
}

// SeedFrom mixes eight bytes from src with now. When src fails the clock is
// used on its own.
func SeedFrom(src Source, now time.Time) int64 {
	clock := uint64(now.UnixNano())
	var buf [8]byte
	if _, err := src(buf[:]); err != nil {
		slog.Warn("entropy source failed, seeding from clock", "error", err)
		return positive(mix(clock))
	}
	return positive(mix(clock ^ binary.LittleEndian.Uint64(buf[:])))
}

// mix is the splitmix64 finalizer.
func mix(x uint64) uint64 {
	x ^= x >> 30
	x *= 0xbf58476d1ce4e5b9
	x ^= x >> 27
	x *= 0x94d049bb133111eb
	x ^= x >> 31
	return x
}

func positive(x uint64) int64 {
	return int64(x >> 1)
}
