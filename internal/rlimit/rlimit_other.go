//go:build !unix

package rlimit

import "math"

// Raise is a no-op where RLIMIT_NOFILE does not exist.
func Raise() (soft, hard uint64, err error) {
	return math.MaxInt32, math.MaxInt32, nil
}
