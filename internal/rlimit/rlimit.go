//go:build unix

// Package rlimit raises the open-file limit before a large fan-out.
package rlimit

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Raise lifts the RLIMIT_NOFILE soft limit to the hard limit and returns
// the limits now in effect. A kernel that refuses the hard limit as a soft
// value (macOS with an unlimited hard limit) leaves the soft limit as it
// was; the caller sees it through the returned values.
func Raise() (soft, hard uint64, err error) {
	return raise(unix.Getrlimit, unix.Setrlimit)
}

type rlimitFunc func(resource int, rlim *unix.Rlimit) error

func raise(get, set rlimitFunc) (soft, hard uint64, err error) {
	var lim unix.Rlimit
	if err := get(unix.RLIMIT_NOFILE, &lim); err != nil {
		return 0, 0, errors.Wrap(err, "getrlimit")
	}
	if lim.Cur < lim.Max {
		want := lim
		want.Cur = want.Max
		if err := set(unix.RLIMIT_NOFILE, &want); err != nil && !errors.Is(err, unix.EINVAL) {
			return uint64(lim.Cur), uint64(lim.Max), errors.Wrap(err, "setrlimit")
		}
	}
	if err := get(unix.RLIMIT_NOFILE, &lim); err != nil {
		return 0, 0, errors.Wrap(err, "getrlimit")
	}
	return uint64(lim.Cur), uint64(lim.Max), nil
}
