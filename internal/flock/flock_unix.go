//go:build unix

// Package flock takes advisory locks on files shared with other programs.
package flock

import (
	"os"

	"golang.org/x/sys/unix"
)

// Shared takes a shared lock on f, blocking until it is available.
func Shared(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_SH)
}

// Exclusive takes an exclusive lock on f, blocking until it is available.
func Exclusive(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_EX)
}

// Unlock releases any lock held on f.
func Unlock(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_UN)
}
