//go:build linux || darwin

package environment

import (
	"golang.org/x/sys/unix"
)

// applyUname fills the kernel release and machine architecture.
func applyUname(snap *Snapshot) {
	var u unix.Utsname
	if err := unix.Uname(&u); err != nil {
		return
	}
	snap.SystemVersion = unix.ByteSliceToString(u.Release[:])
	if snap.HardwareModel == "" {
		snap.HardwareModel = unix.ByteSliceToString(u.Machine[:])
	}
}
