//go:build linux

package platform

import "golang.org/x/sys/unix"

func nativeArch() (string, error) {
	var u unix.Utsname
	if err := unix.Uname(&u); err != nil {
		return "", err
	}
	return unix.ByteSliceToString(u.Machine[:]), nil
}

func translated() bool { return false }
