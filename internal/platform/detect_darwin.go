//go:build darwin

package platform

import "golang.org/x/sys/unix"

// nativeArch Rosetta 下 uname 报告 x86_64，需要查询 hw.optional.arm64
func nativeArch() (string, error) {
	if v, err := unix.SysctlUint32("hw.optional.arm64"); err == nil && v == 1 {
		return "arm64", nil
	}
	var u unix.Utsname
	if err := unix.Uname(&u); err != nil {
		return "", err
	}
	return unix.ByteSliceToString(u.Machine[:]), nil
}

func translated() bool {
	v, err := unix.SysctlUint32("sysctl.proc_translated")
	return err == nil && v == 1
}
