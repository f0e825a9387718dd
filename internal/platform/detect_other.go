//go:build !linux && !darwin && !windows

package platform

func nativeArch() (string, error) { return "", nil }

func translated() bool { return false }
