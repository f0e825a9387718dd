//go:build windows

package platform

import (
	"fmt"

	"golang.org/x/sys/windows"
)

const (
	imageFileMachineI386  = 0x014c
	imageFileMachineARMNT = 0x01c4
	imageFileMachineAMD64 = 0x8664
	imageFileMachineARM64 = 0xaa64
)

func nativeArch() (string, error) {
	var processMachine, nativeMachine uint16
	if err := windows.IsWow64Process2(windows.CurrentProcess(), &processMachine, &nativeMachine); err != nil {
		return "", err
	}
	switch nativeMachine {
	case imageFileMachineAMD64:
		return "x86_64", nil
	case imageFileMachineARM64:
		return "arm64", nil
	case imageFileMachineI386:
		return "x86", nil
	case imageFileMachineARMNT:
		return "armv7", nil
	default:
		return "", fmt.Errorf("unknown native machine 0x%04x", nativeMachine)
	}
}

func translated() bool {
	var processMachine, nativeMachine uint16
	if err := windows.IsWow64Process2(windows.CurrentProcess(), &processMachine, &nativeMachine); err != nil {
		return false
	}
	// IMAGE_FILE_MACHINE_UNKNOWN 表示不在 WOW64 下运行
	return processMachine != 0
}
