package domain

// OS 规范化的操作系统标识
type OS string

const (
	OSWindows OS = "windows"
	OSLinux   OS = "linux"
	OSMacOS   OS = "macos"
	OSAndroid OS = "android" // 仅用于设备端资产
)

// Arch 规范化的 CPU 架构标识
type Arch string

const (
	ArchX8664 Arch = "x86_64"
	ArchARM64 Arch = "arm64"
	ArchX86   Arch = "x86"
	ArchARMv7 Arch = "armv7"
)

// PlatformInfo 主机平台信息，每次运行只探测一次
type PlatformInfo struct {
	OS       OS   `json:"os"`
	Arch     Arch `json:"arch"`
	Emulated bool `json:"emulated,omitempty"` // 当前进程运行在转译层（Rosetta / WOW64 / x86 模拟）
}

// Key 平台键，例如 linux-x86_64
func (p PlatformInfo) Key() string {
	return string(p.OS) + "-" + string(p.Arch)
}

// Supported 系统与架构是否都在规范集合内
func (p PlatformInfo) Supported() bool {
	switch p.OS {
	case OSWindows, OSLinux, OSMacOS, OSAndroid:
	default:
		return false
	}
	_, ok := ParseArch(string(p.Arch))
	return ok
}

func (p PlatformInfo) Is64Bit() bool {
	return p.Arch == ArchX8664 || p.Arch == ArchARM64
}

// ParseArch 将常见别名规范化
func ParseArch(s string) (Arch, bool) {
	switch s {
	case "x86_64", "amd64", "x64":
		return ArchX8664, true
	case "arm64", "aarch64", "arm64-v8a":
		return ArchARM64, true
	case "x86", "386", "i386", "i686":
		return ArchX86, true
	case "armv7", "arm", "armv7l", "armv8l", "armeabi-v7a":
		return ArchARMv7, true
	default:
		return "", false
	}
}
