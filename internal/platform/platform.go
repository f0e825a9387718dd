// Package platform 探测主机的真实操作系统与 CPU 架构，并映射为各工具的资产命名令牌。
package platform

import (
	"fmt"
	"runtime"

	"github.com/apk-analysis/toolsetup/internal/domain"
)

// Detect 探测当前主机平台
// 优先读取内核 / 系统报告的原生架构，转译层（Rosetta、WOW64）下的进程也能拿到真实 CPU；
// 探测失败时回退到编译目标架构。无法识别的系统或架构原样保留，由需要平台资产的组件各自报错。
func Detect() domain.PlatformInfo {
	native, err := nativeArch()
	if err != nil {
		native = ""
	}
	return detect(runtime.GOOS, runtime.GOARCH, native, translated())
}

func detect(goos, goarch, native string, translated bool) domain.PlatformInfo {
	info := domain.PlatformInfo{OS: hostOS(goos)}

	buildArch, buildKnown := domain.ParseArch(goarch)
	if native == "" {
		info.Arch = buildArch
		if !buildKnown {
			info.Arch = domain.Arch(goarch)
		}
		return info
	}

	arch, ok := domain.ParseArch(native)
	if !ok {
		info.Arch = domain.Arch(native)
		return info
	}
	info.Arch = arch
	info.Emulated = (buildKnown && arch != buildArch) || translated
	return info
}

func hostOS(goos string) domain.OS {
	switch goos {
	case "windows":
		return domain.OSWindows
	case "linux":
		return domain.OSLinux
	case "darwin":
		return domain.OSMacOS
	default:
		return domain.OS(goos)
	}
}

// TargetFor 组件资产的目标平台：设备端组件使用设备架构，其余使用主机平台
func TargetFor(comp *domain.Component, host domain.PlatformInfo, deviceArch domain.Arch) domain.PlatformInfo {
	if comp.DeviceSide {
		return domain.PlatformInfo{OS: domain.OSAndroid, Arch: deviceArch}
	}
	return host
}

// Tokens 将平台映射为组件资产名中的 {{os}} / {{arch}} 令牌
// python 包和平台无关的资产返回空令牌；平台无法识别或映射表缺少当前平台时返回 UnsupportedPlatformError。
func Tokens(comp *domain.Component, info domain.PlatformInfo) (string, string, error) {
	if !comp.Kind.IsBinary() || !comp.Source.UsesPlatformTokens() {
		return "", "", nil
	}
	if !info.Supported() {
		return "", "", &domain.UnsupportedPlatformError{Component: comp.ID, Platform: info.Key()}
	}

	osToken, ok := lookup(comp.Source.OSTokens, string(info.OS))
	if !ok {
		return "", "", &domain.UnsupportedPlatformError{Component: comp.ID, Platform: info.Key()}
	}
	archToken, ok := lookup(comp.Source.ArchTokens, string(info.Arch))
	if !ok {
		return "", "", &domain.UnsupportedPlatformError{Component: comp.ID, Platform: info.Key()}
	}
	return osToken, archToken, nil
}

// lookup 映射表为空时直接使用规范名
func lookup(table map[string]string, key string) (string, bool) {
	if table == nil {
		return key, true
	}
	v, ok := table[key]
	return v, ok
}

// Describe 用于日志的人类可读描述
func Describe(info domain.PlatformInfo) string {
	if !info.Supported() {
		return fmt.Sprintf("%s (unsupported)", info.Key())
	}
	if info.Emulated {
		return fmt.Sprintf("%s (emulated process)", info.Key())
	}
	return info.Key()
}
