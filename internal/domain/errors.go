package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorKind 失败类型，写入安装记录
type ErrorKind string

const (
	ErrorKindNone                ErrorKind = ""
	ErrorKindConfiguration       ErrorKind = "configuration"        // 预设或覆盖项错误（整个运行失败）
	ErrorKindUnsupportedPlatform ErrorKind = "unsupported_platform" // 当前平台没有资产映射
	ErrorKindAssetNotFound       ErrorKind = "asset_not_found"      // 没有匹配平台和版本的资产
	ErrorKindDownload            ErrorKind = "download"             // 网络错误
	ErrorKindIntegrity           ErrorKind = "integrity"            // 校验和或大小不一致
	ErrorKindVersionMismatch     ErrorKind = "version_mismatch"     // 成对工具版本无法对齐，或版本不满足约束
	ErrorKindFilesystem          ErrorKind = "filesystem"           // 权限、空间等文件系统错误
	ErrorKindCanceled            ErrorKind = "canceled"
	ErrorKindUnknown             ErrorKind = "unknown"
)

// GetMaxAttempts 获取失败类型对应的最大尝试次数
// 返回 0 表示使用重试配置中的次数
func (k ErrorKind) GetMaxAttempts() int {
	switch k {
	case ErrorKindAssetNotFound, ErrorKindDownload:
		return 0
	case ErrorKindIntegrity:
		return 2 // 损坏的下载只允许一次全新的重试
	default:
		return 1
	}
}

// ConfigurationError 预设未知或覆盖项引用了未知组件
type ConfigurationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s %q: %s", e.Field, e.Value, e.Reason)
}

func (e *ConfigurationError) IsRetryable() bool { return false }

// UnsupportedPlatformError 检测到的平台组合没有资产映射
type UnsupportedPlatformError struct {
	Component string
	Platform  string
}

func (e *UnsupportedPlatformError) Error() string {
	return fmt.Sprintf("%s: no asset mapping for platform %s", e.Component, e.Platform)
}

func (e *UnsupportedPlatformError) IsRetryable() bool { return false }

// AssetNotFoundError 没有匹配平台和版本的资产；Transient 表示由限流或网络导致，可重试
type AssetNotFoundError struct {
	Component string
	Platform  string
	Version   string
	Transient bool
	Err       error
}

func (e *AssetNotFoundError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: no asset for platform %s", e.Component, e.Platform)
	if e.Version != "" {
		fmt.Fprintf(&b, " version %s", e.Version)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *AssetNotFoundError) Unwrap() error     { return e.Err }
func (e *AssetNotFoundError) IsRetryable() bool { return e.Transient }

// DownloadError 下载失败
type DownloadError struct {
	URL        string
	StatusCode int
	Transient  bool
	Err        error
}

func (e *DownloadError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("download %s: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("download %s: %v", e.URL, e.Err)
}

func (e *DownloadError) Unwrap() error     { return e.Err }
func (e *DownloadError) IsRetryable() bool { return e.Transient }

// IntegrityError 下载内容与声明的摘要或大小不一致，产物已丢弃
type IntegrityError struct {
	Asset    string
	Expected string
	Actual   string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity check failed for %s: expected %s, got %s", e.Asset, e.Expected, e.Actual)
}

// IsRetryable 损坏的下载允许重新下载，次数由 GetMaxAttempts 限制
func (e *IntegrityError) IsRetryable() bool { return true }

// VersionMismatchError 成对工具找不到共同版本，或已安装版本不满足约束
type VersionMismatchError struct {
	Component string
	Have      string   // 客户端 / 已安装版本
	Want      string   // 约束或期望的服务端版本
	Attempted []string // 尝试过的服务端版本
}

func (e *VersionMismatchError) Error() string {
	if len(e.Attempted) > 0 {
		return fmt.Sprintf("%s: version mismatch: client %s has no matching server asset (attempted %s)",
			e.Component, e.Have, strings.Join(e.Attempted, ", "))
	}
	return fmt.Sprintf("%s: version mismatch: have %s, want %s", e.Component, e.Have, e.Want)
}

func (e *VersionMismatchError) IsRetryable() bool { return false }

// FilesystemError 文件系统操作失败
type FilesystemError struct {
	Op   string
	Path string
	Err  error
}

func (e *FilesystemError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FilesystemError) Unwrap() error     { return e.Err }
func (e *FilesystemError) IsRetryable() bool { return false }

// KindOf 从错误链推断失败类型
func KindOf(err error) ErrorKind {
	if err == nil {
		return ErrorKindNone
	}

	var (
		cfgErr      *ConfigurationError
		platformErr *UnsupportedPlatformError
		assetErr    *AssetNotFoundError
		dlErr       *DownloadError
		intErr      *IntegrityError
		verErr      *VersionMismatchError
		fsErr       *FilesystemError
	)

	switch {
	case errors.As(err, &cfgErr):
		return ErrorKindConfiguration
	case errors.As(err, &platformErr):
		return ErrorKindUnsupportedPlatform
	case errors.As(err, &verErr):
		return ErrorKindVersionMismatch
	case errors.As(err, &intErr):
		return ErrorKindIntegrity
	case errors.As(err, &assetErr):
		return ErrorKindAssetNotFound
	case errors.As(err, &dlErr):
		return ErrorKindDownload
	case errors.As(err, &fsErr):
		return ErrorKindFilesystem
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ErrorKindCanceled
	default:
		return ErrorKindUnknown
	}
}

// AttemptLimit 供重试策略使用：已知类型按 GetMaxAttempts 收紧，未知错误不限制
func AttemptLimit(err error) int {
	k := KindOf(err)
	if k == ErrorKindUnknown || k == ErrorKindNone {
		return 0
	}
	return k.GetMaxAttempts()
}
