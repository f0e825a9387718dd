package domain

import "strings"

// InstallProfile 安装预设
type InstallProfile string

const (
	ProfileMinimal     InstallProfile = "minimal"
	ProfileStandard    InstallProfile = "standard"
	ProfileFull        InstallProfile = "full"
	ProfileFridaOnly   InstallProfile = "frida-only"
	ProfileRecommended InstallProfile = "recommended"
)

// ComponentKind 组件类型
type ComponentKind string

const (
	KindPythonPackage  ComponentKind = "python-package"
	KindPlatformBinary ComponentKind = "platform-binary"
	KindArchiveTool    ComponentKind = "archive-tool"
	KindPairedTool     ComponentKind = "paired-client-server-tool"
	KindGitTool        ComponentKind = "git-tool" // 以源码仓库形式分发的脚本工具
)

// IsBinary 是否安装到 tools_dir 下的独立目录（python 包由 pip 处理，不依赖平台映射）
func (k ComponentKind) IsBinary() bool {
	return k != KindPythonPackage
}

// SourceType 远程元数据来源
type SourceType string

const (
	SourceGitHub            SourceType = "github"
	SourcePyPI              SourceType = "pypi"
	SourceAndroidRepository SourceType = "android-repository"
	SourceGit               SourceType = "git"
)

// ProbeType 校验探针类型
type ProbeType string

const (
	ProbeCommand       ProbeType = "command"        // 执行二进制并解析版本输出
	ProbePythonPackage ProbeType = "python-package" // 读取已安装包的版本元数据
	ProbeFile          ProbeType = "file"           // 文件存在性 + 版本标记文件
)

// SourceSpec 组件的发布源描述
type SourceSpec struct {
	Type         SourceType        `yaml:"type" json:"type"`
	Repo         string            `yaml:"repo,omitempty" json:"repo,omitempty"`       // GitHub owner/repo
	Package      string            `yaml:"package,omitempty" json:"package,omitempty"` // PyPI 包名或 Android 仓库包路径
	AssetPattern string            `yaml:"asset_pattern,omitempty" json:"asset_pattern,omitempty"`
	TagPrefix    string            `yaml:"tag_prefix,omitempty" json:"tag_prefix,omitempty"`
	Binary       string            `yaml:"binary,omitempty" json:"binary,omitempty"`     // 单文件资产落地后的文件名
	URL          string            `yaml:"url,omitempty" json:"url,omitempty"`           // git 仓库地址
	Ref          string            `yaml:"ref,omitempty" json:"ref,omitempty"`           // git 分支或标签，为空时跟随远端 HEAD
	Wrappers     map[string]string `yaml:"wrappers,omitempty" json:"wrappers,omitempty"` // 启动脚本：系统族(unix/windows) -> 下载地址
	OSTokens     map[string]string `yaml:"os_tokens,omitempty" json:"os_tokens,omitempty"`
	ArchTokens   map[string]string `yaml:"arch_tokens,omitempty" json:"arch_tokens,omitempty"`
}

// UsesPlatformTokens 资产名是否区分平台
func (s SourceSpec) UsesPlatformTokens() bool {
	return strings.Contains(s.AssetPattern, "{{os}}") || strings.Contains(s.AssetPattern, "{{arch}}") ||
		s.Type == SourceAndroidRepository
}

// ProbeSpec 校验探针
type ProbeSpec struct {
	Type    ProbeType `yaml:"type" json:"type"`
	Command string    `yaml:"command,omitempty" json:"command,omitempty"`
	Args    []string  `yaml:"args,omitempty" json:"args,omitempty"`
	Pattern string    `yaml:"pattern,omitempty" json:"pattern,omitempty"` // 版本提取正则，第一个分组为版本号
	Path    string    `yaml:"path,omitempty" json:"path,omitempty"`       // file 探针的相对路径
}

// Component 组件目录中的一项，加载后只读
type Component struct {
	ID            string        `yaml:"id" json:"id"`
	Kind          ComponentKind `yaml:"kind" json:"kind"`
	Description   string        `yaml:"description,omitempty" json:"description,omitempty"`
	TargetDir     string        `yaml:"target_dir,omitempty" json:"target_dir,omitempty"` // 相对 tools_dir
	Constraint    string        `yaml:"constraint,omitempty" json:"constraint,omitempty"`
	VersionFamily string        `yaml:"version_family,omitempty" json:"version_family,omitempty"`
	PairedWith    string        `yaml:"paired_with,omitempty" json:"paired_with,omitempty"` // 客户端组件 ID（成对工具）
	DeviceSide    bool          `yaml:"device_side,omitempty" json:"device_side,omitempty"` // 资产运行在设备上而非主机
	PathDirs      []string      `yaml:"path_dirs,omitempty" json:"path_dirs,omitempty"`     // 需要加入 PATH 的相对目录
	Executables   []string      `yaml:"executables,omitempty" json:"executables,omitempty"` // 需要设置可执行位的相对路径
	Requires      []string      `yaml:"requires,omitempty" json:"requires,omitempty"`       // 运行或安装所需的系统命令
	Source        SourceSpec    `yaml:"source" json:"source"`
	Probe         ProbeSpec     `yaml:"probe" json:"probe"`
}

// IsPaired 是否为成对工具的服务端
func (c *Component) IsPaired() bool {
	return c.PairedWith != ""
}

// AffectsPath 安装后是否需要暴露到 PATH
func (c *Component) AffectsPath() bool {
	return len(c.PathDirs) > 0 && !c.DeviceSide
}

// VersionMarker 安装目录中记录已安装版本的文件名
const VersionMarker = ".toolsetup-version"
