package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	ToolsDir          string                  `mapstructure:"tools_dir"`
	Profile           string                  `mapstructure:"profile"`
	Log               LogConfig               `mapstructure:"log"`
	Worker            WorkerConfig            `mapstructure:"worker"`
	HTTP              HTTPConfig              `mapstructure:"http"`
	Retry             RetryConfig             `mapstructure:"retry"`
	Python            PythonConfig            `mapstructure:"python"`
	Git               GitConfig               `mapstructure:"git"`
	Frida             FridaConfig             `mapstructure:"frida"`
	GitHub            GitHubConfig            `mapstructure:"github"`
	PyPI              PyPIConfig              `mapstructure:"pypi"`
	AndroidRepository AndroidRepositoryConfig `mapstructure:"android_repository"`
	Database          DatabaseConfig          `mapstructure:"database"`
	Metrics           MetricsConfig           `mapstructure:"metrics"`
	Server            ServerConfig            `mapstructure:"server"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
}

type WorkerConfig struct {
	Concurrency int `mapstructure:"concurrency"` // 并发安装的组件数
	QueueSize   int `mapstructure:"queue_size"`
	Timeout     int `mapstructure:"timeout"` // seconds - 单个组件的超时
}

// HTTPConfig 元数据请求与下载的 HTTP 配置
type HTTPConfig struct {
	Timeout         int    `mapstructure:"timeout"`          // seconds - 元数据请求超时
	DownloadTimeout int    `mapstructure:"download_timeout"` // seconds - 单个资产下载超时
	UserAgent       string `mapstructure:"user_agent"`
}

// RetryConfig 网络重试配置
type RetryConfig struct {
	MaxAttempts     int     `mapstructure:"max_attempts"`
	InitialInterval int     `mapstructure:"initial_interval"` // milliseconds
	MaxInterval     int     `mapstructure:"max_interval"`     // milliseconds
	Multiplier      float64 `mapstructure:"multiplier"`
}

type PythonConfig struct {
	Executable string `mapstructure:"executable"`
	Timeout    int    `mapstructure:"timeout"`     // seconds - pip 安装超时
	MinVersion string `mapstructure:"min_version"` // python 包要求的最低解释器版本
}

// GitConfig 以仓库形式分发的工具
type GitConfig struct {
	Executable string `mapstructure:"executable"`
}

// FridaConfig 设备端组件配置
type FridaConfig struct {
	DeviceArch string `mapstructure:"device_arch"` // arm64, armv7, x86, x86_64
}

type GitHubConfig struct {
	APIURL  string `mapstructure:"api_url"`
	Token   string `mapstructure:"token"`
	PerPage int    `mapstructure:"per_page"`
}

type PyPIConfig struct {
	IndexURL string `mapstructure:"index_url"`
}

type AndroidRepositoryConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

type DatabaseConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Type     string `mapstructure:"type"` // sqlite, mysql
	Path     string `mapstructure:"path"` // sqlite 文件路径，相对 tools_dir
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"db_name"`
}

// MetricsConfig Prometheus 指标配置
type MetricsConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Textfile string `mapstructure:"textfile"` // node-exporter textfile 输出路径，为空则不写
}

type ServerConfig struct {
	Port  int    `mapstructure:"port"`
	Mode  string `mapstructure:"mode"`  // debug, release
	Token string `mapstructure:"token"` // 为空时不校验 Bearer token
}

// RequestTimeout 元数据请求超时
func (c *HTTPConfig) RequestTimeout() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

// AssetTimeout 资产下载超时
func (c *HTTPConfig) AssetTimeout() time.Duration {
	return time.Duration(c.DownloadTimeout) * time.Second
}

// JobTimeout 单个组件的超时
func (c *WorkerConfig) JobTimeout() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

// ReportPath 安装报告的固定路径
func (c *Config) ReportPath() string {
	return filepath.Join(c.ToolsDir, "installation_report.json")
}

// DatabasePath sqlite 文件路径
func (c *Config) DatabasePath() string {
	if filepath.IsAbs(c.Database.Path) {
		return c.Database.Path
	}
	return filepath.Join(c.ToolsDir, c.Database.Path)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("tools_dir", "./tools")
	v.SetDefault("profile", "recommended")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.queue_size", 32)
	v.SetDefault("worker.timeout", 600)

	v.SetDefault("http.timeout", 30)
	v.SetDefault("http.download_timeout", 600)
	v.SetDefault("http.user_agent", "toolsetup")

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_interval", 1000)
	v.SetDefault("retry.max_interval", 30000)
	v.SetDefault("retry.multiplier", 2.0)

	v.SetDefault("python.executable", defaultPython())
	v.SetDefault("python.timeout", 300)
	v.SetDefault("python.min_version", "3.7")

	v.SetDefault("git.executable", "git")

	v.SetDefault("frida.device_arch", "arm64")

	v.SetDefault("github.api_url", "https://api.github.com")
	v.SetDefault("github.per_page", 30)

	v.SetDefault("pypi.index_url", "https://pypi.org")

	v.SetDefault("android_repository.base_url", "https://dl.google.com/android/repository")

	v.SetDefault("database.enabled", true)
	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.path", "history.db")
	v.SetDefault("database.port", 3306)

	v.SetDefault("metrics.enabled", true)

	v.SetDefault("server.port", 8787)
	v.SetDefault("server.mode", "release")
}

func defaultPython() string {
	if filepath.Separator == '\\' {
		return "python"
	}
	return "python3"
}

// Load 加载配置文件
// path 为空或文件不存在时只使用默认值和环境变量；工作目录下的 .env 会先被加载。
func Load(path string) (*Config, error) {
	// .env 不存在不是错误
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigType("yaml")

	// 环境变量覆盖（支持嵌套配置）
	v.SetEnvPrefix("TOOLSETUP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.BindEnv("github.token", "TOOLSETUP_GITHUB_TOKEN", "GITHUB_TOKEN")
	v.BindEnv("tools_dir", "TOOLSETUP_TOOLS_DIR", "APK_TOOLS_HOME")
	v.BindEnv("server.token", "TOOLSETUP_SERVER_TOKEN")

	// Database
	v.BindEnv("database.host", "TOOLSETUP_DATABASE_HOST", "MYSQL_HOST")
	v.BindEnv("database.port", "TOOLSETUP_DATABASE_PORT", "MYSQL_PORT")
	v.BindEnv("database.user", "TOOLSETUP_DATABASE_USER", "MYSQL_USER")
	v.BindEnv("database.password", "TOOLSETUP_DATABASE_PASSWORD", "MYSQL_PASS")
	v.BindEnv("database.db_name", "TOOLSETUP_DATABASE_DB_NAME", "MYSQL_DB")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
				return nil, err
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 校验配置取值
func (c *Config) Validate() error {
	if c.ToolsDir == "" {
		return fmt.Errorf("tools_dir must not be empty")
	}
	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("worker.concurrency must be at least 1, got %d", c.Worker.Concurrency)
	}
	switch c.Database.Type {
	case "sqlite", "mysql":
	default:
		return fmt.Errorf("unsupported database type: %s", c.Database.Type)
	}
	return nil
}
