package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/apk-analysis/toolsetup/internal/catalog"
	"github.com/apk-analysis/toolsetup/internal/config"
	"github.com/apk-analysis/toolsetup/internal/domain"
	"github.com/apk-analysis/toolsetup/internal/installer"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// errComponentsFailed 至少一个组件失败
var errComponentsFailed = errors.New("one or more components failed")

// app 命令共享的状态，在 PersistentPreRunE 中初始化
type app struct {
	configPath string
	toolsDir   string
	logLevel   string
	jsonOut    bool

	cfg    *config.Config
	logger *logrus.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:           "toolsetup",
		Short:         "Install and verify the APK analysis toolchain",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init()
		},
	}

	cmd.PersistentFlags().StringVar(&a.configPath, "config", "./configs/config.yaml", "Path to config file")
	cmd.PersistentFlags().StringVar(&a.toolsDir, "tools-dir", "", "Override tools directory")
	cmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Override log level (debug, info, warn, error)")
	cmd.PersistentFlags().BoolVar(&a.jsonOut, "json", false, "Output machine-readable JSON")

	cmd.AddCommand(newProfilesCmd(a))
	cmd.AddCommand(newResolveCmd(a))
	cmd.AddCommand(newInstallCmd(a))
	cmd.AddCommand(newVerifyCmd(a))
	cmd.AddCommand(newEnvCmd(a))
	cmd.AddCommand(newHistoryCmd(a))
	cmd.AddCommand(newServeCmd(a))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func (a *app) init() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return &domain.ConfigurationError{Field: "config", Value: a.configPath, Reason: err.Error()}
	}
	if a.toolsDir != "" {
		cfg.ToolsDir = a.toolsDir
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	a.cfg = cfg
	a.logger = config.InitLogger(&cfg.Log)
	return nil
}

func (a *app) runtime(options ...installer.Option) (*installer.Runtime, error) {
	return installer.NewRuntime(a.cfg, a.logger, options...)
}

// selection 预设与增删组件
type selection struct {
	profile string
	include []string
	exclude []string
}

func addSelectionFlags(fs *pflag.FlagSet, sel *selection) {
	fs.StringVarP(&sel.profile, "profile", "p", "", "Install profile (minimal, standard, full, frida-only, recommended)")
	fs.StringSliceVar(&sel.include, "include", nil, "Additional component ids")
	fs.StringSliceVar(&sel.exclude, "exclude", nil, "Component ids to drop from the profile")
}

func (s *selection) profileOr(def string) domain.InstallProfile {
	if s.profile != "" {
		return domain.InstallProfile(s.profile)
	}
	return domain.InstallProfile(def)
}

func (s *selection) overrides() catalog.Overrides {
	return catalog.Overrides{Include: s.include, Exclude: s.exclude}
}

// set 是否显式选择了组件
func (s *selection) set() bool {
	return s.profile != "" || len(s.include) > 0
}

// signalContext 收到中断信号时取消
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

// exitCode 配置错误返回 2，其余错误返回 1
func exitCode(err error) int {
	var cfgErr *domain.ConfigurationError
	if errors.As(err, &cfgErr) {
		return 2
	}
	return 1
}
