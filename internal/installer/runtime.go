package installer

import (
	"net/url"
	"time"

	"github.com/apk-analysis/toolsetup/internal/catalog"
	"github.com/apk-analysis/toolsetup/internal/config"
	"github.com/apk-analysis/toolsetup/internal/domain"
	"github.com/apk-analysis/toolsetup/internal/fetch"
	"github.com/apk-analysis/toolsetup/internal/metrics"
	"github.com/apk-analysis/toolsetup/internal/pip"
	"github.com/apk-analysis/toolsetup/internal/platform"
	"github.com/apk-analysis/toolsetup/internal/probe"
	"github.com/apk-analysis/toolsetup/internal/release"
	"github.com/apk-analysis/toolsetup/internal/repository"
	"github.com/apk-analysis/toolsetup/internal/retry"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Runtime 由配置装配的完整运行时
type Runtime struct {
	Config  *config.Config
	Engine  *Engine
	Metrics *metrics.PrometheusMetrics // metrics.enabled 为 false 时为 nil
	History repository.HistoryRepository
	db      *gorm.DB
}

// NewRuntime 按配置装配引擎及其依赖
// 历史数据库打不开时只记警告，安装照常进行。
func NewRuntime(cfg *config.Config, logger *logrus.Logger, options ...Option) (*Runtime, error) {
	info := platform.Detect()
	if !info.Supported() {
		logger.WithField("platform", info.Key()).Warn("Host platform not recognized, components that need platform assets will fail")
	}
	cat, err := catalog.Default()
	if err != nil {
		return nil, err
	}

	deviceArch, ok := domain.ParseArch(cfg.Frida.DeviceArch)
	if !ok {
		return nil, &domain.ConfigurationError{Field: "frida.device_arch", Value: cfg.Frida.DeviceArch, Reason: "unknown architecture"}
	}

	rt := &Runtime{Config: cfg}

	retryCfg := retry.FromConfig(&cfg.Retry, logger)
	retryCfg.Limit = domain.AttemptLimit

	var fetchOpts []fetch.Option
	if cfg.Metrics.Enabled {
		rt.Metrics = metrics.NewPrometheusMetrics(logger, metrics.Namespace)
		retryCfg.OnRetry = rt.Metrics.RecordRetryAttempt
		fetchOpts = append(fetchOpts, fetch.WithObserver(rt.Metrics))
		options = append([]Option{WithMetrics(rt.Metrics)}, options...)
	}

	client := release.NewHTTPClient(cfg.HTTP.RequestTimeout(), cfg.HTTP.UserAgent, cfg.GitHub.Token, hostOf(cfg.GitHub.APIURL))
	resolver := release.NewResolver(retryCfg, logger)
	resolver.Register(domain.SourceGitHub, release.NewGitHubSource(client, cfg.GitHub.APIURL, cfg.GitHub.PerPage))
	resolver.Register(domain.SourcePyPI, release.NewPyPISource(client, cfg.PyPI.IndexURL))
	resolver.Register(domain.SourceAndroidRepository, release.NewAndroidRepositorySource(client, cfg.AndroidRepository.BaseURL))

	runner := probe.ExecRunner{}
	resolver.Register(domain.SourceGit, release.NewGitSource(cfg.Git.Executable, runner))

	prober := probe.NewEngine(cfg.ToolsDir, cfg.Python.Executable, runner, 0, logger)
	deps := Dependencies{
		Releases: resolver,
		Prober:   prober,
		Fetcher:  fetch.NewExecutor(cfg.ToolsDir, cfg.HTTP.AssetTimeout(), cfg.HTTP.UserAgent, retryCfg, logger, fetchOpts...),
		Packages: pip.NewInstaller(cfg.Python.Executable, runner, time.Duration(cfg.Python.Timeout)*time.Second, logger),
		Repos:    fetch.NewCloner(cfg.ToolsDir, cfg.Git.Executable, runner, retryCfg, logger),
		Host:     prober,
	}

	if cfg.Database.Enabled {
		db, err := repository.InitDB(&cfg.Database, cfg.DatabasePath(), logger)
		if err != nil {
			logger.WithError(err).WithField("type", cfg.Database.Type).Warn("Install history disabled: database unavailable")
		} else {
			rt.db = db
			rt.History = repository.NewHistoryRepository(db, logger)
			options = append([]Option{WithHistory(rt.History)}, options...)
		}
	}

	rt.Engine = NewEngine(cat, info, deps, Options{
		ToolsDir:    cfg.ToolsDir,
		ReportPath:  cfg.ReportPath(),
		DeviceArch:  deviceArch,
		Concurrency: cfg.Worker.Concurrency,
		QueueSize:   cfg.Worker.QueueSize,
		JobTimeout:  cfg.Worker.JobTimeout(),
		Textfile:    cfg.Metrics.Textfile,
		MinPython:   cfg.Python.MinVersion,
	}, logger, options...)

	logger.WithFields(logrus.Fields{
		"platform":    platform.Describe(info),
		"tools_dir":   cfg.ToolsDir,
		"device_arch": deviceArch,
		"history":     rt.History != nil,
		"metrics":     rt.Metrics != nil,
	}).Debug("Runtime initialized")
	return rt, nil
}

// Close 释放数据库连接
func (r *Runtime) Close() error {
	if r.db == nil {
		return nil
	}
	return repository.Close(r.db)
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Host
}
