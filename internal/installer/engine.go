// Package installer 把安装预设展开为组件，并驱动解析、下载、版本对齐、校验与报告。
package installer

import (
	"context"
	"time"

	"github.com/apk-analysis/toolsetup/internal/catalog"
	"github.com/apk-analysis/toolsetup/internal/domain"
	"github.com/apk-analysis/toolsetup/internal/envscript"
	"github.com/apk-analysis/toolsetup/internal/reconcile"
	"github.com/apk-analysis/toolsetup/internal/report"
	"github.com/sirupsen/logrus"
)

// Releases 远程版本查询
type Releases interface {
	Resolve(ctx context.Context, comp *domain.Component, target domain.PlatformInfo, pin string) ([]domain.AssetCandidate, error)
	Versions(ctx context.Context, comp *domain.Component, target domain.PlatformInfo) ([]string, error)
}

// Prober 本地安装探测
type Prober interface {
	Check(ctx context.Context, comp *domain.Component) domain.Presence
}

// Fetcher 下载并安装二进制资产
type Fetcher interface {
	Install(ctx context.Context, cand domain.AssetCandidate, comp *domain.Component) (string, error)
	TargetPath(comp *domain.Component) string
}

// Cloner 以 git 仓库形式安装组件
type Cloner interface {
	Clone(ctx context.Context, cand domain.AssetCandidate, comp *domain.Component) (string, error)
}

// HostChecker 主机环境检查
type HostChecker interface {
	PythonVersion(ctx context.Context) (string, error)
	LookPath(name string) (string, bool)
}

// PackageInstaller 安装 Python 包的指定版本
type PackageInstaller interface {
	Install(ctx context.Context, pkg, version string) error
}

// History 运行历史
type History interface {
	SaveRun(ctx context.Context, rep *report.Report) error
}

// Metrics 运行指标
type Metrics interface {
	ObserveRecord(mode string, rec domain.InstallationRecord)
	ObserveRun(mode string, duration time.Duration, failed bool)
	UpdateWorkerPoolStats(size, queueSize int)
	WriteTextfile(path string) error
}

// Event 运行进度事件
type Event struct {
	Type   string                     `json:"type"` // run_started, component, run_finished
	RunID  string                     `json:"run_id"`
	Mode   report.Mode                `json:"mode"`
	Record *domain.InstallationRecord `json:"record,omitempty"`
	Time   time.Time                  `json:"time"`
}

const (
	EventRunStarted  = "run_started"
	EventComponent   = "component"
	EventRunFinished = "run_finished"
)

// EventSink 接收进度事件
type EventSink interface {
	Publish(ev Event)
}

// Dependencies 引擎依赖
type Dependencies struct {
	Releases Releases
	Prober   Prober
	Fetcher  Fetcher
	Packages PackageInstaller
	Repos    Cloner      // 可选，git 工具
	Host     HostChecker // 可选，为空时跳过安装前检查
}

// Options 引擎参数
type Options struct {
	ToolsDir    string
	ReportPath  string
	DeviceArch  domain.Arch
	Concurrency int
	QueueSize   int
	JobTimeout  time.Duration
	Textfile    string // 指标 textfile 路径，为空则不写
	MinPython   string // python 包要求的最低解释器版本
}

// Option 可选组件
type Option func(*Engine)

// WithHistory 保存运行历史
func WithHistory(h History) Option {
	return func(e *Engine) { e.history = h }
}

// WithMetrics 记录运行指标
func WithMetrics(m Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithEvents 发布进度事件
func WithEvents(s EventSink) Option {
	return func(e *Engine) { e.events = s }
}

// Engine 安装引擎
type Engine struct {
	catalog    *catalog.Catalog
	platform   domain.PlatformInfo
	deps       Dependencies
	opts       Options
	reconciler *reconcile.Reconciler
	envscripts *envscript.Generator
	writer     *report.Writer
	history    History
	metrics    Metrics
	events     EventSink
	logger     *logrus.Logger
}

// NewEngine 创建安装引擎
func NewEngine(cat *catalog.Catalog, info domain.PlatformInfo, deps Dependencies, opts Options, logger *logrus.Logger, options ...Option) *Engine {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.DeviceArch == "" {
		opts.DeviceArch = domain.ArchARM64
	}
	if opts.MinPython == "" {
		opts.MinPython = DefaultMinPython
	}

	e := &Engine{
		catalog:    cat,
		platform:   info,
		deps:       deps,
		opts:       opts,
		reconciler: reconcile.New(deps.Releases, deps.Prober, deps.Packages, logger),
		envscripts: envscript.NewGenerator(opts.ToolsDir, logger),
		writer:     report.NewWriter(opts.ReportPath, logger),
		logger:     logger,
	}
	for _, opt := range options {
		opt(e)
	}
	return e
}

// Catalog 组件目录
func (e *Engine) Catalog() *catalog.Catalog {
	return e.catalog
}

// Platform 主机平台
func (e *Engine) Platform() domain.PlatformInfo {
	return e.platform
}

// ReportPath 报告文件路径
func (e *Engine) ReportPath() string {
	return e.writer.Path()
}

// Resolve 展开安装预设
func (e *Engine) Resolve(profile domain.InstallProfile, overrides catalog.Overrides) ([]*domain.Component, error) {
	return e.catalog.Resolve(profile, overrides)
}

// record 写入报告并发布事件
func (e *Engine) record(rep *report.Report, rec domain.InstallationRecord) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	rep.Record(rec)

	if e.metrics != nil {
		e.metrics.ObserveRecord(string(rep.Mode()), rec)
	}
	e.publish(Event{Type: EventComponent, RunID: rep.RunID(), Mode: rep.Mode(), Record: &rec})

	fields := logrus.Fields{
		"run_id":    rep.RunID(),
		"component": rec.ID,
		"status":    rec.Status,
		"version":   rec.ResolvedVersion,
	}
	if rec.Status == domain.StatusFailed {
		fields["error_kind"] = rec.ErrorKind
		e.logger.WithFields(fields).WithField("error", rec.Error).Error("Component failed")
		return
	}
	e.logger.WithFields(fields).Info("Component finished")
}

func (e *Engine) publish(ev Event) {
	if e.events == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	e.events.Publish(ev)
}

// finish 结束运行：写报告、保存历史、更新指标
// 报告写入失败作为运行错误返回，历史保存失败只记日志。
func (e *Engine) finish(ctx context.Context, rep *report.Report) error {
	rep.Finish()
	failed := rep.HasFailures()

	if e.metrics != nil {
		e.metrics.ObserveRun(string(rep.Mode()), rep.FinishedAt().Sub(rep.StartedAt()), failed)
		if err := e.metrics.WriteTextfile(e.opts.Textfile); err != nil {
			e.logger.WithError(err).WithField("path", e.opts.Textfile).Warn("Failed to write metrics textfile")
		}
	}

	writeErr := e.writer.Write(rep)
	if writeErr != nil {
		e.logger.WithError(writeErr).WithField("path", e.writer.Path()).Error("Failed to write installation report")
	}

	if e.history != nil {
		if err := e.history.SaveRun(context.WithoutCancel(ctx), rep); err != nil {
			e.logger.WithError(err).WithField("run_id", rep.RunID()).Warn("Failed to save run history")
		}
	}

	e.publish(Event{Type: EventRunFinished, RunID: rep.RunID(), Mode: rep.Mode()})

	e.logger.WithFields(logrus.Fields{
		"run_id":  rep.RunID(),
		"mode":    rep.Mode(),
		"summary": rep.Summary(),
		"report":  e.writer.Path(),
	}).Info("Run finished")
	return writeErr
}

func failure(comp *domain.Component, err error) domain.InstallationRecord {
	return domain.InstallationRecord{
		ID:               comp.ID,
		Kind:             comp.Kind,
		RequestedVersion: comp.Constraint,
		Status:           domain.StatusFailed,
		Error:            err.Error(),
		ErrorKind:        domain.KindOf(err),
	}
}
