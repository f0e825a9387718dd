// Package watcher 监控工具目录的变化，防抖后触发重新校验。
package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// ChangeHandler 目录变化后的处理函数
type ChangeHandler func(ctx context.Context) error

// ToolsWatcher 工具目录监控器
// 监控工具根目录及其一级子目录（每个组件一个），任意变化在防抖窗口结束后合并为一次回调。
type ToolsWatcher struct {
	watcher  *fsnotify.Watcher
	watchDir string
	ignore   []string // 忽略的文件名模式，匹配 filepath.Match
	handler  ChangeHandler
	logger   *logrus.Logger
	debounce time.Duration

	mu       sync.Mutex
	timer    *time.Timer
	running  bool
	pending  bool
	stopOnce sync.Once
	stopChan chan struct{}
}

// Option 监控器选项
type Option func(*ToolsWatcher)

// WithDebounce 设置防抖时间
func WithDebounce(d time.Duration) Option {
	return func(w *ToolsWatcher) { w.debounce = d }
}

// WithIgnore 追加忽略的文件名模式
func WithIgnore(patterns ...string) Option {
	return func(w *ToolsWatcher) { w.ignore = append(w.ignore, patterns...) }
}

// NewToolsWatcher 创建监控器
func NewToolsWatcher(watchDir string, handler ChangeHandler, logger *logrus.Logger, opts ...Option) (*ToolsWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	if err := os.MkdirAll(watchDir, 0o755); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to create watch directory: %w", err)
	}

	tw := &ToolsWatcher{
		watcher:  watcher,
		watchDir: watchDir,
		// 暂存目录、报告与历史库由本程序自己写入
		ignore:   []string{".fetch-*", ".installation_report-*", "installation_report.json", "*.db", "*.db-journal"},
		handler:  handler,
		logger:   logger,
		debounce: 2 * time.Second,
		stopChan: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(tw)
	}

	if err := tw.addTree(); err != nil {
		watcher.Close()
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"watch_dir": watchDir,
		"debounce":  tw.debounce.String(),
	}).Info("Tools watcher created")
	return tw, nil
}

// addTree 监控根目录和一级子目录
func (tw *ToolsWatcher) addTree() error {
	if err := tw.watcher.Add(tw.watchDir); err != nil {
		return fmt.Errorf("failed to add watch directory: %w", err)
	}
	entries, err := os.ReadDir(tw.watchDir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() && !tw.ignored(entry.Name()) {
			tw.addDir(filepath.Join(tw.watchDir, entry.Name()))
		}
	}
	return nil
}

func (tw *ToolsWatcher) addDir(dir string) {
	if err := tw.watcher.Add(dir); err != nil {
		tw.logger.WithError(err).WithField("dir", dir).Warn("Failed to watch directory")
	}
}

// Start 启动事件循环
func (tw *ToolsWatcher) Start(ctx context.Context) {
	go tw.eventLoop(ctx)
}

// eventLoop 事件循环
func (tw *ToolsWatcher) eventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			tw.stopTimer()
			return
		case <-tw.stopChan:
			tw.stopTimer()
			return
		case event, ok := <-tw.watcher.Events:
			if !ok {
				return
			}
			name := filepath.Base(event.Name)
			if tw.ignored(name) || event.Op == fsnotify.Chmod {
				continue
			}

			// 新组件目录
			if event.Op&fsnotify.Create == fsnotify.Create && filepath.Dir(event.Name) == filepath.Clean(tw.watchDir) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					tw.addDir(event.Name)
				}
			}

			tw.logger.WithFields(logrus.Fields{
				"event": event.Op.String(),
				"path":  event.Name,
			}).Debug("Tools directory changed")
			tw.schedule(ctx)

		case err, ok := <-tw.watcher.Errors:
			if !ok {
				return
			}
			tw.logger.WithError(err).Error("Watcher error")
		}
	}
}

// schedule 防抖：窗口内的多次变化只触发一次
func (tw *ToolsWatcher) schedule(ctx context.Context) {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	if tw.timer != nil {
		tw.timer.Stop()
	}
	tw.timer = time.AfterFunc(tw.debounce, func() { tw.fire(ctx) })
}

// fire 调用处理函数；上一次还在运行时合并为运行结束后的一次补跑
func (tw *ToolsWatcher) fire(ctx context.Context) {
	tw.mu.Lock()
	if tw.running {
		tw.pending = true
		tw.mu.Unlock()
		return
	}
	tw.running = true
	tw.mu.Unlock()

	for {
		if ctx.Err() != nil {
			break
		}
		if err := tw.handler(ctx); err != nil {
			tw.logger.WithError(err).Error("Change handler failed")
		}

		tw.mu.Lock()
		if !tw.pending {
			tw.running = false
			tw.mu.Unlock()
			return
		}
		tw.pending = false
		tw.mu.Unlock()
	}

	tw.mu.Lock()
	tw.running = false
	tw.mu.Unlock()
}

func (tw *ToolsWatcher) stopTimer() {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.timer != nil {
		tw.timer.Stop()
	}
}

func (tw *ToolsWatcher) ignored(name string) bool {
	for _, p := range tw.ignore {
		if ok, _ := filepath.Match(p, name); ok {
			return true
		}
		if strings.EqualFold(p, name) {
			return true
		}
	}
	return false
}

// Stop 停止监控
func (tw *ToolsWatcher) Stop() error {
	var err error
	tw.stopOnce.Do(func() {
		close(tw.stopChan)
		err = tw.watcher.Close()
		tw.logger.Info("Tools watcher stopped")
	})
	return err
}

// WatchDir 监控的目录
func (tw *ToolsWatcher) WatchDir() string {
	return tw.watchDir
}
