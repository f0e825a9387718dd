// Package fetch 下载候选资产，校验完整性后解包并原子替换组件的安装目录。
package fetch

import (
	"context"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/apk-analysis/toolsetup/internal/domain"
	"github.com/apk-analysis/toolsetup/internal/retry"
	"github.com/sirupsen/logrus"
)

// Observer 下载指标回调
type Observer interface {
	ObserveDownload(component string, bytes int64, duration time.Duration)
}

// Executor 资产安装执行器
type Executor struct {
	toolsDir  string
	client    *http.Client
	userAgent string
	retry     *retry.Config
	observer  Observer
	logger    *logrus.Logger
}

// Option 执行器选项
type Option func(*Executor)

// WithObserver 设置下载指标回调
func WithObserver(o Observer) Option {
	return func(e *Executor) { e.observer = o }
}

// WithHTTPClient 替换默认 HTTP 客户端
func WithHTTPClient(c *http.Client) Option {
	return func(e *Executor) { e.client = c }
}

// NewExecutor 创建执行器
func NewExecutor(toolsDir string, timeout time.Duration, userAgent string, retryCfg *retry.Config, logger *logrus.Logger, opts ...Option) *Executor {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	e := &Executor{
		toolsDir:  toolsDir,
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
		retry:     retryCfg,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// TargetPath 组件安装目录
func (e *Executor) TargetPath(comp *domain.Component) string {
	return filepath.Join(e.toolsDir, comp.TargetDir)
}

// Install 安装候选资产，返回安装目录
// 暂存目录建在目标目录旁边（同一文件系统），无论成功失败都会删除；
// 任何一步失败时原有安装保持不变。
func (e *Executor) Install(ctx context.Context, cand domain.AssetCandidate, comp *domain.Component) (string, error) {
	if cand.URL == "" {
		return "", &domain.AssetNotFoundError{Component: comp.ID, Platform: cand.Platform, Version: cand.Version,
			Err: errors.New("candidate has no download url")}
	}

	target := e.TargetPath(comp)
	parent := filepath.Dir(target)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return "", &domain.FilesystemError{Op: "mkdir", Path: parent, Err: err}
	}

	err := retry.Do(ctx, e.retry, func(ctx context.Context) error {
		return e.attempt(ctx, cand, comp, target)
	})
	if err != nil {
		return "", err
	}

	e.logger.WithFields(logrus.Fields{
		"component": comp.ID,
		"version":   cand.Version,
		"asset":     cand.Name,
		"path":      target,
	}).Info("Component installed")
	return target, nil
}

func (e *Executor) attempt(ctx context.Context, cand domain.AssetCandidate, comp *domain.Component, target string) error {
	staging, err := os.MkdirTemp(filepath.Dir(target), ".fetch-"+comp.ID+"-*")
	if err != nil {
		return &domain.FilesystemError{Op: "mkdir", Path: filepath.Dir(target), Err: err}
	}
	defer os.RemoveAll(staging)

	archive := filepath.Join(staging, "asset")
	if err := e.download(ctx, cand, comp, archive); err != nil {
		return err
	}

	content := filepath.Join(staging, "content")
	if err := extract(archive, content, cand.Name, comp.Source.Binary); err != nil {
		return &domain.FilesystemError{Op: "extract", Path: cand.Name, Err: err}
	}
	if DetectFormat(cand.Name).IsArchive() {
		if err := flatten(content); err != nil {
			return &domain.FilesystemError{Op: "flatten", Path: content, Err: err}
		}
	}

	if err := e.installWrapper(ctx, comp, content); err != nil {
		return err
	}

	if err := markExecutable(content, comp); err != nil {
		return err
	}

	marker := filepath.Join(content, domain.VersionMarker)
	if err := os.WriteFile(marker, []byte(cand.Version+"\n"), 0o644); err != nil {
		return &domain.FilesystemError{Op: "write", Path: marker, Err: err}
	}

	return swap(target, content, filepath.Join(staging, "previous"))
}

// download 流式下载并同时计算摘要，校验失败时丢弃产物
func (e *Executor) download(ctx context.Context, cand domain.AssetCandidate, comp *domain.Component, dest string) error {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cand.URL, nil)
	if err != nil {
		return &domain.DownloadError{URL: cand.URL, Err: err}
	}
	if e.userAgent != "" {
		req.Header.Set("User-Agent", e.userAgent)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &domain.DownloadError{URL: cand.URL, Transient: true, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &domain.DownloadError{
			URL:        cand.URL,
			StatusCode: resp.StatusCode,
			Transient:  resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests,
		}
	}

	f, err := os.Create(dest)
	if err != nil {
		return &domain.FilesystemError{Op: "create", Path: dest, Err: err}
	}

	h := newHash(cand.Integrity.Algorithm)
	var w io.Writer = f
	if h != nil {
		w = io.MultiWriter(f, h)
	}
	n, copyErr := io.Copy(w, resp.Body)
	closeErr := f.Close()
	if copyErr != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &domain.DownloadError{URL: cand.URL, Transient: true, Err: copyErr}
	}
	if closeErr != nil {
		return &domain.FilesystemError{Op: "write", Path: dest, Err: closeErr}
	}

	if e.observer != nil {
		e.observer.ObserveDownload(comp.ID, n, time.Since(start))
	}

	if err := verify(cand, n, h); err != nil {
		os.Remove(dest)
		e.logger.WithFields(logrus.Fields{
			"component": comp.ID,
			"asset":     cand.Name,
			"error":     err.Error(),
		}).Warn("Integrity check failed, artifact discarded")
		return err
	}
	if cand.Integrity.Algorithm == domain.IntegrityNone {
		e.logger.WithField("asset", cand.Name).Warn("No integrity information published, accepting download as is")
	}
	return nil
}

// installWrapper 下载组件声明的启动脚本（例如 apktool 的 shell / bat 包装）
func (e *Executor) installWrapper(ctx context.Context, comp *domain.Component, dir string) error {
	url, ok := WrapperFor(runtime.GOOS, comp.Source.Wrappers)
	if !ok {
		return nil
	}
	name := path.Base(url)
	cand := domain.AssetCandidate{ToolID: comp.ID, Name: name, URL: url}
	if err := e.download(ctx, cand, comp, filepath.Join(dir, name)); err != nil {
		return err
	}
	e.logger.WithFields(logrus.Fields{
		"component": comp.ID,
		"wrapper":   name,
	}).Debug("Launcher script installed")
	return nil
}

// WrapperFor 按主机系统族选择启动脚本，windows 以外都使用 unix 脚本
func WrapperFor(goos string, wrappers map[string]string) (string, bool) {
	family := "unix"
	if goos == "windows" {
		family = "windows"
	}
	url, ok := wrappers[family]
	return url, ok && url != ""
}

func newHash(algo domain.IntegrityAlgorithm) hash.Hash {
	switch algo {
	case domain.IntegritySHA256:
		return sha256.New()
	case domain.IntegritySHA1:
		return sha1.New()
	default:
		return nil
	}
}

// verify 校验大小和摘要
func verify(cand domain.AssetCandidate, n int64, h hash.Hash) error {
	in := cand.Integrity
	if in.Size > 0 && n != in.Size {
		return &domain.IntegrityError{
			Asset:    cand.Name,
			Expected: fmt.Sprintf("%d bytes", in.Size),
			Actual:   fmt.Sprintf("%d bytes", n),
		}
	}
	if h == nil || in.Digest == "" {
		return nil
	}
	actual := hex.EncodeToString(h.Sum(nil))
	if !strings.EqualFold(actual, in.Digest) {
		return &domain.IntegrityError{
			Asset:    cand.Name,
			Expected: string(in.Algorithm) + ":" + strings.ToLower(in.Digest),
			Actual:   string(in.Algorithm) + ":" + actual,
		}
	}
	return nil
}

// markExecutable 给组件声明的可执行文件设置可执行位
func markExecutable(dir string, comp *domain.Component) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	for _, rel := range comp.Executables {
		p := filepath.Join(dir, filepath.FromSlash(rel))
		if _, err := os.Stat(p); err != nil {
			// 部分平台的归档不含全部可执行文件（例如 windows 才有 .bat）
			continue
		}
		if err := os.Chmod(p, 0o755); err != nil {
			return &domain.FilesystemError{Op: "chmod", Path: p, Err: err}
		}
	}
	return nil
}

// swap 用新内容原子替换目标目录，失败时恢复旧目录
func swap(target, staged, backup string) error {
	hadPrevious := false
	if _, err := os.Lstat(target); err == nil {
		if err := os.Rename(target, backup); err != nil {
			return &domain.FilesystemError{Op: "rename", Path: target, Err: err}
		}
		hadPrevious = true
	} else if !errors.Is(err, os.ErrNotExist) {
		return &domain.FilesystemError{Op: "stat", Path: target, Err: err}
	}

	if err := os.Rename(staged, target); err != nil {
		if hadPrevious {
			if restoreErr := os.Rename(backup, target); restoreErr != nil {
				return &domain.FilesystemError{Op: "restore", Path: target,
					Err: fmt.Errorf("%w (restore failed: %v)", err, restoreErr)}
			}
		}
		return &domain.FilesystemError{Op: "rename", Path: target, Err: err}
	}
	return nil
}
