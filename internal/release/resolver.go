// Package release 查询远程发布元数据，把组件解析为具体的候选资产。
package release

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/apk-analysis/toolsetup/internal/domain"
	"github.com/apk-analysis/toolsetup/internal/retry"
	"github.com/apk-analysis/toolsetup/internal/version"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
)

const cacheSize = 128

// Source 一种发布源
type Source interface {
	// List 返回组件在目标平台上的全部候选资产
	List(ctx context.Context, comp *domain.Component, target domain.PlatformInfo) ([]domain.AssetCandidate, error)
}

// Pinner 能直接按版本查询的发布源，用于列表分页之外的旧版本
type Pinner interface {
	Pinned(ctx context.Context, comp *domain.Component, target domain.PlatformInfo, ver string) ([]domain.AssetCandidate, error)
}

// Resolver 远程资产解析器
// 同一次运行内按组件和平台缓存列表结果，网络错误按重试策略处理。
type Resolver struct {
	sources map[domain.SourceType]Source
	cache   *lru.Cache[string, []domain.AssetCandidate]
	retry   *retry.Config
	logger  *logrus.Logger

	mu       sync.Mutex
	inflight map[string]*sync.Mutex
}

// NewResolver 创建解析器
func NewResolver(retryCfg *retry.Config, logger *logrus.Logger) *Resolver {
	cache, _ := lru.New[string, []domain.AssetCandidate](cacheSize)
	return &Resolver{
		sources:  make(map[domain.SourceType]Source),
		cache:    cache,
		retry:    retryCfg,
		logger:   logger,
		inflight: make(map[string]*sync.Mutex),
	}
}

// Register 注册发布源
func (r *Resolver) Register(t domain.SourceType, s Source) {
	r.sources[t] = s
}

// Resolve 返回从新到旧排列的候选资产；pin 非空时最多返回一个精确匹配
func (r *Resolver) Resolve(ctx context.Context, comp *domain.Component, target domain.PlatformInfo, pin string) ([]domain.AssetCandidate, error) {
	src, ok := r.sources[comp.Source.Type]
	if !ok {
		return nil, &domain.ConfigurationError{
			Field:  "source",
			Value:  string(comp.Source.Type),
			Reason: "no resolver registered for " + comp.ID,
		}
	}

	all, err := r.list(ctx, src, comp, target)
	if err != nil {
		return nil, err
	}

	if pin == "" {
		if len(all) == 0 {
			return nil, &domain.AssetNotFoundError{Component: comp.ID, Platform: target.Key()}
		}
		return all, nil
	}

	for _, c := range all {
		if c.Version == pin {
			return []domain.AssetCandidate{c}, nil
		}
	}

	// 列表只覆盖最近的发布，旧版本走按版本查询
	if p, ok := src.(Pinner); ok {
		pinned, err := retry.DoWithResult(ctx, r.retry, func(ctx context.Context) ([]domain.AssetCandidate, error) {
			return p.Pinned(ctx, comp, target, pin)
		})
		if err != nil {
			return nil, r.wrap(comp, target, pin, err)
		}
		for _, c := range pinned {
			if c.Version == pin {
				return []domain.AssetCandidate{c}, nil
			}
		}
	}

	return nil, &domain.AssetNotFoundError{Component: comp.ID, Platform: target.Key(), Version: pin}
}

// Versions 组件在目标平台上已发布的版本，从新到旧
func (r *Resolver) Versions(ctx context.Context, comp *domain.Component, target domain.PlatformInfo) ([]string, error) {
	cands, err := r.Resolve(ctx, comp, target, "")
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(cands))
	for _, c := range cands {
		out = append(out, c.Version)
	}
	return out, nil
}

func (r *Resolver) list(ctx context.Context, src Source, comp *domain.Component, target domain.PlatformInfo) ([]domain.AssetCandidate, error) {
	key := comp.ID + "|" + target.Key()

	// 同一组件的并发查询只发一次请求
	r.mu.Lock()
	lock, ok := r.inflight[key]
	if !ok {
		lock = &sync.Mutex{}
		r.inflight[key] = lock
	}
	r.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()

	if cached, ok := r.cache.Get(key); ok {
		return cached, nil
	}

	cands, err := retry.DoWithResult(ctx, r.retry, func(ctx context.Context) ([]domain.AssetCandidate, error) {
		return src.List(ctx, comp, target)
	})
	if err != nil {
		return nil, r.wrap(comp, target, "", err)
	}

	sortCandidates(comp.VersionFamily, cands)
	r.cache.Add(key, cands)

	r.logger.WithFields(logrus.Fields{
		"component":  comp.ID,
		"platform":   target.Key(),
		"candidates": len(cands),
	}).Debug("Release metadata resolved")
	return cands, nil
}

// wrap 将源错误归类为 AssetNotFoundError，保留平台和配置类错误
func (r *Resolver) wrap(comp *domain.Component, target domain.PlatformInfo, pin string, err error) error {
	var (
		platformErr *domain.UnsupportedPlatformError
		cfgErr      *domain.ConfigurationError
		assetErr    *domain.AssetNotFoundError
	)
	if errors.As(err, &platformErr) || errors.As(err, &cfgErr) || errors.As(err, &assetErr) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: resolve canceled: %w", comp.ID, err)
	}
	return &domain.AssetNotFoundError{
		Component: comp.ID,
		Platform:  target.Key(),
		Version:   pin,
		Transient: retry.IsRetryable(err),
		Err:       err,
	}
}

// sortCandidates 按版本从新到旧排序，无法解析的版本排在最后
func sortCandidates(family string, cands []domain.AssetCandidate) {
	p := version.ForFamily(family)
	sort.SliceStable(cands, func(i, j int) bool {
		a, errA := p.Parse(cands[i].Version)
		b, errB := p.Parse(cands[j].Version)
		switch {
		case errA != nil && errB != nil:
			return cands[i].Version > cands[j].Version
		case errA != nil:
			return false
		case errB != nil:
			return true
		}
		return a.Compare(b) > 0
	})
}

// renderPattern 用平台令牌和版本展开资产名模板，返回锚定的正则
func renderPattern(pattern, ver, osToken, archToken string) string {
	versionExpr := `(?P<version>[0-9][0-9A-Za-z.\-]*)`
	if ver != "" {
		versionExpr = quote(ver)
	}
	r := strings.NewReplacer(
		"{{version}}", versionExpr,
		"{{os}}", quote(osToken),
		"{{arch}}", quote(archToken),
	)
	return "^" + r.Replace(pattern) + "$"
}

func quote(s string) string {
	return regexp.QuoteMeta(s)
}
