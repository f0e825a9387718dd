// Package reconcile 保证成对工具的客户端与服务端版本逐字节一致。
package reconcile

import (
	"context"
	"errors"

	"github.com/apk-analysis/toolsetup/internal/domain"
	"github.com/sirupsen/logrus"
)

// maxRepins 放宽匹配时最多重新安装客户端的次数
const maxRepins = 3

// Releases 远程版本查询
type Releases interface {
	Resolve(ctx context.Context, comp *domain.Component, target domain.PlatformInfo, pin string) ([]domain.AssetCandidate, error)
	Versions(ctx context.Context, comp *domain.Component, target domain.PlatformInfo) ([]string, error)
}

// Prober 本地安装探测
type Prober interface {
	Check(ctx context.Context, comp *domain.Component) domain.Presence
}

// ClientInstaller 把客户端包固定到指定版本
type ClientInstaller interface {
	Install(ctx context.Context, pkg, version string) error
}

// Result 对齐结果
type Result struct {
	ClientVersion string
	Server        domain.AssetCandidate
	Repinned      bool     // 客户端被重新固定到了其他版本
	Attempted     []string // 放宽匹配时尝试过的服务端版本
}

// Reconciler 版本对齐器
type Reconciler struct {
	releases Releases
	prober   Prober
	client   ClientInstaller
	logger   *logrus.Logger
}

// New 创建对齐器
func New(releases Releases, prober Prober, client ClientInstaller, logger *logrus.Logger) *Reconciler {
	return &Reconciler{releases: releases, prober: prober, client: client, logger: logger}
}

// Reconcile 为已安装的客户端挑选版本完全相同的服务端资产
// 客户端版本没有对应的服务端资产时，从新到旧遍历服务端版本，
// 选第一个客户端也发布过的版本，重新安装客户端并复查，两者相等才算成功。
func (r *Reconciler) Reconcile(ctx context.Context, client, server *domain.Component, target domain.PlatformInfo) (*Result, error) {
	have := r.prober.Check(ctx, client)
	if !have.Present || have.Version == "" {
		return nil, &domain.VersionMismatchError{
			Component: server.ID,
			Have:      "none",
			Want:      client.ID + " installed",
		}
	}

	log := r.logger.WithFields(logrus.Fields{
		"client":         client.ID,
		"server":         server.ID,
		"client_version": have.Version,
		"platform":       target.Key(),
	})

	cands, err := r.releases.Resolve(ctx, server, target, have.Version)
	if err == nil && len(cands) > 0 && cands[0].Version == have.Version {
		log.Debug("Exact server asset found for client version")
		return &Result{ClientVersion: have.Version, Server: cands[0]}, nil
	}
	if err != nil && !isPermanentNotFound(err) {
		return nil, err
	}

	log.Warn("No server asset for installed client version, widening match")
	return r.widen(ctx, client, server, target, have.Version)
}

func (r *Reconciler) widen(ctx context.Context, client, server *domain.Component, target domain.PlatformInfo, have string) (*Result, error) {
	servers, err := r.releases.Resolve(ctx, server, target, "")
	if err != nil {
		if isPermanentNotFound(err) {
			return nil, &domain.VersionMismatchError{Component: server.ID, Have: have, Attempted: []string{have}}
		}
		return nil, err
	}

	published, err := r.releases.Versions(ctx, client, target)
	if err != nil {
		return nil, err
	}
	clientVersions := make(map[string]bool, len(published))
	for _, v := range published {
		clientVersions[v] = true
	}

	pkg := client.Source.Package
	if pkg == "" {
		pkg = client.ID
	}

	var attempted []string
	repins := 0
	for _, cand := range servers {
		if !clientVersions[cand.Version] {
			continue
		}
		if repins >= maxRepins {
			break
		}
		repins++
		attempted = append(attempted, cand.Version)

		if err := r.client.Install(ctx, pkg, cand.Version); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			r.logger.WithFields(logrus.Fields{
				"client":  client.ID,
				"version": cand.Version,
				"error":   err.Error(),
			}).Warn("Re-pinning client failed, trying next version")
			continue
		}

		got := r.prober.Check(ctx, client)
		if got.Present && got.Version == cand.Version {
			r.logger.WithFields(logrus.Fields{
				"client":   client.ID,
				"previous": have,
				"version":  cand.Version,
			}).Info("Client re-pinned to match server")
			return &Result{ClientVersion: got.Version, Server: cand, Repinned: true, Attempted: attempted}, nil
		}
	}

	if len(attempted) == 0 {
		attempted = []string{have}
	}
	return nil, &domain.VersionMismatchError{Component: server.ID, Have: have, Attempted: attempted}
}

// isPermanentNotFound 资产确实不存在（而不是网络或限流导致的暂时失败）
func isPermanentNotFound(err error) bool {
	var notFound *domain.AssetNotFoundError
	return errors.As(err, &notFound) && !notFound.Transient
}
