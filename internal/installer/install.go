package installer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/apk-analysis/toolsetup/internal/catalog"
	"github.com/apk-analysis/toolsetup/internal/domain"
	"github.com/apk-analysis/toolsetup/internal/platform"
	"github.com/apk-analysis/toolsetup/internal/probe"
	"github.com/apk-analysis/toolsetup/internal/report"
	"github.com/apk-analysis/toolsetup/internal/version"
	"github.com/apk-analysis/toolsetup/internal/worker"
	"github.com/sirupsen/logrus"
)

var errNotProcessed = errors.New("component was not processed")

// Install 安装给定组件并写出报告
// 已安装且满足约束的组件标记为 already-present，除非 force 为 true。
// 单个组件失败不会中断其他组件；返回的错误只表示报告无法写入。
func (e *Engine) Install(ctx context.Context, comps []*domain.Component, force bool) (*report.Report, error) {
	return e.install(ctx, "", comps, force)
}

// InstallProfile 展开预设后安装
func (e *Engine) InstallProfile(ctx context.Context, profile domain.InstallProfile, overrides catalog.Overrides, force bool) (*report.Report, error) {
	comps, err := e.Resolve(profile, overrides)
	if err != nil {
		return nil, err
	}
	return e.install(ctx, string(profile), comps, force)
}

func (e *Engine) install(ctx context.Context, profile string, comps []*domain.Component, force bool) (*report.Report, error) {
	rep := report.New(report.ModeInstall, profile, e.platform, e.opts.ToolsDir)
	e.publish(Event{Type: EventRunStarted, RunID: rep.RunID(), Mode: rep.Mode()})

	pythonErr := e.preflight(ctx, comps)
	chains := e.chains(comps)

	e.logger.WithFields(logrus.Fields{
		"run_id":     rep.RunID(),
		"profile":    profile,
		"components": len(comps),
		"jobs":       len(chains),
		"force":      force,
		"platform":   e.platform.Key(),
	}).Info("Starting install run")

	pool := worker.NewPool(e.opts.Concurrency, e.opts.QueueSize, e.opts.JobTimeout, func(ctx context.Context, job *worker.Job) error {
		chain := job.Payload.([]*domain.Component)
		if err := ctx.Err(); err != nil {
			for _, c := range chain {
				e.record(rep, failure(c, err))
			}
			return err
		}
		e.runChain(ctx, rep, chain, force, pythonErr)
		return nil
	}, e.logger)
	pool.Start(ctx)
	if e.metrics != nil {
		e.metrics.UpdateWorkerPoolStats(e.opts.Concurrency, len(chains))
	}

	var wg sync.WaitGroup
	for _, chain := range chains {
		wg.Add(1)
		go func(chain []*domain.Component) {
			defer wg.Done()
			err := pool.SubmitAndWait(ctx, e.job(chain))
			if err != nil {
				e.recordMissing(rep, chain, err)
			}
		}(chain)
	}
	wg.Wait()
	pool.Stop()

	// 报告必须覆盖所有请求的组件
	e.recordMissing(rep, comps, errNotProcessed)

	return rep, e.finish(ctx, rep)
}

func (e *Engine) recordMissing(rep *report.Report, comps []*domain.Component, err error) {
	for _, c := range comps {
		if _, ok := rep.Get(c.ID); !ok {
			e.record(rep, failure(c, err))
		}
	}
}

// job 串行任务的超时按组件数放大
func (e *Engine) job(chain []*domain.Component) *worker.Job {
	j := &worker.Job{ID: chain[len(chain)-1].ID, Payload: chain}
	if len(chain) > 1 && e.opts.JobTimeout > 0 {
		j.Timeout = e.opts.JobTimeout * time.Duration(len(chain))
	}
	return j
}

// chains 把组件分成任务
// 会改动 python 环境的组件（python 包，以及客户端是 python 包的成对服务端）合成一个串行任务：
// 先装成对工具的客户端，再装其他包，最后对齐服务端，后装的包带动客户端版本时服务端仍能对齐。
// 其余成对工具的客户端与服务端串行在同一个任务中，剩下的组件各自一个任务。
func (e *Engine) chains(comps []*domain.Component) [][]*domain.Component {
	present := make(map[string]*domain.Component, len(comps))
	for _, c := range comps {
		present[c.ID] = c
	}

	// 被某个服务端带走的客户端
	claimed := make(map[string]bool)
	for _, c := range comps {
		if c.IsPaired() && present[c.PairedWith] != nil {
			claimed[c.PairedWith] = true
		}
	}

	var out [][]*domain.Component
	var clients, packages, servers []*domain.Component
	seen := make(map[string]bool)
	for _, c := range comps {
		if seen[c.ID] {
			continue
		}
		seen[c.ID] = true

		switch {
		case c.IsPaired() && e.hasPythonClient(c):
			servers = append(servers, c)
		case c.Kind == domain.KindPythonPackage && claimed[c.ID]:
			clients = append(clients, c)
		case c.Kind == domain.KindPythonPackage:
			packages = append(packages, c)
		case claimed[c.ID]:
		case c.IsPaired() && present[c.PairedWith] != nil:
			out = append(out, []*domain.Component{present[c.PairedWith], c})
		default:
			out = append(out, []*domain.Component{c})
		}
	}

	env := make([]*domain.Component, 0, len(clients)+len(packages)+len(servers))
	env = append(append(append(env, clients...), packages...), servers...)
	if len(env) > 0 {
		out = append([][]*domain.Component{env}, out...)
	}
	return out
}

func (e *Engine) hasPythonClient(server *domain.Component) bool {
	client, ok := e.catalog.Component(server.PairedWith)
	return ok && client.Kind == domain.KindPythonPackage
}

// runChain 按顺序执行一个任务中的组件
// pythonErr 非空表示解释器不可用，python 包直接失败。
func (e *Engine) runChain(ctx context.Context, rep *report.Report, chain []*domain.Component, force bool, pythonErr error) {
	done := make(map[string]domain.InstallationRecord, len(chain))
	for _, comp := range chain {
		if comp.IsPaired() {
			clientRec, ok := done[comp.PairedWith]
			var rec *domain.InstallationRecord
			if ok {
				rec = &clientRec
			}
			e.runServer(ctx, rep, comp, rec, force, pythonErr)
			continue
		}

		var rec domain.InstallationRecord
		if pythonErr != nil && comp.Kind == domain.KindPythonPackage {
			rec = failure(comp, pythonErr)
		} else {
			rec = e.installOne(ctx, comp, force)
		}
		e.record(rep, rec)
		done[comp.ID] = rec
	}
}

// runServer 对齐并安装成对工具的服务端
// clientRec 为空表示客户端不在本次组件集合中，按当前安装的客户端版本对齐。
func (e *Engine) runServer(ctx context.Context, rep *report.Report, server *domain.Component, clientRec *domain.InstallationRecord, force bool, pythonErr error) {
	client, ok := e.catalog.Component(server.PairedWith)
	if !ok {
		e.record(rep, failure(server, &domain.ConfigurationError{
			Field: "paired_with", Value: server.PairedWith, Reason: "unknown client component",
		}))
		return
	}

	if clientRec != nil && clientRec.Status == domain.StatusFailed {
		e.record(rep, domain.InstallationRecord{
			ID:               server.ID,
			Kind:             server.Kind,
			RequestedVersion: server.Constraint,
			Status:           domain.StatusSkipped,
			Error:            fmt.Sprintf("client %s failed: %s", client.ID, clientRec.Error),
		})
		return
	}
	if clientRec == nil && pythonErr != nil && client.Kind == domain.KindPythonPackage {
		e.record(rep, failure(server, pythonErr))
		return
	}

	// 以客户端此刻实际安装的版本为准：同一任务中后装的包可能带动了客户端
	p := e.deps.Prober.Check(ctx, client)
	current := domain.InstallationRecord{ID: client.ID, ResolvedVersion: p.Version}
	if clientRec != nil {
		current = *clientRec
		if p.Present && p.Version != "" && p.Version != clientRec.ResolvedVersion {
			e.logger.WithFields(logrus.Fields{
				"component": client.ID,
				"recorded":  clientRec.ResolvedVersion,
				"installed": p.Version,
			}).Warn("Client version changed by a later package install")
			current.ResolvedVersion = p.Version
		}
	}

	serverRec := e.installServer(ctx, client, server, force, &current)
	if clientRec != nil && current != *clientRec {
		e.record(rep, current)
	}
	e.record(rep, serverRec)
}

// installOne 安装单个非成对组件
func (e *Engine) installOne(ctx context.Context, comp *domain.Component, force bool) domain.InstallationRecord {
	rec := domain.InstallationRecord{
		ID:               comp.ID,
		Kind:             comp.Kind,
		RequestedVersion: comp.Constraint,
	}

	if !force {
		p := e.deps.Prober.Check(ctx, comp)
		if ok, _ := probe.Satisfies(comp, p); ok {
			rec.Status = domain.StatusAlreadyPresent
			rec.ResolvedVersion = p.Version
			rec.Path = p.Path
			return rec
		}
	}

	ver, path, err := e.acquire(ctx, comp)
	if err != nil {
		out := failure(comp, err)
		out.ResolvedVersion = ver
		return out
	}

	post := e.deps.Prober.Check(ctx, comp)
	if err := confirm(comp, post, ver); err != nil {
		out := failure(comp, err)
		out.ResolvedVersion = ver
		return out
	}

	rec.Status = domain.StatusInstalled
	rec.ResolvedVersion = ver
	rec.Path = path
	if rec.Path == "" {
		rec.Path = post.Path
	}
	return rec
}

// acquire 解析版本并下载安装，返回安装的版本与路径
func (e *Engine) acquire(ctx context.Context, comp *domain.Component) (string, string, error) {
	target := platform.TargetFor(comp, e.platform, e.opts.DeviceArch)
	if comp.Source.UsesPlatformTokens() && !target.Supported() {
		return "", "", &domain.UnsupportedPlatformError{Component: comp.ID, Platform: target.Key()}
	}
	pin, _ := version.ExactPin(comp.Constraint)

	cands, err := e.deps.Releases.Resolve(ctx, comp, target, pin)
	if err != nil {
		return "", "", err
	}
	cand, err := pick(comp, target, cands)
	if err != nil {
		return "", "", err
	}

	switch {
	case comp.Kind == domain.KindPythonPackage:
		if err := e.deps.Packages.Install(ctx, packageName(comp), cand.Version); err != nil {
			return cand.Version, "", err
		}
		return cand.Version, "", nil
	case comp.Source.Type == domain.SourceGit:
		if e.deps.Repos == nil {
			return cand.Version, "", &domain.ConfigurationError{Field: "source", Value: string(comp.Source.Type), Reason: "no git installer configured"}
		}
		path, err := e.deps.Repos.Clone(ctx, cand, comp)
		return cand.Version, path, err
	}

	path, err := e.deps.Fetcher.Install(ctx, cand, comp)
	return cand.Version, path, err
}

// installServer 安装成对工具的服务端，版本必须与客户端逐字节一致
// 对齐过程中客户端被重新固定时更新 clientRec。
func (e *Engine) installServer(ctx context.Context, client, server *domain.Component, force bool, clientRec *domain.InstallationRecord) domain.InstallationRecord {
	clientVersion := clientRec.ResolvedVersion

	if !force && clientVersion != "" {
		p := e.deps.Prober.Check(ctx, server)
		if p.Present && p.Version == clientVersion {
			return domain.InstallationRecord{
				ID:               server.ID,
				Kind:             server.Kind,
				RequestedVersion: clientVersion,
				ResolvedVersion:  p.Version,
				Status:           domain.StatusAlreadyPresent,
				Path:             p.Path,
			}
		}
	}

	target := platform.TargetFor(server, e.platform, e.opts.DeviceArch)
	res, err := e.reconciler.Reconcile(ctx, client, server, target)
	if err != nil {
		out := failure(server, err)
		out.RequestedVersion = clientVersion
		return out
	}

	if res.Repinned {
		clientRec.ResolvedVersion = res.ClientVersion
		clientRec.Status = domain.StatusInstalled
		clientRec.Timestamp = time.Now().UTC()
	}

	rec := domain.InstallationRecord{
		ID:               server.ID,
		Kind:             server.Kind,
		RequestedVersion: res.ClientVersion,
		ResolvedVersion:  res.Server.Version,
	}

	path, err := e.deps.Fetcher.Install(ctx, res.Server, server)
	if err != nil {
		out := failure(server, err)
		out.RequestedVersion = res.ClientVersion
		out.ResolvedVersion = res.Server.Version
		return out
	}

	post := e.deps.Prober.Check(ctx, server)
	if !post.Present || post.Version != res.ClientVersion {
		have := post.Version
		if !post.Present {
			have = "none"
		}
		out := failure(server, &domain.VersionMismatchError{Component: server.ID, Have: have, Want: res.ClientVersion})
		out.RequestedVersion = res.ClientVersion
		out.ResolvedVersion = res.Server.Version
		return out
	}

	rec.Status = domain.StatusInstalled
	rec.Path = path
	return rec
}

// pick 选出满足约束的最新候选
func pick(comp *domain.Component, target domain.PlatformInfo, cands []domain.AssetCandidate) (domain.AssetCandidate, error) {
	for _, c := range cands {
		ok, err := version.Satisfies(comp.VersionFamily, c.Version, comp.Constraint)
		if err == nil && ok {
			return c, nil
		}
	}
	return domain.AssetCandidate{}, &domain.AssetNotFoundError{
		Component: comp.ID,
		Platform:  target.Key(),
		Version:   comp.Constraint,
	}
}

// confirm 安装后的校验：必须能探测到，且版本与安装的版本一致
func confirm(comp *domain.Component, post domain.Presence, installed string) error {
	if !post.Present {
		detail := post.Detail
		if detail == "" {
			detail = "not found after install"
		}
		return &domain.VersionMismatchError{Component: comp.ID, Have: "none (" + detail + ")", Want: installed}
	}
	if post.Version == "" || installed == "" {
		return nil
	}
	if !sameVersion(comp.VersionFamily, post.Version, installed) {
		return &domain.VersionMismatchError{Component: comp.ID, Have: post.Version, Want: installed}
	}
	return nil
}

func sameVersion(family, a, b string) bool {
	if a == b {
		return true
	}
	ta, errA := version.Parse(family, a)
	tb, errB := version.Parse(family, b)
	if errA != nil || errB != nil {
		return false
	}
	return ta.Compare(tb) == 0
}

func packageName(comp *domain.Component) string {
	if comp.Source.Package != "" {
		return comp.Source.Package
	}
	return comp.ID
}
