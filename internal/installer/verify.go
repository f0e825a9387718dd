package installer

import (
	"context"
	"fmt"

	"github.com/apk-analysis/toolsetup/internal/domain"
	"github.com/apk-analysis/toolsetup/internal/probe"
	"github.com/apk-analysis/toolsetup/internal/report"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Verify 只运行校验探针，不下载任何内容
// 满足约束的组件记为 installed，缺失或不满足的记为 failed（version_mismatch）。
func (e *Engine) Verify(ctx context.Context, comps []*domain.Component) (*report.Report, error) {
	return e.verify(ctx, "", comps)
}

// VerifyFromReport 以上一次的报告为唯一数据源重新校验
func (e *Engine) VerifyFromReport(ctx context.Context) (*report.Report, error) {
	prev, err := report.Load(e.writer.Path())
	if err != nil {
		return nil, fmt.Errorf("load installation report: %w", err)
	}

	var (
		comps   []*domain.Component
		unknown []string
	)
	for _, id := range recordIDs(prev) {
		comp, ok := e.catalog.Component(id)
		if !ok {
			unknown = append(unknown, id)
			continue
		}
		comps = append(comps, comp)
	}

	e.logger.WithFields(logrus.Fields{
		"previous_run": prev.RunID(),
		"profile":      prev.Profile(),
		"components":   len(comps),
	}).Info("Verifying from installation report")

	return e.verifyWith(ctx, prev.Profile(), comps, func(rep *report.Report) {
		for _, id := range unknown {
			e.record(rep, domain.InstallationRecord{
				ID:     id,
				Kind:   prevKind(prev, id),
				Status: domain.StatusFailed,
				Error: (&domain.ConfigurationError{
					Field: "component", Value: id, Reason: "not in component catalog",
				}).Error(),
				ErrorKind: domain.ErrorKindConfiguration,
			})
		}
	})
}

func recordIDs(rep *report.Report) []string {
	recs := rep.Records()
	ids := make([]string, 0, len(recs))
	for _, r := range recs {
		ids = append(ids, r.ID)
	}
	return ids
}

func prevKind(rep *report.Report, id string) domain.ComponentKind {
	rec, _ := rep.Get(id)
	if rec.Kind == "" {
		return domain.KindPlatformBinary
	}
	return rec.Kind
}

func (e *Engine) verify(ctx context.Context, profile string, comps []*domain.Component) (*report.Report, error) {
	return e.verifyWith(ctx, profile, comps, nil)
}

func (e *Engine) verifyWith(ctx context.Context, profile string, comps []*domain.Component, extra func(*report.Report)) (*report.Report, error) {
	rep := report.New(report.ModeVerify, profile, e.platform, e.opts.ToolsDir)
	e.publish(Event{Type: EventRunStarted, RunID: rep.RunID(), Mode: rep.Mode()})

	presences := e.probeAll(ctx, comps)
	for _, comp := range comps {
		e.record(rep, e.verdict(ctx, comp, presences))
	}
	if extra != nil {
		extra(rep)
	}

	return rep, e.finish(ctx, rep)
}

// probeAll 并发探测，成对服务端的客户端即使不在集合中也会被探测
func (e *Engine) probeAll(ctx context.Context, comps []*domain.Component) map[string]domain.Presence {
	targets := make([]*domain.Component, 0, len(comps))
	seen := make(map[string]bool)
	add := func(c *domain.Component) {
		if !seen[c.ID] {
			seen[c.ID] = true
			targets = append(targets, c)
		}
	}
	for _, c := range comps {
		add(c)
		if c.IsPaired() {
			if client, ok := e.catalog.Component(c.PairedWith); ok {
				add(client)
			}
		}
	}

	results := make([]domain.Presence, len(targets))
	var g errgroup.Group
	g.SetLimit(e.opts.Concurrency)
	for i, c := range targets {
		g.Go(func() error {
			results[i] = e.deps.Prober.Check(ctx, c)
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[string]domain.Presence, len(targets))
	for i, c := range targets {
		out[c.ID] = results[i]
	}
	return out
}

func (e *Engine) verdict(ctx context.Context, comp *domain.Component, presences map[string]domain.Presence) domain.InstallationRecord {
	p := presences[comp.ID]
	rec := domain.InstallationRecord{
		ID:               comp.ID,
		Kind:             comp.Kind,
		RequestedVersion: comp.Constraint,
		ResolvedVersion:  p.Version,
		Path:             p.Path,
	}

	if ctx.Err() != nil {
		return failure(comp, ctx.Err())
	}

	want := comp.Constraint
	if want == "" {
		want = "installed"
	}

	if !p.Present {
		have := "none"
		if p.Detail != "" {
			have = "none (" + p.Detail + ")"
		}
		return failure(comp, &domain.VersionMismatchError{Component: comp.ID, Have: have, Want: want})
	}

	ok, err := probe.Satisfies(comp, p)
	if err != nil || !ok {
		have := p.Version
		if have == "" {
			have = "unknown"
		}
		out := failure(comp, &domain.VersionMismatchError{Component: comp.ID, Have: have, Want: want})
		out.ResolvedVersion = p.Version
		return out
	}

	if comp.IsPaired() {
		client := presences[comp.PairedWith]
		if !client.Present || client.Version != p.Version {
			clientVersion := client.Version
			if !client.Present {
				clientVersion = "none"
			}
			out := failure(comp, &domain.VersionMismatchError{Component: comp.ID, Have: p.Version, Want: comp.PairedWith + " " + clientVersion})
			out.RequestedVersion = client.Version
			out.ResolvedVersion = p.Version
			return out
		}
		rec.RequestedVersion = client.Version
	}

	rec.Status = domain.StatusInstalled
	return rec
}
