package release

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/apk-analysis/toolsetup/internal/domain"
	"github.com/apk-analysis/toolsetup/internal/version"
)

type pypiFile struct {
	Filename string            `json:"filename"`
	Yanked   bool              `json:"yanked"`
	Digests  map[string]string `json:"digests"`
}

type pypiProject struct {
	Info struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"info"`
	Releases map[string][]pypiFile `json:"releases"`
}

// PyPISource PyPI JSON API 发布源
// 候选项没有下载地址，实际安装交给 pip。
type PyPISource struct {
	client   *HTTPClient
	indexURL string
}

// NewPyPISource 创建 PyPI 发布源
func NewPyPISource(client *HTTPClient, indexURL string) *PyPISource {
	return &PyPISource{client: client, indexURL: strings.TrimRight(indexURL, "/")}
}

// List 列出所有未撤回的正式版本
func (s *PyPISource) List(ctx context.Context, comp *domain.Component, target domain.PlatformInfo) ([]domain.AssetCandidate, error) {
	project, err := s.fetch(ctx, comp)
	if err != nil {
		return nil, err
	}

	var out []domain.AssetCandidate
	for ver, files := range project.Releases {
		if !published(files) || version.IsPrerelease(comp.VersionFamily, ver) {
			continue
		}
		out = append(out, candidate(comp, ver))
	}
	return out, nil
}

// Pinned 预发布版本只有在被显式指定时才会被选中
func (s *PyPISource) Pinned(ctx context.Context, comp *domain.Component, target domain.PlatformInfo, ver string) ([]domain.AssetCandidate, error) {
	project, err := s.fetch(ctx, comp)
	if err != nil {
		return nil, err
	}
	if files, ok := project.Releases[ver]; ok && published(files) {
		return []domain.AssetCandidate{candidate(comp, ver)}, nil
	}
	return nil, nil
}

func (s *PyPISource) fetch(ctx context.Context, comp *domain.Component) (*pypiProject, error) {
	name := comp.Source.Package
	if name == "" {
		name = comp.ID
	}
	endpoint := fmt.Sprintf("%s/pypi/%s/json", s.indexURL, url.PathEscape(name))

	var project pypiProject
	if err := s.client.GetJSON(ctx, endpoint, &project); err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) && statusErr.IsNotFound() {
			return &pypiProject{}, nil
		}
		return nil, err
	}
	return &project, nil
}

func candidate(comp *domain.Component, ver string) domain.AssetCandidate {
	name := comp.Source.Package
	if name == "" {
		name = comp.ID
	}
	return domain.AssetCandidate{
		ToolID:    comp.ID,
		Version:   ver,
		Name:      name + "==" + ver,
		Integrity: domain.Integrity{Algorithm: domain.IntegrityNone},
	}
}

// published 至少有一个未撤回的文件
func published(files []pypiFile) bool {
	for _, f := range files {
		if !f.Yanked {
			return true
		}
	}
	return false
}
