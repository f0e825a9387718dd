package release

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/apk-analysis/toolsetup/internal/domain"
	"github.com/apk-analysis/toolsetup/internal/platform"
)

// ghRelease GitHub 发布载荷中用到的字段
type ghRelease struct {
	TagName    string    `json:"tag_name"`
	Draft      bool      `json:"draft"`
	Prerelease bool      `json:"prerelease"`
	Assets     []ghAsset `json:"assets"`
}

type ghAsset struct {
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
	Size               int64  `json:"size"`
	Digest             string `json:"digest"` // sha256:<hex>，旧发布可能为空
}

// GitHubSource GitHub Releases 发布源
type GitHubSource struct {
	client  *HTTPClient
	apiBase string
	perPage int
}

// NewGitHubSource 创建 GitHub 发布源
func NewGitHubSource(client *HTTPClient, apiBase string, perPage int) *GitHubSource {
	if perPage <= 0 {
		perPage = 30
	}
	return &GitHubSource{
		client:  client,
		apiBase: strings.TrimRight(apiBase, "/"),
		perPage: perPage,
	}
}

// List 列出最近的正式发布中匹配平台的资产
func (s *GitHubSource) List(ctx context.Context, comp *domain.Component, target domain.PlatformInfo) ([]domain.AssetCandidate, error) {
	osToken, archToken, err := platform.Tokens(comp, target)
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/repos/%s/releases?per_page=%d", s.apiBase, comp.Source.Repo, s.perPage)
	var releases []ghRelease
	if err := s.client.GetJSON(ctx, endpoint, &releases); err != nil {
		return nil, err
	}

	var out []domain.AssetCandidate
	for _, rel := range releases {
		if rel.Draft || rel.Prerelease {
			continue
		}
		cand, ok, err := s.match(comp, rel, target, osToken, archToken)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, cand)
		}
	}
	return out, nil
}

// Pinned 按标签查询指定版本
func (s *GitHubSource) Pinned(ctx context.Context, comp *domain.Component, target domain.PlatformInfo, ver string) ([]domain.AssetCandidate, error) {
	osToken, archToken, err := platform.Tokens(comp, target)
	if err != nil {
		return nil, err
	}

	tag := url.PathEscape(comp.Source.TagPrefix + ver)
	endpoint := fmt.Sprintf("%s/repos/%s/releases/tags/%s", s.apiBase, comp.Source.Repo, tag)
	var rel ghRelease
	if err := s.client.GetJSON(ctx, endpoint, &rel); err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) && statusErr.IsNotFound() {
			return nil, nil
		}
		return nil, err
	}

	cand, ok, err := s.match(comp, rel, target, osToken, archToken)
	if err != nil || !ok {
		return nil, err
	}
	return []domain.AssetCandidate{cand}, nil
}

func (s *GitHubSource) match(comp *domain.Component, rel ghRelease, target domain.PlatformInfo, osToken, archToken string) (domain.AssetCandidate, bool, error) {
	ver := strings.TrimPrefix(rel.TagName, comp.Source.TagPrefix)
	re, err := regexp.Compile(renderPattern(comp.Source.AssetPattern, ver, osToken, archToken))
	if err != nil {
		return domain.AssetCandidate{}, false, &domain.ConfigurationError{
			Field:  "asset_pattern",
			Value:  comp.Source.AssetPattern,
			Reason: err.Error(),
		}
	}

	for _, a := range rel.Assets {
		if !re.MatchString(a.Name) {
			continue
		}
		cand := domain.AssetCandidate{
			ToolID:    comp.ID,
			Version:   ver,
			Tag:       rel.TagName,
			Name:      a.Name,
			URL:       a.BrowserDownloadURL,
			Integrity: githubIntegrity(a),
		}
		if comp.Source.UsesPlatformTokens() {
			cand.Platform = target.Key()
		}
		return cand, true, nil
	}
	return domain.AssetCandidate{}, false, nil
}

// githubIntegrity 优先使用 API 提供的 sha256 摘要，否则只能校验大小
func githubIntegrity(a ghAsset) domain.Integrity {
	if algo, digest, ok := strings.Cut(a.Digest, ":"); ok && strings.EqualFold(algo, "sha256") && digest != "" {
		return domain.Integrity{Algorithm: domain.IntegritySHA256, Digest: strings.ToLower(digest), Size: a.Size}
	}
	if a.Size > 0 {
		return domain.Integrity{Algorithm: domain.IntegritySize, Size: a.Size}
	}
	return domain.Integrity{Algorithm: domain.IntegrityNone}
}
