package release

import (
	"context"
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/apk-analysis/toolsetup/internal/domain"
	"github.com/apk-analysis/toolsetup/internal/platform"
)

// Android SDK 仓库清单中用到的结构
type sdkRepository struct {
	Packages []sdkPackage `xml:"remotePackage"`
}

type sdkPackage struct {
	Path       string      `xml:"path,attr"`
	Revision   sdkRevision `xml:"revision"`
	ChannelRef struct {
		Ref string `xml:"ref,attr"`
	} `xml:"channelRef"`
	Archives []sdkArchive `xml:"archives>archive"`
}

type sdkRevision struct {
	Major   int  `xml:"major"`
	Minor   *int `xml:"minor"`
	Micro   *int `xml:"micro"`
	Preview *int `xml:"preview"`
}

type sdkArchive struct {
	HostOS   string `xml:"host-os"`
	Complete struct {
		Size     int64 `xml:"size"`
		Checksum struct {
			Type  string `xml:"type,attr"`
			Value string `xml:",chardata"`
		} `xml:"checksum"`
		URL string `xml:"url"`
	} `xml:"complete"`
}

const stableChannel = "channel-0"

// String 修订号格式 major.minor.micro
func (r sdkRevision) String() string {
	minor, micro := 0, 0
	if r.Minor != nil {
		minor = *r.Minor
	}
	if r.Micro != nil {
		micro = *r.Micro
	}
	return fmt.Sprintf("%d.%d.%d", r.Major, minor, micro)
}

// AndroidRepositorySource Android SDK 仓库清单（repository2-3.xml）发布源
type AndroidRepositorySource struct {
	client  *HTTPClient
	baseURL string
}

// NewAndroidRepositorySource 创建 Android SDK 仓库发布源
func NewAndroidRepositorySource(client *HTTPClient, baseURL string) *AndroidRepositorySource {
	return &AndroidRepositorySource{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

// List 列出稳定渠道中匹配主机系统的归档
func (s *AndroidRepositorySource) List(ctx context.Context, comp *domain.Component, target domain.PlatformInfo) ([]domain.AssetCandidate, error) {
	hostOS, _, err := platform.Tokens(comp, target)
	if err != nil {
		return nil, err
	}

	data, err := s.client.Get(ctx, s.baseURL+"/repository2-3.xml", "application/xml")
	if err != nil {
		return nil, err
	}

	var repo sdkRepository
	if err := xml.Unmarshal(data, &repo); err != nil {
		return nil, fmt.Errorf("decode android repository: %w", err)
	}

	pkgPath := comp.Source.Package
	if pkgPath == "" {
		pkgPath = comp.ID
	}

	var out []domain.AssetCandidate
	for _, pkg := range repo.Packages {
		if pkg.Path != pkgPath || pkg.Revision.Preview != nil {
			continue
		}
		if ref := pkg.ChannelRef.Ref; ref != "" && ref != stableChannel {
			continue
		}
		for _, a := range pkg.Archives {
			if a.HostOS != "" && a.HostOS != hostOS {
				continue
			}
			out = append(out, domain.AssetCandidate{
				ToolID:    comp.ID,
				Version:   pkg.Revision.String(),
				Name:      a.Complete.URL,
				URL:       s.resolveURL(a.Complete.URL),
				Integrity: sdkIntegrity(a),
				Platform:  target.Key(),
			})
			break
		}
	}
	return out, nil
}

func (s *AndroidRepositorySource) resolveURL(u string) string {
	if strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://") {
		return u
	}
	return s.baseURL + "/" + u
}

func sdkIntegrity(a sdkArchive) domain.Integrity {
	sum := strings.TrimSpace(a.Complete.Checksum.Value)
	algo := strings.ToLower(a.Complete.Checksum.Type)
	if sum != "" && (algo == "" || algo == "sha1") {
		return domain.Integrity{Algorithm: domain.IntegritySHA1, Digest: strings.ToLower(sum), Size: a.Complete.Size}
	}
	if sum != "" && (algo == "sha-256" || algo == "sha256") {
		return domain.Integrity{Algorithm: domain.IntegritySHA256, Digest: strings.ToLower(sum), Size: a.Complete.Size}
	}
	return domain.Integrity{Algorithm: domain.IntegritySize, Size: a.Complete.Size}
}
