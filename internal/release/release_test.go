package release

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/apk-analysis/toolsetup/internal/domain"
	"github.com/apk-analysis/toolsetup/internal/retry"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	linuxX64     = domain.PlatformInfo{OS: domain.OSLinux, Arch: domain.ArchX8664}
	androidArm64 = domain.PlatformInfo{OS: domain.OSAndroid, Arch: domain.ArchARM64}
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func testRetry() *retry.Config {
	cfg := retry.DefaultConfig()
	cfg.InitialInterval = time.Millisecond
	cfg.MaxInterval = 2 * time.Millisecond
	cfg.Logger = testLogger()
	cfg.Limit = domain.AttemptLimit
	return cfg
}

func fridaServer() *domain.Component {
	return &domain.Component{
		ID:            "frida-server",
		Kind:          domain.KindPairedTool,
		TargetDir:     "frida-server",
		VersionFamily: "semver",
		PairedWith:    "frida",
		DeviceSide:    true,
		Source: domain.SourceSpec{
			Type:         domain.SourceGitHub,
			Repo:         "frida/frida",
			AssetPattern: `frida-server-{{version}}-{{os}}-{{arch}}\.xz`,
			ArchTokens:   map[string]string{"arm64": "arm64", "armv7": "arm", "x86": "x86", "x86_64": "x86_64"},
		},
	}
}

const fridaReleases = `[
  {"tag_name": "17.0.0", "prerelease": true, "assets": [
    {"name": "frida-server-17.0.0-android-arm64.xz", "browser_download_url": "https://dl/17.0.0", "size": 10}]},
  {"tag_name": "16.5.9", "assets": [
    {"name": "frida-server-16.5.9-android-arm64.xz", "browser_download_url": "https://dl/16.5.9-arm64", "size": 7000000,
     "digest": "sha256:ABCDEF"},
    {"name": "frida-server-16.5.9-android-arm.xz", "browser_download_url": "https://dl/16.5.9-arm", "size": 6000000}]},
  {"tag_name": "16.10.1", "assets": [
    {"name": "frida-server-16.10.1-android-arm64.xz", "browser_download_url": "https://dl/16.10.1", "size": 7100000}]},
  {"tag_name": "16.5.8", "assets": [
    {"name": "frida-server-16.5.8-android-x86.xz", "browser_download_url": "https://dl/16.5.8-x86", "size": 1}]}
]`

func newGitHubResolver(t *testing.T, handler http.HandlerFunc) (*Resolver, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := NewHTTPClient(5*time.Second, "toolsetup-test", "ghp_secret", strings.TrimPrefix(srv.URL, "http://"))
	r := NewResolver(testRetry(), testLogger())
	r.Register(domain.SourceGitHub, NewGitHubSource(client, srv.URL, 30))
	return r, srv
}

func TestGitHub_ResolveNewestFirst(t *testing.T) {
	var auth string
	r, _ := newGitHubResolver(t, func(w http.ResponseWriter, req *http.Request) {
		auth = req.Header.Get("Authorization")
		assert.Equal(t, "/repos/frida/frida/releases", req.URL.Path)
		assert.Equal(t, "30", req.URL.Query().Get("per_page"))
		fmt.Fprint(w, fridaReleases)
	})

	cands, err := r.Resolve(context.Background(), fridaServer(), androidArm64, "")
	require.NoError(t, err)
	require.Len(t, cands, 2, "prerelease and other-arch releases are skipped")

	assert.Equal(t, "16.10.1", cands[0].Version)
	assert.Equal(t, "16.5.9", cands[1].Version)
	assert.Equal(t, "frida-server-16.5.9-android-arm64.xz", cands[1].Name)
	assert.Equal(t, domain.Integrity{Algorithm: domain.IntegritySHA256, Digest: "abcdef", Size: 7000000}, cands[1].Integrity)
	assert.Equal(t, domain.Integrity{Algorithm: domain.IntegritySize, Size: 7100000}, cands[0].Integrity)
	assert.Equal(t, "android-arm64", cands[0].Platform)
	assert.Equal(t, "Bearer ghp_secret", auth)
}

func TestGitHub_PinAndCache(t *testing.T) {
	var calls int32
	r, _ := newGitHubResolver(t, func(w http.ResponseWriter, req *http.Request) {
		atomic.AddInt32(&calls, 1)
		switch req.URL.Path {
		case "/repos/frida/frida/releases":
			fmt.Fprint(w, fridaReleases)
		case "/repos/frida/frida/releases/tags/15.2.2":
			fmt.Fprint(w, `{"tag_name": "15.2.2", "assets": [
			  {"name": "frida-server-15.2.2-android-arm64.xz", "browser_download_url": "https://dl/15.2.2", "size": 5}]}`)
		default:
			http.NotFound(w, req)
		}
	})
	ctx := context.Background()

	cands, err := r.Resolve(ctx, fridaServer(), androidArm64, "16.5.9")
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, "https://dl/16.5.9-arm64", cands[0].URL)

	_, err = r.Resolve(ctx, fridaServer(), androidArm64, "16.10.1")
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "listing is cached per run")

	cands, err = r.Resolve(ctx, fridaServer(), androidArm64, "15.2.2")
	require.NoError(t, err)
	assert.Equal(t, "15.2.2", cands[0].Version)

	_, err = r.Resolve(ctx, fridaServer(), androidArm64, "1.0.0")
	var notFound *domain.AssetNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "1.0.0", notFound.Version)
	assert.False(t, notFound.Transient)
}

func TestGitHub_RateLimitRetried(t *testing.T) {
	var calls int32
	r, _ := newGitHubResolver(t, func(w http.ResponseWriter, req *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.WriteHeader(http.StatusForbidden)
			return
		}
		fmt.Fprint(w, fridaReleases)
	})

	cands, err := r.Resolve(context.Background(), fridaServer(), androidArm64, "")
	require.NoError(t, err)
	assert.NotEmpty(t, cands)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestGitHub_ServerErrorExhaustsRetries(t *testing.T) {
	var calls int32
	r, _ := newGitHubResolver(t, func(w http.ResponseWriter, req *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := r.Resolve(context.Background(), fridaServer(), androidArm64, "")
	var notFound *domain.AssetNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.True(t, notFound.Transient)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Equal(t, domain.ErrorKindAssetNotFound, domain.KindOf(err))
}

func TestGitHub_UnsupportedPlatform(t *testing.T) {
	r, _ := newGitHubResolver(t, func(w http.ResponseWriter, req *http.Request) {
		t.Fatal("no request expected")
	})

	_, err := r.Resolve(context.Background(), fridaServer(), domain.PlatformInfo{OS: domain.OSAndroid, Arch: "mips"}, "")
	assert.Equal(t, domain.ErrorKindUnsupportedPlatform, domain.KindOf(err))
}

func TestPyPI_List(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		assert.Empty(t, req.Header.Get("Authorization"), "token is only sent to the GitHub host")
		require.Equal(t, "/pypi/frida/json", req.URL.Path)
		fmt.Fprint(w, `{"info": {"name": "frida", "version": "16.5.9"}, "releases": {
			"16.5.9": [{"filename": "frida-16.5.9.tar.gz", "yanked": false}],
			"16.5.8": [{"filename": "frida-16.5.8.tar.gz", "yanked": true}],
			"16.4.0": [],
			"17.0.0rc1": [{"filename": "frida-17.0.0rc1.tar.gz"}],
			"16.10.0": [{"filename": "frida-16.10.0.tar.gz"}]}}`)
	}))
	defer srv.Close()

	client := NewHTTPClient(5*time.Second, "toolsetup-test", "ghp_secret", "api.github.com")
	r := NewResolver(testRetry(), testLogger())
	r.Register(domain.SourcePyPI, NewPyPISource(client, srv.URL))

	frida := &domain.Component{ID: "frida", Kind: domain.KindPythonPackage, VersionFamily: "pep440",
		Source: domain.SourceSpec{Type: domain.SourcePyPI, Package: "frida"}}

	versions, err := r.Versions(context.Background(), frida, linuxX64)
	require.NoError(t, err)
	assert.Equal(t, []string{"16.10.0", "16.5.9"}, versions)

	cands, err := r.Resolve(context.Background(), frida, linuxX64, "17.0.0rc1")
	require.NoError(t, err)
	assert.Equal(t, "frida==17.0.0rc1", cands[0].Name)
	assert.Empty(t, cands[0].URL)
}

const androidRepositoryXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<sdk:sdk-repository xmlns:sdk="http://schemas.android.com/sdk/android/repo/repository2/03">
  <channel id="channel-0">stable</channel>
  <remotePackage path="platform-tools">
    <revision><major>35</major><minor>0</minor><micro>2</micro></revision>
    <channelRef ref="channel-0"/>
    <archives>
      <archive>
        <complete><size>6677446</size><checksum type="sha1">ABC123</checksum><url>platform-tools_r35.0.2-darwin.zip</url></complete>
        <host-os>macosx</host-os>
      </archive>
      <archive>
        <complete><size>6500000</size><checksum type="sha1">def456</checksum><url>platform-tools_r35.0.2-linux.zip</url></complete>
        <host-os>linux</host-os>
      </archive>
    </archives>
  </remotePackage>
  <remotePackage path="platform-tools">
    <revision><major>36</major><minor>0</minor><micro>0</micro><preview>1</preview></revision>
    <channelRef ref="channel-2"/>
    <archives><archive><complete><size>1</size><checksum>00</checksum><url>preview.zip</url></complete><host-os>linux</host-os></archive></archives>
  </remotePackage>
  <remotePackage path="build-tools;34.0.0">
    <revision><major>34</major></revision>
    <archives><archive><complete><size>1</size><checksum>11</checksum><url>bt.zip</url></complete></archive></archives>
  </remotePackage>
</sdk:sdk-repository>`

func TestAndroidRepository_List(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		require.Equal(t, "/repository2-3.xml", req.URL.Path)
		fmt.Fprint(w, androidRepositoryXML)
	}))
	defer srv.Close()

	client := NewHTTPClient(5*time.Second, "toolsetup-test", "", "")
	r := NewResolver(testRetry(), testLogger())
	r.Register(domain.SourceAndroidRepository, NewAndroidRepositorySource(client, srv.URL))

	comp := &domain.Component{
		ID: "platform-tools", Kind: domain.KindArchiveTool, TargetDir: "platform-tools", VersionFamily: "android-revision",
		Source: domain.SourceSpec{
			Type:     domain.SourceAndroidRepository,
			Package:  "platform-tools",
			OSTokens: map[string]string{"linux": "linux", "macos": "macosx", "windows": "windows"},
		},
	}

	cands, err := r.Resolve(context.Background(), comp, domain.PlatformInfo{OS: domain.OSMacOS, Arch: domain.ArchARM64}, "")
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, "35.0.2", cands[0].Version)
	assert.Equal(t, srv.URL+"/platform-tools_r35.0.2-darwin.zip", cands[0].URL)
	assert.Equal(t, domain.Integrity{Algorithm: domain.IntegritySHA1, Digest: "abc123", Size: 6677446}, cands[0].Integrity)
}

func TestResolve_UnregisteredSource(t *testing.T) {
	r := NewResolver(testRetry(), testLogger())
	_, err := r.Resolve(context.Background(), fridaServer(), androidArm64, "")
	assert.Equal(t, domain.ErrorKindConfiguration, domain.KindOf(err))
}

func TestRenderPattern(t *testing.T) {
	assert.Equal(t, `^frida-server-16\.5\.9-android-arm64\.xz$`,
		renderPattern(`frida-server-{{version}}-{{os}}-{{arch}}\.xz`, "16.5.9", "android", "arm64"))
}
