package fetch

import (
	"archive/tar"
	"bytes"
	"context"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/apk-analysis/toolsetup/internal/domain"
	"github.com/apk-analysis/toolsetup/internal/retry"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"
)

type recordingObserver struct {
	bytes int64
}

func (o *recordingObserver) ObserveDownload(component string, n int64, d time.Duration) {
	atomic.AddInt64(&o.bytes, n)
}

func newTestExecutor(t *testing.T, opts ...Option) (*Executor, string) {
	t.Helper()
	dir := t.TempDir()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	cfg := retry.DefaultConfig()
	cfg.InitialInterval = time.Millisecond
	cfg.MaxInterval = 2 * time.Millisecond
	cfg.Logger = logger
	cfg.Limit = domain.AttemptLimit
	return NewExecutor(dir, 10*time.Second, "toolsetup-test", cfg, logger, opts...), dir
}

func xzBytes(t *testing.T, content []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := xz.NewWriter(&buf)
	require.NoError(t, err)
	_, err = w.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func zipBytes(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func tarGzBytes(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, content := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Mode: 0o644, Size: int64(len(content)), Typeflag: tar.TypeReg}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func serve(t *testing.T, body []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func fridaServerComponent() *domain.Component {
	return &domain.Component{
		ID: "frida-server", Kind: domain.KindPairedTool, TargetDir: "frida-server",
		Executables: []string{"frida-server"},
		Source:      domain.SourceSpec{Type: domain.SourceGitHub, Binary: "frida-server"},
	}
}

func TestInstall_XzBinary(t *testing.T) {
	payload := []byte("\x7fELF frida-server 16.5.9")
	asset := xzBytes(t, payload)
	srv := serve(t, asset)

	obs := &recordingObserver{}
	e, dir := newTestExecutor(t, WithObserver(obs))
	cand := domain.AssetCandidate{
		ToolID: "frida-server", Version: "16.5.9", Name: "frida-server-16.5.9-android-arm64.xz", URL: srv.URL,
		Integrity: domain.Integrity{Algorithm: domain.IntegritySHA256, Digest: sha256Hex(asset), Size: int64(len(asset))},
	}

	path, err := e.Install(context.Background(), cand, fridaServerComponent())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "frida-server"), path)

	got, err := os.ReadFile(filepath.Join(path, "frida-server"))
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	marker, err := os.ReadFile(filepath.Join(path, domain.VersionMarker))
	require.NoError(t, err)
	assert.Equal(t, "16.5.9\n", string(marker))
	assert.Equal(t, int64(len(asset)), atomic.LoadInt64(&obs.bytes))

	if runtime.GOOS != "windows" {
		info, err := os.Stat(filepath.Join(path, "frida-server"))
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())
	}
	assertNoStaging(t, dir)
}

func TestInstall_ZipFlattenedWithSHA1(t *testing.T) {
	asset := zipBytes(t, map[string]string{
		"platform-tools/adb":             "adb",
		"platform-tools/fastboot":        "fastboot",
		"platform-tools/lib64/libc++.so": "lib",
	})
	srv := serve(t, asset)
	sum := sha1.Sum(asset)

	e, dir := newTestExecutor(t)
	comp := &domain.Component{ID: "platform-tools", Kind: domain.KindArchiveTool, TargetDir: "platform-tools",
		Executables: []string{"adb", "fastboot"}}
	cand := domain.AssetCandidate{
		Version: "35.0.2", Name: "platform-tools_r35.0.2-linux.zip", URL: srv.URL,
		Integrity: domain.Integrity{Algorithm: domain.IntegritySHA1, Digest: hex.EncodeToString(sum[:]), Size: int64(len(asset))},
	}

	path, err := e.Install(context.Background(), cand, comp)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(path, "adb"))
	assert.FileExists(t, filepath.Join(path, "lib64", "libc++.so"))
	assert.NoDirExists(t, filepath.Join(path, "platform-tools"))
	assertNoStaging(t, dir)
}

func TestInstall_TarGz(t *testing.T) {
	asset := tarGzBytes(t, map[string]string{"bin/tool": "x", "lib/tool.jar": "y"})
	srv := serve(t, asset)

	e, _ := newTestExecutor(t)
	comp := &domain.Component{ID: "tool", Kind: domain.KindArchiveTool, TargetDir: "tool", Executables: []string{"bin/tool"}}
	path, err := e.Install(context.Background(), domain.AssetCandidate{Version: "1.0.0", Name: "tool-1.0.0.tar.gz", URL: srv.URL}, comp)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(path, "bin", "tool"))
	assert.FileExists(t, filepath.Join(path, "lib", "tool.jar"))
}

func TestInstall_WithLauncherScript(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/apktool_2.10.0.jar", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("PK jar")) })
	mux.HandleFunc("/scripts/linux/apktool", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("#!/bin/sh\nexec java -jar apktool.jar \"$@\"\n")) })
	mux.HandleFunc("/scripts/windows/apktool.bat", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("@echo off\r\n")) })
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	e, _ := newTestExecutor(t)
	comp := &domain.Component{ID: "apktool", Kind: domain.KindPlatformBinary, TargetDir: "apktool",
		Executables: []string{"apktool"},
		Source: domain.SourceSpec{Type: domain.SourceGitHub, Binary: "apktool.jar", Wrappers: map[string]string{
			"unix":    srv.URL + "/scripts/linux/apktool",
			"windows": srv.URL + "/scripts/windows/apktool.bat",
		}}}
	cand := domain.AssetCandidate{Version: "2.10.0", Name: "apktool_2.10.0.jar", URL: srv.URL + "/apktool_2.10.0.jar"}

	path, err := e.Install(context.Background(), cand, comp)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(path, "apktool.jar"))

	if runtime.GOOS == "windows" {
		assert.FileExists(t, filepath.Join(path, "apktool.bat"))
		return
	}
	info, err := os.Stat(filepath.Join(path, "apktool"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())
	assert.NoFileExists(t, filepath.Join(path, "apktool.bat"))
}

func TestWrapperFor(t *testing.T) {
	wrappers := map[string]string{"unix": "https://x/apktool", "windows": "https://x/apktool.bat"}

	url, ok := WrapperFor("darwin", wrappers)
	assert.True(t, ok)
	assert.Equal(t, "https://x/apktool", url)

	url, ok = WrapperFor("windows", wrappers)
	assert.True(t, ok)
	assert.Equal(t, "https://x/apktool.bat", url)

	_, ok = WrapperFor("linux", nil)
	assert.False(t, ok)
}

func TestInstall_ChecksumFailureLeavesTargetUntouched(t *testing.T) {
	asset := xzBytes(t, []byte("tampered"))
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write(asset)
	}))
	defer srv.Close()

	e, dir := newTestExecutor(t)
	existing := filepath.Join(dir, "frida-server")
	require.NoError(t, os.MkdirAll(existing, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(existing, "frida-server"), []byte("old"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(existing, domain.VersionMarker), []byte("16.5.8\n"), 0o644))

	cand := domain.AssetCandidate{
		Version: "16.5.9", Name: "frida-server-16.5.9-android-arm64.xz", URL: srv.URL,
		Integrity: domain.Integrity{Algorithm: domain.IntegritySHA256, Digest: sha256Hex([]byte("genuine"))},
	}

	_, err := e.Install(context.Background(), cand, fridaServerComponent())
	require.Error(t, err)
	assert.Equal(t, domain.ErrorKindIntegrity, domain.KindOf(err))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls), "one fresh retry after an integrity failure")

	got, err := os.ReadFile(filepath.Join(existing, "frida-server"))
	require.NoError(t, err)
	assert.Equal(t, "old", string(got))
	marker, _ := os.ReadFile(filepath.Join(existing, domain.VersionMarker))
	assert.Equal(t, "16.5.8\n", string(marker))
	assertNoStaging(t, dir)
}

func TestInstall_SizeMismatch(t *testing.T) {
	srv := serve(t, []byte("short"))
	e, _ := newTestExecutor(t)
	cand := domain.AssetCandidate{Version: "2.9.3", Name: "apktool_2.9.3.jar", URL: srv.URL,
		Integrity: domain.Integrity{Algorithm: domain.IntegritySize, Size: 1024}}

	_, err := e.Install(context.Background(), cand, &domain.Component{ID: "apktool", Kind: domain.KindPlatformBinary, TargetDir: "apktool"})
	var intErr *domain.IntegrityError
	require.ErrorAs(t, err, &intErr)
	assert.Equal(t, "1024 bytes", intErr.Expected)
}

func TestInstall_DownloadStatus(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch atomic.AddInt32(&calls, 1) {
		case 1:
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			w.Write([]byte("jar"))
		}
	}))
	defer srv.Close()

	e, _ := newTestExecutor(t)
	comp := &domain.Component{ID: "apktool", Kind: domain.KindPlatformBinary, TargetDir: "apktool",
		Source: domain.SourceSpec{Binary: "apktool.jar"}}

	path, err := e.Install(context.Background(), domain.AssetCandidate{Version: "2.9.3", Name: "apktool_2.9.3.jar", URL: srv.URL}, comp)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(path, "apktool.jar"))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))

	notFound := httptest.NewServer(http.NotFoundHandler())
	defer notFound.Close()
	_, err = e.Install(context.Background(), domain.AssetCandidate{Version: "2.9.3", Name: "apktool_2.9.3.jar", URL: notFound.URL}, comp)
	var dlErr *domain.DownloadError
	require.ErrorAs(t, err, &dlErr)
	assert.Equal(t, http.StatusNotFound, dlErr.StatusCode)
	assert.False(t, dlErr.Transient)
}

func TestInstall_ReplacesPreviousVersion(t *testing.T) {
	e, dir := newTestExecutor(t)
	comp := &domain.Component{ID: "jadx", Kind: domain.KindArchiveTool, TargetDir: "jadx"}

	first := serve(t, zipBytes(t, map[string]string{"bin/jadx": "1", "lib/old.jar": "old"}))
	_, err := e.Install(context.Background(), domain.AssetCandidate{Version: "1.4.7", Name: "jadx-1.4.7.zip", URL: first.URL}, comp)
	require.NoError(t, err)

	second := serve(t, zipBytes(t, map[string]string{"bin/jadx": "2", "lib/new.jar": "new"}))
	path, err := e.Install(context.Background(), domain.AssetCandidate{Version: "1.5.0", Name: "jadx-1.5.0.zip", URL: second.URL}, comp)
	require.NoError(t, err)

	assert.NoFileExists(t, filepath.Join(path, "lib", "old.jar"))
	assert.FileExists(t, filepath.Join(path, "lib", "new.jar"))
	assertNoStaging(t, dir)
}

func TestExtract_RejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "evil.zip")
	require.NoError(t, os.WriteFile(src, zipBytes(t, map[string]string{"../escape.txt": "x"}), 0o644))

	err := extract(src, filepath.Join(dir, "out"), "evil.zip", "")
	assert.Error(t, err)
	assert.NoFileExists(t, filepath.Join(dir, "escape.txt"))
}

func TestDetectFormat(t *testing.T) {
	assert.Equal(t, FormatZip, DetectFormat("jadx-1.5.0.zip"))
	assert.Equal(t, FormatTarGz, DetectFormat("tool.tgz"))
	assert.Equal(t, FormatTarXz, DetectFormat("tool.tar.xz"))
	assert.Equal(t, FormatXz, DetectFormat("frida-server-16.5.9-android-arm64.xz"))
	assert.Equal(t, FormatRaw, DetectFormat("apktool_2.9.3.jar"))
	assert.Equal(t, "frida-server-16.5.9-android-arm64", singleFileName("frida-server-16.5.9-android-arm64.xz", ""))
}

func assertNoStaging(t *testing.T, dir string) {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, ".fetch-*"))
	require.NoError(t, err)
	assert.Empty(t, matches, "staging directories must be removed")
}
