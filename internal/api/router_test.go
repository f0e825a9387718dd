package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/apk-analysis/toolsetup/internal/api/handlers"
	"github.com/apk-analysis/toolsetup/internal/catalog"
	"github.com/apk-analysis/toolsetup/internal/config"
	"github.com/apk-analysis/toolsetup/internal/domain"
	"github.com/apk-analysis/toolsetup/internal/metrics"
	"github.com/apk-analysis/toolsetup/internal/report"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubEngine struct {
	cat *catalog.Catalog
}

func (s *stubEngine) Catalog() *catalog.Catalog { return s.cat }
func (s *stubEngine) Platform() domain.PlatformInfo {
	return domain.PlatformInfo{OS: domain.OSMacOS, Arch: domain.ArchARM64}
}
func (s *stubEngine) ReportPath() string { return "" }
func (s *stubEngine) Resolve(p domain.InstallProfile, o catalog.Overrides) ([]*domain.Component, error) {
	return s.cat.Resolve(p, o)
}
func (s *stubEngine) InstallProfile(context.Context, domain.InstallProfile, catalog.Overrides, bool) (*report.Report, error) {
	return nil, nil
}
func (s *stubEngine) Verify(context.Context, []*domain.Component) (*report.Report, error) {
	return nil, nil
}
func (s *stubEngine) VerifyFromReport(context.Context) (*report.Report, error) {
	return nil, nil
}

func setupRouter(t *testing.T, token string) http.Handler {
	cat, err := catalog.Default()
	require.NoError(t, err)

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	cfg := &config.Config{Server: config.ServerConfig{Mode: "release", Token: token}}
	runHandler := handlers.NewRunHandler(context.Background(), &stubEngine{cat: cat}, nil, "recommended", logger)
	return SetupRouter(cfg, logger, runHandler, nil, metrics.NewPrometheusMetrics(logger, "router_test"))
}

// TestSetupRouter_Auth 测试配置 token 后 API 需要认证
func TestSetupRouter_Auth(t *testing.T) {
	router := setupRouter(t, "s3cret-token")

	tests := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"health is public", "/health", "", http.StatusOK},
		{"missing token", "/api/v1/profiles", "", http.StatusUnauthorized},
		{"malformed header", "/api/v1/profiles", "s3cret-token", http.StatusUnauthorized},
		{"wrong token", "/api/v1/profiles", "Bearer nope", http.StatusUnauthorized},
		{"valid token", "/api/v1/profiles", "Bearer s3cret-token", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

// TestSetupRouter_NoToken 测试未配置 token 时无需认证
func TestSetupRouter_NoToken(t *testing.T) {
	router := setupRouter(t, "")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/profiles", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "router_test_")
}

// TestCORSMiddleware_Preflight 测试预检请求
func TestCORSMiddleware_Preflight(t *testing.T) {
	router := setupRouter(t, "")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("OPTIONS", "/api/v1/install", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
