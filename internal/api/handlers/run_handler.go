package handlers

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strconv"
	"sync"

	"github.com/apk-analysis/toolsetup/internal/catalog"
	"github.com/apk-analysis/toolsetup/internal/domain"
	"github.com/apk-analysis/toolsetup/internal/report"
	"github.com/apk-analysis/toolsetup/internal/repository"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Engine 安装引擎
type Engine interface {
	Catalog() *catalog.Catalog
	Platform() domain.PlatformInfo
	Resolve(profile domain.InstallProfile, overrides catalog.Overrides) ([]*domain.Component, error)
	InstallProfile(ctx context.Context, profile domain.InstallProfile, overrides catalog.Overrides, force bool) (*report.Report, error)
	Verify(ctx context.Context, comps []*domain.Component) (*report.Report, error)
	VerifyFromReport(ctx context.Context) (*report.Report, error)
	ReportPath() string
}

// RunRequest 安装 / 校验请求
type RunRequest struct {
	Profile string   `json:"profile"`
	Include []string `json:"include"`
	Exclude []string `json:"exclude"`
	Force   bool     `json:"force"`
}

// RunHandler 安装、校验与历史查询
type RunHandler struct {
	engine         Engine
	history        repository.HistoryRepository // 可为 nil
	defaultProfile string
	baseCtx        context.Context
	logger         *logrus.Logger

	mu      sync.Mutex
	running bool
}

// NewRunHandler 创建处理器
// 后台安装在 baseCtx 下运行，服务关闭时随之取消。
func NewRunHandler(baseCtx context.Context, engine Engine, history repository.HistoryRepository, defaultProfile string, logger *logrus.Logger) *RunHandler {
	return &RunHandler{
		engine:         engine,
		history:        history,
		defaultProfile: defaultProfile,
		baseCtx:        baseCtx,
		logger:         logger,
	}
}

// Health 健康检查
func (h *RunHandler) Health(c *gin.Context) {
	h.mu.Lock()
	running := h.running
	h.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"platform": h.engine.Platform().Key(),
		"running":  running,
	})
}

// ListProfiles 列出安装预设及其组件
func (h *RunHandler) ListProfiles(c *gin.Context) {
	cat := h.engine.Catalog()
	profiles := make([]gin.H, 0)
	for _, p := range cat.Profiles() {
		ids, _ := cat.ProfileComponents(p)
		profiles = append(profiles, gin.H{
			"name":       p,
			"components": ids,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"profiles": profiles,
		"default":  h.defaultProfile,
	})
}

// GetReport 返回当前的安装报告
func (h *RunHandler) GetReport(c *gin.Context) {
	rep, err := report.Load(h.engine.ReportPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			c.JSON(http.StatusNotFound, gin.H{
				"status":  "error",
				"message": "no installation report yet",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"status":  "error",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, rep.Document())
}

// Verify 同步校验；带 profile 时按预设校验，否则以现有报告为数据源
func (h *RunHandler) Verify(c *gin.Context) {
	var req RunRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": err.Error()})
			return
		}
	}

	var (
		rep *report.Report
		err error
	)
	if req.Profile == "" && len(req.Include) == 0 {
		rep, err = h.engine.VerifyFromReport(c.Request.Context())
	} else {
		comps, rerr := h.resolve(req)
		if rerr != nil {
			h.configError(c, rerr)
			return
		}
		rep, err = h.engine.Verify(c.Request.Context(), comps)
	}
	if err != nil && rep == nil {
		status := http.StatusInternalServerError
		if errors.Is(err, os.ErrNotExist) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"status": "error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rep.Document())
}

// Install 在后台启动安装，进度通过 /api/v1/events 推送
func (h *RunHandler) Install(c *gin.Context) {
	var req RunRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": err.Error()})
			return
		}
	}
	if req.Profile == "" {
		req.Profile = h.defaultProfile
	}

	// 先解析，配置错误立即返回
	if _, err := h.resolve(req); err != nil {
		h.configError(c, err)
		return
	}

	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		c.JSON(http.StatusConflict, gin.H{"status": "error", "message": "an install run is already in progress"})
		return
	}
	h.running = true
	h.mu.Unlock()

	go func() {
		defer func() {
			h.mu.Lock()
			h.running = false
			h.mu.Unlock()
		}()
		overrides := catalog.Overrides{Include: req.Include, Exclude: req.Exclude}
		rep, err := h.engine.InstallProfile(h.baseCtx, domain.InstallProfile(req.Profile), overrides, req.Force)
		if err != nil {
			h.logger.WithError(err).WithField("profile", req.Profile).Error("Background install failed")
			return
		}
		h.logger.WithFields(logrus.Fields{
			"run_id":  rep.RunID(),
			"summary": rep.Summary(),
		}).Info("Background install finished")
	}()

	c.JSON(http.StatusAccepted, gin.H{
		"status":  "accepted",
		"profile": req.Profile,
	})
}

// ListHistory 列出历史运行
func (h *RunHandler) ListHistory(c *gin.Context) {
	if h.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "message": "install history is disabled"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	runs, err := h.history.List(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

// GetHistory 查询单次运行
func (h *RunHandler) GetHistory(c *gin.Context) {
	if h.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "message": "install history is disabled"})
		return
	}
	run, err := h.history.FindByID(c.Request.Context(), c.Param("id"))
	if errors.Is(err, repository.ErrRunNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"status": "error", "message": "run not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, run)
}

func (h *RunHandler) resolve(req RunRequest) ([]*domain.Component, error) {
	profile := req.Profile
	if profile == "" {
		profile = h.defaultProfile
	}
	return h.engine.Resolve(domain.InstallProfile(profile), catalog.Overrides{Include: req.Include, Exclude: req.Exclude})
}

func (h *RunHandler) configError(c *gin.Context, err error) {
	var cfgErr *domain.ConfigurationError
	if errors.As(err, &cfgErr) {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": err.Error()})
}
