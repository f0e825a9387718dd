package repository

import (
	"context"
	"errors"
	"time"

	"github.com/apk-analysis/toolsetup/internal/domain"
	"github.com/apk-analysis/toolsetup/internal/report"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ErrRunNotFound 运行记录不存在
var ErrRunNotFound = errors.New("run not found")

// Run 一次安装或校验运行
type Run struct {
	ID         string            `gorm:"primaryKey;size:36" json:"id"`
	Mode       string            `gorm:"size:16;index" json:"mode"`
	Profile    string            `gorm:"size:32" json:"profile"`
	Platform   string            `gorm:"size:32" json:"platform"`
	ToolsDir   string            `gorm:"size:512" json:"tools_dir"`
	Failed     int               `json:"failed"`
	Total      int               `json:"total"`
	StartedAt  time.Time         `gorm:"index" json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
	Components []ComponentResult `gorm:"foreignKey:RunID;constraint:OnDelete:CASCADE" json:"components,omitempty"`
}

func (Run) TableName() string { return "install_runs" }

// ComponentResult 运行中单个组件的结果
type ComponentResult struct {
	ID               uint      `gorm:"primaryKey" json:"-"`
	RunID            string    `gorm:"size:36;index" json:"run_id"`
	ComponentID      string    `gorm:"size:64;index" json:"component_id"`
	Kind             string    `gorm:"size:32" json:"kind"`
	RequestedVersion string    `gorm:"size:64" json:"requested_version"`
	ResolvedVersion  string    `gorm:"size:64" json:"resolved_version"`
	Status           string    `gorm:"size:20;index" json:"status"`
	ErrorKind        string    `gorm:"size:32" json:"error_kind,omitempty"`
	Error            string    `gorm:"type:text" json:"error,omitempty"`
	Path             string    `gorm:"size:512" json:"path,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}

func (ComponentResult) TableName() string { return "install_components" }

// HistoryRepository 安装历史
type HistoryRepository interface {
	SaveRun(ctx context.Context, rep *report.Report) error
	FindByID(ctx context.Context, id string) (*Run, error)
	List(ctx context.Context, limit int) ([]*Run, error)
	// 组件最近的结果，按时间倒序
	ComponentHistory(ctx context.Context, componentID string, limit int) ([]*ComponentResult, error)
}

type historyRepo struct {
	db     *gorm.DB
	logger *logrus.Logger
}

func NewHistoryRepository(db *gorm.DB, logger *logrus.Logger) HistoryRepository {
	return &historyRepo{
		db:     db,
		logger: logger,
	}
}

// SaveRun 保存一次运行，同一 RunID 重复保存时覆盖组件结果
func (r *historyRepo) SaveRun(ctx context.Context, rep *report.Report) error {
	records := rep.Records()

	run := &Run{
		ID:         rep.RunID(),
		Mode:       string(rep.Mode()),
		Profile:    rep.Profile(),
		Platform:   rep.Platform().Key(),
		ToolsDir:   rep.ToolsDir(),
		Total:      len(records),
		StartedAt:  rep.StartedAt(),
		FinishedAt: rep.FinishedAt(),
	}
	results := make([]ComponentResult, 0, len(records))
	for _, rec := range records {
		if rec.Status == domain.StatusFailed {
			run.Failed++
		}
		results = append(results, ComponentResult{
			RunID:            run.ID,
			ComponentID:      rec.ID,
			Kind:             string(rec.Kind),
			RequestedVersion: rec.RequestedVersion,
			ResolvedVersion:  rec.ResolvedVersion,
			Status:           string(rec.Status),
			ErrorKind:        string(rec.ErrorKind),
			Error:            rec.Error,
			Path:             rec.Path,
			Timestamp:        rec.Timestamp,
		})
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(run).Error; err != nil {
			return err
		}
		if err := tx.Where("run_id = ?", run.ID).Delete(&ComponentResult{}).Error; err != nil {
			return err
		}
		if len(results) == 0 {
			return nil
		}
		return tx.Create(&results).Error
	})
	if err != nil {
		return err
	}

	r.logger.WithFields(logrus.Fields{
		"run_id": run.ID,
		"mode":   run.Mode,
		"total":  run.Total,
		"failed": run.Failed,
	}).Debug("Run saved to history")
	return nil
}

func (r *historyRepo) FindByID(ctx context.Context, id string) (*Run, error) {
	var run Run
	err := r.db.WithContext(ctx).
		Preload("Components", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		First(&run, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (r *historyRepo) List(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 20
	}
	var runs []*Run
	err := r.db.WithContext(ctx).
		Order("started_at DESC").
		Limit(limit).
		Find(&runs).Error
	return runs, err
}

func (r *historyRepo) ComponentHistory(ctx context.Context, componentID string, limit int) ([]*ComponentResult, error) {
	if limit <= 0 {
		limit = 20
	}
	var results []*ComponentResult
	err := r.db.WithContext(ctx).
		Where("component_id = ?", componentID).
		Order("timestamp DESC").
		Limit(limit).
		Find(&results).Error
	return results, err
}
