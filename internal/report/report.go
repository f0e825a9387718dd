// Package report 维护一次运行的安装记录，并以固定路径的 JSON 文档持久化。
package report

import (
	"sort"
	"sync"
	"time"

	"github.com/apk-analysis/toolsetup/internal/domain"
	"github.com/google/uuid"
)

// Mode 运行模式
type Mode string

const (
	ModeInstall Mode = "install"
	ModeVerify  Mode = "verify"
)

const schemaVersion = 1

// FileName 报告文件名，位于 tools_dir 下
const FileName = "installation_report.json"

// Report 一次运行的安装报告，可被多个工作协程并发写入
// 每个组件 ID 只保留一条记录，后写覆盖先写。
type Report struct {
	mu         sync.Mutex
	runID      string
	mode       Mode
	profile    string
	platform   domain.PlatformInfo
	toolsDir   string
	startedAt  time.Time
	finishedAt time.Time
	records    map[string]domain.InstallationRecord
	order      []string
}

// New 创建报告
func New(mode Mode, profile string, platform domain.PlatformInfo, toolsDir string) *Report {
	return &Report{
		runID:     uuid.NewString(),
		mode:      mode,
		profile:   profile,
		platform:  platform,
		toolsDir:  toolsDir,
		startedAt: time.Now().UTC(),
		records:   make(map[string]domain.InstallationRecord),
	}
}

func (r *Report) RunID() string                 { return r.runID }
func (r *Report) Mode() Mode                    { return r.mode }
func (r *Report) Profile() string               { return r.profile }
func (r *Report) Platform() domain.PlatformInfo { return r.platform }
func (r *Report) ToolsDir() string              { return r.toolsDir }

// Record 写入或覆盖组件记录
func (r *Report) Record(rec domain.InstallationRecord) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.records[rec.ID]; !ok {
		r.order = append(r.order, rec.ID)
	}
	r.records[rec.ID] = rec
}

// Get 获取组件记录
func (r *Report) Get(id string) (domain.InstallationRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	return rec, ok
}

// Records 按首次写入顺序返回记录副本
func (r *Report) Records() []domain.InstallationRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.InstallationRecord, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.records[id])
	}
	return out
}

// HasFailures 是否有失败的组件
func (r *Report) HasFailures() bool {
	for _, rec := range r.Records() {
		if rec.Status == domain.StatusFailed {
			return true
		}
	}
	return false
}

// Summary 各状态的组件数
func (r *Report) Summary() map[domain.RecordStatus]int {
	out := make(map[domain.RecordStatus]int)
	for _, rec := range r.Records() {
		out[rec.Status]++
	}
	return out
}

// Finish 标记运行结束
func (r *Report) Finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finishedAt = time.Now().UTC()
}

// StartedAt 运行开始时间
func (r *Report) StartedAt() time.Time {
	return r.startedAt
}

// FinishedAt 运行结束时间，未结束时为零值
func (r *Report) FinishedAt() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finishedAt
}

// Document 报告的 JSON 形式
type Document struct {
	SchemaVersion int                         `json:"schemaVersion"`
	RunID         string                      `json:"runId"`
	Mode          Mode                        `json:"mode"`
	Profile       string                      `json:"profile,omitempty"`
	Platform      domain.PlatformInfo         `json:"platform"`
	ToolsDir      string                      `json:"toolsDir"`
	StartedAt     time.Time                   `json:"startedAt"`
	FinishedAt    time.Time                   `json:"finishedAt"`
	Summary       map[domain.RecordStatus]int `json:"summary,omitempty"`
	Records       []domain.InstallationRecord `json:"records"`
}

// Document 生成可序列化的快照
func (r *Report) Document() Document {
	records := r.Records()
	summary := r.Summary()
	return Document{
		SchemaVersion: schemaVersion,
		RunID:         r.runID,
		Mode:          r.mode,
		Profile:       r.profile,
		Platform:      r.platform,
		ToolsDir:      r.toolsDir,
		StartedAt:     r.startedAt,
		FinishedAt:    r.FinishedAt(),
		Summary:       summary,
		Records:       records,
	}
}

// FromDocument 由文档恢复报告
func FromDocument(doc Document) *Report {
	r := &Report{
		runID:      doc.RunID,
		mode:       doc.Mode,
		profile:    doc.Profile,
		platform:   doc.Platform,
		toolsDir:   doc.ToolsDir,
		startedAt:  doc.StartedAt,
		finishedAt: doc.FinishedAt,
		records:    make(map[string]domain.InstallationRecord, len(doc.Records)),
	}
	for _, rec := range doc.Records {
		r.Record(rec)
	}
	return r
}

// IDs 报告中的组件 ID，按字母序
func (r *Report) IDs() []string {
	r.mu.Lock()
	ids := append([]string(nil), r.order...)
	r.mu.Unlock()
	sort.Strings(ids)
	return ids
}
