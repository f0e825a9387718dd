package domain

import "time"

// IntegrityAlgorithm 完整性校验方式
type IntegrityAlgorithm string

const (
	IntegritySHA256 IntegrityAlgorithm = "sha256"
	IntegritySHA1   IntegrityAlgorithm = "sha1"
	IntegritySize   IntegrityAlgorithm = "size" // 上游未提供摘要时只校验大小
	IntegrityNone   IntegrityAlgorithm = ""
)

// Integrity 资产完整性令牌
type Integrity struct {
	Algorithm IntegrityAlgorithm `json:"algorithm"`
	Digest    string             `json:"digest,omitempty"`
	Size      int64              `json:"size,omitempty"`
}

// AssetCandidate 远程可下载资产（临时对象，解析后立即消费）
type AssetCandidate struct {
	ToolID    string    `json:"tool_id"`
	Version   string    `json:"version"`
	Tag       string    `json:"tag,omitempty"`
	Name      string    `json:"name,omitempty"`
	URL       string    `json:"url,omitempty"`
	Integrity Integrity `json:"integrity"`
	Platform  string    `json:"platform,omitempty"` // 空表示与平台无关
}

// RecordStatus 组件安装结果
type RecordStatus string

const (
	StatusInstalled      RecordStatus = "installed"
	StatusAlreadyPresent RecordStatus = "already-present"
	StatusSkipped        RecordStatus = "skipped"
	StatusFailed         RecordStatus = "failed"
)

// Succeeded 组件在本次运行后是否可用
func (s RecordStatus) Succeeded() bool {
	return s == StatusInstalled || s == StatusAlreadyPresent
}

// InstallationRecord 单个组件的安装记录，字段名跨运行保持稳定
type InstallationRecord struct {
	ID               string        `json:"id"`
	Kind             ComponentKind `json:"kind"`
	RequestedVersion string        `json:"requestedVersion"`
	ResolvedVersion  string        `json:"resolvedVersion"`
	Status           RecordStatus  `json:"status"`
	Error            string        `json:"error"`
	ErrorKind        ErrorKind     `json:"errorKind,omitempty"`
	Path             string        `json:"path,omitempty"`
	Timestamp        time.Time     `json:"timestamp"`
}

// Presence 校验探针的结果
type Presence struct {
	Present bool   `json:"present"`
	Version string `json:"version,omitempty"`
	Path    string `json:"path,omitempty"`
	Detail  string `json:"detail,omitempty"`
}
