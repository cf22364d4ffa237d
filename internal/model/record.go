package model

import "time"

// PublishState 投稿任务状态
type PublishState string

const (
	StateSubmitting PublishState = "submitting"
	StateSubmitted  PublishState = "submitted"
	StatePublished  PublishState = "published"
	StateFailed     PublishState = "failed"
)

// Terminal 已发布或已失败的任务不再处理
func (s PublishState) Terminal() bool {
	return s == StatePublished || s == StateFailed
}

// TaskStatus 所属内容任务的状态
type TaskStatus string

const (
	TaskCreated    TaskStatus = "created"
	TaskPublishing TaskStatus = "publishing"
	TaskPublished  TaskStatus = "published"
	TaskFailed     TaskStatus = "failed"
)

// 任务失败错误码
const (
	ErrorCodePublishFailed      = "PUBLISH_FAILED"
	ErrorCodePublishRateLimited = "PUBLISH_RATE_LIMITED"
)

type AssetKind string

const AssetPublishResult AssetKind = "publish_result"

// Task 内容任务，一个任务可以有多次投稿
type Task struct {
	ID     string     `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Status TaskStatus `gorm:"type:varchar(32);index" json:"status"`
	// Summary 供 ai_summary 模式推荐分区的文本
	Summary      string    `gorm:"type:text" json:"summary,omitempty"`
	ErrorCode    string    `gorm:"type:varchar(64)" json:"error_code,omitempty"`
	ErrorMessage string    `gorm:"type:text" json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// PublishJob 一次投稿
type PublishJob struct {
	ID     string `gorm:"primaryKey;type:varchar(36)" json:"id"`
	TaskID string `gorm:"type:varchar(36);index" json:"task_id"`
	// MetaJSON 投稿请求信封，见 JobPayload
	MetaJSON string       `gorm:"type:text" json:"meta_json"`
	CoverKey string       `gorm:"type:varchar(512)" json:"cover_key,omitempty"`
	State    PublishState `gorm:"type:varchar(32);index" json:"state"`
	AID      string       `gorm:"type:varchar(32)" json:"aid,omitempty"`
	BVID     string       `gorm:"type:varchar(32)" json:"bvid,omitempty"`
	// ResultJSON 最近一次结果，已脱敏
	ResultJSON string    `gorm:"type:text" json:"result_json,omitempty"`
	Attempts   int       `json:"attempts"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Asset 任务产物索引
type Asset struct {
	ID         string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	TaskID     string    `gorm:"type:varchar(36);index:idx_asset_task_kind_key" json:"task_id"`
	Kind       AssetKind `gorm:"type:varchar(32);index:idx_asset_task_kind_key" json:"kind"`
	StorageKey string    `gorm:"type:varchar(512);index:idx_asset_task_kind_key" json:"storage_key"`
	CreatedAt  time.Time `json:"created_at"`
}

// PublishResultKey 投稿结果在对象存储中的位置
func PublishResultKey(taskID string) string {
	return "meta/" + taskID + "/publish_result.json"
}
