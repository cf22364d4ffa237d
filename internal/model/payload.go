package model

import (
	"encoding/json"
	"strings"

	"bilipub/internal/errs"

	"github.com/tidwall/gjson"
)

// TypeIDMode 分区决策方式
type TypeIDMode string

const (
	ModeExplicit        TypeIDMode = "explicit"
	ModePlatformPredict TypeIDMode = "platform_predict"
	ModeAISummary       TypeIDMode = "ai_summary"
)

// ParseTypeIDMode 空值与 bilibili_predict 都视为 platform_predict；未知取值返回 false
func ParseTypeIDMode(s string) (TypeIDMode, bool) {
	switch strings.TrimSpace(s) {
	case "", "bilibili_predict", string(ModePlatformPredict):
		return ModePlatformPredict, true
	case string(ModeExplicit):
		return ModeExplicit, true
	case string(ModeAISummary):
		return ModeAISummary, true
	default:
		return ModeExplicit, false
	}
}

// BlobRef 对象存储中的输入文件
type BlobRef struct {
	Type string `json:"type"`
	Key  string `json:"key"`
}

// JobPayload 投稿任务信封，保存在 PublishJob.MetaJSON
type JobPayload struct {
	Meta       json.RawMessage `json:"meta"`
	Video      *BlobRef        `json:"video,omitempty"`
	VideoKey   string          `json:"video_key,omitempty"`
	TypeIDMode string          `json:"typeid_mode,omitempty"`
	AccountID  string          `json:"account_id,omitempty"`
}

// DecodeJobPayload 兼容旧格式：meta 字段直接平铺在信封顶层
func DecodeJobPayload(raw string) (*JobPayload, error) {
	if !gjson.Valid(raw) || !gjson.Parse(raw).IsObject() {
		return nil, errs.Invalid("meta_json", "must be a json object")
	}
	var p JobPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, errs.Invalid("meta_json", "%v", err)
	}
	if meta := gjson.Get(raw, "meta"); !meta.IsObject() || len(meta.Map()) == 0 {
		p.Meta = json.RawMessage(raw)
	}
	return &p, nil
}

// ResolveVideoKey 优先 video.key，其次 video_key
func (p *JobPayload) ResolveVideoKey() string {
	if p.Video != nil {
		if key := strings.TrimSpace(p.Video.Key); key != "" {
			return key
		}
	}
	return strings.TrimSpace(p.VideoKey)
}

// Mode 返回分区决策方式，未知取值按 explicit 处理
func (p *JobPayload) Mode() TypeIDMode {
	mode, _ := ParseTypeIDMode(p.TypeIDMode)
	return mode
}

// ParsedMeta 解析并校验信封中的元数据
func (p *JobPayload) ParsedMeta() (*PublishMeta, error) {
	return ParseMeta(p.Meta)
}
