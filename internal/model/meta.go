package model

import (
	"encoding/json"
	"strings"
	"unicode/utf8"

	"bilipub/internal/errs"

	"github.com/tidwall/gjson"
)

const (
	MaxTitleRunes = 80
	MaxDescRunes  = 2000
	MaxTags       = 10
)

// Subtitle 字幕投稿设置，open=0 表示启用
type Subtitle struct {
	Open int    `json:"open"`
	Lan  string `json:"lan"`
}

// PublishMeta 投稿元数据。未识别的字段保存在 Extra 中，不会发送给平台。
type PublishMeta struct {
	Title     string   `json:"title"`
	Desc      string   `json:"desc"`
	TypeID    int      `json:"typeid"`
	Tags      []string `json:"tags"`
	Copyright int      `json:"copyright"`
	Source    string   `json:"source"`
	// DTime 定时发布 UNIX 秒
	DTime            *int64          `json:"dtime,omitempty"`
	Dynamic          string          `json:"dynamic"`
	DescFormatID     int             `json:"desc_format_id"`
	DescV2           json.RawMessage `json:"desc_v2,omitempty"`
	Recreate         int             `json:"recreate"`
	Interactive      int             `json:"interactive"`
	ActReserveCreate int             `json:"act_reserve_create"`
	NoDisturbance    int             `json:"no_disturbance"`
	NoReprint        int             `json:"no_reprint"`
	Subtitle         Subtitle        `json:"subtitle"`
	Dolby            int             `json:"dolby"`
	LosslessMusic    int             `json:"lossless_music"`
	UpSelectionReply bool            `json:"up_selection_reply"`
	UpCloseReply     bool            `json:"up_close_reply"`
	UpCloseDanmu     bool            `json:"up_close_danmu"`
	WebOS            int             `json:"web_os"`
	IsOnlySelf       *int            `json:"is_only_self,omitempty"`
	TopicID          *int            `json:"topic_id,omitempty"`
	MissionID        *int            `json:"mission_id,omitempty"`
	Is360            *int            `json:"is_360,omitempty"`
	NeutralMark      *string         `json:"neutral_mark,omitempty"`
	HumanType2       *int            `json:"human_type2,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

// 字段名及其别名，按优先级排列
var metaAliases = map[string][]string{
	"typeid":         {"typeid", "tid"},
	"tags":           {"tags", "tag", "keywords"},
	"up_close_danmu": {"up_close_danmu", "up_close_danmaku"},
}

var knownMetaKeys = map[string]bool{
	"title": true, "desc": true, "typeid": true, "tid": true, "tags": true, "tag": true, "keywords": true,
	"copyright": true, "source": true, "dtime": true, "dynamic": true, "desc_format_id": true, "desc_v2": true,
	"recreate": true, "interactive": true, "act_reserve_create": true, "no_disturbance": true, "no_reprint": true,
	"subtitle": true, "dolby": true, "lossless_music": true, "up_selection_reply": true, "up_close_reply": true,
	"up_close_danmu": true, "up_close_danmaku": true, "web_os": true, "is_only_self": true, "topic_id": true,
	"mission_id": true, "is_360": true, "neutral_mark": true, "human_type2": true,
}

// DefaultMeta 返回填充了平台默认值的元数据
func DefaultMeta() PublishMeta {
	return PublishMeta{
		Copyright:    1,
		DescFormatID: 9999,
		Recreate:     -1,
		NoReprint:    1,
		WebOS:        3,
	}
}

// ParseMeta 解析、归一化并校验投稿元数据
func ParseMeta(raw []byte) (*PublishMeta, error) {
	if !gjson.ValidBytes(raw) {
		return nil, errs.Invalid("meta", "invalid json")
	}
	doc := gjson.ParseBytes(raw)
	if !doc.IsObject() {
		return nil, errs.Invalid("meta", "must be an object")
	}

	m := DefaultMeta()
	get := func(key string) gjson.Result {
		names := metaAliases[key]
		if names == nil {
			names = []string{key}
		}
		for _, name := range names {
			if r := doc.Get(name); r.Exists() && r.Type != gjson.Null {
				return r
			}
		}
		return gjson.Result{}
	}
	setInt := func(key string, dst *int) {
		if r := get(key); r.Exists() {
			*dst = int(r.Int())
		}
	}
	optInt := func(key string) *int {
		if r := get(key); r.Exists() {
			v := int(r.Int())
			return &v
		}
		return nil
	}

	m.Title = strings.TrimSpace(get("title").String())
	m.Desc = strings.TrimSpace(get("desc").String())
	m.Source = strings.TrimSpace(get("source").String())
	m.Dynamic = strings.TrimSpace(get("dynamic").String())
	setInt("typeid", &m.TypeID)
	m.Tags = normalizeTags(get("tags"))

	setInt("copyright", &m.Copyright)
	setInt("desc_format_id", &m.DescFormatID)
	setInt("recreate", &m.Recreate)
	setInt("interactive", &m.Interactive)
	setInt("act_reserve_create", &m.ActReserveCreate)
	setInt("no_disturbance", &m.NoDisturbance)
	setInt("no_reprint", &m.NoReprint)
	setInt("dolby", &m.Dolby)
	setInt("lossless_music", &m.LosslessMusic)
	setInt("web_os", &m.WebOS)

	if r := get("subtitle"); r.IsObject() {
		m.Subtitle.Open = int(r.Get("open").Int())
		m.Subtitle.Lan = r.Get("lan").String()
	}
	m.UpSelectionReply = get("up_selection_reply").Bool()
	m.UpCloseReply = get("up_close_reply").Bool()
	m.UpCloseDanmu = get("up_close_danmu").Bool()

	if r := get("dtime"); r.Exists() {
		v := r.Int()
		m.DTime = &v
	}
	if r := get("desc_v2"); r.Exists() {
		m.DescV2 = json.RawMessage(r.Raw)
	}
	m.IsOnlySelf = optInt("is_only_self")
	m.TopicID = optInt("topic_id")
	m.MissionID = optInt("mission_id")
	m.Is360 = optInt("is_360")
	m.HumanType2 = optInt("human_type2")
	if r := get("neutral_mark"); r.Exists() {
		v := r.String()
		m.NeutralMark = &v
	}

	doc.ForEach(func(key, value gjson.Result) bool {
		if !knownMetaKeys[key.String()] {
			if m.Extra == nil {
				m.Extra = make(map[string]json.RawMessage)
			}
			m.Extra[key.String()] = json.RawMessage(value.Raw)
		}
		return true
	})

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// normalizeTags 支持数组或逗号分隔字符串（含全角逗号）
func normalizeTags(r gjson.Result) []string {
	var parts []string
	switch {
	case !r.Exists():
		return nil
	case r.IsArray():
		for _, item := range r.Array() {
			if item.Type == gjson.Null {
				continue
			}
			parts = append(parts, item.String())
		}
	default:
		parts = strings.Split(strings.ReplaceAll(r.String(), "，", ","), ",")
	}

	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate 校验字段约束，并对标签去重（保持顺序）
func (m *PublishMeta) Validate() error {
	if m.Title == "" {
		return errs.Invalid("meta.title", "is required")
	}
	if utf8.RuneCountInString(m.Title) > MaxTitleRunes {
		return errs.Invalid("meta.title", "too long (max %d)", MaxTitleRunes)
	}
	if utf8.RuneCountInString(m.Desc) > MaxDescRunes {
		return errs.Invalid("meta.desc", "too long (max %d)", MaxDescRunes)
	}
	if m.TypeID <= 0 {
		return errs.Invalid("meta.typeid", "must be a positive integer")
	}

	seen := make(map[string]struct{}, len(m.Tags))
	tags := make([]string, 0, len(m.Tags))
	for _, t := range m.Tags {
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		tags = append(tags, t)
	}
	if len(tags) == 0 {
		return errs.Invalid("meta.tags", "is required (at least 1)")
	}
	if len(tags) > MaxTags {
		return errs.Invalid("meta.tags", "too many (max %d)", MaxTags)
	}
	m.Tags = tags

	if m.Copyright != 1 && m.Copyright != 2 {
		return errs.Invalid("meta.copyright", "must be 1 or 2")
	}
	if m.Copyright == 2 && m.Source == "" {
		return errs.Invalid("meta.source", "is required when copyright=2")
	}
	if m.Recreate != -1 && m.Recreate != 1 {
		return errs.Invalid("meta.recreate", "must be -1 (allow) or 1 (disallow)")
	}
	if m.NoReprint != 0 && m.NoReprint != 1 {
		return errs.Invalid("meta.no_reprint", "must be 0 or 1")
	}
	if m.NoDisturbance != 0 && m.NoDisturbance != 1 {
		return errs.Invalid("meta.no_disturbance", "must be 0 or 1")
	}
	return nil
}

// MarshalJSON 输出规范字段名，并保留 Extra
func (m PublishMeta) MarshalJSON() ([]byte, error) {
	type plain PublishMeta
	data, err := json.Marshal(plain(m))
	if err != nil || len(m.Extra) == 0 {
		return data, err
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(data, &merged); err != nil {
		return nil, err
	}
	for k, v := range m.Extra {
		if _, ok := merged[k]; !ok {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}
