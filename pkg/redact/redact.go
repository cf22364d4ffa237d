// Package redact 负责在日志与结果记录中抹掉凭据。
package redact

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const Mask = "***"

// UploadSecretKeys 预上传响应中携带 CDN 凭据的字段
var UploadSecretKeys = []string{"auth", "fetch_headers", "post_auth", "put_auth"}

// 短于该长度的 cookie 值不单独抹除，避免误伤普通文本
const minCookieValueLen = 6

// JSON 删除顶层及 data 下的敏感字段；非 JSON 输入原样返回
func JSON(raw []byte, keys ...string) []byte {
	if len(keys) == 0 {
		keys = UploadSecretKeys
	}
	if !gjson.ValidBytes(raw) {
		return raw
	}
	out := raw
	for _, key := range keys {
		for _, path := range []string{key, "data." + key} {
			if !gjson.GetBytes(out, path).Exists() {
				continue
			}
			if next, err := sjson.DeleteBytes(out, path); err == nil {
				out = next
			}
		}
	}
	return out
}

// Truncate 按字符截断，超出部分以 ... 结尾
func Truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max]) + "..."
}

// Scrubber 把已知的敏感字符串替换为 Mask
type Scrubber struct {
	secrets []string
}

// NewScrubber 空字符串会被忽略
func NewScrubber(secrets ...string) *Scrubber {
	s := &Scrubber{}
	s.Add(secrets...)
	return s
}

// Add 追加敏感字符串
func (s *Scrubber) Add(secrets ...string) {
	for _, secret := range secrets {
		if secret = strings.TrimSpace(secret); secret != "" {
			s.secrets = append(s.secrets, secret)
		}
	}
	// 先替换较长的串，避免子串先被替换后长串无法匹配
	sort.Slice(s.secrets, func(i, j int) bool { return len(s.secrets[i]) > len(s.secrets[j]) })
}

// AddCookieHeader 同时登记整个 Cookie 头与其中每个足够长的值
func (s *Scrubber) AddCookieHeader(header string) {
	s.Add(header)
	for _, part := range strings.Split(header, ";") {
		_, value, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		if value = strings.TrimSpace(value); len(value) >= minCookieValueLen {
			s.Add(value)
		}
	}
}

func (s *Scrubber) Scrub(text string) string {
	if s == nil {
		return text
	}
	for _, secret := range s.secrets {
		text = strings.ReplaceAll(text, secret, Mask)
	}
	return text
}

// ScrubBytes 对 JSON 等字节内容做同样的替换
func (s *Scrubber) ScrubBytes(data []byte) []byte {
	if s == nil || len(s.secrets) == 0 {
		return data
	}
	return []byte(s.Scrub(string(data)))
}
