package bilibili

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"bilipub/internal/errs"

	"github.com/spf13/afero"
)

// CredentialSource 提供创作中心登录凭据。返回空串表示未配置。
type CredentialSource interface {
	CookieHeader(ctx context.Context) (string, error)
	CSRFToken(ctx context.Context) (string, error)
}

// Cookie 结构体，Expires 为 Unix 秒，0 表示会话 Cookie
type Cookie struct {
	Name    string
	Value   string
	Domain  string
	Expires int64
}

// usable 只保留 bilibili.com 域下未过期的 Cookie；未标注域名的视为可用
func (c Cookie) usable(now time.Time) bool {
	if c.Name == "" {
		return false
	}
	if c.Expires > 0 && c.Expires <= now.Unix() {
		return false
	}
	domain := strings.ToLower(strings.TrimPrefix(c.Domain, "."))
	return domain == "" || domain == "bilibili.com" || strings.HasSuffix(domain, ".bilibili.com")
}

// NormalizeCookieHeader 去掉换行和浏览器复制时带上的 "Cookie:" 前缀
func NormalizeCookieHeader(cookie string) string {
	cookie = strings.TrimSpace(strings.NewReplacer("\r", " ", "\n", " ").Replace(cookie))
	if strings.HasPrefix(strings.ToLower(cookie), "cookie:") {
		cookie = strings.TrimSpace(cookie[len("cookie:"):])
	}
	return cookie
}

// ParseCookieHeader 解析 "a=b; c=d" 形式的 Cookie 头
func ParseCookieHeader(cookie string) map[string]string {
	out := make(map[string]string)
	for _, part := range strings.Split(cookie, ";") {
		name, value, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		if name = strings.TrimSpace(name); name != "" {
			out[name] = strings.TrimSpace(value)
		}
	}
	return out
}

// csrfFromCookies bili_jct 优先，兼容 csrf
func csrfFromCookies(values map[string]string) string {
	if v := values["bili_jct"]; v != "" {
		return v
	}
	return values["csrf"]
}

// StaticCredentials 来自配置的固定 Cookie
type StaticCredentials struct {
	cookie string
}

func NewStaticCredentials(cookie string) *StaticCredentials {
	return &StaticCredentials{cookie: NormalizeCookieHeader(cookie)}
}

func (s *StaticCredentials) CookieHeader(context.Context) (string, error) {
	return s.cookie, nil
}

func (s *StaticCredentials) CSRFToken(context.Context) (string, error) {
	return csrfFromCookies(ParseCookieHeader(s.cookie)), nil
}

// FileCredentials 每次读取 cookies 文件，更新文件后无需重启
type FileCredentials struct {
	fs   afero.Fs
	path string
	now  func() time.Time
}

func NewFileCredentials(fs afero.Fs, path string) *FileCredentials {
	return &FileCredentials{fs: fs, path: path, now: time.Now}
}

// load 读取或解析失败都属于需要人工处理的前置条件错误
func (f *FileCredentials) load() ([]Cookie, error) {
	data, err := afero.ReadFile(f.fs, f.path)
	if err != nil {
		return nil, errs.Precondition("读取 cookies 文件失败: %v", err)
	}
	cookies, err := parseCookiesFile(data)
	if err != nil {
		return nil, errs.Precondition("解析 cookies 文件失败: %v", err)
	}
	now := f.now()
	kept := cookies[:0]
	for _, c := range cookies {
		if c.usable(now) {
			kept = append(kept, c)
		}
	}
	return kept, nil
}

func (f *FileCredentials) CookieHeader(context.Context) (string, error) {
	cookies, err := f.load()
	if err != nil {
		return "", err
	}
	pairs := make([]string, 0, len(cookies))
	for _, c := range cookies {
		pairs = append(pairs, c.Name+"="+c.Value)
	}
	return strings.Join(pairs, "; "), nil
}

func (f *FileCredentials) CSRFToken(context.Context) (string, error) {
	cookies, err := f.load()
	if err != nil {
		return "", err
	}
	values := make(map[string]string, len(cookies))
	for _, c := range cookies {
		values[c.Name] = c.Value
	}
	return csrfFromCookies(values), nil
}

// parseCookiesFile 解析 cookies 文件（支持 Netscape 格式和 JSON 格式）
func parseCookiesFile(data []byte) ([]Cookie, error) {
	var jsonCookies []map[string]interface{}
	if err := json.Unmarshal(data, &jsonCookies); err == nil {
		cookies := make([]Cookie, 0, len(jsonCookies))
		for _, c := range jsonCookies {
			cookie := Cookie{}
			if name, ok := c["name"].(string); ok {
				cookie.Name = name
			}
			if value, ok := c["value"].(string); ok {
				cookie.Value = value
			}
			if domain, ok := c["domain"].(string); ok {
				cookie.Domain = domain
			}
			if expires, ok := c["expirationDate"].(float64); ok {
				cookie.Expires = int64(expires)
			}
			cookies = append(cookies, cookie)
		}
		return cookies, nil
	}

	// Netscape 格式: domain, flag, path, secure, expiration, name, value
	scanner := bufio.NewScanner(bytes.NewReader(data))
	cookies := make([]Cookie, 0)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		// curl 导出的 HttpOnly cookie 以 #HttpOnly_ 开头
		line = strings.TrimPrefix(line, "#HttpOnly_")
		if strings.HasPrefix(line, "#") || line == "" {
			continue
		}

		parts := strings.Split(line, "\t")
		if len(parts) < 7 {
			continue
		}
		cookie := Cookie{
			Domain: parts[0],
			Name:   parts[5],
			Value:  parts[6],
		}
		if expires, err := strconv.ParseInt(parts[4], 10, 64); err == nil {
			cookie.Expires = expires
		}
		cookies = append(cookies, cookie)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return cookies, nil
}
