package bilibili

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	DefaultMemberBaseURL = "https://member.bilibili.com"
	DefaultProfile       = "ugcupos/bup"
	DefaultUserAgent     = "Mozilla/5.0 (X11; Linux x86_64; rv:60.1) Gecko/20100101 Firefox/60.1"

	defaultAPITimeout = 30 * time.Second
	defaultCDNTimeout = 120 * time.Second
	snippetLimit      = 200
)

// Options 客户端配置
type Options struct {
	MemberBaseURL string
	// UploadScheme CDN 上传地址的协议，测试中可设为 http
	UploadScheme string
	Profile      string
	UserAgent    string
	APITimeout   time.Duration
	CDNTimeout   time.Duration
	// PreuploadLimiter 非空时每次预上传前等待令牌
	PreuploadLimiter *rate.Limiter
	// OnChunkUploaded 每个分块上传成功后回调
	OnChunkUploaded func(size int)
	Now             func() time.Time
	Logger          zerolog.Logger
}

func (o *Options) applyDefaults() {
	if o.MemberBaseURL == "" {
		o.MemberBaseURL = DefaultMemberBaseURL
	}
	o.MemberBaseURL = strings.TrimRight(o.MemberBaseURL, "/")
	if o.UploadScheme == "" {
		o.UploadScheme = "https"
	}
	if o.Profile == "" {
		o.Profile = DefaultProfile
	}
	if o.UserAgent == "" {
		o.UserAgent = DefaultUserAgent
	}
	if o.APITimeout <= 0 {
		o.APITimeout = defaultAPITimeout
	}
	if o.CDNTimeout <= 0 {
		o.CDNTimeout = defaultCDNTimeout
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Client B站创作中心与上传 CDN 客户端。
//
// api 携带 Cookie，只访问创作中心；cdn 不带任何凭据，用于上传分块。
// 每次投稿创建一个 Client，用完调用 Close。
type Client struct {
	api  *resty.Client
	cdn  *resty.Client
	opts Options
	log  zerolog.Logger

	probeOnce  sync.Once
	probeQuery string
}

// NewClient 创建客户端，cookie 不能为空
func NewClient(cookie string, opts Options) (*Client, error) {
	cookie = strings.TrimSpace(cookie)
	if cookie == "" {
		return nil, fmt.Errorf("cookie is empty")
	}
	opts.applyDefaults()

	commonHeaders := map[string]string{
		"User-Agent": opts.UserAgent,
		"Accept":     "application/json, text/plain, */*",
	}

	api := resty.New().
		SetTimeout(opts.APITimeout).
		SetHeaders(commonHeaders).
		SetHeader("Cookie", cookie).
		SetHeader("Origin", opts.MemberBaseURL).
		SetHeader("Referer", opts.MemberBaseURL+"/").
		SetLogger(restyLogger{opts.Logger})

	cdn := resty.New().
		SetTimeout(opts.CDNTimeout).
		SetHeaders(commonHeaders).
		SetLogger(restyLogger{opts.Logger})

	return &Client{
		api:  api,
		cdn:  cdn,
		opts: opts,
		log:  opts.Logger,
	}, nil
}

// Close 释放两个 HTTP 客户端的空闲连接
func (c *Client) Close() error {
	c.api.GetClient().CloseIdleConnections()
	c.cdn.GetClient().CloseIdleConnections()
	return nil
}

// Profile 返回默认上传 profile
func (c *Client) Profile() string {
	return c.opts.Profile
}

func (c *Client) memberURL(path string) string {
	return c.opts.MemberBaseURL + path
}

func (c *Client) timestamp() string {
	return strconv.FormatInt(c.opts.Now().UnixMilli(), 10)
}

func (c *Client) waitPreupload(ctx context.Context) error {
	if c.opts.PreuploadLimiter == nil {
		return nil
	}
	return c.opts.PreuploadLimiter.Wait(ctx)
}

// restyLogger 把 resty 内部日志转到 zerolog
type restyLogger struct {
	l zerolog.Logger
}

func (r restyLogger) Errorf(format string, v ...interface{}) { r.l.Error().Msgf(format, v...) }
func (r restyLogger) Warnf(format string, v ...interface{})  { r.l.Warn().Msgf(format, v...) }
func (r restyLogger) Debugf(format string, v ...interface{}) { r.l.Debug().Msgf(format, v...) }
