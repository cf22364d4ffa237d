package bilibili

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"bilipub/internal/errs"
	"bilipub/pkg/redact"

	"github.com/tidwall/gjson"
)

// PreuploadTicket 预上传返回的会话信息，Auth 不得写入日志或持久化
type PreuploadTicket struct {
	Auth      string `json:"-"`
	BizID     int64  `json:"biz_id"`
	ChunkSize int64  `json:"chunk_size"`
	Endpoint  string `json:"endpoint"`
	UposURI   string `json:"upos_uri"`
}

func (t PreuploadTicket) String() string {
	return fmt.Sprintf("PreuploadTicket{biz_id=%d chunk_size=%d endpoint=%s upos_uri=%s}", t.BizID, t.ChunkSize, t.Endpoint, t.UposURI)
}

// MultipartSession CDN 分块上传会话
type MultipartSession struct {
	UploadID string
	Bucket   string
	Key      string
}

// UploadedVideo 上传完成的视频，提交稿件时引用
type UploadedVideo struct {
	Filename string // upos_uri 文件名去掉扩展名
	CID      int64
	UploadID string
	UposURI  string
}

// UploadDebug 上传过程摘要，不含凭据
type UploadDebug struct {
	BizID     int64  `json:"biz_id"`
	ChunkSize int64  `json:"chunk_size"`
	Endpoint  string `json:"endpoint"`
	UposURI   string `json:"upos_uri"`
	UploadID  string `json:"upload_id"`
	UploadURL string `json:"upload_url"`
	Chunks    int    `json:"chunks"`
}

// Part 分块上传记录
type Part struct {
	PartNumber int    `json:"partNumber"`
	ETag       string `json:"eTag"`
}

// probeUploadLines 查询上传线路，失败时返回空串。结果在 Client 生命周期内缓存。
func (c *Client) probeUploadLines(ctx context.Context) string {
	c.probeOnce.Do(func() {
		resp, err := c.cdn.R().
			SetContext(ctx).
			SetQueryParam("r", "probe").
			Get(c.memberURL("/preupload"))
		if err != nil || resp.StatusCode() != 200 {
			c.log.Debug().Err(err).Msg("上传线路探测失败，使用默认线路")
			return
		}
		body := resp.Body()
		if !gjson.ValidBytes(body) {
			return
		}
		doc := gjson.ParseBytes(body)
		if doc.Get("OK").Int() != 1 || !doc.Get("lines").IsArray() {
			return
		}
		lines := doc.Get("lines").Array()
		for _, line := range lines {
			if line.Get("os").String() != "upos" {
				continue
			}
			if q := strings.TrimSpace(line.Get("query").String()); q != "" {
				c.probeQuery = q
				return
			}
		}
		for _, line := range lines {
			if q := strings.TrimSpace(line.Get("query").String()); q != "" {
				c.probeQuery = q
				return
			}
		}
	})
	return c.probeQuery
}

// PreuploadVideo 预上传，获取 CDN 上传凭据。code=601 时返回 *errs.RateLimitError。
func (c *Client) PreuploadVideo(ctx context.Context, filename string, filesize int64, profile string) (*PreuploadTicket, error) {
	filename = strings.TrimSpace(filename)
	if filename == "" {
		return nil, errs.Invalid("filename", "is empty")
	}
	if filesize <= 0 {
		return nil, errs.Invalid("filesize", "must be > 0")
	}
	if profile == "" {
		profile = c.opts.Profile
	}
	if err := c.waitPreupload(ctx); err != nil {
		return nil, &errs.TransportError{Op: "preupload", Err: err}
	}

	url := c.memberURL("/preupload")
	if q := c.probeUploadLines(ctx); q != "" {
		url += "?" + q
	}
	resp, err := c.api.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"name":    filename,
			"r":       "upos",
			"profile": profile,
			"ssl":     "0",
			"version": "2.14.0",
			"build":   "2140000",
			"size":    strconv.FormatInt(filesize, 10),
		}).
		Get(url)
	if err != nil {
		return nil, &errs.TransportError{Op: "preupload", Err: err}
	}

	doc, err := decodeObject("preupload", resp)
	if err != nil {
		return nil, err
	}

	if code := doc.Get("code"); code.Type == gjson.Number && code.Int() == 601 {
		safe := gjson.ParseBytes(redact.JSON([]byte(doc.Raw)))
		msg := errMessage(safe)
		if msg == "" {
			msg = "上传过快"
		}
		return nil, &errs.RateLimitError{
			Code:       601,
			Message:    msg,
			StatusCode: resp.StatusCode(),
			Voucher:    extractVoucher(safe),
			Raw:        safe.Raw,
		}
	}
	if err := requireOK("preupload", resp, doc); err != nil {
		return nil, err
	}

	ticket := &PreuploadTicket{
		Auth:      strings.TrimSpace(doc.Get("auth").String()),
		BizID:     doc.Get("biz_id").Int(),
		ChunkSize: doc.Get("chunk_size").Int(),
		Endpoint:  strings.TrimSpace(doc.Get("endpoint").String()),
		UposURI:   strings.TrimSpace(doc.Get("upos_uri").String()),
	}
	switch {
	case ticket.Auth == "":
		return nil, errs.Invalid("preupload.auth", "is empty")
	case ticket.BizID <= 0:
		return nil, errs.Invalid("preupload.biz_id", "is invalid")
	case ticket.ChunkSize <= 0:
		return nil, errs.Invalid("preupload.chunk_size", "is invalid")
	case ticket.Endpoint == "":
		return nil, errs.Invalid("preupload.endpoint", "is empty")
	case ticket.UposURI == "":
		return nil, errs.Invalid("preupload.upos_uri", "is empty")
	}
	return ticket, nil
}

// uploadURL 把 upos://bucket/name 改写为 https://{endpoint}/bucket/name
func (c *Client) uploadURL(t *PreuploadTicket) (string, error) {
	if !strings.HasPrefix(t.Endpoint, "//") {
		return "", errs.Invalid("preupload.endpoint", "is invalid")
	}
	if !strings.HasPrefix(t.UposURI, "upos://") {
		return "", errs.Invalid("preupload.upos_uri", "is invalid")
	}
	p := strings.Replace(t.UposURI, "upos:/", "", 1)
	if !strings.HasPrefix(p, "/") {
		return "", errs.Invalid("preupload.upos_uri", "path is invalid")
	}
	return c.opts.UploadScheme + ":" + t.Endpoint + p, nil
}

// PostVideoMeta 在 CDN 上登记分块上传会话
func (c *Client) PostVideoMeta(ctx context.Context, t *PreuploadTicket, filesize int64, profile string) (*MultipartSession, error) {
	url, err := c.uploadURL(t)
	if err != nil {
		return nil, err
	}
	if profile == "" {
		profile = c.opts.Profile
	}
	resp, err := c.cdn.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"uploads":  "",
			"output":   "json",
			"profile":  profile,
			"filesize": strconv.FormatInt(filesize, 10),
			"partsize": strconv.FormatInt(t.ChunkSize, 10),
			"biz_id":   strconv.FormatInt(t.BizID, 10),
		}).
		SetHeader("X-Upos-Auth", t.Auth).
		Post(url)
	if err != nil {
		return nil, &errs.TransportError{Op: "post video meta", Err: err}
	}
	doc, err := decodeObject("post video meta", resp)
	if err != nil {
		return nil, err
	}
	if err := requireOK("post video meta", resp, doc); err != nil {
		return nil, err
	}

	session := &MultipartSession{
		UploadID: strings.TrimSpace(doc.Get("upload_id").String()),
		Bucket:   strings.TrimSpace(doc.Get("bucket").String()),
		Key:      strings.TrimSpace(doc.Get("key").String()),
	}
	if session.UploadID == "" {
		return nil, &errs.ProtocolError{Op: "post video meta", StatusCode: resp.StatusCode(), Message: "upload_id is empty"}
	}
	return session, nil
}

// UploadVideoFile 预上传、登记会话、顺序上传分块并合并
func (c *Client) UploadVideoFile(ctx context.Context, videoPath, profile string) (*UploadedVideo, *UploadDebug, error) {
	file, err := os.Open(videoPath)
	if err != nil {
		return nil, nil, errs.Precondition("video file not found: %s", filepath.Base(videoPath))
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, nil, fmt.Errorf("获取文件信息失败: %w", err)
	}
	filesize := info.Size()
	if filesize <= 0 {
		return nil, nil, errs.Invalid("video", "file is empty")
	}
	if profile == "" {
		profile = c.opts.Profile
	}
	name := filepath.Base(videoPath)

	ticket, err := c.PreuploadVideo(ctx, name, filesize, profile)
	if err != nil {
		return nil, nil, err
	}
	session, err := c.PostVideoMeta(ctx, ticket, filesize, profile)
	if err != nil {
		return nil, nil, err
	}
	url, err := c.uploadURL(ticket)
	if err != nil {
		return nil, nil, err
	}

	chunkSize := ticket.ChunkSize
	chunks := int((filesize + chunkSize - 1) / chunkSize)
	c.log.Info().
		Str("filename", name).
		Int64("size", filesize).
		Int64("chunk_size", chunkSize).
		Int("chunks", chunks).
		Msg("开始上传视频")

	parts := make([]Part, 0, chunks)
	// 分块大小来自服务端，缓冲区不超过文件本身
	buf := make([]byte, min(chunkSize, filesize))
	for chunk := 0; chunk < chunks; chunk++ {
		n, readErr := io.ReadFull(file, buf)
		if n == 0 {
			if readErr != nil && !errors.Is(readErr, io.EOF) {
				return nil, nil, fmt.Errorf("读取分块 %d 失败: %w", chunk+1, readErr)
			}
			break
		}
		if readErr != nil && !errors.Is(readErr, io.ErrUnexpectedEOF) {
			return nil, nil, fmt.Errorf("读取分块 %d 失败: %w", chunk+1, readErr)
		}
		data := buf[:n]
		start := int64(chunk) * chunkSize
		end := start + int64(n)

		resp, err := c.cdn.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"partNumber": strconv.Itoa(chunk + 1),
				"uploadId":   session.UploadID,
				"chunk":      strconv.Itoa(chunk),
				"chunks":     strconv.Itoa(chunks),
				"size":       strconv.Itoa(n),
				"start":      strconv.FormatInt(start, 10),
				"end":        strconv.FormatInt(end, 10),
				"total":      strconv.FormatInt(filesize, 10),
			}).
			SetHeader("X-Upos-Auth", ticket.Auth).
			SetHeader("Content-Type", "application/octet-stream").
			SetBody(data).
			Put(url)
		if err != nil {
			return nil, nil, &errs.TransportError{Op: fmt.Sprintf("upload chunk %d", chunk+1), Err: err}
		}
		if resp.StatusCode() != 200 {
			return nil, nil, &errs.ProtocolError{
				Op:         fmt.Sprintf("upload chunk %d", chunk+1),
				StatusCode: resp.StatusCode(),
				Snippet:    snippet(resp.Body()),
			}
		}

		// 部分节点只返回纯文本，没有 ETag 时用分块 MD5 代替
		etag := strings.Trim(strings.TrimSpace(resp.Header().Get("ETag")), `"`)
		if etag == "" {
			sum := md5.Sum(data)
			etag = hex.EncodeToString(sum[:])
		}
		parts = append(parts, Part{PartNumber: chunk + 1, ETag: etag})

		if c.opts.OnChunkUploaded != nil {
			c.opts.OnChunkUploaded(n)
		}
		c.log.Debug().
			Int("chunk", chunk+1).
			Int("total", chunks).
			Int("size", n).
			Msg("分块上传完成")
	}

	resp, err := c.cdn.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"output":   "json",
			"name":     name,
			"profile":  profile,
			"uploadId": session.UploadID,
			"biz_id":   strconv.FormatInt(ticket.BizID, 10),
		}).
		SetHeader("X-Upos-Auth", ticket.Auth).
		SetBody(map[string]any{"parts": parts}).
		Post(url)
	if err != nil {
		return nil, nil, &errs.TransportError{Op: "end upload", Err: err}
	}
	doc, err := decodeObject("end upload", resp)
	if err != nil {
		return nil, nil, err
	}
	if err := requireOK("end upload", resp, doc); err != nil {
		return nil, nil, err
	}

	stem := filenameStem(ticket.UposURI)
	if stem == "" {
		return nil, nil, errs.Invalid("preupload.upos_uri", "failed to derive filename")
	}

	c.log.Info().Str("filename", stem).Int("chunks", len(parts)).Msg("视频上传完成")

	uploaded := &UploadedVideo{
		Filename: stem,
		CID:      ticket.BizID,
		UploadID: session.UploadID,
		UposURI:  ticket.UposURI,
	}
	debug := &UploadDebug{
		BizID:     ticket.BizID,
		ChunkSize: ticket.ChunkSize,
		Endpoint:  ticket.Endpoint,
		UposURI:   ticket.UposURI,
		UploadID:  session.UploadID,
		UploadURL: url,
		Chunks:    len(parts),
	}
	return uploaded, debug, nil
}

func filenameStem(uposURI string) string {
	name := path.Base(strings.Replace(uposURI, "upos://", "", 1))
	if name == "." || name == "/" {
		return ""
	}
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[:i]
	}
	return name
}
