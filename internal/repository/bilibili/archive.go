package bilibili

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"bilipub/internal/errs"
	"bilipub/internal/model"

	"github.com/tidwall/gjson"
)

// SubmitResult 稿件提交结果
type SubmitResult struct {
	AID  string
	BVID string
}

// UploadCover 以 data URI 形式上传封面，返回封面地址
func (c *Client) UploadCover(ctx context.Context, imagePath, csrf string) (string, error) {
	csrf = strings.TrimSpace(csrf)
	if csrf == "" {
		return "", errs.Invalid("csrf", "is empty")
	}
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return "", errs.Precondition("cover file not found: %s", filepath.Base(imagePath))
	}

	mimeType := mime.TypeByExtension(strings.ToLower(filepath.Ext(imagePath)))
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = mimeType[:i]
	}
	if !strings.HasPrefix(mimeType, "image/") {
		mimeType = "image/jpeg"
	}
	dataURI := "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)

	resp, err := c.api.R().
		SetContext(ctx).
		SetQueryParam("ts", c.timestamp()).
		SetFormData(map[string]string{
			"csrf":  csrf,
			"cover": dataURI,
		}).
		Post(c.memberURL("/x/vu/web/cover/up"))
	if err != nil {
		return "", &errs.TransportError{Op: "upload cover", Err: err}
	}
	doc, err := decodeObject("upload cover", resp)
	if err != nil {
		return "", err
	}
	if err := requireCode("upload cover", resp, doc); err != nil {
		return "", err
	}
	url := strings.TrimSpace(doc.Get("data.url").String())
	if url == "" {
		return "", &errs.ProtocolError{Op: "upload cover", StatusCode: resp.StatusCode(), Message: "empty url"}
	}
	return url, nil
}

// PredictType 平台分区预测，返回首个建议分区。没有建议时 ok 为 false。
func (c *Client) PredictType(ctx context.Context, csrf, filename, title, uploadID string) (tid int, ok bool, err error) {
	csrf = strings.TrimSpace(csrf)
	if csrf == "" {
		return 0, false, errs.Invalid("csrf", "is empty")
	}
	resp, err := c.api.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"csrf": csrf,
			"ts":   c.timestamp(),
		}).
		SetMultipartFormData(map[string]string{
			"filename":  filename,
			"title":     title,
			"upload_id": uploadID,
		}).
		Post(c.memberURL("/x/vupre/web/archive/types/predict"))
	if err != nil {
		return 0, false, &errs.TransportError{Op: "predict type", Err: err}
	}
	doc, err := decodeObject("predict type", resp)
	if err != nil {
		return 0, false, err
	}
	if err := requireCode("predict type", resp, doc); err != nil {
		return 0, false, err
	}

	arr := doc.Get("data")
	if !arr.IsArray() {
		return 0, false, nil
	}
	items := arr.Array()
	if len(items) == 0 {
		return 0, false, nil
	}
	id := int(items[0].Get("id").Int())
	if id <= 0 {
		return 0, false, nil
	}
	return id, true, nil
}

// ArchivePre 获取投稿页配置，返回 data.typelist 原始 JSON
func (c *Client) ArchivePre(ctx context.Context) ([]byte, error) {
	resp, err := c.api.R().
		SetContext(ctx).
		SetQueryParam("ts", c.timestamp()).
		Get(c.memberURL("/x/vupre/web/archive/pre"))
	if err != nil {
		return nil, &errs.TransportError{Op: "archive pre", Err: err}
	}
	doc, err := decodeObject("archive pre", resp)
	if err != nil {
		return nil, err
	}
	if err := requireCode("archive pre", resp, doc); err != nil {
		return nil, err
	}
	typelist := doc.Get("data.typelist")
	if !typelist.Exists() {
		return nil, nil
	}
	return []byte(typelist.Raw), nil
}

// AddArchive 提交稿件
func (c *Client) AddArchive(ctx context.Context, meta *model.PublishMeta, csrf string, tid int, uploaded *UploadedVideo, coverURL string) (*SubmitResult, error) {
	csrf = strings.TrimSpace(csrf)
	switch {
	case csrf == "":
		return nil, errs.Invalid("csrf", "is empty")
	case tid <= 0:
		return nil, errs.Invalid("tid", "must be > 0")
	case meta == nil || len(meta.Tags) == 0:
		return nil, errs.Invalid("meta.tags", "is required")
	case uploaded == nil:
		return nil, errs.Invalid("video", "is not uploaded")
	}

	resp, err := c.api.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"csrf": csrf,
			"ts":   c.timestamp(),
		}).
		SetBody(archiveBody(meta, csrf, tid, uploaded, strings.TrimSpace(coverURL))).
		Post(c.memberURL("/x/vu/web/add/v3"))
	if err != nil {
		return nil, &errs.TransportError{Op: "add archive", Err: err}
	}
	doc, err := decodeObject("add archive", resp)
	if err != nil {
		return nil, err
	}
	if err := requireCode("add archive", resp, doc); err != nil {
		return nil, err
	}

	return &SubmitResult{
		AID:  scalarString(doc.Get("data.aid")),
		BVID: scalarString(doc.Get("data.bvid")),
	}, nil
}

// archiveBody 组装 add/v3 请求体，可选字段为空时不发送
func archiveBody(meta *model.PublishMeta, csrf string, tid int, uploaded *UploadedVideo, coverURL string) map[string]any {
	body := map[string]any{
		"videos": []map[string]any{{
			"filename": uploaded.Filename,
			"title":    meta.Title,
			"desc":     "",
			"cid":      uploaded.CID,
		}},
		"cover43":            "",
		"title":              meta.Title,
		"copyright":          meta.Copyright,
		"tid":                tid,
		"tag":                strings.Join(meta.Tags, ","),
		"desc_format_id":     meta.DescFormatID,
		"desc":               meta.Desc,
		"recreate":           meta.Recreate,
		"dynamic":            meta.Dynamic,
		"interactive":        meta.Interactive,
		"act_reserve_create": meta.ActReserveCreate,
		"no_disturbance":     meta.NoDisturbance,
		"no_reprint":         meta.NoReprint,
		"subtitle":           map[string]any{"open": meta.Subtitle.Open, "lan": meta.Subtitle.Lan},
		"dolby":              meta.Dolby,
		"lossless_music":     meta.LosslessMusic,
		"up_selection_reply": meta.UpSelectionReply,
		"up_close_reply":     meta.UpCloseReply,
		"up_close_danmu":     meta.UpCloseDanmu,
		"web_os":             meta.WebOS,
		"csrf":               csrf,
	}
	// 不传封面时平台自动截取
	if coverURL != "" {
		body["cover"] = coverURL
	}
	if meta.Copyright == 2 {
		body["source"] = meta.Source
	}
	if len(meta.DescV2) > 0 && string(meta.DescV2) != "null" {
		body["desc_v2"] = json.RawMessage(meta.DescV2)
	}
	optional := map[string]*int{
		"human_type2":  meta.HumanType2,
		"is_only_self": meta.IsOnlySelf,
		"topic_id":     meta.TopicID,
		"mission_id":   meta.MissionID,
		"is_360":       meta.Is360,
	}
	for key, v := range optional {
		if v != nil {
			body[key] = *v
		}
	}
	if meta.NeutralMark != nil {
		body["neutral_mark"] = *meta.NeutralMark
	}
	if meta.DTime != nil {
		body["dtime"] = *meta.DTime
	}
	return body
}

func scalarString(r gjson.Result) string {
	if !r.Exists() || r.Type == gjson.Null {
		return ""
	}
	return r.String()
}
