package bilibili

import (
	"strings"

	"bilipub/internal/errs"
	"bilipub/pkg/redact"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"
)

// decodeObject 响应必须是 JSON 对象
func decodeObject(op string, resp *resty.Response) (gjson.Result, error) {
	body := resp.Body()
	if gjson.ValidBytes(body) {
		if doc := gjson.ParseBytes(body); doc.IsObject() {
			return doc, nil
		}
	}
	return gjson.Result{}, &errs.ProtocolError{
		Op:         op,
		StatusCode: resp.StatusCode(),
		Message:    "invalid json response",
		Snippet:    snippet(body),
	}
}

// requireCode 平台接口要求 code == 0
func requireCode(op string, resp *resty.Response, doc gjson.Result) error {
	code := doc.Get("code")
	if code.Type == gjson.Number && code.Int() == 0 {
		return nil
	}
	return &errs.ProtocolError{
		Op:         op,
		StatusCode: resp.StatusCode(),
		Code:       int(code.Int()),
		Message:    errMessage(doc),
	}
}

// requireOK CDN 与预上传接口要求 OK == 1
func requireOK(op string, resp *resty.Response, doc gjson.Result) error {
	if resp.StatusCode() != 200 {
		return &errs.ProtocolError{
			Op:         op,
			StatusCode: resp.StatusCode(),
			Message:    messageOrBody(doc),
		}
	}
	if ok := doc.Get("OK"); ok.Type != gjson.Number || ok.Int() != 1 {
		return &errs.ProtocolError{
			Op:         op,
			StatusCode: resp.StatusCode(),
			Message:    "OK=" + ok.Raw + " " + messageOrBody(doc),
		}
	}
	return nil
}

func errMessage(doc gjson.Result) string {
	for _, key := range []string{"message", "msg", "error", "err", "info"} {
		v := doc.Get(key)
		if !v.Exists() || v.Type == gjson.Null {
			continue
		}
		if s := strings.TrimSpace(v.String()); s != "" {
			return s
		}
	}
	return ""
}

func messageOrBody(doc gjson.Result) string {
	if msg := errMessage(doc); msg != "" {
		return msg
	}
	return snippet(redact.JSON([]byte(doc.Raw)))
}

func extractVoucher(doc gjson.Result) string {
	for _, path := range []string{"v_voucher", "detail.v_voucher", "data.v_voucher", "data.detail.v_voucher"} {
		v := doc.Get(path)
		if v.Type != gjson.String {
			continue
		}
		if s := strings.TrimSpace(v.Str); s != "" {
			return s
		}
	}
	return ""
}

func snippet(body []byte) string {
	return redact.Truncate(strings.TrimSpace(string(body)), snippetLimit)
}
