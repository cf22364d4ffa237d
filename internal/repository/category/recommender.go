package category

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"bilipub/internal/errs"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"github.com/tidwall/gjson"
)

const systemPrompt = "Return ONLY valid JSON (no markdown, no extra text)."

// Config 推荐接口配置
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

// Recommendation 模型选择的分区
type Recommendation struct {
	TypeID int    `json:"typeid"`
	Reason string `json:"reason"`
}

// Recommender 通过 OpenAI 兼容接口在候选分区中选择一个。不做重试。
type Recommender struct {
	client openai.Client
	cfg    Config
}

// NewRecommender 创建推荐器，extra 用于测试注入 HTTP 客户端等
func NewRecommender(cfg Config, extra ...option.RequestOption) *Recommender {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
		option.WithRequestTimeout(cfg.Timeout),
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		opts = append(opts, option.WithBaseURL(base))
	}
	opts = append(opts, extra...)
	return &Recommender{client: openai.NewClient(opts...), cfg: cfg}
}

// Configured 是否配置了 API Key
func (r *Recommender) Configured() bool {
	return r != nil && strings.TrimSpace(r.cfg.APIKey) != ""
}

// Recommend 返回的 typeid 一定属于 candidates
func (r *Recommender) Recommend(ctx context.Context, text string, candidates []Candidate) (*Recommendation, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errs.Invalid("text", "is empty")
	}
	if len(candidates) == 0 {
		return nil, errs.Invalid("candidates", "is empty")
	}

	params := openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(buildPrompt(text, candidates)),
		},
		Model:       r.cfg.Model,
		Temperature: openai.Float(r.cfg.Temperature),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{Type: "json_object"},
		},
	}

	resp, err := r.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return nil, &errs.ProtocolError{Op: "recommend typeid", StatusCode: apiErr.StatusCode, Message: "oracle request rejected"}
		}
		return nil, &errs.TransportError{Op: "recommend typeid", Err: err}
	}
	if len(resp.Choices) == 0 {
		return nil, &errs.ProtocolError{Op: "recommend typeid", Message: "empty choices"}
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return nil, &errs.ProtocolError{Op: "recommend typeid", Message: "empty content"}
	}

	rec, err := parseRecommendation(content)
	if err != nil {
		return nil, err
	}
	if !Contains(candidates, rec.TypeID) {
		return nil, &errs.ProtocolError{Op: "recommend typeid", Message: fmt.Sprintf("typeid %d is not a candidate", rec.TypeID)}
	}
	return rec, nil
}

func buildPrompt(text string, candidates []Candidate) string {
	var lines strings.Builder
	for i, c := range candidates {
		if i > 0 {
			lines.WriteByte('\n')
		}
		lines.WriteString(strconv.Itoa(c.ID))
		lines.WriteByte('\t')
		lines.WriteString(c.Path)
	}

	return "你是 B 站投稿分区（tid/typeid）助手。请根据输入文本，选择最合适的一个分区。\n" +
		"要求：\n" +
		"- 必须从提供的候选列表中选择，输出的 typeid 必须在候选列表里；\n" +
		"- 只输出 JSON 对象，字段为：typeid（数字）与 reason（字符串，<=80字）。\n\n" +
		"输入文本：\n" + text + "\n\n" +
		"候选分区（每行：typeid<TAB>path）：\n" +
		lines.String() + "\n\n" +
		"输出 JSON：\n" +
		`{ "typeid": 0, "reason": "" }`
}

func parseRecommendation(content string) (*Recommendation, error) {
	if !gjson.Valid(content) {
		return nil, &errs.ProtocolError{Op: "recommend typeid", Message: "invalid json", Snippet: content}
	}
	doc := gjson.Parse(content)
	if !doc.IsObject() {
		return nil, &errs.ProtocolError{Op: "recommend typeid", Message: "non-object json"}
	}

	var id int
	switch v := doc.Get("typeid"); v.Type {
	case gjson.Number:
		if float64(int(v.Num)) != v.Num {
			return nil, &errs.ProtocolError{Op: "recommend typeid", Message: "typeid is not an integer"}
		}
		id = int(v.Num)
	case gjson.String:
		n, err := strconv.Atoi(strings.TrimSpace(v.Str))
		if err != nil {
			return nil, &errs.ProtocolError{Op: "recommend typeid", Message: "typeid is not an integer"}
		}
		id = n
	default:
		return nil, &errs.ProtocolError{Op: "recommend typeid", Message: "typeid is missing"}
	}

	return &Recommendation{
		TypeID: id,
		Reason: strings.TrimSpace(doc.Get("reason").String()),
	}, nil
}
