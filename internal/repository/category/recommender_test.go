package category

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"bilipub/internal/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

const testAPIKey = "sk-test-secret-key"

type oracleServer struct {
	*httptest.Server
	mu       sync.Mutex
	content  string
	status   int
	requests [][]byte
	auth     []string
}

func newOracleServer(t *testing.T, content string) *oracleServer {
	t.Helper()
	o := &oracleServer{content: content, status: http.StatusOK}
	o.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		o.mu.Lock()
		o.requests = append(o.requests, body)
		o.auth = append(o.auth, r.Header.Get("Authorization"))
		status, content := o.status, o.content
		o.mu.Unlock()

		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"bad","type":"invalid_request_error"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1700000000,
			"model":   "test-model",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": content},
			}},
		})
	}))
	t.Cleanup(o.Close)
	return o
}

func (o *oracleServer) lastRequest() []byte {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.requests) == 0 {
		return nil
	}
	return o.requests[len(o.requests)-1]
}

func (o *oracleServer) calls() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.requests)
}

var testCandidates = []Candidate{
	{ID: 17, Name: "单机游戏", Path: "游戏/单机游戏"},
	{ID: 171, Name: "电子竞技", Path: "游戏/电子竞技"},
}

func newTestRecommender(o *oracleServer) *Recommender {
	return NewRecommender(Config{APIKey: testAPIKey, BaseURL: o.URL, Model: "test-model", Temperature: 0.2})
}

func TestRecommend(t *testing.T) {
	o := newOracleServer(t, `{"typeid": 171, "reason": "比赛解说"}`)
	r := newTestRecommender(o)

	rec, err := r.Recommend(context.Background(), "一场英雄联盟决赛的解说", testCandidates)
	require.NoError(t, err)
	assert.Equal(t, 171, rec.TypeID)
	assert.Equal(t, "比赛解说", rec.Reason)

	req := o.lastRequest()
	assert.Equal(t, "test-model", gjson.GetBytes(req, "model").String())
	assert.Equal(t, "json_object", gjson.GetBytes(req, "response_format.type").String())
	assert.Equal(t, "system", gjson.GetBytes(req, "messages.0.role").String())
	assert.Equal(t, systemPrompt, gjson.GetBytes(req, "messages.0.content").String())
	prompt := gjson.GetBytes(req, "messages.1.content").String()
	assert.Contains(t, prompt, "171\t游戏/电子竞技")
	assert.Contains(t, prompt, "一场英雄联盟决赛的解说")
	assert.Equal(t, "Bearer "+testAPIKey, o.auth[0])
}

func TestRecommendAcceptsNumericString(t *testing.T) {
	o := newOracleServer(t, `{"typeid":"17"}`)
	rec, err := newTestRecommender(o).Recommend(context.Background(), "单机", testCandidates)
	require.NoError(t, err)
	assert.Equal(t, 17, rec.TypeID)
}

func TestRecommendRejects(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"not a candidate", `{"typeid": 99, "reason": "x"}`},
		{"not json", "分区是 17"},
		{"array", `[17]`},
		{"missing typeid", `{"reason":"x"}`},
		{"fractional", `{"typeid": 17.5}`},
		{"bad string", `{"typeid": "abc"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			o := newOracleServer(t, tc.content)
			_, err := newTestRecommender(o).Recommend(context.Background(), "text", testCandidates)
			var pe *errs.ProtocolError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, 1, o.calls())
		})
	}
}

func TestRecommendHTTPErrorNoRetry(t *testing.T) {
	o := newOracleServer(t, "")
	o.status = http.StatusInternalServerError

	_, err := newTestRecommender(o).Recommend(context.Background(), "text", testCandidates)
	var pe *errs.ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, http.StatusInternalServerError, pe.StatusCode)
	assert.Equal(t, 1, o.calls())
	assert.NotContains(t, err.Error(), testAPIKey)
}

func TestRecommendEmptyInputs(t *testing.T) {
	o := newOracleServer(t, `{"typeid":17}`)
	r := newTestRecommender(o)

	_, err := r.Recommend(context.Background(), "  ", testCandidates)
	var ve *errs.ValidationError
	require.ErrorAs(t, err, &ve)

	_, err = r.Recommend(context.Background(), "text", nil)
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, 0, o.calls())
}

func TestConfigured(t *testing.T) {
	assert.False(t, NewRecommender(Config{}).Configured())
	assert.True(t, NewRecommender(Config{APIKey: "k"}).Configured())
	var r *Recommender
	assert.False(t, r.Configured())
}
