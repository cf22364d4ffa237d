package model

import (
	"encoding/json"
	"strings"
	"testing"

	"bilipub/internal/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMetaDefaults(t *testing.T) {
	m, err := ParseMeta([]byte(`{"title":"  Hello  ","tid":21,"tag":"游戏，攻略, 游戏 ,"}`))
	require.NoError(t, err)

	assert.Equal(t, "Hello", m.Title)
	assert.Equal(t, 21, m.TypeID)
	assert.Equal(t, []string{"游戏", "攻略"}, m.Tags)
	assert.Equal(t, 1, m.Copyright)
	assert.Equal(t, 9999, m.DescFormatID)
	assert.Equal(t, -1, m.Recreate)
	assert.Equal(t, 1, m.NoReprint)
	assert.Equal(t, 3, m.WebOS)
	assert.Equal(t, Subtitle{Open: 0, Lan: ""}, m.Subtitle)
	assert.Nil(t, m.DTime)
	assert.Nil(t, m.IsOnlySelf)
}

func TestParseMetaAliases(t *testing.T) {
	m, err := ParseMeta([]byte(`{
		"title": "t",
		"typeid": 17,
		"tid": 99,
		"keywords": ["a", "b", "a", ""],
		"up_close_danmaku": true,
		"dtime": 1700000000,
		"is_only_self": 1,
		"desc_v2": [{"raw_text":"x","type":1}],
		"unknown_flag": {"x": 1}
	}`))
	require.NoError(t, err)

	assert.Equal(t, 17, m.TypeID)
	assert.Equal(t, []string{"a", "b"}, m.Tags)
	assert.True(t, m.UpCloseDanmu)
	require.NotNil(t, m.DTime)
	assert.EqualValues(t, 1700000000, *m.DTime)
	require.NotNil(t, m.IsOnlySelf)
	assert.Equal(t, 1, *m.IsOnlySelf)
	assert.JSONEq(t, `[{"raw_text":"x","type":1}]`, string(m.DescV2))
	assert.JSONEq(t, `{"x":1}`, string(m.Extra["unknown_flag"]))
}

func TestParseMetaValidation(t *testing.T) {
	manyTags := make([]string, 11)
	for i := range manyTags {
		manyTags[i] = string(rune('a' + i))
	}
	tooMany, _ := json.Marshal(map[string]any{"title": "t", "tid": 1, "tags": manyTags})

	cases := map[string]string{
		"missing title":          `{"tid":1,"tags":"a"}`,
		"long title":             `{"title":"` + strings.Repeat("字", 81) + `","tid":1,"tags":"a"}`,
		"long desc":              `{"title":"t","desc":"` + strings.Repeat("x", 2001) + `","tid":1,"tags":"a"}`,
		"missing typeid":         `{"title":"t","tags":"a"}`,
		"negative typeid":        `{"title":"t","tid":-3,"tags":"a"}`,
		"no tags":                `{"title":"t","tid":1,"tags":" , "}`,
		"too many tags":          string(tooMany),
		"bad copyright":          `{"title":"t","tid":1,"tags":"a","copyright":3}`,
		"reprint without source": `{"title":"t","tid":1,"tags":"a","copyright":2}`,
		"bad recreate":           `{"title":"t","tid":1,"tags":"a","recreate":0}`,
		"bad no_reprint":         `{"title":"t","tid":1,"tags":"a","no_reprint":2}`,
		"bad no_disturbance":     `{"title":"t","tid":1,"tags":"a","no_disturbance":5}`,
		"not an object":          `["t"]`,
		"not json":               `{`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseMeta([]byte(doc))
			require.Error(t, err)
			var ve *errs.ValidationError
			assert.ErrorAs(t, err, &ve)
		})
	}
}

func TestParseMetaTitleRuneBoundary(t *testing.T) {
	_, err := ParseMeta([]byte(`{"title":"` + strings.Repeat("字", 80) + `","tid":1,"tags":"a"}`))
	require.NoError(t, err)
}

func TestMetaRoundTripKeepsExtra(t *testing.T) {
	m, err := ParseMeta([]byte(`{"title":"t","tid":5,"tags":["x"],"copyright":2,"source":"https://example.com","future":"yes"}`))
	require.NoError(t, err)

	data, err := json.Marshal(m)
	require.NoError(t, err)

	again, err := ParseMeta(data)
	require.NoError(t, err)
	assert.Equal(t, m.Title, again.Title)
	assert.Equal(t, 2, again.Copyright)
	assert.Equal(t, "https://example.com", again.Source)
	assert.JSONEq(t, `"yes"`, string(again.Extra["future"]))
}
