package bilibili

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"bilipub/internal/errs"
	"bilipub/internal/model"
	"bilipub/internal/repository/bilibili/bilibilitest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func testMeta(t *testing.T, doc string) *model.PublishMeta {
	t.Helper()
	m, err := model.ParseMeta([]byte(doc))
	require.NoError(t, err)
	return m
}

func TestUploadCover(t *testing.T) {
	srv := bilibilitest.NewServer()
	defer srv.Close()
	c := newTestClient(t, srv)

	p := filepath.Join(t.TempDir(), "cover.png")
	require.NoError(t, os.WriteFile(p, []byte{0x89, 'P', 'N', 'G'}, 0o644))

	url, err := c.UploadCover(context.Background(), p, "csrf-value-abcdef")
	require.NoError(t, err)
	assert.Equal(t, "https://i0.hdslb.com/bfs/archive/cover.jpg", url)

	form := srv.CoverForm()
	assert.Equal(t, "csrf-value-abcdef", form.Get("csrf"))
	assert.True(t, strings.HasPrefix(form.Get("cover"), "data:image/png;base64,"))
}

func TestUploadCoverDefaultsToJPEG(t *testing.T) {
	srv := bilibilitest.NewServer()
	defer srv.Close()
	c := newTestClient(t, srv)

	p := filepath.Join(t.TempDir(), "cover.bin")
	require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))

	_, err := c.UploadCover(context.Background(), p, "csrf")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(srv.CoverForm().Get("cover"), "data:image/jpeg;base64,"))
}

func TestUploadCoverRequiresCSRF(t *testing.T) {
	srv := bilibilitest.NewServer()
	defer srv.Close()
	c := newTestClient(t, srv)

	_, err := c.UploadCover(context.Background(), "cover.jpg", "")
	var ve *errs.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, 0, srv.Calls("cover"))
}

func TestPredictType(t *testing.T) {
	srv := bilibilitest.NewServer()
	defer srv.Close()
	c := newTestClient(t, srv)

	tid, ok, err := c.PredictType(context.Background(), "csrf", "n1", "title", "up-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 17, tid)

	srv.PredictID = 0
	_, ok, err = c.PredictType(context.Background(), "csrf", "n1", "title", "up-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPredictTypeErrorCodePropagates(t *testing.T) {
	srv := bilibilitest.NewServer()
	defer srv.Close()
	c := newTestClient(t, srv)

	_, _, err := c.PredictType(context.Background(), "csrf", "n1", "title", "")
	var pe *errs.ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, -400, pe.Code)
}

func TestArchivePre(t *testing.T) {
	srv := bilibilitest.NewServer()
	defer srv.Close()
	c := newTestClient(t, srv)

	raw, err := c.ArchivePre(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "游戏", gjson.GetBytes(raw, "0.name").String())
}

func TestAddArchive(t *testing.T) {
	srv := bilibilitest.NewServer()
	defer srv.Close()
	c := newTestClient(t, srv)

	meta := testMeta(t, `{"title":"标题","desc":"简介","tid":21,"tags":["a","b"],"dtime":1700000000,"is_only_self":0}`)
	uploaded := &UploadedVideo{Filename: "n1", CID: 777, UploadID: "up-1"}

	res, err := c.AddArchive(context.Background(), meta, "csrf", 171, uploaded, "https://cover")
	require.NoError(t, err)
	assert.Equal(t, "123", res.AID)
	assert.Equal(t, "BV1xx", res.BVID)

	body := srv.ArchiveBody()
	assert.Equal(t, "n1", gjson.GetBytes(body, "videos.0.filename").String())
	assert.Equal(t, int64(777), gjson.GetBytes(body, "videos.0.cid").Int())
	assert.Equal(t, "", gjson.GetBytes(body, "videos.0.desc").String())
	assert.Equal(t, int64(171), gjson.GetBytes(body, "tid").Int())
	assert.Equal(t, "a,b", gjson.GetBytes(body, "tag").String())
	assert.Equal(t, "https://cover", gjson.GetBytes(body, "cover").String())
	assert.Equal(t, int64(9999), gjson.GetBytes(body, "desc_format_id").Int())
	assert.Equal(t, int64(1700000000), gjson.GetBytes(body, "dtime").Int())
	assert.True(t, gjson.GetBytes(body, "is_only_self").Exists())
	assert.Equal(t, "csrf", gjson.GetBytes(body, "csrf").String())
	assert.False(t, gjson.GetBytes(body, "source").Exists())
	assert.False(t, gjson.GetBytes(body, "topic_id").Exists())
	assert.False(t, gjson.GetBytes(body, "desc_v2").Exists())
	assert.Equal(t, int64(0), gjson.GetBytes(body, "subtitle.open").Int())
}

func TestAddArchiveReprintIncludesSource(t *testing.T) {
	srv := bilibilitest.NewServer()
	defer srv.Close()
	c := newTestClient(t, srv)

	meta := testMeta(t, `{"title":"t","tid":21,"tags":"a","copyright":2,"source":"https://youtu.be/x"}`)
	_, err := c.AddArchive(context.Background(), meta, "csrf", 21, &UploadedVideo{Filename: "n1", CID: 1}, "")
	require.NoError(t, err)

	body := srv.ArchiveBody()
	assert.Equal(t, "https://youtu.be/x", gjson.GetBytes(body, "source").String())
	assert.False(t, gjson.GetBytes(body, "cover").Exists())
}

func TestAddArchivePreconditions(t *testing.T) {
	srv := bilibilitest.NewServer()
	defer srv.Close()
	c := newTestClient(t, srv)
	meta := testMeta(t, `{"title":"t","tid":21,"tags":"a"}`)
	up := &UploadedVideo{Filename: "n1", CID: 1}

	_, err := c.AddArchive(context.Background(), meta, "", 21, up, "")
	require.Error(t, err)
	_, err = c.AddArchive(context.Background(), meta, "csrf", 0, up, "")
	require.Error(t, err)
	noTags := *meta
	noTags.Tags = nil
	_, err = c.AddArchive(context.Background(), &noTags, "csrf", 21, up, "")
	require.Error(t, err)
	assert.Equal(t, 0, srv.Calls("add"))
}

func TestAddArchiveErrorCode(t *testing.T) {
	srv := bilibilitest.NewServer()
	defer srv.Close()
	srv.AddCode = 21070
	c := newTestClient(t, srv)

	meta := testMeta(t, `{"title":"t","tid":21,"tags":"a"}`)
	_, err := c.AddArchive(context.Background(), meta, "csrf", 21, &UploadedVideo{Filename: "n1", CID: 1}, "")
	var pe *errs.ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 21070, pe.Code)
	assert.Contains(t, pe.Message, "稿件提交失败")
}
