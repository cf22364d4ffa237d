package storage

import (
	"context"
	"errors"
	"testing"

	"bilipub/internal/config"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMemStore() (*LocalStore, afero.Fs, afero.Fs) {
	blobs := afero.NewMemMapFs()
	local := afero.NewMemMapFs()
	return NewLocalStore(blobs, "/data", zerolog.Nop(), WithLocalFs(local)), blobs, local
}

func TestLocalStorePutAndDownload(t *testing.T) {
	s, blobs, local := newMemStore()
	ctx := context.Background()

	require.NoError(t, s.PutBytes(ctx, []byte(`{"ok":true}`), "meta/t1/publish_result.json", "application/json"))
	data, err := afero.ReadFile(blobs, "/data/meta/t1/publish_result.json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(data))

	ok, err := s.Exists("meta/t1/publish_result.json")
	require.NoError(t, err)
	assert.True(t, ok)
	tmpExists, _ := afero.Exists(blobs, "/data/meta/t1/publish_result.json.tmp")
	assert.False(t, tmpExists)

	require.NoError(t, s.Download(ctx, "meta/t1/publish_result.json", "/work/out.json"))
	got, err := afero.ReadFile(local, "/work/out.json")
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestLocalStoreUpload(t *testing.T) {
	s, blobs, local := newMemStore()
	require.NoError(t, afero.WriteFile(local, "/work/final.mp4", []byte("video"), 0o644))

	require.NoError(t, s.Upload(context.Background(), "/work/final.mp4", "videos/t1/final.mp4", "video/mp4"))
	data, err := afero.ReadFile(blobs, "/data/videos/t1/final.mp4")
	require.NoError(t, err)
	assert.Equal(t, "video", string(data))
}

func TestLocalStoreDownloadMissing(t *testing.T) {
	s, _, _ := newMemStore()
	err := s.Download(context.Background(), "nope.mp4", "/work/x")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestLocalStoreRejectsTraversal(t *testing.T) {
	s, _, _ := newMemStore()
	err := s.PutBytes(context.Background(), []byte("x"), "../etc/passwd", "")
	require.Error(t, err)
}

func TestLocalStoreCanceledContext(t *testing.T) {
	s, _, _ := newMemStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.PutBytes(ctx, []byte("x"), "a", ""), context.Canceled)
}

func TestCleanKey(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"videos/a.mp4", "videos/a.mp4", false},
		{"/videos//a.mp4", "videos/a.mp4", false},
		{`videos\a.mp4`, "videos/a.mp4", false},
		{"", "", true},
		{"/", "", true},
		{"a/../../b", "", true},
	}
	for _, tc := range cases {
		got, err := CleanKey(tc.in)
		if tc.wantErr {
			assert.Error(t, err, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got)
	}
}

func TestNewUnknownDriver(t *testing.T) {
	_, err := New(context.Background(), config.StorageConfig{Driver: "ftp"}, zerolog.Nop())
	require.Error(t, err)

	s, err := New(context.Background(), config.StorageConfig{Driver: "local", Local: config.LocalConfig{Root: t.TempDir()}}, zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &LocalStore{}, s)
}
