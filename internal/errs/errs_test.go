package errs

import (
	"errors"
	"fmt"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKind(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{Invalid("filename", "is empty"), "ValidationError"},
		{fmt.Errorf("上传视频失败: %w", &RateLimitError{Code: 601}), "RateLimitError"},
		{&TransportError{Op: "preupload", Err: errors.New("dial tcp")}, "TransportError"},
		{&ProtocolError{Op: "finalize"}, "ProtocolError"},
		{Precondition("cookie is empty"), "PreconditionError"},
		{errors.New("plain"), "Error"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Kind(c.err), c.err.Error())
	}
}

func TestIsRateLimit(t *testing.T) {
	wrapped := fmt.Errorf("upload: %w", &RateLimitError{Code: 601, Message: "上传过快", Voucher: "vv"})
	rl, ok := IsRateLimit(wrapped)
	require.True(t, ok)
	assert.Equal(t, "vv", rl.Voucher)

	_, ok = IsRateLimit(errors.New("other"))
	assert.False(t, ok)
}

func TestProtocolErrorMessage(t *testing.T) {
	err := &ProtocolError{Op: "post video meta", StatusCode: 500, Message: "boom", Snippet: "oops"}
	assert.Equal(t, "post video meta (status=500): boom body=oops", err.Error())
}

func TestTransportErrorHidesQuery(t *testing.T) {
	err := &TransportError{Op: "predict type", Err: &url.Error{
		Op:  "Post",
		URL: "http://127.0.0.1:1/x/vupre/web/archive/types/predict?csrf=csrf-secret&ts=1700000000",
		Err: errors.New("connect: connection refused"),
	}}

	msg := err.Error()
	assert.NotContains(t, msg, "csrf-secret")
	assert.NotContains(t, msg, "?")
	assert.Contains(t, msg, "predict type: Post")
	assert.Contains(t, msg, "/x/vupre/web/archive/types/predict")
	assert.Contains(t, msg, "connection refused")

	wrapped := &TransportError{Op: "cover", Err: fmt.Errorf("send: %w", &url.Error{Op: "Post", URL: "http://h/p?a=b#f", Err: errors.New("eof")})}
	assert.NotContains(t, wrapped.Error(), "a=b")

	var ue *url.Error
	assert.True(t, errors.As(err, &ue))
}
