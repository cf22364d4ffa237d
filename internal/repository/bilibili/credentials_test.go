package bilibili

import (
	"context"
	"testing"
	"time"

	"bilipub/internal/errs"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticCredentials(t *testing.T) {
	creds := NewStaticCredentials("Cookie: SESSDATA=abc;\n bili_jct=token123 ; buvid3=x")
	ctx := context.Background()

	cookie, err := creds.CookieHeader(ctx)
	require.NoError(t, err)
	assert.Equal(t, "SESSDATA=abc;  bili_jct=token123 ; buvid3=x", cookie)

	csrf, err := creds.CSRFToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "token123", csrf)
}

func TestStaticCredentialsEmpty(t *testing.T) {
	creds := NewStaticCredentials("")
	cookie, err := creds.CookieHeader(context.Background())
	require.NoError(t, err)
	assert.Empty(t, cookie)
	csrf, err := creds.CSRFToken(context.Background())
	require.NoError(t, err)
	assert.Empty(t, csrf)
}

func TestFileCredentialsNetscape(t *testing.T) {
	fs := afero.NewMemMapFs()
	content := "# Netscape HTTP Cookie File\n" +
		".bilibili.com\tTRUE\t/\tTRUE\t1893456000\tSESSDATA\tsess\n" +
		"#HttpOnly_.bilibili.com\tTRUE\t/\tFALSE\t1893456000\tbili_jct\tjct\n" +
		"broken line\n"
	require.NoError(t, afero.WriteFile(fs, "/cookies.txt", []byte(content), 0o600))

	creds := NewFileCredentials(fs, "/cookies.txt")
	creds.now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	cookie, err := creds.CookieHeader(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "SESSDATA=sess; bili_jct=jct", cookie)

	csrf, err := creds.CSRFToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "jct", csrf)
}

func TestFileCredentialsJSON(t *testing.T) {
	fs := afero.NewMemMapFs()
	content := `[{"name":"SESSDATA","value":"s","domain":".bilibili.com","httpOnly":true},{"name":"csrf","value":"c"}]`
	require.NoError(t, afero.WriteFile(fs, "/cookies.json", []byte(content), 0o600))

	creds := NewFileCredentials(fs, "/cookies.json")
	csrf, err := creds.CSRFToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "c", csrf)
}

func TestFileCredentialsMissingFile(t *testing.T) {
	creds := NewFileCredentials(afero.NewMemMapFs(), "/nope")
	_, err := creds.CookieHeader(context.Background())
	require.Error(t, err)
	assert.Equal(t, "PreconditionError", errs.Kind(err))

	_, err = creds.CSRFToken(context.Background())
	assert.Equal(t, "PreconditionError", errs.Kind(err))
}

func TestFileCredentialsSkipsForeignAndExpired(t *testing.T) {
	fs := afero.NewMemMapFs()
	content := ".bilibili.com\tTRUE\t/\tTRUE\t1893456000\tSESSDATA\tsess\n" +
		"member.bilibili.com\tFALSE\t/\tFALSE\t0\tbuvid3\tb3\n" +
		".bilibili.com\tTRUE\t/\tFALSE\t1600000000\tbili_jct\tstale\n" +
		".example.com\tTRUE\t/\tFALSE\t1893456000\tbili_jct\tforeign\n" +
		".notbilibili.com\tTRUE\t/\tFALSE\t1893456000\tcsrf\tlookalike\n" +
		"#HttpOnly_.bilibili.com\tTRUE\t/\tFALSE\t1893456000\tbili_jct\tfresh\n"
	require.NoError(t, afero.WriteFile(fs, "/cookies.txt", []byte(content), 0o600))

	creds := NewFileCredentials(fs, "/cookies.txt")
	creds.now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }

	cookie, err := creds.CookieHeader(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "SESSDATA=sess; buvid3=b3; bili_jct=fresh", cookie)

	csrf, err := creds.CSRFToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh", csrf)
}

func TestFileCredentialsJSONExpired(t *testing.T) {
	fs := afero.NewMemMapFs()
	content := `[{"name":"bili_jct","value":"old","domain":".bilibili.com","expirationDate":1600000000.5},` +
		`{"name":"SESSDATA","value":"s","domain":".bilibili.com"}]`
	require.NoError(t, afero.WriteFile(fs, "/cookies.json", []byte(content), 0o600))

	creds := NewFileCredentials(fs, "/cookies.json")
	creds.now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }

	cookie, err := creds.CookieHeader(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "SESSDATA=s", cookie)

	csrf, err := creds.CSRFToken(context.Background())
	require.NoError(t, err)
	assert.Empty(t, csrf)
}
