// Package bilibilitest 提供模拟创作中心与上传 CDN 的 HTTP 服务，供测试使用。
package bilibilitest

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
)

const (
	Auth     = "upos-secret-auth-token"
	UploadID = "upload-id-1"
)

// ReceivedPart CDN 收到的分块
type ReceivedPart struct {
	PartNumber int
	Chunk      int
	Size       int
	Start      int64
	End        int64
	Total      int64
	MD5        string
}

// Server 模拟服务；字段需在发起请求前设置
type Server struct {
	*httptest.Server

	ChunkSize int64
	BizID     int64
	UposPath  string // 形如 /bucket/name.mp4
	OmitETag  bool
	PredictID int
	TypeList  string
	AID       string // JSON 字面量，例如 123 或 "123"
	BVID      string
	// AddCode 非 0 时 add/v3 返回该错误码
	AddCode int

	mu             sync.Mutex
	rateLimits     int
	calls          map[string]int
	parts          []ReceivedPart
	finalize       []byte
	archive        []byte
	cdnCookies     []string
	preuploadQuery []url.Values
	coverForm      url.Values
}

func NewServer() *Server {
	s := &Server{
		ChunkSize: 4 * 1024 * 1024,
		BizID:     777,
		UposPath:  "/ugcfx2lf/n230101abc.mp4",
		PredictID: 17,
		TypeList:  `[{"id":1,"name":"游戏","children":[{"id":17,"name":"单机游戏"},{"id":171,"name":"电子竞技"}]}]`,
		AID:       "123",
		BVID:      `"BV1xx"`,
		calls:     make(map[string]int),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// Host 返回 host:port，用于 endpoint
func (s *Server) Host() string {
	return strings.TrimPrefix(s.URL, "http://")
}

// RateLimitNext 接下来 n 次预上传返回 code=601
func (s *Server) RateLimitNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rateLimits = n
}

func (s *Server) Calls(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[name]
}

func (s *Server) TotalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, v := range s.calls {
		n += v
	}
	return n
}

func (s *Server) Parts() []ReceivedPart {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ReceivedPart(nil), s.parts...)
}

func (s *Server) FinalizeBody() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finalize
}

func (s *Server) ArchiveBody() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.archive
}

// CDNCookies 上传 CDN 收到的 Cookie 头（应全部为空）
func (s *Server) CDNCookies() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.cdnCookies...)
}

func (s *Server) PreuploadQueries() []url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]url.Values(nil), s.preuploadQuery...)
}

func (s *Server) CoverForm() url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.coverForm
}

func (s *Server) count(name string) {
	s.calls[name]++
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := r.URL.Query()
	switch {
	case r.URL.Path == "/preupload" && q.Get("r") == "probe":
		s.count("probe")
		s.cdnCookies = append(s.cdnCookies, r.Header.Get("Cookie"))
		writeJSON(w, 200, `{"OK":1,"lines":[{"os":"bup","query":"upcdn=bup"},{"os":"upos","query":"probe_version=20221109&upcdn=bda2"}]}`)

	case r.URL.Path == "/preupload":
		s.count("preupload")
		s.preuploadQuery = append(s.preuploadQuery, q)
		if r.Header.Get("Cookie") == "" {
			writeJSON(w, 200, `{"OK":0,"message":"not logged in"}`)
			return
		}
		if s.rateLimits > 0 {
			s.rateLimits--
			writeJSON(w, 200, fmt.Sprintf(`{"code":601,"message":"上传过快","auth":%q,"data":{"v_voucher":"voucher-1"}}`, Auth))
			return
		}
		writeJSON(w, 200, fmt.Sprintf(`{"OK":1,"auth":%q,"biz_id":%d,"chunk_size":%d,"endpoint":"//%s","upos_uri":"upos:/%s"}`,
			Auth, s.BizID, s.ChunkSize, s.Host(), s.UposPath))

	case r.URL.Path == s.UposPath:
		s.cdnCookies = append(s.cdnCookies, r.Header.Get("Cookie"))
		if r.Header.Get("X-Upos-Auth") != Auth {
			writeJSON(w, 403, `{"OK":0,"message":"bad auth"}`)
			return
		}
		s.handleCDN(w, r, q)

	case r.URL.Path == "/x/vu/web/cover/up":
		s.count("cover")
		_ = r.ParseForm()
		s.coverForm = r.PostForm
		writeJSON(w, 200, `{"code":0,"data":{"url":"https://i0.hdslb.com/bfs/archive/cover.jpg"}}`)

	case r.URL.Path == "/x/vupre/web/archive/types/predict":
		s.count("predict")
		if err := r.ParseMultipartForm(1 << 20); err != nil || r.FormValue("upload_id") == "" {
			writeJSON(w, 200, `{"code":-400,"message":"bad request"}`)
			return
		}
		writeJSON(w, 200, fmt.Sprintf(`{"code":0,"data":[{"id":%d,"name":"predicted"}]}`, s.PredictID))

	case r.URL.Path == "/x/vupre/web/archive/pre":
		s.count("archive_pre")
		writeJSON(w, 200, `{"code":0,"data":{"typelist":`+s.TypeList+`}}`)

	case r.URL.Path == "/x/vu/web/add/v3":
		s.count("add")
		s.archive, _ = io.ReadAll(r.Body)
		if s.AddCode != 0 {
			writeJSON(w, 200, fmt.Sprintf(`{"code":%d,"message":"稿件提交失败"}`, s.AddCode))
			return
		}
		writeJSON(w, 200, fmt.Sprintf(`{"code":0,"data":{"aid":%s,"bvid":%s}}`, s.AID, s.BVID))

	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleCDN(w http.ResponseWriter, r *http.Request, q url.Values) {
	switch {
	case r.Method == http.MethodPost && q.Has("uploads"):
		s.count("post_meta")
		writeJSON(w, 200, fmt.Sprintf(`{"OK":1,"upload_id":%q,"bucket":"ugcfx2lf","key":%q}`, UploadID, s.UposPath))

	case r.Method == http.MethodPut:
		s.count("put")
		body, _ := io.ReadAll(r.Body)
		sum := md5.Sum(body)
		part := ReceivedPart{Size: len(body), MD5: hex.EncodeToString(sum[:])}
		fmt.Sscan(q.Get("partNumber"), &part.PartNumber)
		fmt.Sscan(q.Get("chunk"), &part.Chunk)
		fmt.Sscan(q.Get("start"), &part.Start)
		fmt.Sscan(q.Get("end"), &part.End)
		fmt.Sscan(q.Get("total"), &part.Total)
		s.parts = append(s.parts, part)
		if !s.OmitETag {
			w.Header().Set("ETag", fmt.Sprintf(`"etag-%d"`, part.PartNumber))
		}
		w.WriteHeader(200)
		_, _ = io.WriteString(w, "MULTIPART_PUT_SUCCESS")

	case r.Method == http.MethodPost && q.Get("uploadId") == UploadID:
		s.count("finalize")
		s.finalize, _ = io.ReadAll(r.Body)
		var parsed struct {
			Parts []json.RawMessage `json:"parts"`
		}
		if json.Unmarshal(s.finalize, &parsed) != nil || len(parsed.Parts) != len(s.parts) {
			writeJSON(w, 200, `{"OK":0,"message":"parts mismatch"}`)
			return
		}
		writeJSON(w, 200, `{"OK":1,"location":"upos://ugcfx2lf/n230101abc.mp4"}`)

	default:
		http.NotFound(w, r)
	}
}
