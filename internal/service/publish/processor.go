// Package publish 投稿任务调度：执行单个投稿任务、处理限流重试，并从队列中消费任务。
//
// 同一个任务 id 不会被并发执行，这一点依赖队列的投递语义，本包不加分布式锁。
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"bilipub/internal/errs"
	"bilipub/internal/model"
	"bilipub/internal/repository/bilibili"
	"bilipub/internal/repository/category"
	"bilipub/internal/repository/storage"
	"bilipub/internal/repository/store"
	"bilipub/pkg/redact"
	"bilipub/pkg/utils"

	"github.com/avast/retry-go"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const (
	ModeWeb  = "web"
	ModeMock = "mock"

	errorMessageLimit = 500
	tracebackLimit    = 2000
)

// PlatformClient 单次投稿使用的平台客户端
type PlatformClient interface {
	UploadCover(ctx context.Context, imagePath, csrf string) (string, error)
	UploadVideoFile(ctx context.Context, videoPath, profile string) (*bilibili.UploadedVideo, *bilibili.UploadDebug, error)
	PredictType(ctx context.Context, csrf, filename, title, uploadID string) (int, bool, error)
	ArchivePre(ctx context.Context) ([]byte, error)
	AddArchive(ctx context.Context, meta *model.PublishMeta, csrf string, tid int, uploaded *bilibili.UploadedVideo, coverURL string) (*bilibili.SubmitResult, error)
	Close() error
}

// ClientFactory 每次执行创建新的客户端，执行结束即关闭
type ClientFactory func(cookie string) (PlatformClient, error)

// CategoryOracle 分区推荐
type CategoryOracle interface {
	Configured() bool
	Recommend(ctx context.Context, text string, candidates []category.Candidate) (*category.Recommendation, error)
}

// OutcomeKind 单次执行的结果类型
type OutcomeKind string

const (
	OutcomePublished OutcomeKind = "published"
	OutcomeFailed    OutcomeKind = "failed"
	OutcomeRetry     OutcomeKind = "retry"
	OutcomeSkipped   OutcomeKind = "skipped"
	OutcomeNotFound  OutcomeKind = "not_found"
)

// Outcome 单次执行的结果；Kind 为 OutcomeRetry 时由调用方在 After 之后重新入队
type Outcome struct {
	Kind  OutcomeKind
	State model.PublishState
	After time.Duration
}

// Options 调度参数
type Options struct {
	Mode              string
	MaxRetries        int
	WorkDir           string
	DefaultTypeIDMode model.TypeIDMode
	// Secrets 需要额外抹除的字符串，例如推荐接口的 API Key
	Secrets []string
	Jitter  func() float64
}

// Deps 调度依赖
type Deps struct {
	Store       store.Store
	Blobs       storage.BlobStore
	Credentials bilibili.CredentialSource
	NewClient   ClientFactory
	Oracle      CategoryOracle
}

// Processor 执行单个投稿任务
type Processor struct {
	deps Deps
	opts Options
	log  zerolog.Logger
}

// NewProcessor 创建 Processor
func NewProcessor(deps Deps, opts Options, logger zerolog.Logger) *Processor {
	if opts.Mode == "" {
		opts.Mode = ModeWeb
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.DefaultTypeIDMode == "" {
		opts.DefaultTypeIDMode = model.ModePlatformPredict
	}
	if opts.Jitter == nil {
		opts.Jitter = defaultJitter
	}
	return &Processor{deps: deps, opts: opts, log: logger}
}

// Process 执行一次投稿。retriesDone 为此前已经进行的限流重试次数。
// 返回 error 仅表示无法读写任务记录，此时消息不应被确认。
func (p *Processor) Process(ctx context.Context, jobID string, retriesDone int) (Outcome, error) {
	start := time.Now()
	out, err := p.process(ctx, jobID, retriesDone)
	if err != nil {
		return out, err
	}
	jobOutcomeTotal.WithLabelValues(string(out.Kind)).Inc()
	jobDuration.WithLabelValues(string(out.Kind)).Observe(time.Since(start).Seconds())
	return out, nil
}

func (p *Processor) process(ctx context.Context, jobID string, retriesDone int) (Outcome, error) {
	log := p.log.With().Str("job_id", jobID).Int("retries_done", retriesDone).Logger()

	job, err := p.deps.Store.GetJob(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		log.Warn().Msg("投稿任务不存在")
		return Outcome{Kind: OutcomeNotFound}, nil
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("读取投稿任务失败: %w", err)
	}
	if job.State.Terminal() {
		log.Info().Str("state", string(job.State)).Msg("投稿任务已结束，跳过")
		return Outcome{Kind: OutcomeSkipped, State: job.State}, nil
	}
	log = log.With().Str("task_id", job.TaskID).Logger()

	scrub := redact.NewScrubber(p.opts.Secrets...)

	task, err := p.deps.Store.GetTask(ctx, job.TaskID)
	if errors.Is(err, store.ErrNotFound) {
		return p.finishFailed(ctx, log, job, nil, map[string]any{"error": "task not found"}, "", "", scrub)
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("读取内容任务失败: %w", err)
	}

	if p.opts.Mode == ModeMock {
		return p.publishMock(ctx, log, job, task, scrub)
	}

	var done *published
	cookie, csrf, err := p.credentials(ctx)
	scrub.AddCookieHeader(cookie)
	scrub.Add(csrf)
	if err == nil {
		done, err = p.execute(ctx, log, job, task, cookie, csrf, scrub)
	}
	if err == nil {
		return p.finishPublished(ctx, log, job, task, done, scrub)
	}
	if rl, ok := errs.IsRateLimit(err); ok {
		return p.handleRateLimit(ctx, log, job, task, rl, err, retriesDone, scrub)
	}
	return p.handleFailure(ctx, log, job, task, err, scrub)
}

func (p *Processor) credentials(ctx context.Context) (string, string, error) {
	if p.deps.Credentials == nil {
		return "", "", errors.WithStack(errs.Precondition("未配置B站登录凭据"))
	}
	cookie, err := p.deps.Credentials.CookieHeader(ctx)
	if err != nil {
		return "", "", errors.Wrap(err, "读取 Cookie 失败")
	}
	csrf, err := p.deps.Credentials.CSRFToken(ctx)
	if err != nil {
		return cookie, "", errors.Wrap(err, "读取 csrf 失败")
	}
	if strings.TrimSpace(cookie) == "" || strings.TrimSpace(csrf) == "" {
		return cookie, csrf, errors.WithStack(errs.Precondition("缺少B站登录凭据（cookie 或 bili_jct）"))
	}
	return cookie, csrf, nil
}

type published struct {
	aid    string
	bvid   string
	result map[string]any
}

func (p *Processor) execute(ctx context.Context, log zerolog.Logger, job *model.PublishJob, task *model.Task, cookie, csrf string, scrub *redact.Scrubber) (*published, error) {
	payload, err := model.DecodeJobPayload(job.MetaJSON)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	meta, err := payload.ParsedMeta()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	videoKey := payload.ResolveVideoKey()
	if videoKey == "" {
		return nil, errors.WithStack(errs.Precondition("投稿信封缺少视频 key"))
	}
	mode := p.opts.DefaultTypeIDMode
	if strings.TrimSpace(payload.TypeIDMode) != "" {
		mode = payload.Mode()
	}

	if err := p.deps.Store.UpdateJob(ctx, job.ID, func(j *model.PublishJob) error {
		j.State = model.StateSubmitting
		j.Attempts++
		return nil
	}); err != nil {
		return nil, errors.Wrap(err, "更新投稿状态失败")
	}

	workDir, cleanup, err := utils.TempWorkDir(p.opts.WorkDir, "publish-")
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer cleanup()

	videoPath := filepath.Join(workDir, localName(videoKey, "video.mp4"))
	if err := p.download(ctx, videoKey, videoPath); err != nil {
		return nil, err
	}
	coverPath := ""
	if key := strings.TrimSpace(job.CoverKey); key != "" {
		coverPath = filepath.Join(workDir, "cover"+path.Ext(key))
		if err := p.download(ctx, key, coverPath); err != nil {
			return nil, err
		}
	}

	client, err := p.deps.NewClient(cookie)
	if err != nil {
		return nil, errors.Wrap(err, "创建B站客户端失败")
	}
	defer client.Close()

	coverURL := ""
	if coverPath != "" {
		if coverURL, err = client.UploadCover(ctx, coverPath, csrf); err != nil {
			return nil, errors.Wrap(err, "上传封面失败")
		}
		log.Info().Str("cover_url", coverURL).Msg("封面上传成功")
	}

	log.Info().Str("video_key", videoKey).Msg("开始上传视频")
	uploaded, debug, err := client.UploadVideoFile(ctx, videoPath, "")
	if err != nil {
		return nil, errors.Wrap(err, "上传视频失败")
	}
	log.Info().Str("filename", uploaded.Filename).Int64("cid", uploaded.CID).Int("chunks", debug.Chunks).Msg("视频上传完成")

	resolver := &typeIDResolver{
		client:   client,
		oracle:   p.deps.Oracle,
		meta:     meta,
		task:     task,
		csrf:     csrf,
		uploaded: uploadedRef{filename: uploaded.Filename, uploadID: uploaded.UploadID},
		scrub:    scrub,
		log:      log,
	}
	tid, source, err := resolver.resolve(ctx, mode)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	log.Info().Int("tid", tid).Str("source", source).Str("mode", string(mode)).Msg("确定投稿分区")

	res, err := client.AddArchive(ctx, meta, csrf, tid, uploaded, coverURL)
	if err != nil {
		return nil, errors.Wrap(err, "提交稿件失败")
	}
	if res.AID == "" || res.BVID == "" {
		return nil, errors.WithStack(&errs.ProtocolError{Op: "add archive", Message: "response missing aid or bvid"})
	}

	return &published{
		aid:  res.AID,
		bvid: res.BVID,
		result: map[string]any{
			"mode":          ModeWeb,
			"cover_url":     coverURL,
			"video":         debug,
			"tid":           tid,
			"typeid_mode":   string(mode),
			"typeid_source": source,
			"result":        map[string]any{"aid": res.AID, "bvid": res.BVID},
		},
	}, nil
}

func (p *Processor) download(ctx context.Context, key, localPath string) error {
	if err := p.deps.Blobs.Download(ctx, key, localPath); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return errors.WithStack(errs.Precondition("输入文件不存在: %s", key))
		}
		return errors.Wrapf(err, "下载输入文件失败: %s", key)
	}
	return nil
}

// localName 取 key 的文件名作为本地文件名，预上传时会作为 name 参数
func localName(key, fallback string) string {
	base := path.Base(strings.ReplaceAll(key, "\\", "/"))
	if base == "." || base == "/" || base == "" {
		return fallback
	}
	return base
}

func (p *Processor) publishMock(ctx context.Context, log zerolog.Logger, job *model.PublishJob, task *model.Task, scrub *redact.Scrubber) (Outcome, error) {
	aid := strconv.FormatInt(rand.Int64N(1_000_000_000), 10)
	bvid := "BV" + strings.ReplaceAll(uuid.NewString(), "-", "")[:10]
	log.Info().Msg("mock 模式，跳过真实投稿")
	return p.finishPublished(ctx, log, job, task, &published{
		aid:    aid,
		bvid:   bvid,
		result: map[string]any{"mode": ModeMock, "aid": aid, "bvid": bvid},
	}, scrub)
}

func (p *Processor) finishPublished(ctx context.Context, log zerolog.Logger, job *model.PublishJob, task *model.Task, done *published, scrub *redact.Scrubber) (Outcome, error) {
	blob := encodeResult(done.result, scrub)

	if err := p.deps.Store.UpdateJob(ctx, job.ID, func(j *model.PublishJob) error {
		j.State = model.StatePublished
		j.AID = done.aid
		j.BVID = done.bvid
		j.ResultJSON = blob
		return nil
	}); err != nil {
		return Outcome{}, fmt.Errorf("保存投稿结果失败: %w", err)
	}
	if err := p.deps.Store.UpdateTask(ctx, task.ID, func(t *model.Task) error {
		t.Status = model.TaskPublished
		t.ErrorCode = ""
		t.ErrorMessage = ""
		return nil
	}); err != nil {
		return Outcome{}, fmt.Errorf("更新内容任务失败: %w", err)
	}

	p.writeResultBlob(ctx, log, task.ID, blob)
	log.Info().Str("aid", done.aid).Str("bvid", done.bvid).Msg("投稿成功")
	return Outcome{Kind: OutcomePublished, State: model.StatePublished}, nil
}

// writeResultBlob 成功、重试与失败都会覆盖结果文件；写入失败只记录日志，不改变任务状态
func (p *Processor) writeResultBlob(ctx context.Context, log zerolog.Logger, taskID, blob string) {
	key := model.PublishResultKey(taskID)
	err := retry.Do(
		func() error {
			return p.deps.Blobs.PutBytes(ctx, []byte(blob), key, "application/json")
		},
		retry.Attempts(3),
		retry.Delay(200*time.Millisecond),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("写入投稿结果文件失败")
		return
	}
	if err := p.deps.Store.EnsureAsset(ctx, taskID, model.AssetPublishResult, key); err != nil {
		log.Error().Err(err).Str("key", key).Msg("登记投稿结果文件失败")
	}
}

func (p *Processor) handleRateLimit(ctx context.Context, log zerolog.Logger, job *model.PublishJob, task *model.Task, rl *errs.RateLimitError, err error, retriesDone int, scrub *redact.Scrubber) (Outcome, error) {
	rateLimitTotal.Inc()
	maxRetries := p.opts.MaxRetries
	delay := Backoff(retriesDone, p.opts.Jitter())

	result := map[string]any{
		"error":          redact.Truncate(scrub.Scrub(err.Error()), errorMessageLimit),
		"exception_type": errs.Kind(err),
		"rate_limited":   true,
		"code":           rl.Code,
		"status_code":    rl.StatusCode,
		"message":        rl.Message,
		"v_voucher":      rl.Voucher,
		"attempt":        retriesDone + 1,
		"max_attempts":   maxRetries + 1,
		"retries_done":   retriesDone,
		"max_retries":    maxRetries,
	}

	if retriesDone >= maxRetries {
		result["give_up"] = true
		log.Error().Int("code", rl.Code).Int("max_retries", maxRetries).Msg("限流重试次数已用完，放弃投稿")
		return p.finishFailed(ctx, log, job, task, result, model.ErrorCodePublishRateLimited, rl.Message, scrub)
	}

	result["retry_in_seconds"] = delay.Seconds()
	blob := encodeResult(result, scrub)
	if err := p.deps.Store.UpdateJob(ctx, job.ID, func(j *model.PublishJob) error {
		j.State = model.StateSubmitting
		j.ResultJSON = blob
		return nil
	}); err != nil {
		return Outcome{}, fmt.Errorf("保存重试信息失败: %w", err)
	}
	if err := p.deps.Store.UpdateTask(ctx, task.ID, func(t *model.Task) error {
		t.Status = model.TaskPublishing
		return nil
	}); err != nil {
		return Outcome{}, fmt.Errorf("更新内容任务失败: %w", err)
	}

	p.writeResultBlob(ctx, log, task.ID, blob)

	log.Warn().Int("code", rl.Code).Dur("retry_in", delay).Int("attempt", retriesDone+1).Msg("预上传被限流，稍后重试")
	return Outcome{Kind: OutcomeRetry, State: model.StateSubmitting, After: delay}, nil
}

func (p *Processor) handleFailure(ctx context.Context, log zerolog.Logger, job *model.PublishJob, task *model.Task, err error, scrub *redact.Scrubber) (Outcome, error) {
	message := redact.Truncate(scrub.Scrub(err.Error()), errorMessageLimit)
	result := map[string]any{
		"error":          message,
		"exception_type": errs.Kind(err),
		"traceback":      redact.Truncate(scrub.Scrub(fmt.Sprintf("%+v", err)), tracebackLimit),
	}
	log.Error().Str("error_type", errs.Kind(err)).Str("error", message).Msg("投稿失败")
	return p.finishFailed(ctx, log, job, task, result, model.ErrorCodePublishFailed, message, scrub)
}

// finishFailed task 为 nil 时只更新投稿任务，不写结果文件
func (p *Processor) finishFailed(ctx context.Context, log zerolog.Logger, job *model.PublishJob, task *model.Task, result map[string]any, code, message string, scrub *redact.Scrubber) (Outcome, error) {
	blob := encodeResult(result, scrub)
	if err := p.deps.Store.UpdateJob(ctx, job.ID, func(j *model.PublishJob) error {
		j.State = model.StateFailed
		j.ResultJSON = blob
		return nil
	}); err != nil {
		return Outcome{}, fmt.Errorf("保存失败信息失败: %w", err)
	}
	if task != nil && code != "" {
		if err := p.deps.Store.UpdateTask(ctx, task.ID, func(t *model.Task) error {
			t.Status = model.TaskFailed
			t.ErrorCode = code
			t.ErrorMessage = redact.Truncate(scrub.Scrub(message), errorMessageLimit)
			return nil
		}); err != nil {
			return Outcome{}, fmt.Errorf("更新内容任务失败: %w", err)
		}
	}
	if task != nil {
		p.writeResultBlob(ctx, log, task.ID, blob)
	}
	log.Info().Str("state", string(model.StateFailed)).Msg("投稿任务结束")
	return Outcome{Kind: OutcomeFailed, State: model.StateFailed}, nil
}

func encodeResult(result map[string]any, scrub *redact.Scrubber) string {
	data, err := json.Marshal(result)
	if err != nil {
		data = []byte(fmt.Sprintf(`{"error":%q}`, err.Error()))
	}
	return string(scrub.ScrubBytes(redact.JSON(data)))
}
