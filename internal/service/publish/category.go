package publish

import (
	"context"
	"strings"

	"bilipub/internal/errs"
	"bilipub/internal/model"
	"bilipub/internal/repository/category"
	"bilipub/pkg/redact"

	"github.com/rs/zerolog"
)

// 送入推荐接口的摘要长度上限
const summaryRuneLimit = 4000

// typeIDStage 分区决策的一个阶段，ok=false 表示交给下一阶段
type typeIDStage struct {
	name string
	run  func(ctx context.Context) (int, bool, error)
}

// firstTypeID 依次执行各阶段，第一个给出结果的阶段胜出；阶段错误抹除凭据后只记录日志
func firstTypeID(ctx context.Context, log zerolog.Logger, scrub *redact.Scrubber, stages ...typeIDStage) (int, string) {
	for _, st := range stages {
		tid, ok, err := st.run(ctx)
		if err != nil {
			log.Warn().
				Str("stage", st.name).
				Str("error_type", errs.Kind(err)).
				Str("error", scrub.Scrub(err.Error())).
				Msg("分区决策阶段失败，尝试下一阶段")
			continue
		}
		if ok && tid > 0 {
			return tid, st.name
		}
	}
	return 0, ""
}

// typeIDResolver 一次投稿内的分区决策，平台预测最多调用一次
type typeIDResolver struct {
	client   PlatformClient
	oracle   CategoryOracle
	meta     *model.PublishMeta
	task     *model.Task
	csrf     string
	uploaded uploadedRef
	scrub    *redact.Scrubber
	log      zerolog.Logger

	predicted  bool
	predictID  int
	predictOK  bool
	predictErr error
}

type uploadedRef struct {
	filename string
	uploadID string
}

func (r *typeIDResolver) stages(mode model.TypeIDMode) []typeIDStage {
	explicit := typeIDStage{name: "explicit", run: r.explicit}
	predict := typeIDStage{name: "platform_predict", run: r.predict}
	switch mode {
	case model.ModeExplicit:
		return []typeIDStage{explicit}
	case model.ModeAISummary:
		return []typeIDStage{{name: "ai_summary", run: r.aiSummary}, predict, explicit}
	default:
		return []typeIDStage{predict, explicit}
	}
}

func (r *typeIDResolver) resolve(ctx context.Context, mode model.TypeIDMode) (int, string, error) {
	tid, source := firstTypeID(ctx, r.log, r.scrub, r.stages(mode)...)
	if tid <= 0 {
		return 0, "", errs.Invalid("typeid", "无法确定投稿分区")
	}
	return tid, source, nil
}

func (r *typeIDResolver) explicit(context.Context) (int, bool, error) {
	return r.meta.TypeID, r.meta.TypeID > 0, nil
}

func (r *typeIDResolver) predict(ctx context.Context) (int, bool, error) {
	if !r.predicted {
		r.predicted = true
		r.predictID, r.predictOK, r.predictErr = r.client.PredictType(ctx, r.csrf, r.uploaded.filename, r.meta.Title, r.uploaded.uploadID)
		if r.predictErr == nil && r.predictOK {
			r.log.Info().Int("typeid", r.predictID).Msg("平台预测分区")
		}
	}
	return r.predictID, r.predictOK, r.predictErr
}

func (r *typeIDResolver) aiSummary(ctx context.Context) (int, bool, error) {
	summary := ""
	if r.task != nil {
		summary = strings.TrimSpace(r.task.Summary)
	}
	if summary == "" {
		r.log.Info().Msg("任务没有摘要，跳过大模型分区推荐")
		return 0, false, nil
	}
	if r.oracle == nil || !r.oracle.Configured() {
		r.log.Info().Msg("未配置推荐接口，跳过大模型分区推荐")
		return 0, false, nil
	}

	raw, err := r.client.ArchivePre(ctx)
	if err != nil {
		return 0, false, err
	}
	candidates := category.Flatten(category.ParseTree(raw))
	if len(candidates) == 0 {
		return 0, false, &errs.ProtocolError{Op: "archive pre", Message: "empty typelist"}
	}

	rec, err := r.oracle.Recommend(ctx, redact.Truncate(summary, summaryRuneLimit), candidates)
	if err != nil {
		return 0, false, err
	}
	r.log.Info().Int("typeid", rec.TypeID).Str("reason", r.scrub.Scrub(rec.Reason)).Msg("大模型推荐分区")
	return rec.TypeID, true, nil
}
