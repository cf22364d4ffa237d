package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"bilipub/internal/model"
	"bilipub/internal/service/publish"

	"github.com/spf13/cobra"
)

var (
	publishMetaFile   string
	publishMetaJSON   string
	publishVideoKey   string
	publishCoverKey   string
	publishTaskID     string
	publishSummary    string
	publishTypeIDMode string
)

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "提交投稿任务",
	Long: `校验稿件元数据后创建投稿任务并放入队列，由 worker 执行上传与提交。

示例：
  bilipub publish --meta meta.json --video videos/t1/final.mp4 --task t1
  bilipub publish --meta-json '{"title":"标题","tid":21,"tags":["游戏"]}' --video videos/t1/final.mp4 --typeid-mode ai_summary --summary "视频摘要"`,
	Run: func(cmd *cobra.Command, args []string) {
		meta := []byte(publishMetaJSON)
		if publishMetaFile != "" {
			data, err := os.ReadFile(publishMetaFile)
			if err != nil {
				fmt.Fprintf(os.Stderr, "读取元数据文件失败: %v\n", err)
				os.Exit(1)
			}
			meta = data
		}
		if len(meta) == 0 {
			fmt.Fprintf(os.Stderr, "请通过 --meta 或 --meta-json 指定稿件元数据\n")
			os.Exit(1)
		}
		if !json.Valid(meta) {
			fmt.Fprintf(os.Stderr, "稿件元数据不是合法的 JSON\n")
			os.Exit(1)
		}
		if publishVideoKey == "" {
			fmt.Fprintf(os.Stderr, "请通过 --video 指定视频在存储中的 key\n")
			os.Exit(1)
		}

		ctx := context.Background()
		application := mustApp(ctx)
		defer application.Close()

		job, err := application.Submitter.Submit(ctx, publish.SubmitRequest{
			TaskID:   publishTaskID,
			Summary:  publishSummary,
			CoverKey: publishCoverKey,
			Payload: model.JobPayload{
				Meta:       json.RawMessage(meta),
				Video:      &model.BlobRef{Type: "blob", Key: publishVideoKey},
				TypeIDMode: publishTypeIDMode,
			},
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "提交投稿任务失败: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("job_id: %s\ntask_id: %s\nstate: %s\n", job.ID, job.TaskID, job.State)
	},
}

func init() {
	publishCmd.Flags().StringVar(&publishMetaFile, "meta", "", "稿件元数据 JSON 文件路径")
	publishCmd.Flags().StringVar(&publishMetaJSON, "meta-json", "", "稿件元数据 JSON 字符串")
	publishCmd.Flags().StringVar(&publishVideoKey, "video", "", "视频在存储中的 key")
	publishCmd.Flags().StringVar(&publishCoverKey, "cover", "", "封面在存储中的 key（可选）")
	publishCmd.Flags().StringVar(&publishTaskID, "task", "", "内容任务 ID，不存在时自动创建")
	publishCmd.Flags().StringVar(&publishSummary, "summary", "", "内容摘要，ai_summary 模式下用于分区推荐")
	publishCmd.Flags().StringVar(&publishTypeIDMode, "typeid-mode", "", "分区决策方式: explicit / platform_predict / ai_summary，默认取 worker.typeid_mode")
}
