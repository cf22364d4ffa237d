package cmd

import (
	"context"
	"fmt"
	"os"

	"bilipub/pkg/logger"

	"github.com/spf13/cobra"
)

var retryCmd = &cobra.Command{
	Use:   "retry <job_id> [job_id...]",
	Short: "重新提交失败的投稿任务",
	Long: `把失败的投稿任务重置为 submitting 并重新入队，限流重试计数从 0 开始。

用法：
  bilipub retry <job_id1> <job_id2> ...

只有状态为 failed 的任务可以重试，其他状态的任务会被跳过。`,
	Run: func(cmd *cobra.Command, args []string) {
		if len(args) == 0 {
			fmt.Fprintf(os.Stderr, "错误：请至少指定一个投稿任务 ID\n")
			cmd.Help()
			os.Exit(1)
		}

		ctx := context.Background()
		application := mustApp(ctx)
		defer application.Close()

		errorCount := 0
		for _, jobID := range args {
			job, err := application.Submitter.Retry(ctx, jobID)
			if err != nil {
				logger.Error().Err(err).Str("job_id", jobID).Msg("重新提交投稿任务失败")
				errorCount++
				continue
			}
			fmt.Printf("%s  %s\n", job.ID, job.State)
		}

		logger.Info().
			Int("total", len(args)).
			Int("errors", errorCount).
			Msg("重新提交完成")
		if errorCount > 0 {
			os.Exit(1)
		}
	},
}
