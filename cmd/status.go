package cmd

import (
	"context"
	"fmt"
	"os"

	"bilipub/internal/repository/store"

	"github.com/spf13/cobra"
)

var statusTaskID string

var statusCmd = &cobra.Command{
	Use:   "status [job_id]",
	Short: "查看投稿任务状态",
	Long: `查看投稿任务的状态与结果。结果中的凭据已在写入时抹除。

示例：
  bilipub status 6f1c...          # 查看单个投稿任务
  bilipub status --task t1         # 列出内容任务下的所有投稿任务`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if len(args) == 0 && statusTaskID == "" {
			fmt.Fprintf(os.Stderr, "请指定投稿任务 ID 或 --task\n")
			cmd.Help()
			os.Exit(1)
		}

		ctx := context.Background()
		application := mustApp(ctx)
		defer application.Close()

		if len(args) == 1 {
			job, err := application.Store.GetJob(ctx, args[0])
			if err != nil {
				fmt.Fprintf(os.Stderr, "读取投稿任务失败: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("job_id: %s\ntask_id: %s\nstate: %s\nattempts: %d\n", job.ID, job.TaskID, job.State, job.Attempts)
			if job.AID != "" {
				fmt.Printf("aid: %s\nbvid: %s\n", job.AID, job.BVID)
			}
			if job.ResultJSON != "" {
				fmt.Printf("result: %s\n", job.ResultJSON)
			}
			return
		}

		task, err := application.Store.GetTask(ctx, statusTaskID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "读取内容任务失败: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("task_id: %s\nstatus: %s\n", task.ID, task.Status)
		if task.ErrorCode != "" {
			fmt.Printf("error_code: %s\nerror_message: %s\n", task.ErrorCode, task.ErrorMessage)
		}

		jobs, err := application.Store.ListJobs(ctx, store.JobFilter{TaskID: task.ID})
		if err != nil {
			fmt.Fprintf(os.Stderr, "读取投稿任务失败: %v\n", err)
			os.Exit(1)
		}
		for _, job := range jobs {
			fmt.Printf("  %s  %-10s  aid=%s bvid=%s\n", job.ID, job.State, job.AID, job.BVID)
		}

		assets, err := application.Store.ListAssets(ctx, task.ID)
		if err == nil {
			for _, asset := range assets {
				fmt.Printf("  asset %s: %s\n", asset.Kind, asset.StorageKey)
			}
		}
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusTaskID, "task", "", "内容任务 ID")
}
